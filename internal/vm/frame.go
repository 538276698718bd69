package vm

import (
	"fmt"
	"sort"

	"smalien/internal/value"
)

// Frame is one activation on a thread's call stack.
type Frame struct {
	Class  string
	Method string
	PC     int

	Registers map[string]value.Value
	// Overrides holds the raw values logged by the directive that last
	// resumed this frame. They win over computed values.
	Overrides map[string]string
	// AfterInvocation is set between the two executions of an invoke.
	AfterInvocation bool
	Previous        *Frame
}

// EntryFrame returns the sentinel frame every call stack starts with.
func EntryFrame() *Frame {
	return &Frame{Registers: map[string]value.Value{}, Overrides: map[string]string{}}
}

func newFrame(class, method string, pc int, overrides map[string]string, previous *Frame) *Frame {
	if overrides == nil {
		overrides = map[string]string{}
	}
	return &Frame{
		Class:     class,
		Method:    method,
		PC:        pc,
		Registers: map[string]value.Value{},
		Overrides: overrides,
		Previous:  previous,
	}
}

// IsEntry reports whether f is the entry sentinel.
func (f *Frame) IsEntry() bool { return f.Class == "" && f.Method == "" }

// Get returns the value of reg.
func (f *Frame) Get(reg string) (value.Value, error) {
	v, ok := f.Registers[reg]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsetRegister, reg)
	}
	return v, nil
}

// Set stores v in reg.
func (f *Frame) Set(reg string, v value.Value) { f.Registers[reg] = v }

// SetWide stores v in reg and a copy in the pair register when pair is set.
func (f *Frame) SetWide(reg, pair string, v value.Value) {
	f.Registers[reg] = v
	if pair != "" {
		f.Registers[pair] = value.Copy(v)
	}
}

// Override returns the logged raw value for reg.
func (f *Frame) Override(reg string) (string, bool) {
	raw, ok := f.Overrides[reg]
	return raw, ok
}

// RegisterNames lists the set registers in name order.
func (f *Frame) RegisterNames() []string {
	out := make([]string, 0, len(f.Registers))
	for r := range f.Registers {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (f *Frame) String() string {
	if f.IsEntry() {
		return "<entry>"
	}
	return fmt.Sprintf("%s->%s@%d", f.Class, f.Method, f.PC)
}
