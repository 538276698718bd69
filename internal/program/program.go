// Package program models the instrumented application: classes, fields,
// methods and their line-indexed instruction tables.
package program

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"smalien/internal/dalvik"
)

// ErrInvalidProgram reports a program description that cannot be loaded.
var ErrInvalidProgram = errors.New("invalid program")

// Program is the loaded application.
type Program struct {
	Name    string
	classes map[string]*Class
	byID    map[int]*Class
}

// Class returns the class named by descriptor.
func (p *Program) Class(name string) (*Class, bool) {
	c, ok := p.classes[name]
	return c, ok
}

// ClassByID resolves the numeric class id used by the trace.
func (p *Program) ClassByID(id int) (*Class, bool) {
	c, ok := p.byID[id]
	return c, ok
}

// Classes returns every class in descriptor order.
func (p *Program) Classes() []*Class {
	out := make([]*Class, 0, len(p.classes))
	for _, c := range p.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Method returns class->method when both exist.
func (p *Program) Method(class, method string) (*Method, bool) {
	c, ok := p.classes[class]
	if !ok {
		return nil, false
	}
	m, ok := c.Methods[method]
	return m, ok
}

// Instruction returns the instruction at line of class->method, or nil.
func (p *Program) Instruction(class, method string, line int) Instruction {
	m, ok := p.Method(class, method)
	if !ok {
		return nil
	}
	return m.Instructions[line]
}

// InApp reports whether class is part of the instrumented application.
func (p *Program) InApp(class string) bool {
	c, ok := p.classes[class]
	return ok && !c.Ignore
}

// ClinitDone walks the ancestors of class and reports whether every static
// initializer on the way has run. Classes outside the app count as done.
func (p *Program) ClinitDone(class string) bool {
	for seen := 0; seen < len(p.classes)+1; seen++ {
		c, ok := p.classes[class]
		if !ok || c.Ignore {
			return true
		}
		if c.ClinitImplemented {
			return c.ClinitInvoked
		}
		class = c.Parent
	}
	return true
}

// Reset clears what a replay wrote into the program: class initialization
// state and the per-instruction annotations. A session calls it before it
// starts so one loaded program can be replayed more than once.
func (p *Program) Reset() {
	for _, c := range p.classes {
		c.ClinitInvoked = false
		for _, m := range c.Methods {
			for _, inst := range m.Instructions {
				switch x := inst.(type) {
				case *Invoke:
					x.reset()
				case *NewInstance:
					x.Initialized = false
				}
			}
		}
	}
}

// Class is an application class.
type Class struct {
	ID     int
	Name   string
	Parent string
	// Family holds every ancestor, the parent included.
	Family   map[string]bool
	Abstract bool
	// Ignore marks library classes that were not instrumented; their
	// methods behave as platform APIs.
	Ignore  bool
	Fields  map[string]*Field
	Methods map[string]*Method

	ClinitImplemented bool
	// ClinitInvoked flips once <clinit> starts executing.
	ClinitInvoked bool
	OnLowMemory   *Method

	byLine []*Method
}

// InFamily reports whether name is class itself or one of its ancestors.
func (c *Class) InFamily(name string) bool {
	return c.Name == name || c.Family[name]
}

// MethodAt returns the method whose body spans line.
func (c *Class) MethodAt(line int) (*Method, bool) {
	i := sort.Search(len(c.byLine), func(i int) bool { return c.byLine[i].EndAt >= line })
	if i < len(c.byLine) && c.byLine[i].StartAt <= line {
		return c.byLine[i], true
	}
	return nil, false
}

// StaticFieldKeys lists the static field keys declared by the class.
func (c *Class) StaticFieldKeys() []string {
	var out []string
	for k, f := range c.Fields {
		if f.Static {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Field is a declared field keyed "Lpkg/C;->name:T".
type Field struct {
	Key        string
	Name       string
	Type       string
	Static     bool
	Default    string
	HasDefault bool
}

// Method is a method body.
type Method struct {
	Class       string
	Name        string
	Attribute   string
	Constructor bool
	Params      []string
	ParamTypes  map[string]string
	Locals      int
	RetType     string
	StartAt     int
	EndAt       int

	Instructions map[int]Instruction
}

// IsStatic reports the static attribute.
func (m *Method) IsStatic() bool { return hasAttr(m.Attribute, "static") }

// Implemented is false for native and abstract methods.
func (m *Method) Implemented() bool {
	return !hasAttr(m.Attribute, "native") && !hasAttr(m.Attribute, "abstract")
}

// Head returns the method-head instruction.
func (m *Method) Head() (*MethodHead, bool) {
	h, ok := m.Instructions[m.StartAt].(*MethodHead)
	return h, ok
}

// Lines returns the instruction line numbers in order.
func (m *Method) Lines() []int {
	out := make([]int, 0, len(m.Instructions))
	for n := range m.Instructions {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func hasAttr(attr, want string) bool {
	for _, a := range strings.Fields(attr) {
		if a == want {
			return true
		}
	}
	return false
}

// PairOf returns the second register of a wide pair starting at reg.
func PairOf(reg string) string {
	if len(reg) < 2 {
		return ""
	}
	n, err := strconv.Atoi(reg[1:])
	if err != nil {
		return ""
	}
	return reg[:1] + strconv.Itoa(n+1)
}

// narrow drops the pair halves of wide arguments.
func narrow(args []string, types map[string]string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		out = append(out, args[i])
		if dalvik.IsWide(types[args[i]]) {
			i++
		}
	}
	return out
}
