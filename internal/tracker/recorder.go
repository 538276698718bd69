package tracker

import (
	"slices"
	"sort"

	"smalien/internal/value"
	"smalien/internal/vm"
)

// Recorder appends a history entry whenever the set of tainted registers
// and fields of a frame changes. Entries are kept per thread and an entry is
// skipped when any earlier entry of the same thread has the same class,
// method and tainted set.
type Recorder struct {
	results *Results
}

func NewRecorder(r *Results) *Recorder { return &Recorder{results: r} }

func (*Recorder) Name() string { return "recorder" }

func (r *Recorder) Detect(s *vm.Step) error {
	tainted := Tainted(s.Frame)
	if len(tainted) == 0 {
		return nil
	}
	f := s.Frame
	history := r.results.History[s.VM.PTID]
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if h.Class == f.Class && h.Method == f.Method && slices.Equal(h.Tainted, tainted) {
			return nil
		}
	}
	r.results.History[s.VM.PTID] = append(history, HistoryEntry{
		Class:       f.Class,
		Method:      f.Method,
		Line:        s.Inst.Base().Num,
		Instruction: s.Inst.Base().Text,
		Tainted:     tainted,
	})
	return nil
}

// Tainted lists the tainted registers of f followed by the tainted field
// keys of the objects they hold, each group sorted.
func Tainted(f *vm.Frame) []string {
	var regs []string
	fields := map[string]bool{}
	for _, reg := range f.RegisterNames() {
		v := f.Registers[reg]
		if v == nil {
			continue
		}
		if v.Taint() != nil {
			regs = append(regs, reg)
		}
		if obj, ok := v.(*value.ClassInstance); ok {
			for key, fv := range obj.Fields {
				if fv != nil && fv.Taint() != nil {
					fields[key] = true
				}
			}
		}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return append(regs, keys...)
}
