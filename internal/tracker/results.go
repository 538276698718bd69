package tracker

import (
	"fmt"
	"slices"
	"sort"

	"smalien/internal/taint"
)

// Source is one detected source API call.
type Source struct {
	Label        string `json:"label"`
	Class        string `json:"class"`
	Method       string `json:"method"`
	Line         int    `json:"line"`
	SourceClass  string `json:"source_class"`
	SourceMethod string `json:"source_method"`
	// CallType is "normal" or "reflection".
	CallType string `json:"call_type"`
}

// Leak is a sink call that received sensitive data.
type Leak struct {
	// Tag is "<class id>_<line>", the location format of the instrumentation.
	Tag        string   `json:"smali_tag"`
	Class      string   `json:"class"`
	Method     string   `json:"method"`
	Line       int      `json:"line"`
	SinkClass  string   `json:"sink_class"`
	SinkMethod string   `json:"sink_method"`
	Values     []string `json:"sink_values"`
	Sources    []string `json:"sources"`
	// ReturnValue is the rendering of the sink's result, when it has one.
	ReturnValue *string `json:"returned_value,omitempty"`
}

// Key identifies the call site of l.
func (l *Leak) Key() string {
	return fmt.Sprintf("%s-%s-%d", l.Class, l.Method, l.Line)
}

// HistoryEntry records which registers and fields were tainted at a step.
type HistoryEntry struct {
	Class       string   `json:"class"`
	Method      string   `json:"method"`
	Line        int      `json:"num"`
	Instruction string   `json:"instruction"`
	Tainted     []string `json:"tainted"`
}

// Results collects what the taint pipeline found.
type Results struct {
	Sources []Source `json:"sources"`
	Leaks   []*Leak  `json:"sinks"`
	// History is keyed by PTID.
	History map[string][]HistoryEntry `json:"taint_history"`
}

func NewResults() *Results {
	return &Results{History: map[string][]HistoryEntry{}}
}

// addLeak merges l into an existing leak at the same call site or appends
// it.
func (r *Results) addLeak(l *Leak) *Leak {
	for _, prev := range r.Leaks {
		if prev.Key() != l.Key() {
			continue
		}
		srcs := taint.NewSet(prev.Sources...)
		srcs.Add(l.Sources...)
		prev.Sources = srcs.Sorted()
		for _, v := range l.Values {
			if !slices.Contains(prev.Values, v) {
				prev.Values = append(prev.Values, v)
			}
		}
		return prev
	}
	r.Leaks = append(r.Leaks, l)
	return l
}

// leakAt returns the leak recorded at class and line.
func (r *Results) leakAt(class string, line int) (*Leak, bool) {
	for i := len(r.Leaks) - 1; i >= 0; i-- {
		if l := r.Leaks[i]; l.Class == class && l.Line == line {
			return l, true
		}
	}
	return nil, false
}

// NumLeaks counts distinct (call site, source) pairs.
func (r *Results) NumLeaks() int {
	n := 0
	for _, l := range r.Leaks {
		n += len(l.Sources)
	}
	return n
}

// SourceLabels returns the distinct labels of every detected source.
func (r *Results) SourceLabels() []string {
	set := taint.NewSet()
	for _, s := range r.Sources {
		set.Add(s.Label)
	}
	return set.Sorted()
}

// PTIDs lists the threads with history, sorted.
func (r *Results) PTIDs() []string {
	out := make([]string, 0, len(r.History))
	for k := range r.History {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
