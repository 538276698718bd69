// Package taint implements taint tags and the source/sink definition tables.
package taint

import (
	"encoding/json"
	"sort"
	"strings"
)

// Tag is the sensitivity of a taint.
type Tag int

const (
	Insensitive Tag = iota
	Sensitive
)

func (t Tag) String() string {
	if t == Sensitive {
		return "sensitive"
	}
	return "insensitive"
}

// PreSink is the pseudo-source attached by pre-sink APIs.
const PreSink = "PRE-SINK"

// Set is an unordered set of labels. It marshals as a sorted list.
type Set map[string]struct{}

func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s Set) Add(items ...string) {
	for _, it := range items {
		s[it] = struct{}{}
	}
}

func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Union adds every element of o to s.
func (s Set) Union(o Set) {
	for k := range o {
		s[k] = struct{}{}
	}
}

func (s Set) Clone() Set {
	c := make(Set, len(s))
	c.Union(s)
	return c
}

// Sorted returns the elements in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for k := range s {
		if !o.Has(k) {
			return false
		}
	}
	return true
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *Set) UnmarshalJSON(b []byte) error {
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*s = NewSet(items...)
	return nil
}

// Taint is attached to a register value that derives from a source.
type Taint struct {
	Tag         Tag `json:"tag"`
	Sources     Set `json:"sources"`
	Values      Set `json:"values,omitempty"`
	FlowDetails Set `json:"flow_details,omitempty"`
}

// New creates a taint with the given tag and sources.
func New(tag Tag, sources ...string) *Taint {
	return &Taint{
		Tag:         tag,
		Sources:     NewSet(sources...),
		Values:      NewSet(),
		FlowDetails: NewSet(),
	}
}

// NewSensitive creates a sensitive taint for the given sources.
func NewSensitive(sources ...string) *Taint {
	return New(Sensitive, sources...)
}

// IsSensitive is nil-safe.
func (t *Taint) IsSensitive() bool {
	return t != nil && t.Tag == Sensitive
}

// HasSource is nil-safe.
func (t *Taint) HasSource(label string) bool {
	return t != nil && t.Sources.Has(label)
}

// Merge folds o into t. Sets are unioned and a sensitive tag is never
// downgraded.
func (t *Taint) Merge(o *Taint) {
	if o == nil {
		return
	}
	if o.Tag > t.Tag {
		t.Tag = o.Tag
	}
	t.ensure()
	t.Sources.Union(o.Sources)
	t.Values.Union(o.Values)
	t.FlowDetails.Union(o.FlowDetails)
}

// Merged returns a fresh taint holding a ∪ b. Either side may be nil.
func Merged(a, b *Taint) *Taint {
	if a == nil && b == nil {
		return nil
	}
	out := New(Insensitive)
	out.Merge(a)
	out.Merge(b)
	return out
}

// Clone deep-copies t. Clone of nil is nil.
func (t *Taint) Clone() *Taint {
	if t == nil {
		return nil
	}
	c := &Taint{Tag: t.Tag}
	c.Sources = t.Sources.Clone()
	c.Values = t.Values.Clone()
	c.FlowDetails = t.FlowDetails.Clone()
	return c
}

// AddFlowDetail is nil-safe.
func (t *Taint) AddFlowDetail(detail string) {
	if t == nil {
		return
	}
	t.ensure()
	t.FlowDetails.Add(detail)
}

// SourcesWithout returns the sorted source labels minus the pseudo ones.
func (t *Taint) SourcesWithout(labels ...string) []string {
	if t == nil {
		return nil
	}
	skip := NewSet(labels...)
	var out []string
	for _, s := range t.Sources.Sorted() {
		if !skip.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// Equal compares tag and all sets.
func (t *Taint) Equal(o *Taint) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.Tag == o.Tag &&
		t.Sources.Equal(o.Sources) &&
		t.Values.Equal(o.Values) &&
		t.FlowDetails.Equal(o.FlowDetails)
}

func (t *Taint) String() string {
	if t == nil {
		return "<untainted>"
	}
	return t.Tag.String() + "{" + strings.Join(t.Sources.Sorted(), ",") + "}"
}

func (t *Taint) ensure() {
	if t.Sources == nil {
		t.Sources = NewSet()
	}
	if t.Values == nil {
		t.Values = NewSet()
	}
	if t.FlowDetails == nil {
		t.FlowDetails = NewSet()
	}
}
