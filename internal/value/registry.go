package value

import (
	"sort"

	"smalien/internal/dalvik"
)

// Registry maps an object identity to every instance observed with it. The
// most recently registered candidate wins on lookup. Null references are
// never stored.
type Registry struct {
	byID  map[string][]*ClassInstance
	order []string
}

func NewRegistry() *Registry {
	return &Registry{byID: map[string][]*ClassInstance{}}
}

// Register appends inst under its identity.
func (r *Registry) Register(inst *ClassInstance) {
	if inst == nil || inst.IsNull() {
		return
	}
	if _, ok := r.byID[inst.ID]; !ok {
		r.order = append(r.order, inst.ID)
	}
	r.byID[inst.ID] = append(r.byID[inst.ID], inst)
}

// Lookup returns the most recent instance registered under id.
func (r *Registry) Lookup(id string) (*ClassInstance, bool) {
	c := r.byID[id]
	if len(c) == 0 {
		return nil, false
	}
	return c[len(c)-1], true
}

// Candidates returns every instance registered under id, oldest first.
func (r *Registry) Candidates(id string) []*ClassInstance {
	return r.byID[id]
}

// IDs lists identities in first-registration order.
func (r *Registry) IDs() []string {
	return r.order
}

func (r *Registry) Len() int { return len(r.order) }

// Tables is the state shared by every per-thread VM of a session.
type Tables struct {
	Instances *Registry
	// Static holds static field values keyed "Lpkg/C;->name:T".
	Static map[string]Value
	// IntentData carries tainted values across put/get API pairs, keyed by
	// the value's string form.
	IntentData map[string]Value
}

func NewTables() *Tables {
	return &Tables{
		Instances:  NewRegistry(),
		Static:     map[string]Value{},
		IntentData: map[string]Value{},
	}
}

// Reconcile resolves a logged object payload. Non-string references found in
// the registry resolve to the most recent candidate; anything else is
// synthesised and, when it is a non-null object, registered.
func (t *Tables) Reconcile(dataType, raw string) (Value, error) {
	if lookupable(dataType, raw) {
		if inst, ok := t.Instances.Lookup(raw); ok {
			return inst, nil
		}
	}
	v, err := Generate(dataType, raw)
	if err != nil {
		return nil, err
	}
	if inst, ok := v.(*ClassInstance); ok {
		t.Instances.Register(inst)
	}
	return v, nil
}

// Find returns the registered instance for a logged reference payload,
// skipping primitive and string types.
func (t *Tables) Find(dataType, raw string) (*ClassInstance, bool) {
	if !lookupable(dataType, raw) {
		return nil, false
	}
	return t.Instances.Lookup(raw)
}

func lookupable(dataType, raw string) bool {
	return !dalvik.IsNullReference(raw) &&
		!dalvik.IsPrimitive(dataType) &&
		!dalvik.IsString(dataType) &&
		!dalvik.IsArray(dataType)
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
