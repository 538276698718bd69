// Package value models register contents during replay: primitives, arrays,
// class instances and class references, each optionally carrying a taint.
package value

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"smalien/internal/dalvik"
	"smalien/internal/taint"
)

// ErrMalformed reports a logged or literal payload that cannot be decoded.
var ErrMalformed = errors.New("malformed value")

// Value is the closed set of register contents.
type Value interface {
	DataType() string
	Taint() *taint.Taint
	SetTaint(*taint.Taint)
	// Ident is the comparable form of the value: the formatted number of a
	// primitive, the identity of an object, "" for null.
	Ident() string
	IsNull() bool
	sealed()
}

type header struct {
	typ string
	tag *taint.Taint
}

func (h *header) DataType() string { return h.typ }
func (h *header) Taint() *taint.Taint { return h.tag }
func (h *header) SetTaint(t *taint.Taint) { h.tag = t }
func (h *header) SetDataType(typ string) { h.typ = typ }
func (h *header) sealed() {}

// Primitive is a scalar. It keeps whichever representation it was built
// from; Int and Float convert on demand.
type Primitive struct {
	header
	i       int64
	f       float64
	isFloat bool
}

// NewInt builds an integral primitive normalised to the width of t.
func NewInt(t string, v int64) *Primitive {
	return &Primitive{header: header{typ: t}, i: normalize(t, v)}
}

// NewFloat builds a floating primitive; F values are rounded to float32.
func NewFloat(t string, v float64) *Primitive {
	if t == "F" {
		v = float64(float32(v))
	}
	return &Primitive{header: header{typ: t}, f: v, isFloat: true}
}

// Zero is the integer zero used for null references and default elements.
func Zero() *Primitive { return NewInt("I", 0) }

func (p *Primitive) IsFloat() bool { return p.isFloat }

// Int returns the value as an integer, converting floats with the Java
// narrowing rules.
func (p *Primitive) Int() int64 {
	if p.isFloat {
		return floatToLong(p.f)
	}
	return p.i
}

func (p *Primitive) Float() float64 {
	if p.isFloat {
		return p.f
	}
	return float64(p.i)
}

func (p *Primitive) Wide() bool { return dalvik.IsWide(p.typ) }

func (p *Primitive) IsNull() bool { return !p.isFloat && p.i == 0 }

func (p *Primitive) Ident() string {
	if p.isFloat {
		return formatFloat(p.f)
	}
	return strconv.FormatInt(p.i, 10)
}

// IsZero reports numeric zero, including -0.0.
func (p *Primitive) IsZero() bool {
	if p.isFloat {
		return p.f == 0
	}
	return p.i == 0
}

// Array is an array instance. A null array has no elements.
type Array struct {
	header
	Null     bool
	Elements []Value
	LastCall *Invocation
}

// NewArray builds an empty, non-null array of type t.
func NewArray(t string) *Array {
	return &Array{header: header{typ: t}, Elements: []Value{}}
}

// NullArray builds a null array of type t.
func NullArray(t string) *Array {
	return &Array{header: header{typ: t}, Null: true}
}

func (a *Array) ElemType() string { return dalvik.ElementType(a.typ) }
func (a *Array) Len() int { return len(a.Elements) }
func (a *Array) IsNull() bool { return a.Null }

// Ident renders the elements as "[e1, e2]"; null arrays render as "".
func (a *Array) Ident() string {
	if a.Null {
		return ""
	}
	parts := make([]string, len(a.Elements))
	for i, e := range a.Elements {
		parts[i] = e.Ident()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ClassInstance is an object reference. An empty ID is null.
type ClassInstance struct {
	header
	ID     string
	Fields map[string]Value
	// LastCall is the most recent invocation made on this object as base.
	LastCall *Invocation
	// OutputStream is the identity of a linked output stream.
	OutputStream string
	// Contained memorises values stored into container-like objects, keyed
	// by the value's string form.
	Contained map[string]Value
	Str       string
	HasStr    bool
}

// NewInstance builds a class instance with the given identity.
func NewInstance(t, id string) *ClassInstance {
	return &ClassInstance{
		header:    header{typ: t},
		ID:        id,
		Fields:    map[string]Value{},
		Contained: map[string]Value{},
	}
}

// NullInstance is the null reference of type t.
func NullInstance(t string) *ClassInstance { return NewInstance(t, "") }

func (c *ClassInstance) IsNull() bool { return c.ID == "" }
func (c *ClassInstance) Ident() string { return c.ID }

// SetString attaches a resolved string payload.
func (c *ClassInstance) SetString(s string) {
	c.Str = s
	c.HasStr = true
}

// ClassReference is produced by const-class and Class.forName.
type ClassReference struct {
	header
	Name string
}

func NewReference(name string) *ClassReference {
	return &ClassReference{header: header{typ: dalvik.Class}, Name: name}
}

func (r *ClassReference) IsNull() bool { return r.Name == "" }
func (r *ClassReference) Ident() string { return r.Name }

// Invocation remembers a call made on an object so that a thread started
// later from that object can recover its arguments.
type Invocation struct {
	Class    string
	Method   string
	Args     []string
	ArgTypes []string
	// Values are the non-base arguments, wide pairs collapsed.
	Values []Value
}

// Copy returns the register-to-register copy of v: primitives are duplicated
// with their own taint, references alias the same object.
func Copy(v Value) Value {
	if p, ok := v.(*Primitive); ok {
		c := *p
		c.tag = p.tag.Clone()
		return &c
	}
	return v
}

// Render is the human readable form used in leak reports.
func Render(v Value) string {
	switch x := v.(type) {
	case nil:
		return "<unset>"
	case *ClassInstance:
		if x.HasStr {
			return x.Str
		}
		if x.IsNull() {
			return "null"
		}
		return x.ID
	case *Array:
		if x.Null {
			return "null"
		}
		return x.Ident()
	default:
		return v.Ident()
	}
}

// Equal compares two values by kind and identity. Primitives compare
// numerically.
func Equal(a, b Value) bool {
	pa, okA := a.(*Primitive)
	pb, okB := b.(*Primitive)
	if okA && okB {
		if pa.isFloat || pb.isFloat {
			return pa.Float() == pb.Float()
		}
		return pa.i == pb.i
	}
	if okA != okB {
		return false
	}
	return a.Ident() == b.Ident()
}

// TaintOf extracts the taint of v, falling back to the first tainted array
// element or field.
func TaintOf(v Value) *taint.Taint {
	switch x := v.(type) {
	case *Array:
		if x.Taint() != nil {
			return x.Taint()
		}
		for _, e := range x.Elements {
			if e.Taint() != nil {
				return e.Taint()
			}
		}
	case *ClassInstance:
		if x.Taint() != nil {
			return x.Taint()
		}
		for _, k := range sortedKeys(x.Fields) {
			if t := x.Fields[k].Taint(); t != nil {
				return t
			}
		}
	case nil:
		return nil
	default:
		return v.Taint()
	}
	return nil
}

func normalize(t string, v int64) int64 {
	switch t {
	case "Z":
		if v != 0 {
			return 1
		}
		return 0
	case "B":
		return int64(int8(v))
	case "S":
		return int64(int16(v))
	case "C":
		return int64(uint16(v))
	case "I":
		return int64(int32(v))
	}
	return v
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
