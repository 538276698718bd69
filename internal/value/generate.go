package value

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"smalien/internal/dalvik"
)

// Generate synthesises a value of dataType from a logged payload. An empty
// raw means nothing was logged.
func Generate(dataType, raw string) (Value, error) {
	return generate(dataType, raw, false)
}

// GenerateString builds the value of a const-string: the identity comes from
// the log, the payload from the instruction.
func GenerateString(raw, payload string) *ClassInstance {
	if dalvik.IsNullReference(raw) {
		inst := NullInstance(dalvik.String)
		inst.SetString(payload)
		return inst
	}
	id := raw
	if i, _, ok := dalvik.SplitIdentity(raw); ok {
		id = i
	}
	inst := NewInstance(dalvik.String, id)
	inst.SetString(payload)
	return inst
}

// GenerateReference converts a logged java.lang.Class rendering such as
// "class com.example.Foo" or "int" into a class reference.
func GenerateReference(raw string) *ClassReference {
	if raw == "null" || raw == "" {
		return &ClassReference{header: header{typ: dalvik.Class}}
	}
	name := raw
	switch {
	case dalvik.BoxedPrimitive[raw] != "":
		name = dalvik.BoxedPrimitive[raw]
	case raw == "void":
		name = "Ljava/lang/Void;"
	case strings.HasPrefix(raw, "class ") || strings.HasPrefix(raw, "interface "):
		fields := strings.Fields(raw)
		last := fields[len(fields)-1]
		if !strings.HasSuffix(last, ";") {
			last = dalvik.TypeToSmali(last)
		}
		name = last
	}
	fields := strings.Fields(name)
	if len(fields) > 0 {
		name = fields[len(fields)-1]
	}
	return NewReference(name)
}

func generate(dataType, raw string, numeric bool) (Value, error) {
	switch {
	case dalvik.IsPrimitive(dataType):
		return generatePrimitive(dataType, raw, numeric)
	case dalvik.IsArray(dataType):
		return generateArray(dataType, raw)
	case dataType == dalvik.Object && strings.HasPrefix(raw, "[") && len(raw) > 1:
		// Object registers may be logged as arrays with the element type
		// appended.
		return generateArray("["+raw[len(raw)-1:], raw[:len(raw)-1])
	case dalvik.IsReference(dataType):
		return generateInstance(dataType, raw)
	}
	return nil, fmt.Errorf("%w: unknown data type %q", ErrMalformed, dataType)
}

func generatePrimitive(t, raw string, numeric bool) (*Primitive, error) {
	switch t {
	case "Z":
		switch raw {
		case "true", "1":
			return NewInt(t, 1), nil
		case "false", "0":
			return NewInt(t, 0), nil
		}
		return nil, fmt.Errorf("%w: boolean %q", ErrMalformed, raw)
	case "C":
		if !numeric && utf8.RuneCountInString(raw) == 1 {
			r, _ := utf8.DecodeRuneInString(raw)
			return NewInt(t, int64(r)), nil
		}
		v, err := ParseInt(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: char %q", ErrMalformed, raw)
		}
		return NewInt(t, v), nil
	case "B":
		v, err := ParseInt(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: byte %q", ErrMalformed, raw)
		}
		return NewInt(t, v), nil
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: empty %s value", ErrMalformed, t)
	}
	return ParseLiteral(t, raw)
}

// ParseLiteral parses a numeric literal of type t. Integers stay integral
// unless they carry a decimal point or cannot be represented; floats accept
// the Java spellings of infinity and NaN.
func ParseLiteral(t, raw string) (*Primitive, error) {
	if !strings.Contains(raw, ".") {
		if v, err := ParseInt(raw); err == nil {
			return NewInt(t, v), nil
		}
	}
	f, err := parseFloat(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: number %q", ErrMalformed, raw)
	}
	return NewFloat(t, f), nil
}

// ParseInt accepts decimal and 0x-prefixed literals with an optional smali
// width suffix (L, s, t).
func ParseInt(raw string) (int64, error) {
	s := strings.TrimRight(raw, "Lst")
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var (
		u   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		u, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		u, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, err
	}
	if neg {
		if u > 1<<63 {
			return 0, strconv.ErrRange
		}
		return -int64(u), nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") && u > math.MaxInt64 {
		return 0, strconv.ErrRange
	}
	return int64(u), nil
}

func parseFloat(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	switch strings.TrimRight(s, "fFdD") {
	case "NaN":
		return math.NaN(), nil
	case "Infinity", "+Infinity", "inf":
		return math.Inf(1), nil
	case "-Infinity", "-inf":
		return math.Inf(-1), nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "-0x") {
		s = strings.TrimRight(s, "fFdD")
	}
	return strconv.ParseFloat(s, 64)
}

// FloatBits reinterprets a hex literal as the IEEE bits of an F or D
// constant.
func FloatBits(t, raw string) (*Primitive, error) {
	v, err := ParseInt(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: float bits %q", ErrMalformed, raw)
	}
	if t == "D" {
		return NewFloat(t, math.Float64frombits(uint64(v))), nil
	}
	return NewFloat(t, float64(math.Float32frombits(uint32(v)))), nil
}

func generateArray(t, raw string) (*Array, error) {
	if dalvik.IsNullReference(raw) {
		return NullArray(t), nil
	}
	arr := NewArray(t)
	if t == "[C" && raw != "[]" {
		if len(raw) < 2 {
			return nil, fmt.Errorf("%w: char array %q", ErrMalformed, raw)
		}
		for _, c := range strings.Split(raw[1:len(raw)-1], ", ") {
			if utf8.RuneCountInString(c) != 1 {
				return nil, fmt.Errorf("%w: char array element %q", ErrMalformed, c)
			}
			r, _ := utf8.DecodeRuneInString(c)
			arr.Elements = append(arr.Elements, NewInt("C", int64(r)))
		}
		return arr, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: array %q: %v", ErrMalformed, raw, err)
	}
	return fillArray(arr, items)
}

func fillArray(arr *Array, items []any) (*Array, error) {
	elem := arr.ElemType()
	for _, it := range items {
		if it == nil {
			arr.Elements = append(arr.Elements, Zero())
			continue
		}
		if nested, ok := it.([]any); ok && dalvik.IsArray(elem) {
			sub, err := fillArray(NewArray(elem), nested)
			if err != nil {
				return nil, err
			}
			arr.Elements = append(arr.Elements, sub)
			continue
		}
		s, numeric, err := jsonScalar(it)
		if err != nil {
			return nil, err
		}
		v, err := generate(elem, s, numeric)
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, v)
	}
	return arr, nil
}

func jsonScalar(it any) (string, bool, error) {
	switch x := it.(type) {
	case json.Number:
		return x.String(), true, nil
	case string:
		return x, false, nil
	case bool:
		return strconv.FormatBool(x), false, nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", false, fmt.Errorf("%w: array element: %v", ErrMalformed, err)
		}
		return string(b), false, nil
	}
}

func generateInstance(t, raw string) (*ClassInstance, error) {
	if dalvik.IsNullReference(raw) {
		return NullInstance(t), nil
	}
	id := raw
	var payload string
	hasPayload := false
	if dalvik.IsIdentifiedString(t) {
		if i, p, ok := dalvik.SplitIdentity(raw); ok {
			id, payload = i, p
		} else {
			// Array elements are logged without their identity.
			payload = raw
		}
		hasPayload = true
	}
	if strings.Contains(id, ":") {
		return nil, fmt.Errorf("%w: identity %q of %s", ErrMalformed, id, t)
	}
	inst := NewInstance(t, id)
	if hasPayload {
		inst.SetString(payload)
	}
	return inst, nil
}
