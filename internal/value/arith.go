package value

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrDivideByZero is returned by integral division and remainder by zero.
var ErrDivideByZero = errors.New("divide by zero")

// UnaryOp is a unop opcode family.
type UnaryOp int

const (
	Neg UnaryOp = iota
	Not
	ToLong
	ToInt
	ToFloat
	ToDouble
	ToByte
	ToChar
	ToShort
)

// BinaryOp is a binop opcode family.
type BinaryOp int

const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Rem
	And
	Or
	Xor
	Shl
	Shr
	Ushr
	Rsub
)

var binaryNames = map[string]BinaryOp{
	"add": Add, "sub": Sub, "mul": Mul, "div": Div, "rem": Rem,
	"and": And, "or": Or, "xor": Xor, "shl": Shl, "shr": Shr,
	"ushr": Ushr, "rsub": Rsub,
}

var primitiveNames = map[string]string{
	"byte": "B", "short": "S", "char": "C", "int": "I",
	"long": "J", "float": "F", "double": "D",
}

// ParseUnary decodes a unop mnemonic such as "neg-int" or "long-to-float"
// into the operation, its source type and its result type.
func ParseUnary(mnemonic string) (op UnaryOp, src, dst string, err error) {
	parts := strings.Split(mnemonic, "-")
	switch {
	case len(parts) == 2 && (parts[0] == "neg" || parts[0] == "not"):
		t, ok := primitiveNames[parts[1]]
		if !ok {
			break
		}
		if parts[0] == "neg" {
			return Neg, t, t, nil
		}
		return Not, t, t, nil
	case len(parts) == 3 && parts[1] == "to":
		s, ok1 := primitiveNames[parts[0]]
		d, ok2 := primitiveNames[parts[2]]
		if !ok1 || !ok2 {
			break
		}
		conv := map[string]UnaryOp{
			"J": ToLong, "I": ToInt, "F": ToFloat, "D": ToDouble,
			"B": ToByte, "C": ToChar, "S": ToShort,
		}
		return conv[d], s, d, nil
	}
	return 0, "", "", fmt.Errorf("%w: unary op %q", ErrMalformed, mnemonic)
}

// ParseBinary decodes "add-int", "mul-long/2addr", "rsub-int/lit8" and the
// like into the operation and operand type.
func ParseBinary(mnemonic string) (BinaryOp, string, error) {
	name, _, _ := strings.Cut(mnemonic, "/")
	if name == "rsub-int" {
		return Rsub, "I", nil
	}
	opName, typeName, ok := strings.Cut(name, "-")
	op, okOp := binaryNames[opName]
	t, okType := primitiveNames[typeName]
	if !ok || !okOp || !okType {
		return 0, "", fmt.Errorf("%w: binary op %q", ErrMalformed, mnemonic)
	}
	return op, t, nil
}

// Unary applies op to src with Java semantics and returns a value of type
// dst.
func Unary(op UnaryOp, src *Primitive, dst string) *Primitive {
	switch op {
	case Neg:
		if dst == "F" || dst == "D" {
			return NewFloat(dst, -src.Float())
		}
		return NewInt(dst, -src.Int())
	case Not:
		return NewInt(dst, ^src.Int())
	case ToLong:
		if src.isFloat {
			return NewInt("J", floatToLong(src.f))
		}
		return NewInt("J", src.i)
	case ToInt:
		if src.isFloat {
			return NewInt("I", floatToInt(src.f))
		}
		return NewInt("I", src.i)
	case ToFloat:
		if !src.isFloat {
			// int64 to float32 rounds once; going through float64 may not.
			return NewFloat("F", float64(float32(src.i)))
		}
		return NewFloat("F", src.f)
	case ToDouble:
		return NewFloat("D", src.Float())
	case ToByte:
		return NewInt("B", src.Int())
	case ToChar:
		return NewInt("C", src.Int())
	case ToShort:
		return NewInt("S", src.Int())
	}
	return src
}

// Binary applies op to a and b as operands of type t.
func Binary(op BinaryOp, t string, a, b *Primitive) (*Primitive, error) {
	if t == "F" || t == "D" {
		return binaryFloat(op, t, a.Float(), b.Float())
	}
	if t == "J" {
		return binaryLong(op, a.Int(), b.Int())
	}
	return binaryInt(op, int32(a.Int()), int32(b.Int()))
}

func binaryInt(op BinaryOp, x, y int32) (*Primitive, error) {
	var r int32
	switch op {
	case Add:
		r = x + y
	case Sub:
		r = x - y
	case Rsub:
		r = y - x
	case Mul:
		r = x * y
	case Div, Rem:
		if y == 0 {
			return nil, ErrDivideByZero
		}
		if op == Div {
			r = x / y
		} else {
			r = x % y
		}
	case And:
		r = x & y
	case Or:
		r = x | y
	case Xor:
		r = x ^ y
	case Shl:
		r = x << (y & 0x1f)
	case Shr:
		r = x >> (y & 0x1f)
	case Ushr:
		r = int32(uint32(x) >> (y & 0x1f))
	}
	return NewInt("I", int64(r)), nil
}

func binaryLong(op BinaryOp, x, y int64) (*Primitive, error) {
	var r int64
	switch op {
	case Add:
		r = x + y
	case Sub:
		r = x - y
	case Rsub:
		r = y - x
	case Mul:
		r = x * y
	case Div, Rem:
		if y == 0 {
			return nil, ErrDivideByZero
		}
		if op == Div {
			r = x / y
		} else {
			r = x % y
		}
	case And:
		r = x & y
	case Or:
		r = x | y
	case Xor:
		r = x ^ y
	case Shl:
		r = x << (y & 0x3f)
	case Shr:
		r = x >> (y & 0x3f)
	case Ushr:
		r = int64(uint64(x) >> (y & 0x3f))
	}
	return NewInt("J", r), nil
}

func binaryFloat(op BinaryOp, t string, x, y float64) (*Primitive, error) {
	if t == "F" {
		x, y = float64(float32(x)), float64(float32(y))
	}
	var r float64
	switch op {
	case Add:
		r = x + y
	case Sub:
		r = x - y
	case Rsub:
		r = y - x
	case Mul:
		r = x * y
	case Div:
		r = x / y
	case Rem:
		r = math.Mod(x, y)
	default:
		return nil, fmt.Errorf("%w: bitwise op on %s", ErrMalformed, t)
	}
	return NewFloat(t, r), nil
}

// CompareBias selects the NaN result of a cmp instruction.
type CompareBias int

const (
	BiasLess    CompareBias = -1
	BiasGreater CompareBias = 1
)

// Compare implements cmpl, cmpg and cmp-long. It yields 1, -1 or 0; NaN
// operands yield the bias.
func Compare(t string, bias CompareBias, a, b *Primitive) *Primitive {
	if t == "J" {
		x, y := a.Int(), b.Int()
		switch {
		case x > y:
			return NewInt("I", 1)
		case x < y:
			return NewInt("I", -1)
		}
		return NewInt("I", 0)
	}
	x, y := a.Float(), b.Float()
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return NewInt("I", int64(bias))
	case x > y:
		return NewInt("I", 1)
	case x < y:
		return NewInt("I", -1)
	}
	return NewInt("I", 0)
}

// Cond is the relation tested by an if instruction.
type Cond string

const (
	Eq Cond = "eq"
	Ne Cond = "ne"
	Lt Cond = "lt"
	Ge Cond = "ge"
	Gt Cond = "gt"
	Le Cond = "le"
)

// Test evaluates cond over two numeric operands.
func Test(cond Cond, a, b *Primitive) (bool, error) {
	var c int
	if a.isFloat || b.isFloat {
		x, y := a.Float(), b.Float()
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		case x != y:
			// NaN compares unequal and unordered.
			return cond == Ne, nil
		}
	} else {
		switch {
		case a.i < b.i:
			c = -1
		case a.i > b.i:
			c = 1
		}
	}
	switch cond {
	case Eq:
		return c == 0, nil
	case Ne:
		return c != 0, nil
	case Lt:
		return c < 0, nil
	case Ge:
		return c >= 0, nil
	case Gt:
		return c > 0, nil
	case Le:
		return c <= 0, nil
	}
	return false, fmt.Errorf("%w: condition %q", ErrMalformed, cond)
}

func floatToInt(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int64(f)
}

func floatToLong(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}
