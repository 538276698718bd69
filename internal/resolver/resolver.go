// Package resolver computes register values one instruction at a time. A
// value computed from the operands is replaced whenever the trace logged a
// different one for the same register.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"smalien/internal/dalvik"
	"smalien/internal/program"
	"smalien/internal/value"
	"smalien/internal/vm"
)

var (
	// ErrMalformed reports operands that cannot take part in an instruction,
	// such as a reference used as a number.
	ErrMalformed = errors.New("cannot resolve value")
	// ErrUnsupported reports an instruction kind the resolver does not know.
	ErrUnsupported = errors.New("unsupported instruction")
)

// Resolver is the value stage of the interpreter pipeline.
type Resolver struct{}

func New() *Resolver { return &Resolver{} }

func (*Resolver) Name() string { return "value" }

// Run updates the registers touched by s.Inst. It suspends the thread with
// SignalExceptionOccurred when the instruction raises a runtime exception and
// with SignalClinitInvoked when a static initializer must run first.
func (r *Resolver) Run(s *vm.Step) (vm.Signal, error) {
	f := s.Frame
	switch x := s.Inst.(type) {
	case *program.MethodHead:
		return vm.SignalContinue, resolveMethodHead(s, x)
	case *program.Invoke:
		return vm.SignalContinue, resolveInvoke(s, x)
	case *program.MoveResult:
		return vm.SignalContinue, resolveMoveResult(s, x)
	case *program.Return:
		return vm.SignalContinue, resolveReturn(s, x)

	case *program.Move:
		v, err := f.Get(x.Source)
		if err != nil {
			return vm.SignalContinue, err
		}
		f.SetWide(x.Dest, x.DestPair, value.Copy(v))
	case *program.Const:
		f.SetWide(x.Dest, x.DestPair, value.Copy(x.Literal))
	case *program.ConstString:
		f.Set(x.Dest, constString(f, x))
	case *program.ConstClass:
		f.Set(x.Dest, value.NewReference(x.ClassName))
	case *program.NewInstance:
		return resolveNewInstance(s, x)
	case *program.InstanceOf:
		return vm.SignalContinue, resolveInstanceOf(s, x)
	case *program.CheckCast:
		return vm.SignalContinue, resolveCheckCast(s, x)

	case *program.NewArray:
		return resolveNewArray(s, x)
	case *program.FillArrayData:
		return vm.SignalContinue, resolveFillArrayData(s, x)
	case *program.ArrayLength:
		return resolveArrayLength(s, x)
	case *program.Aget:
		return resolveAget(s, x)
	case *program.Aput:
		return resolveAput(s, x)

	case *program.Iget:
		return resolveIget(s, x)
	case *program.Iput:
		return resolveIput(s, x)
	case *program.Sget:
		return resolveSget(s, x)
	case *program.Sput:
		return resolveSput(s, x)

	case *program.Unop:
		return vm.SignalContinue, resolveUnop(s, x)
	case *program.Binop:
		return resolveBinop(s, x)
	case *program.Cmp:
		return vm.SignalContinue, resolveCmp(s, x)

	case *program.Throw:
		v, err := f.Get(x.Reg)
		if err != nil {
			return vm.SignalContinue, err
		}
		s.VM.Exception = v
	case *program.MoveException:
		return vm.SignalContinue, resolveMoveException(s, x)

	case *program.Nop, *program.MethodTail, *program.Label, *program.CatchLabel,
		*program.If, *program.Ifz, *program.Goto, *program.Switch,
		*program.FilledNewArray, *program.MonitorEnter, *program.MonitorExit:
		// Control flow only; filled-new-array materialises at its move-result.
	default:
		return vm.SignalContinue, fmt.Errorf("%w: %s", ErrUnsupported, s.Inst.Kind())
	}
	return vm.SignalContinue, nil
}

// logged returns the raw value the trace recorded for reg, if any.
func logged(f *vm.Frame, reg string) (string, bool) {
	return f.Override(reg)
}

// instanceValue resolves a register from the log alone: reference payloads
// found in the registry resolve to the registered object, anything else is
// synthesised. Registers the trace did not record get the zero value.
func instanceValue(s *vm.Step, dataType, reg string) (value.Value, error) {
	raw, ok := logged(s.Frame, reg)
	if !ok {
		return zeroValue(dataType), nil
	}
	return s.Tables().Reconcile(dataType, raw)
}

func zeroValue(t string) value.Value {
	switch {
	case dalvik.IsFloating(t):
		return value.NewFloat(t, 0)
	case dalvik.IsPrimitive(t):
		return value.NewInt(t, 0)
	case dalvik.IsArray(t):
		return value.NullArray(t)
	}
	return value.NullInstance(t)
}

// setTyped stores v into reg, filling the pair register for wide types.
func setTyped(f *vm.Frame, reg, dataType string, v value.Value) {
	pair := ""
	if dalvik.IsWide(dataType) {
		pair = program.PairOf(reg)
	}
	f.SetWide(reg, pair, v)
}

func primitiveOf(f *vm.Frame, reg string) (*value.Primitive, error) {
	v, err := f.Get(reg)
	if err != nil {
		return nil, err
	}
	if p, ok := v.(*value.Primitive); ok {
		return p, nil
	}
	if v.IsNull() {
		return value.Zero(), nil
	}
	return nil, fmt.Errorf("%w: %s holds a %s, not a number", ErrMalformed, reg, v.DataType())
}

// identityOf strips the payload of a logged "<id>:<payload>" string.
func identityOf(dataType, raw string) string {
	if dalvik.IsIdentifiedString(dataType) {
		if id, _, ok := dalvik.SplitIdentity(raw); ok {
			return id
		}
	}
	return raw
}

// literal parses an array-data or constant literal of primitive type t.
func literal(t, raw string) (*value.Primitive, error) {
	if !dalvik.IsPrimitive(t) {
		return nil, fmt.Errorf("%w: %q is not a literal of %s", ErrMalformed, raw, t)
	}
	if dalvik.IsFloating(t) && strings.HasPrefix(strings.TrimPrefix(raw, "-"), "0x") {
		return value.FloatBits(t, raw)
	}
	return value.ParseLiteral(t, raw)
}
