package vm

import (
	"fmt"

	"smalien/internal/program"
	"smalien/internal/value"
)

// PCController computes the next program counter of a frame.
type PCController struct{}

// Next returns the line to execute after inst, or a signal when control
// leaves the method or waits for the trace.
func (PCController) Next(f *Frame, inst program.Instruction) (int, Signal, error) {
	num := inst.Base().Num
	switch x := inst.(type) {
	case *program.If:
		a, err := f.Get(x.Reg1)
		if err != nil {
			return 0, SignalContinue, err
		}
		b, err := f.Get(x.Reg2)
		if err != nil {
			return 0, SignalContinue, err
		}
		taken, err := compare(x.Cond, a, b)
		if err != nil {
			return 0, SignalContinue, fmt.Errorf("if-%s %s, %s: %w", x.Cond, x.Reg1, x.Reg2, err)
		}
		if taken {
			return x.Target, SignalContinue, nil
		}
		return num + 1, SignalContinue, nil

	case *program.Ifz:
		a, err := f.Get(x.Reg)
		if err != nil {
			return 0, SignalContinue, err
		}
		taken, err := compare(x.Cond, a, value.Zero())
		if err != nil {
			return 0, SignalContinue, fmt.Errorf("if-%sz %s: %w", x.Cond, x.Reg, err)
		}
		if taken {
			return x.Target, SignalContinue, nil
		}
		return num + 1, SignalContinue, nil

	case *program.Goto:
		return x.Target, SignalContinue, nil

	case *program.Switch:
		v, err := f.Get(x.Reg)
		if err != nil {
			return 0, SignalContinue, err
		}
		p, ok := v.(*value.Primitive)
		if !ok {
			return 0, SignalContinue, fmt.Errorf("switch on %s: %w: %s is not a number", x.Reg, value.ErrMalformed, v.DataType())
		}
		if target, ok := x.Targets[p.Int()]; ok {
			return target, SignalContinue, nil
		}
		return num + 1, SignalContinue, nil

	case *program.Throw:
		return num, SignalExceptionThrown, nil

	case *program.CatchLabel:
		// The invoke that raised the exception never reaches its move-result.
		f.AfterInvocation = false
		return num + 1, SignalContinue, nil

	case *program.Invoke:
		if f.AfterInvocation {
			f.AfterInvocation = false
			return num + 1, SignalContinue, nil
		}
		f.AfterInvocation = true
		return num, SignalNewMethodInvoked, nil

	case *program.MoveResult:
		f.AfterInvocation = false
		return num + 1, SignalContinue, nil

	case *program.Return, *program.MethodTail:
		return num, SignalMethodCompleted, nil
	}
	return num + 1, SignalContinue, nil
}

// compare evaluates a branch condition. Numbers compare by value; references
// compare by identity, with null standing for 0.
func compare(cond value.Cond, a, b value.Value) (bool, error) {
	pa, okA := asNumber(a)
	pb, okB := asNumber(b)
	if okA && okB {
		return value.Test(cond, pa, pb)
	}
	ia, ib := identity(a), identity(b)
	switch cond {
	case value.Eq:
		return ia == ib, nil
	case value.Ne:
		return ia != ib, nil
	}
	return false, fmt.Errorf("%w: %s is not defined on references", value.ErrMalformed, cond)
}

func asNumber(v value.Value) (*value.Primitive, bool) {
	if p, ok := v.(*value.Primitive); ok {
		return p, true
	}
	if v.IsNull() {
		return value.Zero(), true
	}
	return nil, false
}

func identity(v value.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.Ident()
}
