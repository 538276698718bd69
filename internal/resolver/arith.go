package resolver

import (
	"errors"

	"smalien/internal/program"
	"smalien/internal/value"
	"smalien/internal/vm"
)

func resolveUnop(s *vm.Step, x *program.Unop) error {
	src, err := primitiveOf(s.Frame, x.Source)
	if err != nil {
		return err
	}
	s.Frame.SetWide(x.Dest, x.DestPair, value.Unary(x.Op, src, x.DestType))
	return nil
}

func resolveBinop(s *vm.Step, x *program.Binop) (vm.Signal, error) {
	a, err := primitiveOf(s.Frame, x.Source1)
	if err != nil {
		return vm.SignalContinue, err
	}
	var b *value.Primitive
	if x.Form == program.KindBinopLit {
		b = value.NewInt("I", x.Literal)
	} else if b, err = primitiveOf(s.Frame, x.Source2); err != nil {
		return vm.SignalContinue, err
	}
	out, err := value.Binary(x.Op, x.Type, a, b)
	if errors.Is(err, value.ErrDivideByZero) {
		s.Logger.Debug("arithmetic exception", "at", s.Where(), "op", x.Text)
		return vm.SignalExceptionOccurred, nil
	}
	if err != nil {
		return vm.SignalContinue, err
	}
	s.Frame.SetWide(x.Dest, x.DestPair, out)
	return vm.SignalContinue, nil
}

func resolveCmp(s *vm.Step, x *program.Cmp) error {
	a, err := primitiveOf(s.Frame, x.Source1)
	if err != nil {
		return err
	}
	b, err := primitiveOf(s.Frame, x.Source2)
	if err != nil {
		return err
	}
	s.Frame.Set(x.Dest, value.Compare(x.SourceType, x.Bias, a, b))
	return nil
}
