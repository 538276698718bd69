package tracker

import (
	"smalien/internal/dalvik"
	"smalien/internal/program"
	"smalien/internal/taint"
	"smalien/internal/value"
	"smalien/internal/vm"
)

// propagator moves taint along data flow. Taints are never merged in place:
// every update stores a fresh union so that values sharing a taint are not
// affected.
type propagator struct{}

func (propagator) Name() string { return "propagate" }

func (propagator) Detect(s *vm.Step) error {
	f := s.Frame
	switch x := s.Inst.(type) {
	case *program.Move:
		return propagateMove(f, x)
	case *program.Unop:
		return carry(f, x.Dest, x.DestPair, x.Source)
	case *program.Binop:
		srcs := []string{x.Source1}
		if x.Form != program.KindBinopLit {
			srcs = append(srcs, x.Source2)
		}
		return carry(f, x.Dest, x.DestPair, srcs...)
	case *program.Aget:
		return propagateAget(f, x)
	case *program.Aput:
		return propagateAput(f, x)
	case *program.Iget:
		return propagateIget(f, x)
	case *program.Iput:
		return propagateIput(f, x)
	case *program.Sput:
		return propagateSput(s, x)
	case *program.Invoke:
		return propagateInvoke(s, x)
	case *program.MoveResult:
		return propagateMoveResult(f, x)
	}
	return nil
}

// setTaint stores t on reg and on its pair register.
func setTaint(f *vm.Frame, reg, pair string, t *taint.Taint) {
	if v, ok := f.Registers[reg]; ok {
		v.SetTaint(t)
	}
	if pair == "" {
		return
	}
	if v, ok := f.Registers[pair]; ok {
		v.SetTaint(t.Clone())
	}
}

// carry adds the union of the source taints to dst.
func carry(f *vm.Frame, dst, pair string, srcs ...string) error {
	var union *taint.Taint
	for _, reg := range srcs {
		v, err := f.Get(reg)
		if err != nil {
			return err
		}
		union = taint.Merged(union, v.Taint())
	}
	if union == nil {
		return nil
	}
	d, err := f.Get(dst)
	if err != nil {
		return err
	}
	setTaint(f, dst, pair, taint.Merged(d.Taint(), union))
	return nil
}

func propagateMove(f *vm.Frame, x *program.Move) error {
	src, err := f.Get(x.Source)
	if err != nil {
		return err
	}
	dst, err := f.Get(x.Dest)
	if err != nil || dst == src {
		return err
	}
	if src.Taint() != nil {
		setTaint(f, x.Dest, x.DestPair, taint.Merged(dst.Taint(), src.Taint()))
	}
	return nil
}

func propagateAget(f *vm.Frame, x *program.Aget) error {
	arr, err := f.Get(x.Array)
	if err != nil {
		return err
	}
	if arr.Taint() == nil {
		return nil
	}
	dst, err := f.Get(x.Dest)
	if err != nil {
		return err
	}
	setTaint(f, x.Dest, x.DestPair, taint.Merged(dst.Taint(), arr.Taint()))
	return nil
}

func propagateAput(f *vm.Frame, x *program.Aput) error {
	src, err := f.Get(x.Source)
	if err != nil {
		return err
	}
	if src.Taint() == nil {
		return nil
	}
	arr, err := f.Get(x.Array)
	if err != nil {
		return err
	}
	arr.SetTaint(taint.Merged(arr.Taint(), src.Taint()))
	return nil
}

// propagateIget lets an untainted field read inherit the taint of its
// object.
func propagateIget(f *vm.Frame, x *program.Iget) error {
	obj, err := f.Get(x.Object)
	if err != nil {
		return err
	}
	dst, err := f.Get(x.Dest)
	if err != nil {
		return err
	}
	if obj.Taint() != nil && dst.Taint() == nil {
		setTaint(f, x.Dest, x.DestPair, obj.Taint().Clone())
	}
	return nil
}

func propagateIput(f *vm.Frame, x *program.Iput) error {
	src, err := f.Get(x.Source)
	if err != nil {
		return err
	}
	obj, err := f.Get(x.Object)
	if err != nil {
		return err
	}
	inst, ok := obj.(*value.ClassInstance)
	if !ok {
		return nil
	}
	if fv, ok := inst.Fields[x.Field]; ok && src.Taint() != nil {
		fv.SetTaint(taint.Merged(fv.Taint(), src.Taint()))
	}
	return nil
}

func propagateSput(s *vm.Step, x *program.Sput) error {
	src, err := s.Frame.Get(x.Source)
	if err != nil {
		return err
	}
	if fv, ok := s.Tables().Static[x.Field]; ok && src.Taint() != nil {
		fv.SetTaint(taint.Merged(fv.Taint(), src.Taint()))
	}
	return nil
}

// propagateInvoke spreads the taint of every argument of a platform call to
// its other reference arguments and keeps it for the move-result. Sinks and
// argument-less constructors are skipped.
func propagateInvoke(s *vm.Step, inv *program.Invoke) error {
	if inv.IsSink || inv.InApp || s.Frame.AfterInvocation {
		return nil
	}
	if inv.Constructor && len(inv.Args) == 1 {
		return nil
	}
	f := s.Frame
	for i, src := range inv.NarrowArgs {
		v, err := f.Get(src)
		if err != nil {
			return err
		}
		t := v.Taint()
		if !(i == 0 && !inv.Static) && src != "p0" {
			t = value.TaintOf(v)
		}
		if t == nil {
			continue
		}
		s.Logger.Debug("taint spreads across call arguments", "at", s.Where(), "from", src)
		for _, dst := range inv.NarrowArgs {
			if dst == src || dalvik.IsPrimitive(inv.ArgTypes[dst]) {
				continue
			}
			dv, err := f.Get(dst)
			if err != nil {
				return err
			}
			dv.SetTaint(taint.Merged(dv.Taint(), t))
			if inst, ok := dv.(*value.ClassInstance); ok && inst.OutputStream != "" {
				if stream, ok := s.Tables().Instances.Lookup(inst.OutputStream); ok {
					stream.SetTaint(taint.Merged(stream.Taint(), t))
				}
			}
		}
		inv.TaintToReturn = taint.Merged(inv.TaintToReturn, t)
	}
	return nil
}

// propagateMoveResult consumes the taint an invoke collected for its result.
func propagateMoveResult(f *vm.Frame, mr *program.MoveResult) error {
	inv, ok := mr.Source.(*program.Invoke)
	if !ok || inv.TaintToReturn == nil {
		return nil
	}
	dst, err := f.Get(mr.Dest)
	if err != nil {
		return err
	}
	setTaint(f, mr.Dest, mr.DestPair, taint.Merged(dst.Taint(), inv.TaintToReturn))
	inv.TaintToReturn = nil
	return nil
}
