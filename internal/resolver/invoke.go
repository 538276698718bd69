package resolver

import (
	"fmt"

	"smalien/internal/dalvik"
	"smalien/internal/program"
	"smalien/internal/value"
	"smalien/internal/vm"
)

const (
	objectClone  = "clone()Ljava/lang/Object;"
	classForName = "forName(Ljava/lang/String;)Ljava/lang/Class;"
)

// resolveInvoke runs on both visits of an invoke. The first visit records
// the call on its receiver; the second one reconciles what the callee did
// to its arguments with the log.
func resolveInvoke(s *vm.Step, inv *program.Invoke) error {
	if s.Frame.AfterInvocation {
		if inv.Constructor {
			return afterConstructor(s, inv)
		}
		if IsReflectiveFieldSet(inv) {
			if inv.ReflectiveFieldAttr == "static" && inv.ReflectiveField != "" && len(inv.Args) > 2 {
				v, err := s.Frame.Get(inv.Args[2])
				if err != nil {
					return err
				}
				s.Tables().Static[inv.ReflectiveField] = value.Copy(v)
			}
			return nil
		}
		return refreshArrays(s, inv, "")
	}

	if !inv.Static && !inv.Constructor && len(inv.Args) > 0 {
		base, err := s.Frame.Get(inv.Args[0])
		if err != nil {
			return err
		}
		inv.BaseObject = base
		call, err := invocation(s.Frame, inv)
		if err != nil {
			return err
		}
		switch b := base.(type) {
		case *value.ClassInstance:
			b.LastCall = call
		case *value.Array:
			b.LastCall = call
		}
	}

	if inv.Constructor && len(inv.Args) > 1 {
		switch inv.ArgTypes[inv.Args[1]] {
		case dalvik.OutputStream, dalvik.Appendable:
			base, err := s.Frame.Get(inv.Args[0])
			if err != nil {
				return err
			}
			stream, err := s.Frame.Get(inv.Args[1])
			if err != nil {
				return err
			}
			if b, ok := base.(*value.ClassInstance); ok {
				b.OutputStream = stream.Ident()
			}
		}
	}
	return nil
}

// invocation snapshots the narrow arguments of inv.
func invocation(f *vm.Frame, inv *program.Invoke) (*value.Invocation, error) {
	call := &value.Invocation{
		Class:  inv.Class,
		Method: inv.Method,
		Args:   append([]string(nil), inv.NarrowArgs...),
	}
	for i, arg := range inv.NarrowArgs {
		call.ArgTypes = append(call.ArgTypes, inv.ArgTypes[arg])
		if i == 0 {
			continue
		}
		v, err := f.Get(arg)
		if err != nil {
			return nil, err
		}
		call.Values = append(call.Values, v)
	}
	return call, nil
}

// afterConstructor gives a freshly constructed receiver its logged identity.
// When the identity is already known as an app object of a related class,
// the registered state is carried over.
func afterConstructor(s *vm.Step, inv *program.Invoke) error {
	base := inv.Args[0]
	raw, ok := logged(s.Frame, base)
	if !ok || dalvik.IsNullReference(raw) {
		return nil
	}
	v, err := s.Frame.Get(base)
	if err != nil {
		return err
	}
	obj, ok := v.(*value.ClassInstance)
	if !ok {
		return nil
	}

	id := raw
	if dalvik.IsString(inv.ArgTypes[base]) {
		i, payload, ok := dalvik.SplitIdentity(raw)
		if !ok {
			return fmt.Errorf("%w: string receiver %q has no identity", ErrMalformed, raw)
		}
		id = i
		obj.SetString(payload)
	}
	obj.ID = id

	if known, ok := s.Tables().Instances.Lookup(id); ok && relatedAppObject(s, known) {
		if !sameKeys(obj.Fields, known.Fields) {
			obj.SetTaint(known.Taint())
			obj.Fields = known.Fields
			obj.Contained = known.Contained
		}
		return nil
	}
	s.Tables().Instances.Register(obj)
	return nil
}

func relatedAppObject(s *vm.Step, known *value.ClassInstance) bool {
	if _, ok := s.Program.Class(s.Frame.Class); !ok {
		return false
	}
	c, ok := s.Program.Class(known.DataType())
	return ok && c.Family[s.Frame.Class]
}

func sameKeys(a, b map[string]value.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// refreshArrays replaces the elements of array arguments the callee
// modified, as observed by the log. skip names a register to leave alone.
func refreshArrays(s *vm.Step, inv *program.Invoke, skip string) error {
	for _, arg := range inv.Args {
		if arg == skip || !dalvik.IsArray(inv.ArgTypes[arg]) {
			continue
		}
		raw, ok := logged(s.Frame, arg)
		if !ok || dalvik.IsNullLiteral(raw) {
			continue
		}
		v, err := s.Frame.Get(arg)
		if err != nil {
			continue
		}
		arr, ok := v.(*value.Array)
		if !ok || arr.IsNull() {
			continue
		}
		if err := updateArray(arr, raw); err != nil {
			return err
		}
	}
	return nil
}

// updateArray overwrites the elements of arr in place when the logged
// rendering differs.
func updateArray(arr *value.Array, raw string) error {
	nv, err := value.Generate(arr.DataType(), raw)
	if err != nil {
		return err
	}
	fresh, ok := nv.(*value.Array)
	if !ok || fresh.Ident() == arr.Ident() {
		return nil
	}
	arr.Elements = fresh.Elements
	arr.Null = fresh.Null
	return nil
}

// resolveReturn hands the returned value to the caller's move-result.
func resolveReturn(s *vm.Step, r *program.Return) error {
	if r.Reg == "" {
		return nil
	}
	prev := s.Frame.Previous
	if prev == nil || prev.IsEntry() {
		return nil
	}
	inv, ok := s.Program.Instruction(prev.Class, prev.Method, prev.PC).(*program.Invoke)
	if !ok || !inv.InApp {
		return fmt.Errorf("%w: %s returns to %s, which is not an in-app invoke", ErrMalformed, s.Where(), prev)
	}
	if inv.MoveResult == nil {
		return nil
	}
	v, err := s.Frame.Get(r.Reg)
	if err != nil {
		return err
	}
	prev.SetWide(inv.MoveResult.Dest, inv.MoveResult.DestPair, value.Copy(v))
	return nil
}

// resolveMoveResult materialises the result of a filled-new-array or of a
// platform call. Results of in-app calls were already delivered by return
// and are only replaced when the log disagrees.
func resolveMoveResult(s *vm.Step, mr *program.MoveResult) error {
	f := s.Frame
	switch src := mr.Source.(type) {
	case *program.FilledNewArray:
		arr := value.NewArray(src.RetType)
		for _, a := range src.Args {
			v, err := f.Get(a)
			if err != nil {
				return err
			}
			arr.Elements = append(arr.Elements, value.Copy(v))
		}
		f.Set(mr.Dest, arr)
		return nil
	case *program.Invoke:
		return moveInvokeResult(s, mr, src)
	}
	return fmt.Errorf("%w: move-result at line %d has no producer", ErrMalformed, mr.Num)
}

func moveInvokeResult(s *vm.Step, mr *program.MoveResult, inv *program.Invoke) error {
	f := s.Frame
	raw, isLogged := logged(f, mr.Dest)
	if !isLogged && inv.InApp {
		return nil
	}
	if isLogged && inv.Class == dalvik.Object && inv.Method == objectClone {
		return moveClone(s, mr, inv, raw)
	}
	if err := refreshArrays(s, inv, mr.Dest); err != nil {
		return err
	}

	cur, has := f.Registers[mr.Dest]
	switch {
	case !has || dalvik.IsPrimitive(mr.DestType) || (isLogged && cur.Ident() != identityOf(mr.DestType, raw)):
		t := mr.DestType
		if mr.CastableTo != "" {
			t = mr.CastableTo
		}
		if isLogged && inv.Class == dalvik.Class && inv.Method == classForName {
			f.Set(mr.Dest, value.GenerateReference(raw))
			return nil
		}
		if isLogged && !dalvik.IsString(mr.DestType) && !dalvik.IsString(mr.CastableTo) {
			if known, ok := s.Tables().Find(t, raw); ok {
				f.Set(mr.Dest, known)
				return nil
			}
		}
		v := zeroValue(t)
		if isLogged {
			var err error
			if v, err = value.Generate(t, raw); err != nil {
				return err
			}
		}
		f.SetWide(mr.Dest, mr.DestPair, v)
		if obj, ok := v.(*value.ClassInstance); ok && !dalvik.IsString(obj.DataType()) {
			s.Tables().Instances.Register(obj)
		}
	case isLogged && (dalvik.IsString(mr.DestType) || dalvik.IsString(mr.CastableTo)):
		if obj, ok := cur.(*value.ClassInstance); ok {
			if _, payload, ok := dalvik.SplitIdentity(raw); ok {
				obj.SetString(payload)
			}
		}
	}
	return nil
}

// moveClone gives Object.clone() results the receiver's type, taint and
// fields.
func moveClone(s *vm.Step, mr *program.MoveResult, inv *program.Invoke, raw string) error {
	src, err := s.Frame.Get(inv.Args[0])
	if err != nil {
		return err
	}
	v, err := value.Generate(src.DataType(), raw)
	if err != nil {
		return err
	}
	v.SetTaint(src.Taint().Clone())
	if obj, ok := v.(*value.ClassInstance); ok {
		if orig, ok := src.(*value.ClassInstance); ok {
			for k, fv := range orig.Fields {
				obj.Fields[k] = value.Copy(fv)
			}
		}
		s.Tables().Instances.Register(obj)
	}
	s.Frame.Set(mr.Dest, v)
	return nil
}
