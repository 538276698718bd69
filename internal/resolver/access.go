package resolver

import (
	"fmt"

	"smalien/internal/dalvik"
	"smalien/internal/program"
	"smalien/internal/value"
	"smalien/internal/vm"
)

// constString builds the string of a const-string. Unlogged constants get an
// identity derived from the literal, so equal constants compare equal.
func constString(f *vm.Frame, x *program.ConstString) value.Value {
	raw, ok := logged(f, x.Dest)
	if !ok {
		s := value.NewInstance(dalvik.String, fmt.Sprintf("%q", x.Value))
		s.SetString(x.Value)
		return s
	}
	return value.GenerateString(raw, x.Value)
}

func resolveNewInstance(s *vm.Step, x *program.NewInstance) (vm.Signal, error) {
	if !s.Program.ClinitDone(x.ClassName) {
		return vm.SignalClinitInvoked, nil
	}
	if !x.Initialized {
		s.Frame.Set(x.Dest, value.NullInstance(x.ClassName))
	}
	x.Initialized = false
	return vm.SignalContinue, nil
}

func resolveInstanceOf(s *vm.Step, x *program.InstanceOf) error {
	if raw, ok := logged(s.Frame, x.Dest); ok {
		v, err := value.Generate("Z", raw)
		if err != nil {
			return err
		}
		s.Frame.Set(x.Dest, v)
		return nil
	}
	v, err := s.Frame.Get(x.Source)
	if err != nil {
		return err
	}
	result := int64(0)
	if !v.IsNull() && isA(s.Program, v.DataType(), x.ClassName) {
		result = 1
	}
	s.Frame.Set(x.Dest, value.NewInt("Z", result))
	return nil
}

func isA(p *program.Program, typ, class string) bool {
	if typ == class || class == dalvik.Object {
		return true
	}
	c, ok := p.Class(typ)
	return ok && c.InFamily(class)
}

// resolveCheckCast re-types a logged Class object; other casts keep the
// register unless the log names a different object.
func resolveCheckCast(s *vm.Step, x *program.CheckCast) error {
	raw, ok := logged(s.Frame, x.Reg)
	if !ok {
		return nil
	}
	if x.ClassName == dalvik.Class {
		s.Frame.Set(x.Reg, value.GenerateReference(raw))
		return nil
	}
	cur, err := s.Frame.Get(x.Reg)
	if err == nil && cur.Ident() == identityOf(x.ClassName, raw) {
		return nil
	}
	v, err := s.Tables().Reconcile(x.ClassName, raw)
	if err != nil {
		return err
	}
	s.Frame.Set(x.Reg, v)
	return nil
}

func resolveMoveException(s *vm.Step, x *program.MoveException) error {
	raw, ok := logged(s.Frame, x.Dest)
	if exc := s.VM.Exception; exc != nil && (!ok || exc.Ident() == raw) {
		s.Frame.Set(x.Dest, exc)
		s.VM.Exception = nil
		return nil
	}
	v, err := instanceValue(s, x.DestType, x.Dest)
	if err != nil {
		return err
	}
	s.Frame.Set(x.Dest, v)
	return nil
}

func arrayOf(f *vm.Frame, reg string) (*value.Array, error) {
	v, err := f.Get(reg)
	if err != nil {
		return nil, err
	}
	switch a := v.(type) {
	case *value.Array:
		return a, nil
	case *value.Primitive:
		if a.IsNull() {
			return value.NullArray(dalvik.ObjectArray), nil
		}
	case *value.ClassInstance:
		if a.IsNull() {
			return value.NullArray(dalvik.ObjectArray), nil
		}
	}
	return nil, fmt.Errorf("%w: %s holds a %s, not an array", ErrMalformed, reg, v.DataType())
}

func resolveNewArray(s *vm.Step, x *program.NewArray) (vm.Signal, error) {
	// The size register may be the array register.
	size, err := primitiveOf(s.Frame, x.Size)
	if err != nil {
		return vm.SignalContinue, err
	}
	n := size.Int()
	if n < 0 {
		s.Logger.Debug("negative array size", "at", s.Where(), "size", n)
		return vm.SignalExceptionOccurred, nil
	}
	arr := value.NewArray(x.ArrayType)
	for i := int64(0); i < n; i++ {
		arr.Elements = append(arr.Elements, value.Zero())
	}
	s.Frame.Set(x.Array, arr)
	return vm.SignalContinue, nil
}

func resolveFillArrayData(s *vm.Step, x *program.FillArrayData) error {
	arr, err := arrayOf(s.Frame, x.Array)
	if err != nil {
		return err
	}
	if len(x.Data) > arr.Len() {
		return fmt.Errorf("%w: %d data items for an array of %d", ErrMalformed, len(x.Data), arr.Len())
	}
	for i, d := range x.Data {
		e, err := literal(arr.ElemType(), d)
		if err != nil {
			return err
		}
		arr.Elements[i] = e
	}
	return nil
}

func resolveArrayLength(s *vm.Step, x *program.ArrayLength) (vm.Signal, error) {
	if raw, ok := logged(s.Frame, x.Dest); ok && x.Logging {
		v, err := value.Generate("I", raw)
		if err != nil {
			return vm.SignalContinue, err
		}
		s.Frame.Set(x.Dest, v)
		return vm.SignalContinue, nil
	}
	arr, err := arrayOf(s.Frame, x.Array)
	if err != nil {
		return vm.SignalContinue, err
	}
	if arr.IsNull() {
		return vm.SignalExceptionOccurred, nil
	}
	s.Frame.Set(x.Dest, value.NewInt("I", int64(arr.Len())))
	return vm.SignalContinue, nil
}

// element locates arr[index], reporting false when the access throws.
func element(s *vm.Step, arrayReg, indexReg string) (*value.Array, int, bool, error) {
	arr, err := arrayOf(s.Frame, arrayReg)
	if err != nil {
		return nil, 0, false, err
	}
	idx, err := primitiveOf(s.Frame, indexReg)
	if err != nil {
		return nil, 0, false, err
	}
	i := idx.Int()
	if arr.IsNull() || i < 0 || i >= int64(arr.Len()) {
		s.Logger.Debug("array access throws", "at", s.Where(), "index", i, "length", arr.Len(), "null", arr.IsNull())
		return arr, 0, false, nil
	}
	return arr, int(i), true, nil
}

func resolveAget(s *vm.Step, x *program.Aget) (vm.Signal, error) {
	arr, i, ok, err := element(s, x.Array, x.Index)
	if err != nil {
		return vm.SignalContinue, err
	}
	if !ok {
		return vm.SignalExceptionOccurred, nil
	}
	e := arr.Elements[i]
	if obj, ok := e.(*value.ClassInstance); ok && !obj.IsNull() {
		if known, ok := s.Tables().Instances.Lookup(obj.ID); ok {
			arr.Elements[i] = known
			s.Frame.Set(x.Dest, known)
			return vm.SignalContinue, nil
		}
	}
	s.Frame.SetWide(x.Dest, x.DestPair, value.Copy(e))
	return vm.SignalContinue, nil
}

func resolveAput(s *vm.Step, x *program.Aput) (vm.Signal, error) {
	src, err := s.Frame.Get(x.Source)
	if err != nil {
		return vm.SignalContinue, err
	}
	arr, i, ok, err := element(s, x.Array, x.Index)
	if err != nil {
		return vm.SignalContinue, err
	}
	if !ok {
		return vm.SignalExceptionOccurred, nil
	}
	arr.Elements[i] = value.Copy(src)
	return vm.SignalContinue, nil
}

func instanceOf(f *vm.Frame, reg string) (*value.ClassInstance, bool, error) {
	v, err := f.Get(reg)
	if err != nil {
		return nil, false, err
	}
	if v.IsNull() {
		return nil, false, nil
	}
	obj, ok := v.(*value.ClassInstance)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s holds a %s, not an object", ErrMalformed, reg, v.DataType())
	}
	return obj, true, nil
}

func resolveIget(s *vm.Step, x *program.Iget) (vm.Signal, error) {
	obj, ok, err := instanceOf(s.Frame, x.Object)
	if err != nil {
		return vm.SignalContinue, err
	}
	if !ok {
		s.Logger.Debug("null dereference", "at", s.Where(), "field", x.Field)
		return vm.SignalExceptionOccurred, nil
	}
	t := x.DestType
	if x.CastableTo != "" {
		t = x.CastableTo
	}
	raw, isLogged := logged(s.Frame, x.Dest)
	isLogged = isLogged && x.Logging

	cur, ok := obj.Fields[x.Field]
	if !ok {
		if !isLogged {
			s.Frame.SetWide(x.Dest, x.DestPair, value.Zero())
			return vm.SignalContinue, nil
		}
		if !dalvik.IsPrimitive(t) && !dalvik.IsString(t) {
			if known, ok := s.Tables().Find(t, raw); ok {
				s.Frame.Set(x.Dest, known)
				return vm.SignalContinue, nil
			}
		}
		v, err := value.Generate(t, raw)
		if err != nil {
			return vm.SignalContinue, err
		}
		s.Frame.SetWide(x.Dest, x.DestPair, v)
		return vm.SignalContinue, nil
	}

	s.Frame.SetWide(x.Dest, x.DestPair, value.Copy(cur))
	if !isLogged {
		return vm.SignalContinue, nil
	}
	fresh, err := value.Generate(t, raw)
	if err != nil {
		return vm.SignalContinue, err
	}
	if fresh.Ident() == cur.Ident() {
		return vm.SignalContinue, nil
	}
	s.Logger.Debug("logged field differs", "at", s.Where(), "field", x.Field, "logged", raw, "stored", cur.Ident())
	if arr, ok := cur.(*value.Array); ok {
		return vm.SignalContinue, updateArray(arr, raw)
	}
	s.Frame.SetWide(x.Dest, x.DestPair, fresh)
	obj.Fields[x.Field] = value.Copy(fresh)
	return vm.SignalContinue, nil
}

func resolveIput(s *vm.Step, x *program.Iput) (vm.Signal, error) {
	src, err := s.Frame.Get(x.Source)
	if err != nil {
		return vm.SignalContinue, err
	}
	obj, ok, err := instanceOf(s.Frame, x.Object)
	if err != nil {
		return vm.SignalContinue, err
	}
	if !ok {
		// Constructors store into the object before it has an identity.
		v, _ := s.Frame.Get(x.Object)
		if obj, ok = v.(*value.ClassInstance); !ok {
			return vm.SignalExceptionOccurred, nil
		}
	}
	obj.Fields[x.Field] = value.Copy(src)
	return vm.SignalContinue, nil
}

func resolveSget(s *vm.Step, x *program.Sget) (vm.Signal, error) {
	static := s.Tables().Static
	raw, isLogged := logged(s.Frame, x.Dest)
	isLogged = isLogged && x.Logging

	cur, ok := static[x.Field]
	if !ok {
		switch {
		case isLogged:
			v, err := value.Generate(x.DestType, raw)
			if err != nil {
				return vm.SignalContinue, err
			}
			s.Frame.SetWide(x.Dest, x.DestPair, v)
		case !s.Program.ClinitDone(x.ClassName):
			return vm.SignalClinitInvoked, nil
		case x.HasDefault:
			v, err := value.Generate(x.DestType, x.Default)
			if err != nil {
				return vm.SignalContinue, err
			}
			s.Frame.SetWide(x.Dest, x.DestPair, v)
		default:
			s.Frame.SetWide(x.Dest, x.DestPair, value.Zero())
		}
		return vm.SignalContinue, nil
	}

	if isLogged {
		fresh, err := value.Generate(x.DestType, raw)
		if err != nil {
			return vm.SignalContinue, err
		}
		if fresh.Ident() != cur.Ident() {
			s.Frame.SetWide(x.Dest, x.DestPair, fresh)
			static[x.Field] = value.Copy(fresh)
			return vm.SignalContinue, nil
		}
	}
	s.Frame.SetWide(x.Dest, x.DestPair, value.Copy(cur))
	return vm.SignalContinue, nil
}

func resolveSput(s *vm.Step, x *program.Sput) (vm.Signal, error) {
	if !s.Program.ClinitDone(x.ClassName) {
		return vm.SignalClinitInvoked, nil
	}
	src, err := s.Frame.Get(x.Source)
	if err != nil {
		return vm.SignalContinue, err
	}
	s.Tables().Static[x.Field] = value.Copy(src)
	return vm.SignalContinue, nil
}
