package resolver

import (
	"fmt"
	"strings"

	"smalien/internal/dalvik"
	"smalien/internal/program"
	"smalien/internal/value"
	"smalien/internal/vm"
)

// resolveMethodHead fills the parameter registers of a new frame. The
// candidates are tried in a fixed order: the last invocation recorded on a
// platform-started receiver, the registry, the in-app invoke of the caller,
// a reflective Method.invoke and finally the registry again.
func resolveMethodHead(s *vm.Step, h *program.MethodHead) error {
	if s.Method.Name == dalvik.Clinit {
		initializeClass(s)
	}
	if len(h.Params) == 0 {
		return nil
	}

	prev := s.Frame.Previous
	if prev == nil || prev.IsEntry() {
		return fromPlatform(s, h)
	}

	switch c := s.Program.Instruction(prev.Class, prev.Method, prev.PC).(type) {
	case *program.NewInstance:
		return fromNewInstance(s, h, prev, c)
	case *program.Invoke:
		if matchesCaller(s, h, prev, c) {
			return fromCaller(s, h, prev, c)
		}
		if ok, err := fromReflectiveCall(s, h, prev, c); ok || err != nil {
			return err
		}
		s.Logger.Debug("no invocation pattern matches", "callee", s.Where(), "caller", prev)
		return fromRegistry(s, h, h.Params)
	default:
		if s.Strict {
			return fmt.Errorf("%w: %s entered from %s, which is neither an invoke nor a new-instance", ErrMalformed, s.Where(), prev)
		}
		return fromRegistry(s, h, h.Params)
	}
}

// initializeClass marks the static initializer of the frame's class as
// started and forgets the static fields it is about to assign.
func initializeClass(s *vm.Step) {
	c, ok := s.Program.Class(s.Frame.Class)
	if !ok {
		return
	}
	c.ClinitInvoked = true
	for _, key := range c.StaticFieldKeys() {
		delete(s.Tables().Static, key)
	}
}

// fromPlatform handles methods called by the runtime, e.g. lifecycle
// callbacks and thread bodies. A receiver that recorded an invocation with
// matching array parameters passes on that invocation's arguments.
func fromPlatform(s *vm.Step, h *program.MethodHead) error {
	if s.Method.IsStatic() {
		return fromRegistry(s, h, h.Params)
	}
	base := h.Params[0]
	v, err := instanceValue(s, h.ParamTypes[base], base)
	if err != nil {
		return err
	}
	setTyped(s.Frame, base, h.ParamTypes[base], value.Copy(v))

	inst, ok := v.(*value.ClassInstance)
	if !ok || !lastCallMatches(inst.LastCall, h) {
		return fromRegistry(s, h, h.Params[1:])
	}
	s.Logger.Debug("propagating the receiver's last invocation", "callee", s.Where(), "call", inst.LastCall.Method)
	for i, arg := range inst.LastCall.Values {
		param := h.Params[i+1]
		cp := value.Copy(arg)
		setTyped(s.Frame, param, h.ParamTypes[param], cp)
		if ci, ok := cp.(*value.ClassInstance); ok {
			s.Tables().Instances.Register(ci)
		}
	}
	return nil
}

// lastCallMatches accepts a recorded invocation only when every non-receiver
// argument is an array passed to an array parameter. Primitive and object
// arguments never match.
func lastCallMatches(lc *value.Invocation, h *program.MethodHead) bool {
	if lc == nil || len(lc.ArgTypes) != len(h.Params) {
		return false
	}
	for i := 1; i < len(lc.ArgTypes); i++ {
		arg, param := lc.ArgTypes[i], h.ParamTypes[h.Params[i]]
		if !dalvik.IsArray(arg) || !dalvik.IsArray(param) {
			return false
		}
		if arg != param && !(strings.HasSuffix(arg, ";") && strings.HasSuffix(param, ";")) {
			return false
		}
	}
	return true
}

func fromRegistry(s *vm.Step, h *program.MethodHead, params []string) error {
	for _, p := range params {
		t := h.ParamTypes[p]
		v, err := instanceValue(s, t, p)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", p, err)
		}
		setTyped(s.Frame, p, t, value.Copy(v))
	}
	return nil
}

// fromNewInstance handles a constructor entered straight from new-instance:
// the object is created here and handed back to the allocation site.
func fromNewInstance(s *vm.Step, h *program.MethodHead, prev *vm.Frame, c *program.NewInstance) error {
	if len(h.Params) != 1 || !h.Constructor {
		return fmt.Errorf("%w: new-instance at %s started %s", ErrMalformed, prev, s.Where())
	}
	base := h.Params[0]
	obj := value.NullInstance(h.ParamTypes[base])
	s.Frame.Set(base, obj)
	prev.Set(c.Dest, value.Copy(obj))
	c.Initialized = true
	return nil
}

// matchesCaller decides whether the invoke at the caller's PC is the call
// that created this frame. A call of the same name matches a static callee
// or a receiver with the caller's base identity; a constructor matches a
// constructor call on its class or one of its ancestors.
func matchesCaller(s *vm.Step, h *program.MethodHead, prev *vm.Frame, c *program.Invoke) bool {
	if c.Method == s.Method.Name {
		if s.Method.IsStatic() {
			return true
		}
		if !s.Logging() {
			// Synthetic frames are pushed by the invoke itself.
			return true
		}
		if sameBase(h, prev, c, s.Frame) {
			return true
		}
	}
	if c.Constructor && h.Constructor {
		if c.Class == s.Frame.Class {
			return true
		}
		cls, ok := s.Program.Class(s.Frame.Class)
		return ok && cls.Family[c.Class]
	}
	return false
}

func sameBase(h *program.MethodHead, prev *vm.Frame, c *program.Invoke, f *vm.Frame) bool {
	callee, ok := logged(f, h.Params[0])
	if !ok || len(c.Args) == 0 {
		return false
	}
	caller, err := prev.Get(c.Args[0])
	return err == nil && caller.Ident() == identityOf(h.ParamTypes[h.Params[0]], callee)
}

// fromCaller copies the caller's arguments one to one.
func fromCaller(s *vm.Step, h *program.MethodHead, prev *vm.Frame, c *program.Invoke) error {
	if len(c.NarrowArgs) < len(h.Params) {
		return fromRegistry(s, h, h.Params)
	}
	for i, p := range h.Params {
		t := h.ParamTypes[p]
		v, err := prev.Get(c.NarrowArgs[i])
		if err != nil {
			return fmt.Errorf("argument %s of %s: %w", c.NarrowArgs[i], c.Method, err)
		}
		if raw, ok := logged(s.Frame, p); ok && contradicts(raw, t, v) {
			if s.Strict {
				return fmt.Errorf("%w: %s logged %q but the caller passed %q", ErrMalformed, p, raw, v.Ident())
			}
			s.Logger.Warn("logged parameter differs from the argument", "at", s.Where(), "param", p, "logged", raw, "propagated", v.Ident())
			if v, err = instanceValue(s, t, p); err != nil {
				return err
			}
		}
		setTyped(s.Frame, p, t, value.Copy(v))
	}
	return nil
}

// contradicts reports a logged parameter that cannot be the propagated
// argument. Only object identities and zero primitives are compared.
func contradicts(raw, paramType string, v value.Value) bool {
	switch raw {
	case "", dalvik.Null, "null", "true", "false", "\x00", "0.0", "-0.0":
		return false
	}
	if strings.HasPrefix(raw, "[") || dalvik.IsString(paramType) || dalvik.IsString(v.DataType()) {
		return false
	}
	switch x := v.(type) {
	case *value.ClassInstance:
		return raw != x.ID
	case *value.Primitive:
		return x.IsZero() && raw != x.Ident()
	}
	return false
}

// fromReflectiveCall unpacks Method.invoke(receiver, args[]) into the
// receiver and the parameters of the reflected method.
func fromReflectiveCall(s *vm.Step, h *program.MethodHead, prev *vm.Frame, c *program.Invoke) (bool, error) {
	if len(c.Args) != 3 {
		return false, nil
	}
	callee, ok := logged(s.Frame, h.Params[0])
	if !ok {
		return false, nil
	}
	recv, err := prev.Get(c.Args[1])
	if err != nil || recv.Ident() != identityOf(h.ParamTypes[h.Params[0]], callee) {
		return false, nil
	}
	v, err := prev.Get(c.Args[2])
	if err != nil {
		return false, nil
	}
	arr, ok := v.(*value.Array)
	if !ok {
		return false, nil
	}
	switch {
	case arr.Len() == 0 && len(h.Params) == 1:
	case arr.Len() > 0 && len(h.Params) > 1:
		first, ok := logged(s.Frame, h.Params[1])
		if !ok || arr.Elements[0].Ident() != identityOf(h.ParamTypes[h.Params[1]], first) {
			return false, nil
		}
	default:
		return false, nil
	}
	if len(h.Params) != arr.Len()+1 {
		return true, fmt.Errorf("%w: reflective call passes %d arguments to %s", ErrMalformed, arr.Len(), s.Method.Name)
	}

	s.Logger.Debug("unpacking reflective call", "callee", s.Where())
	s.Frame.Set(h.Params[0], value.Copy(recv))
	for i, e := range arr.Elements {
		p := h.Params[i+1]
		setTyped(s.Frame, p, h.ParamTypes[p], value.Copy(e))
	}
	return true, nil
}
