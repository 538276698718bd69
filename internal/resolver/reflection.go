package resolver

import (
	"fmt"

	"smalien/internal/dalvik"
	"smalien/internal/program"
	"smalien/internal/vm"
)

const (
	methodInvoke = "invoke(Ljava/lang/Object;[Ljava/lang/Object;)Ljava/lang/Object;"
	fieldSet     = "set(Ljava/lang/Object;Ljava/lang/Object;)V"
)

// IsReflectiveCall reports whether inv is Method.invoke.
func IsReflectiveCall(inv *program.Invoke) bool {
	return inv.Class == dalvik.Method && inv.Method == methodInvoke
}

// IsReflectiveFieldSet reports whether inv is Field.set.
func IsReflectiveFieldSet(inv *program.Invoke) bool {
	return inv.Class == dalvik.Field && inv.Method == fieldSet
}

// Reflection annotates reflective invokes with the method or field they
// reach, before the value stage sees them.
type Reflection struct{}

func NewReflection() *Reflection { return &Reflection{} }

func (*Reflection) Name() string { return "reflection" }

func (*Reflection) Run(s *vm.Step) (vm.Signal, error) {
	inv, ok := s.Inst.(*program.Invoke)
	if !ok || s.Frame.AfterInvocation || len(inv.Args) == 0 {
		return vm.SignalContinue, nil
	}
	switch {
	case IsReflectiveCall(inv):
		target, err := s.Frame.Get(inv.Args[0])
		if err != nil {
			return vm.SignalContinue, err
		}
		if target.IsNull() {
			return vm.SignalContinue, nil
		}
		class, method, err := dalvik.MethodToSmali(target.Ident())
		if err != nil {
			return vm.SignalContinue, fmt.Errorf("reflective call at %s: %w", s.Where(), err)
		}
		inv.ReflectiveClass, inv.ReflectiveMethod = class, method
		inv.ReflectionSource = target.Ident()
		s.Logger.Debug("reflective call", "at", s.Where(), "class", class, "method", method)
	case IsReflectiveFieldSet(inv):
		target, err := s.Frame.Get(inv.Args[0])
		if err != nil {
			return vm.SignalContinue, err
		}
		if target.IsNull() {
			return vm.SignalContinue, nil
		}
		attr, key, err := dalvik.FieldToSmali(target.Ident())
		if err != nil {
			return vm.SignalContinue, fmt.Errorf("reflective field at %s: %w", s.Where(), err)
		}
		inv.ReflectiveFieldAttr, inv.ReflectiveField = attr, key
		inv.ReflectionSource = target.Ident()
	}
	return vm.SignalContinue, nil
}
