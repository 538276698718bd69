package tracker

import (
	"strings"

	"smalien/internal/program"
	"smalien/internal/taint"
	"smalien/internal/value"
	"smalien/internal/vm"
)

// Calls that hand a value to another component or store it outside the app.
var transmitters = apis(
	"Landroid/content/Intent;->putExtra(Ljava/lang/String;Ljava/lang/String;)Landroid/content/Intent;",
	"Landroid/content/SharedPreferences$Editor;->putString(Ljava/lang/String;Ljava/lang/String;)Landroid/content/SharedPreferences$Editor;",
	"Landroid/os/Message;->obtain(Landroid/os/Handler;III)Landroid/os/Message;",
	"Landroid/os/Parcel;->writeValue(Ljava/lang/Object;)V",
	"Ljava/io/FileOutputStream;->write([B)V",
	"Landroid/graphics/PointF;-><init>(FF)V",
	"Landroid/widget/Button;->setHint(Ljava/lang/CharSequence;)V",
	"Landroid/os/Bundle;->putString(Ljava/lang/String;Ljava/lang/String;)V",
)

// Calls whose result may be a value stored by a transmitter.
var receivers = apis(
	"Landroid/content/Intent;->getStringExtra(Ljava/lang/String;)Ljava/lang/String;",
	"Landroid/content/SharedPreferences;->getString(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/String;",
	"Landroid/os/Bundle;->getString(Ljava/lang/String;)Ljava/lang/String;",
	"Landroid/os/Parcel;->readValue(Ljava/lang/ClassLoader;)Ljava/lang/Object;",
	"Ljava/lang/String;->trim()Ljava/lang/String;",
	"Landroid/widget/Button;->getHint()Ljava/lang/CharSequence;",
)

var containerPuts = apis(
	"Ljava/util/Map;->put(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;",
	"Ljava/util/List;->add(Ljava/lang/Object;)Z",
	"Ljava/util/LinkedList;->add(Ljava/lang/Object;)Z",
)

var containerGets = apis(
	"Ljava/util/Map;->get(Ljava/lang/Object;)Ljava/lang/Object;",
	"Ljava/util/List;->get(I)Ljava/lang/Object;",
	"Ljava/util/LinkedList;->get(I)Ljava/lang/Object;",
)

// Fields that carry a transmitted value back into the app.
var receivingFields = apis(
	"Landroid/os/Message;->arg1:I",
	"Landroid/graphics/PointF;->y:F",
)

const reflectivePutExtra = "Landroid/content/Intent;->putExtra(Ljava/lang/String;Ljava/lang/String;)Landroid/content/Intent;"

func apis(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// valueBased reattaches taint by value where the data flow leaves the app:
// a tainted value stored through a transmitter taints an equal value read
// back through a receiver, in any component.
type valueBased struct{}

func (valueBased) Name() string { return "value-based" }

func (valueBased) Detect(s *vm.Step) error {
	switch x := s.Inst.(type) {
	case *program.Invoke:
		if s.Frame.AfterInvocation || x.InApp {
			return nil
		}
		return remember(s, x)
	case *program.MoveResult:
		inv, ok := x.Source.(*program.Invoke)
		if !ok || inv.InApp {
			return nil
		}
		return recall(s, x, inv)
	case *program.Iget:
		if !receivingFields[x.Field] {
			return nil
		}
		dst, err := s.Frame.Get(x.Dest)
		if err != nil {
			return err
		}
		restore(dst, s.Tables().IntentData)
	}
	return nil
}

func remember(s *vm.Step, inv *program.Invoke) error {
	f := s.Frame
	call := inv.Class + "->" + inv.Method
	switch {
	case transmitters[call]:
		reg := inv.Args[len(inv.Args)-1]
		if len(inv.Args) > 2 {
			reg = inv.Args[2]
		}
		v, err := f.Get(reg)
		if err != nil {
			return err
		}
		if v.Taint() != nil {
			store(s, v)
		}
	case containerPuts[call] && len(inv.Args) > 1:
		b, err := f.Get(inv.Args[0])
		if err != nil {
			return err
		}
		base, ok := b.(*value.ClassInstance)
		if !ok {
			return nil
		}
		for _, arg := range inv.Args[1:] {
			v, err := f.Get(arg)
			if err != nil {
				return err
			}
			obj, ok := v.(*value.ClassInstance)
			if !ok || !obj.HasStr {
				continue
			}
			if key, ok := valueKey(obj); ok {
				base.Contained[key] = snapshot(obj)
			}
		}
	case inv.ReflectiveClass+"->"+inv.ReflectiveMethod == reflectivePutExtra:
		v, err := f.Get(inv.Args[len(inv.Args)-1])
		if err != nil {
			return err
		}
		if arr, ok := v.(*value.Array); ok {
			for _, e := range arr.Elements {
				if e.Taint() != nil {
					store(s, e)
				}
			}
		}
	}
	return nil
}

func store(s *vm.Step, v value.Value) {
	if key, ok := valueKey(v); ok {
		s.Logger.Debug("remembering transmitted value", "at", s.Where(), "key", key)
		s.Tables().IntentData[key] = v
	}
}

func recall(s *vm.Step, mr *program.MoveResult, inv *program.Invoke) error {
	call := inv.Class + "->" + inv.Method
	if !receivers[call] && !containerGets[call] {
		return nil
	}
	dst, err := s.Frame.Get(mr.Dest)
	if err != nil {
		return err
	}
	if dst.IsNull() {
		return nil
	}
	if receivers[call] {
		restore(dst, s.Tables().IntentData)
		return nil
	}
	base, ok := inv.BaseObject.(*value.ClassInstance)
	if !ok || len(base.Contained) == 0 {
		return nil
	}
	if obj, ok := dst.(*value.ClassInstance); ok && !obj.HasStr {
		return nil
	}
	restore(dst, base.Contained)
	return nil
}

// restore copies the taint of the remembered value equal to dst.
func restore(dst value.Value, table map[string]value.Value) {
	key, ok := valueKey(dst)
	if !ok {
		return
	}
	if src, ok := table[key]; ok && src.Taint() != nil {
		dst.SetTaint(taint.Merged(dst.Taint(), src.Taint()))
	}
}

// valueKey renders the content of v for matching by value.
func valueKey(v value.Value) (string, bool) {
	switch x := v.(type) {
	case *value.Array:
		if x.IsNull() {
			return "", false
		}
		var b strings.Builder
		for _, e := range x.Elements {
			if x.DataType() == "[B" {
				if p, ok := e.(*value.Primitive); ok {
					b.WriteRune(rune(p.Int() & 0xff))
					continue
				}
			}
			b.WriteString(value.Render(e))
		}
		return b.String(), true
	case *value.Primitive:
		return x.Ident(), true
	case *value.ClassInstance:
		if x.IsNull() || !x.HasStr {
			return "", false
		}
		return x.Str, true
	case *value.ClassReference:
		return x.Name, !x.IsNull()
	}
	return "", false
}

// snapshot freezes obj so that later taint updates do not reach the stored
// copy.
func snapshot(obj *value.ClassInstance) *value.ClassInstance {
	c := *obj
	c.SetTaint(obj.Taint().Clone())
	return &c
}
