package detectors

import (
	"smalien/internal/flowlog"
	"smalien/internal/program"
	"smalien/internal/resolver"
	"smalien/internal/taint"
	"smalien/internal/value"
	"smalien/internal/vm"
)

const (
	startActivity = "startActivity(Landroid/content/Intent;)V"
	messenger     = "Landroid/os/Messenger;"
	messengerSend = "send(Landroid/os/Message;)V"
)

var iccClasses = map[string]bool{
	"Landroid/app/Activity;":    true,
	"Landroid/content/Context;": true,
}

// Flow details recorded on taints.
const (
	DetailICCStartActivity = "icc-startactivity-arg"
	DetailICCSend          = "icc-send-arg"
	DetailReflectionArg    = "reflection-arg"
	DetailReflectionRet    = "reflection-ret"
	DetailSourceReflection = "source-reflection"
)

// FlowBefore logs tainted arguments leaving through intents, messengers and
// reflective calls. It runs on the first visit of an invoke, before the taint
// stages.
type FlowBefore struct {
	log *flowlog.Writer
}

func NewFlowBefore(w *flowlog.Writer) *FlowBefore { return &FlowBefore{log: w} }

func (*FlowBefore) Name() string { return "flow-before" }

func (d *FlowBefore) Detect(s *vm.Step) error {
	inv, ok := s.Inst.(*program.Invoke)
	if !ok || s.Frame.AfterInvocation || len(inv.Args) < 2 {
		return nil
	}
	f := s.Frame

	if iccClasses[InvokedClass(s, inv)] && inv.Method == startActivity {
		return d.markArgument(s, inv, flowlog.ICCStartActivity, DetailICCStartActivity)
	}
	if inv.Class == messenger && inv.Method == messengerSend {
		return d.markArgument(s, inv, flowlog.ICCSend, DetailICCSend)
	}
	if resolver.IsReflectiveCall(inv) && len(inv.Args) > 2 {
		v, err := f.Get(inv.Args[2])
		if err != nil {
			return err
		}
		arr, ok := v.(*value.Array)
		if !ok {
			return nil
		}
		for _, e := range arr.Elements {
			if e.Taint().IsSensitive() {
				d.log.Write(flowlog.ReflectionArgument, f.Class, f.Method, inv.Num)
				e.Taint().AddFlowDetail(DetailReflectionArg)
			}
		}
	}
	return nil
}

func (d *FlowBefore) markArgument(s *vm.Step, inv *program.Invoke, tag flowlog.Tag, detail string) error {
	v, err := s.Frame.Get(inv.Args[1])
	if err != nil {
		return err
	}
	if v.Taint().IsSensitive() {
		d.log.Write(tag, s.Frame.Class, s.Frame.Method, inv.Num)
		v.Taint().AddFlowDetail(detail)
	}
	return nil
}

// FlowAfter logs tainted values returned by reflective calls. Results of
// source APIs are logged by source detection instead.
type FlowAfter struct {
	log  *flowlog.Writer
	defs *taint.Definitions
}

func NewFlowAfter(w *flowlog.Writer, defs *taint.Definitions) *FlowAfter {
	return &FlowAfter{log: w, defs: defs}
}

func (*FlowAfter) Name() string { return "flow-after" }

func (d *FlowAfter) Detect(s *vm.Step) error {
	mr, ok := s.Inst.(*program.MoveResult)
	if !ok {
		return nil
	}
	inv, ok := mr.Source.(*program.Invoke)
	if !ok || !resolver.IsReflectiveCall(inv) {
		return nil
	}
	if _, _, ok := SourceOf(d.defs, inv); ok {
		return nil
	}
	v, err := s.Frame.Get(mr.Dest)
	if err != nil {
		return err
	}
	if v.Taint().IsSensitive() {
		d.log.Write(flowlog.ReflectionReturn, s.Frame.Class, s.Frame.Method, inv.Num, mr.Num)
		v.Taint().AddFlowDetail(DetailReflectionRet)
	}
	return nil
}

// SourceOf matches inv against the source table, directly first and then
// through its reflective target. callType is "normal" or "reflection".
func SourceOf(defs *taint.Definitions, inv *program.Invoke) (label, callType string, ok bool) {
	if label, ok := defs.Source(inv.Class, inv.Method); ok {
		return label, "normal", true
	}
	if inv.ReflectiveClass != "" && inv.ReflectiveMethod != "" {
		if label, ok := defs.Source(inv.ReflectiveClass, inv.ReflectiveMethod); ok {
			return label, "reflection", true
		}
	}
	return "", "", false
}
