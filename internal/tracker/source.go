package tracker

import (
	"fmt"

	"smalien/internal/detectors"
	"smalien/internal/flowlog"
	"smalien/internal/program"
	"smalien/internal/taint"
	"smalien/internal/vm"
)

// sourceDetector taints the results of source API calls.
type sourceDetector struct {
	defs    *taint.Definitions
	flow    *flowlog.Writer
	results *Results
}

func (*sourceDetector) Name() string { return "source" }

func (d *sourceDetector) Detect(s *vm.Step) error {
	mr, ok := s.Inst.(*program.MoveResult)
	if !ok {
		return nil
	}
	inv, ok := mr.Source.(*program.Invoke)
	if !ok {
		return nil
	}
	label, callType, ok := detectors.SourceOf(d.defs, inv)
	if !ok {
		return nil
	}
	f := s.Frame
	if _, err := f.Get(mr.Dest); err != nil {
		return err
	}
	tag := taint.NewSensitive(label)
	if callType == "reflection" {
		tag.AddFlowDetail(detectors.DetailSourceReflection)
	}
	setTaint(f, mr.Dest, mr.DestPair, tag)
	s.Logger.Info("found taint source", "label", label, "api", inv.Class+"->"+inv.Method, "at", s.Where())

	d.flow.Write(flowlog.Source, callType, fmt.Sprintf("[%s]", label), f.Class, f.Method, inv.Num)
	d.results.Sources = append(d.results.Sources, Source{
		Label:        label,
		Class:        f.Class,
		Method:       f.Method,
		Line:         inv.Num,
		SourceClass:  inv.Class,
		SourceMethod: inv.Method,
		CallType:     callType,
	})
	return nil
}
