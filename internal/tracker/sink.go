package tracker

import (
	"fmt"
	"strings"

	"smalien/internal/detectors"
	"smalien/internal/flowlog"
	"smalien/internal/program"
	"smalien/internal/taint"
	"smalien/internal/value"
	"smalien/internal/vm"
)

// sinkDetector reports sink calls receiving sensitive arguments and saves
// the value they return.
type sinkDetector struct {
	defs    *taint.Definitions
	flow    *flowlog.Writer
	results *Results
}

func (*sinkDetector) Name() string { return "sink" }

func (d *sinkDetector) Detect(s *vm.Step) error {
	switch x := s.Inst.(type) {
	case *program.Invoke:
		if s.Frame.AfterInvocation {
			return nil
		}
		return d.detectSink(s, x)
	case *program.MoveResult:
		return d.saveReturnValue(s, x)
	}
	return nil
}

func (d *sinkDetector) detectSink(s *vm.Step, inv *program.Invoke) error {
	class := detectors.InvokedClass(s, inv)
	leaks, err := d.matches(s, class, inv)
	if err != nil || !leaks {
		return err
	}
	inv.IsSink = true
	f := s.Frame
	s.Logger.Info("found a taint sink", "api", class+"->"+inv.Method, "at", s.Where())

	sources := taint.NewSet()
	var values, details []string
	for i, reg := range inv.NarrowArgs {
		if i == 0 && !inv.Static && len(inv.Args) > 1 {
			continue
		}
		v, err := f.Get(reg)
		if err != nil {
			return fmt.Errorf("sink argument %s: %w", reg, err)
		}
		t := v.Taint()
		if !t.IsSensitive() {
			continue
		}
		labels := t.SourcesWithout(taint.PreSink)
		sources.Add(labels...)
		details = append(details, fmt.Sprintf("%v-%v", labels, t.FlowDetails.Sorted()))
		values = append(values, value.Render(v))
	}
	d.flow.Write(flowlog.Sink, f.Class, f.Method, inv.Num, "leaks: "+strings.Join(details, " "))
	if len(sources) == 0 {
		return nil
	}

	tag := ""
	if c, ok := s.Program.Class(f.Class); ok {
		tag = fmt.Sprintf("%d_%d", c.ID, inv.Num)
	}
	d.results.addLeak(&Leak{
		Tag:        tag,
		Class:      f.Class,
		Method:     f.Method,
		Line:       inv.Num,
		SinkClass:  class,
		SinkMethod: inv.Method,
		Values:     values,
		Sources:    sources.Sorted(),
	})
	return nil
}

// matches walks the sink entries of class in name order. A pre-sink marks
// every argument and ends the walk; a combination sink leaks when an
// argument carries the pre-sink mark.
func (d *sinkDetector) matches(s *vm.Step, class string, inv *program.Invoke) (bool, error) {
	for _, m := range d.defs.MatchSinks(class, inv.Method) {
		switch m.Kind {
		case taint.SinkLeak:
			return true, nil
		case taint.SinkPre:
			for _, reg := range inv.NarrowArgs {
				v, err := s.Frame.Get(reg)
				if err != nil {
					return false, err
				}
				v.SetTaint(taint.Merged(v.Taint(), taint.New(taint.Insensitive, taint.PreSink)))
			}
			s.Logger.Debug("pre-sink marked its arguments", "at", s.Where())
			return false, nil
		case taint.SinkCombination:
			for _, reg := range inv.NarrowArgs {
				v, err := s.Frame.Get(reg)
				if err != nil {
					return false, err
				}
				if v.Taint().HasSource(taint.PreSink) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// saveReturnValue records what a leaking sink returned.
func (d *sinkDetector) saveReturnValue(s *vm.Step, mr *program.MoveResult) error {
	inv, ok := mr.Source.(*program.Invoke)
	if !ok || !inv.IsSink {
		return nil
	}
	l, ok := d.results.leakAt(s.Frame.Class, inv.Num)
	if !ok || l.ReturnValue != nil {
		return nil
	}
	v, err := s.Frame.Get(mr.Dest)
	if err != nil {
		return err
	}
	rv := value.Render(v)
	l.ReturnValue = &rv
	return nil
}
