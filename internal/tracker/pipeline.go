// Package tracker runs dynamic taint analysis over the replayed execution:
// it introduces taint at source APIs, reports sinks receiving it, propagates
// it along data flow and records its history per thread.
package tracker

import (
	"smalien/internal/detectors"
	"smalien/internal/flowlog"
	"smalien/internal/taint"
	"smalien/internal/vm"
)

// Pipeline is the taint stage of the interpreter. It runs, in order, the
// outbound flow-detail detector, source detection, sink detection,
// propagation, value-based propagation, the inbound flow-detail detector and
// the recorder.
type Pipeline struct {
	*detectors.Chain
	results *Results
}

// NewPipeline builds the taint stage. A nil flow writer discards flow
// details.
func NewPipeline(defs *taint.Definitions, flow *flowlog.Writer) *Pipeline {
	if defs == nil {
		defs = taint.DefaultDefinitions()
	}
	res := NewResults()
	return &Pipeline{
		Chain: detectors.NewChain("taint",
			detectors.NewFlowBefore(flow),
			&sourceDetector{defs: defs, flow: flow, results: res},
			&sinkDetector{defs: defs, flow: flow, results: res},
			propagator{},
			valueBased{},
			detectors.NewFlowAfter(flow, defs),
			NewRecorder(res),
		),
		results: res,
	}
}

// Results returns the findings collected so far.
func (p *Pipeline) Results() *Results { return p.results }

var _ vm.Module = (*Pipeline)(nil)
