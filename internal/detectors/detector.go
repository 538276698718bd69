// Package detectors holds the per-step inspection chain shared by the taint
// pipeline, and the flow-detail detectors that annotate inter-component and
// reflective hops.
package detectors

import (
	"fmt"

	"smalien/internal/program"
	"smalien/internal/vm"
)

// Detector inspects one replayed step and may annotate registers or
// instructions.
type Detector interface {
	Name() string
	Detect(s *vm.Step) error
}

// Chain runs multiple detectors in sequence. The first failure stops the
// chain for that step.
type Chain struct {
	name      string
	detectors []Detector
}

// NewChain creates a new detector chain.
func NewChain(name string, detectors ...Detector) *Chain {
	return &Chain{name: name, detectors: detectors}
}

// Name implements vm.Module.
func (c *Chain) Name() string { return c.name }

// Detectors returns the chain members in run order.
func (c *Chain) Detectors() []Detector { return c.detectors }

// Run implements vm.Module. Detectors never suspend a thread.
func (c *Chain) Run(s *vm.Step) (vm.Signal, error) {
	return vm.SignalContinue, c.Detect(s)
}

// Detect runs all detectors in sequence.
func (c *Chain) Detect(s *vm.Step) error {
	for _, d := range c.detectors {
		if err := d.Detect(s); err != nil {
			return fmt.Errorf("%s: %w", d.Name(), err)
		}
	}
	return nil
}

// InvokedClass returns the class an invoke dispatches to as seen from the
// platform: calls on the running class itself go to its parent.
func InvokedClass(s *vm.Step, inv *program.Invoke) string {
	if inv.Class != s.Frame.Class {
		return inv.Class
	}
	if c, ok := s.Program.Class(s.Frame.Class); ok && c.Parent != "" {
		return c.Parent
	}
	return inv.Class
}
