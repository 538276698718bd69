// Package vm reconstructs per-thread execution from replay directives: it
// keeps the call stack of every thread, advances the program counter and
// drives the interpreter modules one instruction at a time.
package vm

import (
	"errors"
	"fmt"
)

// Signal is the outcome of a single step.
type Signal int

const (
	// SignalContinue keeps stepping.
	SignalContinue Signal = iota
	// SignalLogPoint stops before an instruction whose values come from the
	// next directive.
	SignalLogPoint
	SignalNewMethodInvoked
	// SignalMethodCompleted is consumed by the runner when it unwinds a frame.
	SignalMethodCompleted
	SignalExceptionThrown
	SignalExceptionOccurred
	SignalClinitInvoked
	// SignalStackEmpty reports that the thread returned to its entry frame.
	SignalStackEmpty
)

var signalNames = [...]string{
	SignalContinue:          "continue",
	SignalLogPoint:          "log-point",
	SignalNewMethodInvoked:  "new-method-invoked",
	SignalMethodCompleted:   "method-completed",
	SignalExceptionThrown:   "exception-thrown",
	SignalExceptionOccurred: "exception-occurred",
	SignalClinitInvoked:     "clinit-invoked",
	SignalStackEmpty:        "stack-empty",
}

func (s Signal) String() string {
	if int(s) < len(signalNames) {
		return signalNames[s]
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// Suspends reports whether s hands control back to the directive loop.
func (s Signal) Suspends() bool {
	return s != SignalContinue && s != SignalMethodCompleted
}

var (
	// ErrTraceInconsistent reports a directive that cannot follow the
	// current state of its thread.
	ErrTraceInconsistent = errors.New("trace inconsistent with program state")
	// ErrUnwindMismatch reports a catch target with no matching frame.
	ErrUnwindMismatch = errors.New("no frame matches the catch target")
	// ErrMissingMethodHead reports a frame requested for a method without a
	// head instruction.
	ErrMissingMethodHead = errors.New("method head missing")
	// ErrStepBudget reports a directive that did not suspend within the
	// configured number of steps.
	ErrStepBudget = errors.New("step budget exhausted")
	// ErrUnsetRegister reports a read of a register that holds no value.
	ErrUnsetRegister = errors.New("register not set")
)

// StepError locates a failure in the replayed program.
type StepError struct {
	PTID   string
	Class  string
	Method string
	PC     int
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s->%s@%d: %v", e.PTID, e.Class, e.Method, e.PC, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Result is what Manager.Run reports for one directive.
type Result struct {
	Signal Signal
	Steps  int
	Err    error
}
