package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"smalien/internal/dalvik"
	"smalien/internal/logging"
	"smalien/internal/program"
)

// DefaultStepBudget bounds the steps replayed for a single directive.
const DefaultStepBudget = 100000

// Options configure replay.
type Options struct {
	// Strict turns every inconsistency into an error instead of a forced
	// log point.
	Strict bool
	// StepBudget bounds the steps per directive; 0 selects the default.
	StepBudget int
	Logger     *log.Logger
}

func (o Options) budget() int {
	if o.StepBudget <= 0 {
		return DefaultStepBudget
	}
	return o.StepBudget
}

func (o Options) logger() *log.Logger {
	if o.Logger == nil {
		return logging.Discard()
	}
	return o.Logger
}

// Runner replays one thread.
type Runner struct {
	vm      *VM
	prog    *program.Program
	context *ContextManager
	pc      PCController
	modules []Module
	opts    Options
	logger  *log.Logger
}

// NewRunner returns a runner executing modules in order on every step.
func NewRunner(vm *VM, prog *program.Program, modules []Module, opts Options) *Runner {
	lg := opts.logger().With("ptid", vm.PTID)
	return &Runner{
		vm:      vm,
		prog:    prog,
		context: NewContextManager(vm, prog, lg),
		modules: modules,
		opts:    opts,
		logger:  lg,
	}
}

// VM returns the replayed thread.
func (r *Runner) VM() *VM { return r.vm }

// Context returns the context manager of the thread.
func (r *Runner) Context() *ContextManager { return r.context }

// Resume applies a directive to the call stack.
func (r *Runner) Resume(o Order) error {
	r.vm.Logging = o.Logging
	if logging.IsDebug(r.logger) {
		r.logger.Debug("resume", "ptid", o.PTID(), "at", fmt.Sprintf("%s->%s@%d", o.Class, o.Method, o.Line), "registers", dumpRegisters(o.Registers))
	}
	return r.context.ResumeWithNewData(o.Class, o.Method, o.Line, o.Registers)
}

// Step executes the instruction at the program counter of the innermost
// frame and advances it.
func (r *Runner) Step() (Signal, error) {
	f := r.vm.Current()
	if f.IsEntry() {
		return SignalStackEmpty, nil
	}
	m, ok := r.prog.Method(f.Class, f.Method)
	if !ok {
		return SignalContinue, fmt.Errorf("%w: %s->%s is not in the program", ErrTraceInconsistent, f.Class, f.Method)
	}
	if f.PC < m.StartAt || f.PC > m.EndAt {
		return SignalContinue, fmt.Errorf("%w: pc %d outside %s->%s", ErrTraceInconsistent, f.PC, f.Class, f.Method)
	}

	inst := m.Instructions[f.PC]
	if inst == nil {
		f.PC++
		return r.stopBefore(f), nil
	}

	if logging.IsDebug(r.logger) {
		r.logger.Debug("step", "at", f, "kind", inst.Kind(), "depth", r.vm.Depth())
	}
	sig, err := r.runModules(&Step{
		VM:      r.vm,
		Frame:   f,
		Inst:    inst,
		Program: r.prog,
		Method:  m,
		Strict:  r.opts.Strict,
		Logger:  r.logger,
	})
	if err != nil || sig != SignalContinue {
		return sig, err
	}

	next, sig, err := r.pc.Next(f, inst)
	if err != nil {
		return SignalContinue, err
	}
	switch sig {
	case SignalContinue:
		f.PC = next
		return r.stopBefore(f), nil
	case SignalNewMethodInvoked:
		return r.invoked(inst)
	case SignalMethodCompleted:
		return r.completed()
	}
	return sig, nil
}

func (r *Runner) runModules(s *Step) (Signal, error) {
	for _, mod := range r.modules {
		sig, err := mod.Run(s)
		if err != nil {
			if r.opts.Strict {
				return SignalContinue, fmt.Errorf("%s: %w", mod.Name(), err)
			}
			r.logger.Debug("module failed", "module", mod.Name(), "at", s.Where(), "err", err)
			continue
		}
		if sig != SignalContinue {
			r.logger.Debug("module suspended", "module", mod.Name(), "signal", sig, "at", s.Where())
			return sig, nil
		}
	}
	return SignalContinue, nil
}

// stopBefore reports a log point when the instruction about to run takes
// its values from the trace.
func (r *Runner) stopBefore(f *Frame) Signal {
	if !r.vm.Logging {
		return SignalContinue
	}
	inst := r.prog.Instruction(f.Class, f.Method, f.PC)
	if inst == nil {
		return SignalContinue
	}
	switch inst.Kind() {
	case program.KindIget, program.KindSget, program.KindSput, program.KindNewInstance,
		program.KindMonitorEnter, program.KindArrayLength, program.KindCatchLabel:
		if inst.Base().Logging {
			return SignalLogPoint
		}
	case program.KindInstanceOf, program.KindCheckCast, program.KindConstString, program.KindConstClass:
		return SignalLogPoint
	}
	return SignalContinue
}

func (r *Runner) invoked(inst program.Instruction) (Signal, error) {
	if r.vm.Logging {
		return SignalLogPoint, nil
	}
	inv, ok := inst.(*program.Invoke)
	if !ok || !inv.InApp {
		// Platform call: the invoke runs again as its second phase.
		return SignalContinue, nil
	}
	m, ok := r.prog.Method(inv.Class, inv.Method)
	if !ok {
		return SignalContinue, fmt.Errorf("%w: %s->%s", ErrMissingMethodHead, inv.Class, inv.Method)
	}
	return SignalContinue, r.context.CreateNewFrame(inv.Class, inv.Method, m.StartAt, nil)
}

func (r *Runner) completed() (Signal, error) {
	removed, sig := r.context.SwitchToPrevious()
	if sig == SignalStackEmpty {
		return sig, nil
	}
	f := r.vm.Current()
	inst := r.prog.Instruction(f.Class, f.Method, f.PC)
	if inst == nil {
		return SignalContinue, fmt.Errorf("%w: returned to %s with no instruction", ErrTraceInconsistent, f)
	}

	if removed.Method == dalvik.Clinit {
		switch inst.Kind() {
		case program.KindSget, program.KindSput, program.KindNewInstance:
			// The access that triggered the initializer runs again.
			if r.vm.Logging && inst.Base().Logging {
				return SignalLogPoint, nil
			}
			return SignalContinue, nil
		}
	}

	if inst.Kind() != program.KindNewInstance && !f.AfterInvocation {
		if r.opts.Strict {
			return SignalContinue, fmt.Errorf("%w: %s returned to %s, which did not invoke it", ErrTraceInconsistent, removed, f)
		}
		f.AfterInvocation = true
	}
	if r.vm.Logging {
		return SignalLogPoint, nil
	}
	return SignalContinue, nil
}

// dumpRegisters formats the logged registers of a directive in name order.
func dumpRegisters(regs map[string]string) string {
	names := make([]string, 0, len(regs))
	for r := range regs {
		names = append(names, r)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, r := range names {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%q", r, regs[r])
	}
	return b.String()
}
