package vm

import (
	"context"

	"github.com/charmbracelet/log"

	"smalien/internal/program"
	"smalien/internal/value"
)

// Manager owns one runner per thread and dispatches directives to them.
type Manager struct {
	prog    *program.Program
	tables  *value.Tables
	modules []Module
	opts    Options
	logger  *log.Logger

	runners map[string]*Runner
	ptids   []string
}

// NewManager returns a manager whose threads share tables.
func NewManager(prog *program.Program, tables *value.Tables, modules []Module, opts Options) *Manager {
	return &Manager{
		prog:    prog,
		tables:  tables,
		modules: modules,
		opts:    opts,
		logger:  opts.logger(),
		runners: map[string]*Runner{},
	}
}

// Run replays o until its thread suspends. In lenient mode errors become a
// log point so the next directive can resynchronise the thread.
func (m *Manager) Run(ctx context.Context, o Order) Result {
	r := m.runner(o)
	if err := r.Resume(o); err != nil {
		return m.fail(r, o, 0, err)
	}

	budget := m.opts.budget()
	for steps := 0; ; steps++ {
		if steps >= budget {
			return m.fail(r, o, steps, ErrStepBudget)
		}
		if err := ctx.Err(); err != nil {
			return Result{Signal: SignalLogPoint, Steps: steps, Err: err}
		}
		sig, err := r.Step()
		if err != nil {
			return m.fail(r, o, steps+1, err)
		}
		if sig.Suspends() {
			m.logger.Debug("suspended", "ptid", o.PTID(), "signal", sig, "steps", steps+1)
			return Result{Signal: sig, Steps: steps + 1}
		}
	}
}

func (m *Manager) fail(r *Runner, o Order, steps int, err error) Result {
	f := r.vm.Current()
	stepErr := &StepError{PTID: r.vm.PTID, Class: f.Class, Method: f.Method, PC: f.PC, Err: err}
	if o.LastRecord {
		m.logger.Debug("ignoring failure on the last record", "err", stepErr)
		return Result{Signal: SignalLogPoint, Steps: steps}
	}
	if m.opts.Strict {
		return Result{Signal: SignalLogPoint, Steps: steps, Err: stepErr}
	}
	m.logger.Warn("forcing a log point", "err", stepErr)
	return Result{Signal: SignalLogPoint, Steps: steps}
}

func (m *Manager) runner(o Order) *Runner {
	ptid := o.PTID()
	if r, ok := m.runners[ptid]; ok {
		return r
	}
	m.logger.Debug("creating vm", "ptid", ptid)
	r := NewRunner(New(o.PID, o.TID, m.tables), m.prog, m.modules, m.opts)
	m.runners[ptid] = r
	m.ptids = append(m.ptids, ptid)
	return r
}

// VM returns the thread identified by ptid.
func (m *Manager) VM(ptid string) (*VM, bool) {
	r, ok := m.runners[ptid]
	if !ok {
		return nil, false
	}
	return r.vm, true
}

// VMs lists the threads in creation order.
func (m *Manager) VMs() []*VM {
	out := make([]*VM, 0, len(m.ptids))
	for _, p := range m.ptids {
		out = append(out, m.runners[p].vm)
	}
	return out
}
