package tracelog

import (
	"fmt"
	"io"
	"maps"

	"github.com/charmbracelet/log"

	"smalien/internal/logging"
	"smalien/internal/program"
	"smalien/internal/vm"
)

// Manager groups records into replay directives. Records of one thread at
// one location merge into a single directive; a new location flushes the
// pending directive of that thread only, so interleaved threads are
// buffered side by side.
type Manager struct {
	prog     *program.Program
	logger   *log.Logger
	coverage *Coverage

	pending map[string]*vm.Order
	ptids   []string

	launch  int64
	records int
}

// NewManager returns a manager resolving locations against prog. A nil
// logger discards.
func NewManager(prog *program.Program, logger *log.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		prog:     prog,
		logger:   logger,
		coverage: NewCoverage(prog),
		pending:  map[string]*vm.Order{},
	}
}

// Coverage returns the method coverage of the records fed so far.
func (m *Manager) Coverage() *Coverage { return m.coverage }

// Records counts the records fed so far.
func (m *Manager) Records() int { return m.records }

// LaunchTime is the timestamp of the first record.
func (m *Manager) LaunchTime() int64 { return m.launch }

// Feed adds rec. When rec starts a new location for its thread, the
// directive pending for that thread is returned.
func (m *Manager) Feed(rec Record) (vm.Order, bool, error) {
	m.records++
	if m.launch == 0 {
		m.launch = rec.Timestamp
		m.logger.Debug("app launched", "at", rec.Timestamp)
	}

	c, ok := m.prog.ClassByID(rec.ClassID)
	if !ok {
		return vm.Order{}, false, fmt.Errorf("%w: class id %d", ErrUnknownLocation, rec.ClassID)
	}
	meth, ok := c.MethodAt(rec.Line)
	if !ok {
		return vm.Order{}, false, fmt.Errorf("%w: no method of %s spans line %d", ErrUnknownLocation, c.Name, rec.Line)
	}
	m.coverage.Explore(c.Name, meth.Name)

	if !replayable(meth.Instructions[rec.Line]) {
		return vm.Order{}, false, nil
	}

	ptid := rec.PTID()
	p, ok := m.pending[ptid]
	if ok && p.Class == c.Name && p.Line == rec.Line && rec.Register != "" {
		if _, dup := p.Registers[rec.Register]; !dup {
			p.Registers[rec.Register] = rec.Value
			return vm.Order{}, false, nil
		}
	}

	next := &vm.Order{
		PID:       rec.PID,
		TID:       rec.TID,
		Class:     c.Name,
		Method:    meth.Name,
		Line:      rec.Line,
		Registers: map[string]string{},
		Logging:   true,
		Timestamp: rec.Timestamp,
	}
	if rec.Register != "" {
		next.Registers[rec.Register] = rec.Value
	}
	m.pending[ptid] = next
	if !ok {
		m.ptids = append(m.ptids, ptid)
		return vm.Order{}, false, nil
	}
	return *p, true, nil
}

// Flush returns every pending directive marked as the last record of its
// thread, in order of first appearance of the threads, and empties the
// manager.
func (m *Manager) Flush() []vm.Order {
	out := make([]vm.Order, 0, len(m.ptids))
	for _, ptid := range m.ptids {
		o := *m.pending[ptid]
		o.Registers = maps.Clone(o.Registers)
		o.LastRecord = true
		out = append(out, o)
	}
	m.pending = map[string]*vm.Order{}
	m.ptids = nil
	return out
}

// Orders reads the whole trace from r and passes each directive to fn,
// ending with the flushed ones. Records at unknown locations are skipped
// with a warning.
func (m *Manager) Orders(r io.Reader, fn func(vm.Order) error) error {
	err := Scan(r, func(rec Record) error {
		return m.feed(rec, fn)
	})
	if err != nil {
		return err
	}
	for _, o := range m.Flush() {
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) feed(rec Record, fn func(vm.Order) error) error {
	o, ok, err := m.Feed(rec)
	if err != nil {
		m.logger.Warn("skipping record", "record", rec, "err", err)
		return nil
	}
	if ok {
		return fn(o)
	}
	return nil
}

// replayable reports whether a record at inst can resume replay. Constants,
// branches and literal arithmetic are logged for debugging only.
func replayable(inst program.Instruction) bool {
	if inst == nil {
		return true
	}
	switch inst.Kind() {
	case program.KindConst, program.KindIf, program.KindIfz, program.KindBinopLit:
		return false
	}
	return true
}
