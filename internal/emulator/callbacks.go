package emulator

import (
	"github.com/charmbracelet/log"

	"smalien/internal/program"
	"smalien/internal/value"
	"smalien/internal/vm"
)

// CallbackTID is the thread id of the synthetic thread that runs end of run
// callbacks in each process.
const CallbackTID = 0

// CallbackTriggerer issues directives for callbacks the device never ran
// during the trace, currently onLowMemory().
type CallbackTriggerer struct {
	prog   *program.Program
	logger *log.Logger
}

func NewCallbackTriggerer(prog *program.Program, logger *log.Logger) *CallbackTriggerer {
	return &CallbackTriggerer{prog: prog, logger: logger}
}

// Orders returns one synthetic directive per live object whose class
// implements onLowMemory(), for every process seen in vms. The object is
// passed as the receiver through its identity.
func (c *CallbackTriggerer) Orders(vms []*vm.VM, tables *value.Tables) []vm.Order {
	var pids []int
	seen := map[int]bool{}
	for _, v := range vms {
		if !seen[v.PID] {
			seen[v.PID] = true
			pids = append(pids, v.PID)
		}
	}

	var out []vm.Order
	for _, id := range tables.Instances.IDs() {
		inst, ok := tables.Instances.Lookup(id)
		if !ok {
			continue
		}
		cls, ok := c.prog.Class(inst.DataType())
		if !ok || cls.OnLowMemory == nil {
			continue
		}
		for _, pid := range pids {
			c.logger.Info("triggering onLowMemory", "class", cls.Name, "object", id, "pid", pid)
			out = append(out, vm.Order{
				PID:       pid,
				TID:       CallbackTID,
				Class:     cls.Name,
				Method:    cls.OnLowMemory.Name,
				Line:      cls.OnLowMemory.StartAt,
				Registers: map[string]string{"p0": id},
			})
		}
	}
	return out
}
