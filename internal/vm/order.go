package vm

import "strconv"

// Order is one replay directive: resume the thread at Class->Method:Line
// with the logged register values.
type Order struct {
	PID    int
	TID    int
	Class  string
	Method string
	Line   int
	// Registers maps register names to the raw logged values.
	Registers map[string]string
	// Logging marks the directive as coming from the trace. Synthetic
	// directives run without stopping at log points.
	Logging bool
	// LastRecord marks the final directive of a trace.
	LastRecord bool
	Timestamp  int64
}

// PTID identifies the thread of o.
func (o Order) PTID() string { return PTID(o.PID, o.TID) }

// PTID joins a process and thread id as "pid_tid".
func PTID(pid, tid int) string {
	return strconv.Itoa(pid) + "_" + strconv.Itoa(tid)
}
