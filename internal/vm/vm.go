package vm

import (
	"fmt"

	"github.com/charmbracelet/log"

	"smalien/internal/program"
	"smalien/internal/value"
)

// VM is the state of one replayed thread.
type VM struct {
	PTID string
	PID  int
	TID  int

	// Stack starts with the entry frame.
	Stack []*Frame
	// Tables is shared by every VM of a session.
	Tables *value.Tables
	// Exception carries a thrown value from throw to move-exception.
	Exception value.Value
	// Logging is the mode of the directive being replayed.
	Logging bool
}

// New returns a thread with an empty call stack.
func New(pid, tid int, tables *value.Tables) *VM {
	if tables == nil {
		tables = value.NewTables()
	}
	return &VM{
		PTID:   PTID(pid, tid),
		PID:    pid,
		TID:    tid,
		Stack:  []*Frame{EntryFrame()},
		Tables: tables,
	}
}

// Current returns the innermost frame.
func (v *VM) Current() *Frame { return v.Stack[len(v.Stack)-1] }

// Depth counts the frames above the entry frame.
func (v *VM) Depth() int { return len(v.Stack) - 1 }

// Step is the context handed to every interpreter module for one
// instruction.
type Step struct {
	VM      *VM
	Frame   *Frame
	Inst    program.Instruction
	Program *program.Program
	Method  *program.Method
	Strict  bool
	Logger  *log.Logger
}

// Logging reports whether the step replays a logged directive.
func (s *Step) Logging() bool { return s.VM.Logging }

// Tables returns the session tables.
func (s *Step) Tables() *value.Tables { return s.VM.Tables }

// Where formats the step location for errors and logs.
func (s *Step) Where() string {
	return fmt.Sprintf("%s->%s@%d", s.Frame.Class, s.Frame.Method, s.Frame.PC)
}

// Module is one stage of the per-instruction pipeline. A module may suspend
// the thread by returning a signal other than SignalContinue.
type Module interface {
	Name() string
	Run(s *Step) (Signal, error)
}
