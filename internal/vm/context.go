package vm

import (
	"fmt"

	"github.com/charmbracelet/log"

	"smalien/internal/dalvik"
	"smalien/internal/program"
)

// ContextManager places directives on a thread's call stack.
type ContextManager struct {
	vm     *VM
	prog   *program.Program
	logger *log.Logger
}

// NewContextManager binds a context manager to vm.
func NewContextManager(vm *VM, prog *program.Program, logger *log.Logger) *ContextManager {
	return &ContextManager{vm: vm, prog: prog, logger: logger}
}

// CreateNewFrame pushes a frame for class->method starting at line.
func (c *ContextManager) CreateNewFrame(class, method string, line int, overrides map[string]string) error {
	m, ok := c.prog.Method(class, method)
	if !ok {
		return fmt.Errorf("%w: %s->%s is not in the program", ErrMissingMethodHead, class, method)
	}
	if _, ok := m.Head(); !ok {
		return fmt.Errorf("%w: %s->%s", ErrMissingMethodHead, class, method)
	}
	prev := c.vm.Current()
	c.vm.Stack = append(c.vm.Stack, newFrame(class, method, line, overrides, prev))
	c.logger.Debug("frame pushed", "ptid", c.vm.PTID, "class", class, "method", method, "line", line, "depth", c.vm.Depth())
	return nil
}

// ResumeWithNewData moves the thread to class->method:line. Depending on the
// stack it starts the thread, unwinds to a catch handler, continues the
// current method or enters a new one.
func (c *ContextManager) ResumeWithNewData(class, method string, line int, overrides map[string]string) error {
	if c.vm.Depth() == 0 {
		return c.CreateNewFrame(class, method, line, overrides)
	}
	if _, ok := c.prog.Method(class, method); !ok {
		return fmt.Errorf("%w: %s->%s is not in the program", ErrTraceInconsistent, class, method)
	}
	next := c.prog.Instruction(class, method, line)
	if next != nil && next.Kind() == program.KindCatchLabel {
		return c.unwind(class, method, line, overrides)
	}
	sf := c.vm.Current()
	_, isHead := next.(*program.MethodHead)
	if sf.Class == class && sf.Method == method && !isHead {
		return c.update(sf, line, overrides)
	}
	if !isHead {
		return fmt.Errorf("%w: %s->%s:%d entered from %s without a method head", ErrTraceInconsistent, class, method, line, sf)
	}
	return c.invoked(sf, class, method, line, overrides)
}

func (c *ContextManager) unwind(class, method string, line int, overrides map[string]string) error {
	sf := c.vm.Current()
	if prev := c.prog.Instruction(sf.Class, sf.Method, sf.PC); prev != nil && prev.Kind() == program.KindThrow && !prev.Base().InTryBlock {
		c.pop()
	}
	for {
		sf = c.vm.Current()
		if sf.Class == class && sf.Method == method {
			break
		}
		if c.vm.Depth() <= 1 {
			return fmt.Errorf("%w: %s->%s:%d", ErrUnwindMismatch, class, method, line)
		}
		c.pop()
	}
	sf.PC = line
	sf.Overrides = orEmpty(overrides)
	c.logger.Debug("unwound to handler", "ptid", c.vm.PTID, "frame", sf)
	return nil
}

func (c *ContextManager) update(sf *Frame, line int, overrides map[string]string) error {
	if line >= sf.PC+3 {
		inv, ok := c.prog.Instruction(sf.Class, sf.Method, sf.PC).(*program.Invoke)
		if !ok || inv.MoveResult == nil || inv.MoveResult.Num != line {
			return fmt.Errorf("%w: line %d does not follow %s", ErrTraceInconsistent, line, sf)
		}
	}
	sf.PC = line
	sf.Overrides = orEmpty(overrides)
	return nil
}

func (c *ContextManager) invoked(sf *Frame, class, method string, line int, overrides map[string]string) error {
	if method != dalvik.Clinit {
		prev := c.prog.Instruction(sf.Class, sf.Method, sf.PC)
		switch x := prev.(type) {
		case *program.Throw:
			// The exception escaped; the thread continues elsewhere.
			c.pop()
		case *program.Invoke:
			if !x.InApp {
				c.logger.Warn("invoke reaches app code, marking it in-app", "class", x.Class, "method", x.Method)
				x.InApp = true
			}
		case *program.NewInstance:
		default:
			return fmt.Errorf("%w: %s entered from %s, which is not an invoke", ErrTraceInconsistent, method, sf)
		}
	}
	return c.CreateNewFrame(class, method, line, overrides)
}

// SwitchToPrevious pops the innermost frame. It reports SignalStackEmpty
// when only the entry frame is left.
func (c *ContextManager) SwitchToPrevious() (*Frame, Signal) {
	removed := c.pop()
	c.logger.Debug("frame popped", "ptid", c.vm.PTID, "removed", removed, "current", c.vm.Current())
	if c.vm.Depth() == 0 {
		return removed, SignalStackEmpty
	}
	return removed, SignalContinue
}

func (c *ContextManager) pop() *Frame {
	if c.vm.Depth() == 0 {
		return c.vm.Current()
	}
	last := c.vm.Current()
	c.vm.Stack = c.vm.Stack[:len(c.vm.Stack)-1]
	return last
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
