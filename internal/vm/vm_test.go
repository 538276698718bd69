package vm

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smalien/internal/logging"
	"smalien/internal/program"
	"smalien/internal/value"
)

const fixture = `
classes:
  - name: La/Main;
    methods:
      - name: run()V
        attribute: public
        instructions:
          - {num: 1, op: .method}
          - {num: 2, op: const/4, dest: v0, value: "0"}
          - {num: 3, op: invoke-direct, class: La/Main;, method: "helper()I", args: [p0]}
          - {num: 4, op: move-result, dest: v1}
          - {num: 5, op: if-eqz, reg: v0, label: ":cond_0"}
          - {num: 6, op: throw, reg: v0}
          - {num: 7, op: ":cond_0", kind: cond_label, name: ":cond_0"}
          - {num: 8, op: return-void}
          - {num: 9, op: .end method}
      - name: helper()I
        attribute: private
        instructions:
          - {num: 20, op: .method}
          - {num: 21, op: const/4, dest: v0, value: "1"}
          - {num: 22, op: return, reg: v0}
          - {num: 23, op: .end method}
      - name: spin()V
        attribute: public
        instructions:
          - {num: 30, op: .method}
          - {num: 31, op: ":goto_0", kind: goto_label, name: ":goto_0"}
          - {num: 32, op: goto, label: ":goto_0"}
          - {num: 33, op: .end method}
      - name: guarded()V
        attribute: public
        instructions:
          - {num: 40, op: .method}
          - {num: 41, op: ":try_start_0", kind: try_start_label, name: ":try_start_0"}
          - {num: 42, op: invoke-direct, class: La/Main;, method: "boom()V", args: [p0]}
          - {num: 43, op: ":try_end_0", kind: try_end_label, name: ":try_end_0"}
          - {num: 44, op: return-void}
          - {num: 45, op: ":catch_0", kind: catch_label, name: ":catch_0"}
          - {num: 46, op: move-exception, dest: v0}
          - {num: 47, op: return-void}
          - {num: 48, op: .end method}
      - name: boom()V
        attribute: private
        instructions:
          - {num: 50, op: .method}
          - {num: 51, op: new-instance, dest: v0, class: Ljava/lang/RuntimeException;}
          - {num: 52, op: throw, reg: v0}
          - {num: 53, op: .end method}
      - name: post()V
        attribute: public
        instructions:
          - {num: 60, op: .method}
          - {num: 61, op: invoke-virtual, class: Landroid/os/Handler;, method: "post(Ljava/lang/Runnable;)Z", args: [p0, p0]}
          - {num: 62, op: return-void}
          - {num: 63, op: .end method}
      - name: <clinit>()V
        attribute: static constructor
        instructions:
          - {num: 70, op: .method}
          - {num: 71, op: return-void}
          - {num: 72, op: .end method}
`

// constModule stands in for value resolution: it materialises constants and
// remembers the lines it saw.
type constModule struct{ seen []int }

func (m *constModule) Name() string { return "const" }

func (m *constModule) Run(s *Step) (Signal, error) {
	m.seen = append(m.seen, s.Inst.Base().Num)
	if c, ok := s.Inst.(*program.Const); ok {
		s.Frame.Set(c.Dest, value.Copy(c.Literal))
	}
	return SignalContinue, nil
}

type failingModule struct{}

func (failingModule) Name() string { return "failing" }

func (failingModule) Run(*Step) (Signal, error) { return SignalContinue, errors.New("boom") }

func loadFixture(t *testing.T) *program.Program {
	t.Helper()
	p, err := program.Parse([]byte(fixture))
	require.NoError(t, err)
	return p
}

func order(method string, line int, logging bool) Order {
	return Order{PID: 1, TID: 2, Class: "La/Main;", Method: method, Line: line, Logging: logging}
}

func TestSyntheticRunEntersInAppCallees(t *testing.T) {
	mod := &constModule{}
	m := NewManager(loadFixture(t), value.NewTables(), []Module{mod}, Options{})

	res := m.Run(context.Background(), order("run()V", 1, false))
	require.NoError(t, res.Err)
	assert.Equal(t, SignalStackEmpty, res.Signal)
	assert.Equal(t, []int{1, 2, 3, 20, 21, 22, 3, 4, 5, 7, 8}, mod.seen)

	vm, ok := m.VM("1_2")
	require.True(t, ok)
	assert.Equal(t, 0, vm.Depth())
}

func TestLoggedRunSuspendsAtBoundaries(t *testing.T) {
	mod := &constModule{}
	m := NewManager(loadFixture(t), value.NewTables(), []Module{mod}, Options{Strict: true})
	ctx := context.Background()

	res := m.Run(ctx, order("run()V", 1, true))
	require.NoError(t, res.Err)
	assert.Equal(t, SignalLogPoint, res.Signal)
	vm, _ := m.VM("1_2")
	assert.Equal(t, 3, vm.Current().PC)
	assert.True(t, vm.Current().AfterInvocation)

	res = m.Run(ctx, order("helper()I", 20, true))
	require.NoError(t, res.Err)
	assert.Equal(t, SignalLogPoint, res.Signal, "returning to a logged caller waits for the trace")
	assert.Equal(t, 1, vm.Depth())

	o := order("run()V", 4, true)
	o.Registers = map[string]string{"v1": "1"}
	res = m.Run(ctx, o)
	require.NoError(t, res.Err)
	assert.Equal(t, SignalStackEmpty, res.Signal)
	assert.Equal(t, []int{1, 2, 3, 20, 21, 22, 4, 5, 7, 8}, mod.seen)
}

func TestInconsistentDirective(t *testing.T) {
	tests := []struct {
		name   string
		strict bool
	}{
		{"strict reports", true},
		{"lenient forces a log point", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(loadFixture(t), value.NewTables(), []Module{&constModule{}}, Options{Strict: tt.strict})
			ctx := context.Background()
			m.Run(ctx, order("run()V", 1, true))

			res := m.Run(ctx, order("run()V", 8, true))
			assert.Equal(t, SignalLogPoint, res.Signal)
			if !tt.strict {
				assert.NoError(t, res.Err)
				return
			}
			require.ErrorIs(t, res.Err, ErrTraceInconsistent)
			var se *StepError
			require.True(t, errors.As(res.Err, &se))
			assert.Equal(t, "1_2", se.PTID)
			assert.Equal(t, 3, se.PC)
		})
	}
}

func TestLastRecordFailureIgnored(t *testing.T) {
	m := NewManager(loadFixture(t), value.NewTables(), nil, Options{Strict: true})
	ctx := context.Background()
	m.Run(ctx, order("run()V", 1, true))
	o := order("run()V", 8, true)
	o.LastRecord = true
	res := m.Run(ctx, o)
	assert.NoError(t, res.Err)
	assert.Equal(t, SignalLogPoint, res.Signal)
}

func TestStepBudget(t *testing.T) {
	for _, strict := range []bool{true, false} {
		m := NewManager(loadFixture(t), value.NewTables(), nil, Options{Strict: strict, StepBudget: 50})
		res := m.Run(context.Background(), order("spin()V", 30, false))
		assert.Equal(t, SignalLogPoint, res.Signal)
		assert.Equal(t, 50, res.Steps)
		if strict {
			assert.ErrorIs(t, res.Err, ErrStepBudget)
		} else {
			assert.NoError(t, res.Err)
		}
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewManager(loadFixture(t), value.NewTables(), nil, Options{})
	res := m.Run(ctx, order("spin()V", 30, false))
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestModuleFailure(t *testing.T) {
	lenient := NewManager(loadFixture(t), value.NewTables(), []Module{failingModule{}}, Options{})
	res := lenient.Run(context.Background(), order("helper()I", 20, false))
	assert.NoError(t, res.Err, "lenient mode skips the failing module")
	assert.Equal(t, SignalStackEmpty, res.Signal)

	strict := NewManager(loadFixture(t), value.NewTables(), []Module{failingModule{}}, Options{Strict: true})
	res = strict.Run(context.Background(), order("helper()I", 20, false))
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "failing: boom")
}

func TestExceptionUnwinding(t *testing.T) {
	m := NewManager(loadFixture(t), value.NewTables(), []Module{&constModule{}}, Options{Strict: true})
	ctx := context.Background()

	res := m.Run(ctx, order("guarded()V", 40, true))
	require.NoError(t, res.Err)
	assert.Equal(t, SignalLogPoint, res.Signal)

	res = m.Run(ctx, order("boom()V", 50, true))
	require.NoError(t, res.Err)
	assert.Equal(t, SignalExceptionThrown, res.Signal)

	res = m.Run(ctx, order("guarded()V", 45, true))
	require.NoError(t, res.Err)
	assert.Equal(t, SignalStackEmpty, res.Signal)
}

func TestUnwindMismatch(t *testing.T) {
	m := NewManager(loadFixture(t), value.NewTables(), nil, Options{Strict: true})
	ctx := context.Background()
	res := m.Run(ctx, order("boom()V", 50, true))
	require.Equal(t, SignalExceptionThrown, res.Signal)

	res = m.Run(ctx, order("guarded()V", 45, true))
	assert.ErrorIs(t, res.Err, ErrUnwindMismatch)
}

func TestContextManager(t *testing.T) {
	prog := loadFixture(t)
	newCM := func() (*VM, *ContextManager) {
		vm := New(9, 9, nil)
		return vm, NewContextManager(vm, prog, logging.Discard())
	}

	t.Run("platform invoke reaching app code is marked in-app", func(t *testing.T) {
		vm, cm := newCM()
		require.NoError(t, cm.ResumeWithNewData("La/Main;", "post()V", 61, nil))
		inv := prog.Instruction("La/Main;", "post()V", 61).(*program.Invoke)
		require.False(t, inv.InApp)

		require.NoError(t, cm.ResumeWithNewData("La/Main;", "helper()I", 20, map[string]string{"p0": "5"}))
		assert.True(t, inv.InApp)
		assert.Equal(t, 2, vm.Depth())
		assert.Same(t, vm.Stack[1], vm.Current().Previous)
		raw, ok := vm.Current().Override("p0")
		assert.True(t, ok)
		assert.Equal(t, "5", raw)
	})

	t.Run("method entry needs an invoke", func(t *testing.T) {
		_, cm := newCM()
		require.NoError(t, cm.ResumeWithNewData("La/Main;", "run()V", 8, nil))
		err := cm.ResumeWithNewData("La/Main;", "helper()I", 20, nil)
		assert.ErrorIs(t, err, ErrTraceInconsistent)
	})

	t.Run("static initializer may start anywhere", func(t *testing.T) {
		vm, cm := newCM()
		require.NoError(t, cm.ResumeWithNewData("La/Main;", "run()V", 8, nil))
		require.NoError(t, cm.ResumeWithNewData("La/Main;", "<clinit>()V", 70, nil))
		assert.Equal(t, 2, vm.Depth())
	})

	t.Run("mid-method line without head", func(t *testing.T) {
		_, cm := newCM()
		require.NoError(t, cm.ResumeWithNewData("La/Main;", "run()V", 8, nil))
		err := cm.ResumeWithNewData("La/Main;", "helper()I", 21, nil)
		assert.ErrorIs(t, err, ErrTraceInconsistent)
	})

	t.Run("move-result after a long call is consistent", func(t *testing.T) {
		vm, cm := newCM()
		require.NoError(t, cm.ResumeWithNewData("La/Main;", "run()V", 3, nil))
		require.NoError(t, cm.ResumeWithNewData("La/Main;", "run()V", 4, nil))
		assert.Equal(t, 4, vm.Current().PC)
	})

	t.Run("unknown method", func(t *testing.T) {
		_, cm := newCM()
		err := cm.CreateNewFrame("La/Main;", "nope()V", 1, nil)
		assert.ErrorIs(t, err, ErrMissingMethodHead)
	})

	t.Run("popping the last frame empties the stack", func(t *testing.T) {
		vm, cm := newCM()
		require.NoError(t, cm.ResumeWithNewData("La/Main;", "run()V", 1, nil))
		removed, sig := cm.SwitchToPrevious()
		assert.Equal(t, SignalStackEmpty, sig)
		assert.Equal(t, "run()V", removed.Method)
		assert.True(t, vm.Current().IsEntry())
	})
}

func TestDebugTrace(t *testing.T) {
	tests := []struct {
		name  string
		level log.Level
		want  bool
	}{
		{"debug dumps directives and steps", log.DebugLevel, true},
		{"info stays quiet", log.InfoLevel, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			lg := log.NewWithOptions(&buf, log.Options{Level: tt.level})
			m := NewManager(loadFixture(t), value.NewTables(), []Module{&constModule{}}, Options{Logger: lg})

			o := order("run()V", 1, false)
			o.Registers = map[string]string{"p0": "7f"}
			res := m.Run(context.Background(), o)
			require.NoError(t, res.Err)

			out := buf.String()
			assert.Equal(t, tt.want, bytes.Contains(buf.Bytes(), []byte("resume")), out)
			assert.Equal(t, tt.want, bytes.Contains(buf.Bytes(), []byte("kind=")), out)
		})
	}
}

func TestDumpRegisters(t *testing.T) {
	assert.Equal(t, `p0="7f" v1="a b"`, dumpRegisters(map[string]string{"v1": "a b", "p0": "7f"}))
	assert.Empty(t, dumpRegisters(nil))
}

func TestPTID(t *testing.T) {
	assert.Equal(t, "12_34", Order{PID: 12, TID: 34}.PTID())
	m := NewManager(loadFixture(t), value.NewTables(), nil, Options{})
	m.Run(context.Background(), Order{PID: 2, TID: 1, Class: "La/Main;", Method: "helper()I", Line: 20})
	m.Run(context.Background(), Order{PID: 1, TID: 1, Class: "La/Main;", Method: "helper()I", Line: 20})
	var got []string
	for _, v := range m.VMs() {
		got = append(got, v.PTID)
	}
	assert.Equal(t, []string{"2_1", "1_1"}, got)
}
