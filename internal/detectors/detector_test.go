package detectors

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smalien/internal/flowlog"
	"smalien/internal/logging"
	"smalien/internal/program"
	"smalien/internal/taint"
	"smalien/internal/value"
	"smalien/internal/vm"
)

const fixture = `
classes:
  - name: La/Main;
    parent: Landroid/app/Activity;
    methods:
      - name: go()V
        attribute: public
        instructions:
          - {num: 1, op: .method}
          - {num: 2, op: invoke-virtual, class: La/Main;, method: "startActivity(Landroid/content/Intent;)V", args: [p0, v0]}
          - {num: 3, op: invoke-virtual, class: Landroid/os/Messenger;, method: "send(Landroid/os/Message;)V", args: [v1, v2]}
          - {num: 4, op: return-void}
          - {num: 5, op: .end method}
`

func step(t *testing.T, line int, regs map[string]value.Value) *vm.Step {
	t.Helper()
	p, err := program.Parse([]byte(fixture))
	require.NoError(t, err)
	m, ok := p.Method("La/Main;", "go()V")
	require.True(t, ok)
	machine := vm.New(1, 1, nil)
	return &vm.Step{
		VM: machine,
		Frame: &vm.Frame{
			Class: "La/Main;", Method: "go()V", PC: line,
			Registers: regs, Overrides: map[string]string{},
			Previous: machine.Stack[0],
		},
		Inst:    p.Instruction("La/Main;", "go()V", line),
		Program: p,
		Method:  m,
		Logger:  logging.Discard(),
	}
}

type recording struct {
	name string
	seen *[]string
	err  error
}

func (r recording) Name() string { return r.name }

func (r recording) Detect(*vm.Step) error {
	*r.seen = append(*r.seen, r.name)
	return r.err
}

func TestChain(t *testing.T) {
	boom := errors.New("boom")
	var seen []string
	c := NewChain("taint",
		recording{name: "a", seen: &seen},
		recording{name: "b", seen: &seen, err: boom},
		recording{name: "c", seen: &seen},
	)
	sig, err := c.Run(step(t, 4, map[string]value.Value{}))
	assert.Equal(t, vm.SignalContinue, sig)
	require.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "b: boom")
	assert.Equal(t, []string{"a", "b"}, seen, "the chain stops at the first failure")
	assert.Equal(t, "taint", c.Name())
	assert.Len(t, c.Detectors(), 3)
}

func TestInvokedClass(t *testing.T) {
	s := step(t, 2, map[string]value.Value{})
	assert.Equal(t, "Landroid/app/Activity;", InvokedClass(s, s.Inst.(*program.Invoke)))

	s = step(t, 3, map[string]value.Value{})
	assert.Equal(t, "Landroid/os/Messenger;", InvokedClass(s, s.Inst.(*program.Invoke)))
}

func TestFlowBefore(t *testing.T) {
	tests := []struct {
		name   string
		line   int
		reg    string
		taint  *taint.Taint
		want   string
		detail string
	}{
		{
			name: "startActivity with sensitive intent", line: 2, reg: "v0",
			taint: taint.NewSensitive("IMEI"),
			want:  "[ICC_STARTACTIVITY_ARG] La/Main;, go()V, 2\n", detail: DetailICCStartActivity,
		},
		{
			name: "messenger send", line: 3, reg: "v2",
			taint: taint.NewSensitive("IMEI"),
			want:  "[ICC_SEND_ARG] La/Main;, go()V, 3\n", detail: DetailICCSend,
		},
		{
			name: "insensitive argument", line: 2, reg: "v0",
			taint: taint.New(taint.Insensitive, taint.PreSink),
		},
		{name: "untainted argument", line: 3, reg: "v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arg := value.NewInstance("Landroid/content/Intent;", "i1")
			arg.SetTaint(tt.taint)
			regs := map[string]value.Value{
				"p0": value.NewInstance("La/Main;", "m1"),
				"v0": value.NewInstance("Landroid/content/Intent;", "i0"),
				"v1": value.NewInstance("Landroid/os/Messenger;", "s1"),
				"v2": value.NewInstance("Landroid/os/Message;", "m2"),
			}
			regs[tt.reg] = arg
			var buf bytes.Buffer
			w := flowlog.New(&buf)

			require.NoError(t, NewFlowBefore(w).Detect(step(t, tt.line, regs)))
			require.NoError(t, w.Flush())
			assert.Equal(t, tt.want, buf.String())
			if tt.detail != "" {
				assert.True(t, arg.Taint().FlowDetails.Has(tt.detail))
			}
		})
	}
}

func TestSourceOf(t *testing.T) {
	defs := taint.DefaultDefinitions()
	direct := &program.Invoke{Class: "Landroid/telephony/TelephonyManager;", Method: "getDeviceId()Ljava/lang/String;"}
	label, callType, ok := SourceOf(defs, direct)
	require.True(t, ok)
	assert.Equal(t, "IMEI", label)
	assert.Equal(t, "normal", callType)

	reflective := &program.Invoke{
		Class:            "Ljava/lang/reflect/Method;",
		Method:           "invoke(Ljava/lang/Object;[Ljava/lang/Object;)Ljava/lang/Object;",
		ReflectiveClass:  "Landroid/telephony/TelephonyManager;",
		ReflectiveMethod: "getSubscriberId()Ljava/lang/String;",
	}
	label, callType, ok = SourceOf(defs, reflective)
	require.True(t, ok)
	assert.Equal(t, "IMSI", label)
	assert.Equal(t, "reflection", callType)

	_, _, ok = SourceOf(defs, &program.Invoke{Class: "Ljava/lang/Object;", Method: "toString()Ljava/lang/String;"})
	assert.False(t, ok)
}
