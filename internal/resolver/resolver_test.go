package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smalien/internal/logging"
	"smalien/internal/program"
	"smalien/internal/taint"
	"smalien/internal/value"
	"smalien/internal/vm"
)

const fixture = `
classes:
  - name: La/Main;
    parent: La/Base;
    fields:
      - {name: counter, type: I, static: true, default: "7"}
      - {name: label, type: Ljava/lang/String;, static: true}
    methods:
      - name: <clinit>()V
        attribute: static constructor
        instructions:
          - {num: 1, op: .method}
          - {num: 2, op: return-void}
          - {num: 3, op: .end method}
      - name: handle(Ljava/lang/String;J)V
        attribute: public static
        instructions:
          - {num: 10, op: .method}
          - {num: 11, op: return-void}
          - {num: 12, op: .end method}
      - name: onCreate()V
        attribute: public
        instructions:
          - {num: 20, op: .method}
          - {num: 21, op: aget, dest: v1, array: v0, index: v2}
          - {num: 22, op: sget, dest: v3, field: "La/Main;->counter:I"}
          - {num: 23, op: sput, src: v3, field: "La/Main;->counter:I"}
          - {num: 24, op: div-int, dest: v4, src: v5, src2: v6}
          - {num: 25, op: add-int/lit8, dest: v4, src: v5, value: "3"}
          - {num: 26, op: new-array, dest: v0, src: v2, type: "[I"}
          - {num: 27, op: const-string, dest: v7, value: "hello"}
          - {num: 28, op: instance-of, dest: v8, src: p0, class: La/Base;}
          - {num: 29, op: iget-object, dest: v1, object: p0, field: "La/Main;->name:Ljava/lang/Object;"}
          - {num: 30, op: invoke-virtual, class: Ljava/lang/reflect/Method;, method: "invoke(Ljava/lang/Object;[Ljava/lang/Object;)Ljava/lang/Object;", args: [v0, v1, v2]}
          - {num: 31, op: array-length, dest: v1, array: v0}
          - {num: 32, op: cmp-long, dest: v1, src: v2, src2: v4}
          - {num: 33, op: move-exception, dest: v9}
          - {num: 34, op: return-void}
          - {num: 35, op: .end method}
      - name: <init>(I)V
        attribute: public constructor
        instructions:
          - {num: 40, op: .method}
          - {num: 41, op: return-void}
          - {num: 42, op: .end method}
      - name: work(I)V
        attribute: public
        instructions:
          - {num: 50, op: .method}
          - {num: 51, op: return-void}
          - {num: 52, op: .end method}
      - name: keep(Ljava/lang/Object;)V
        attribute: public
        instructions:
          - {num: 60, op: .method}
          - {num: 61, op: return-void}
          - {num: 62, op: .end method}
      - name: run([Ljava/lang/String;)V
        attribute: public
        instructions:
          - {num: 70, op: .method}
          - {num: 71, op: return-void}
          - {num: 72, op: .end method}
      - name: caller()V
        attribute: public
        instructions:
          - {num: 80, op: .method}
          - {num: 81, op: invoke-virtual, class: La/Main;, method: "work(I)V", args: [v0, v1]}
          - {num: 82, op: invoke-virtual, class: La/Main;, method: "keep(Ljava/lang/Object;)V", args: [v0, v2]}
          - {num: 83, op: invoke-direct, class: La/Base;, method: "<init>(I)V", args: [v3, v1]}
          - {num: 84, op: invoke-direct, class: La/Other;, method: "<init>(I)V", args: [v3, v1]}
          - {num: 85, op: invoke-direct, class: La/Main;, method: "<init>(I)V", args: [v3, v1]}
          - {num: 86, op: return-void}
          - {num: 87, op: .end method}
  - name: La/Base;
    methods: []
`

type harness struct {
	prog *program.Program
	vm   *vm.VM
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	p, err := program.Parse([]byte(fixture))
	require.NoError(t, err)
	return &harness{prog: p, vm: vm.New(1, 2, nil)}
}

// step positions a frame of La/Main; at line with the given registers and
// logged values.
func (h *harness) step(t *testing.T, method string, line int, regs map[string]value.Value, logged map[string]string) *vm.Step {
	t.Helper()
	m, ok := h.prog.Method("La/Main;", method)
	require.True(t, ok)
	if regs == nil {
		regs = map[string]value.Value{}
	}
	if logged == nil {
		logged = map[string]string{}
	}
	h.vm.Logging = len(logged) > 0
	f := &vm.Frame{
		Class:     "La/Main;",
		Method:    method,
		PC:        line,
		Registers: regs,
		Overrides: logged,
		Previous:  h.vm.Stack[0],
	}
	return &vm.Step{
		VM:      h.vm,
		Frame:   f,
		Inst:    h.prog.Instruction("La/Main;", method, line),
		Program: h.prog,
		Method:  m,
		Logger:  logging.Discard(),
	}
}

func intArray(elems ...int64) *value.Array {
	arr := value.NewArray("[I")
	for _, e := range elems {
		arr.Elements = append(arr.Elements, value.NewInt("I", e))
	}
	return arr
}

func TestMethodHeadFromPlatform(t *testing.T) {
	h := newHarness(t)
	s := h.step(t, "handle(Ljava/lang/String;J)V", 10, nil, map[string]string{"p0": "42:secret", "p1": "5"})

	sig, err := New().Run(s)
	require.NoError(t, err)
	assert.Equal(t, vm.SignalContinue, sig)

	p0, err := s.Frame.Get("p0")
	require.NoError(t, err)
	str, ok := p0.(*value.ClassInstance)
	require.True(t, ok)
	assert.Equal(t, "42", str.ID)
	assert.Equal(t, "secret", str.Str)
	assert.True(t, str.HasStr)

	for _, reg := range []string{"p1", "p2"} {
		v, err := s.Frame.Get(reg)
		require.NoError(t, err)
		assert.Equal(t, "5", v.Ident(), reg)
	}
}

func TestMethodHeadUnloggedParams(t *testing.T) {
	h := newHarness(t)
	s := h.step(t, "handle(Ljava/lang/String;J)V", 10, nil, nil)

	_, err := New().Run(s)
	require.NoError(t, err)
	p0, _ := s.Frame.Get("p0")
	assert.True(t, p0.IsNull())
	p1, _ := s.Frame.Get("p1")
	assert.Equal(t, "0", p1.Ident())
}

func callerFrame(method string, line int, regs map[string]value.Value) *vm.Frame {
	return &vm.Frame{
		Class:     "La/Main;",
		Method:    method,
		PC:        line,
		Registers: regs,
		Overrides: map[string]string{},
		Previous:  vm.EntryFrame(),
	}
}

func sensitive(v value.Value) value.Value {
	v.SetTaint(taint.NewSensitive("IMEI"))
	return v
}

// Each case pins one way a callee frame gets its parameters and checks it
// wins over the ones tried after it.
func TestMethodHeadHeuristics(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		line    int
		logged  map[string]string
		setup   func(tables *value.Tables)
		caller  func() *vm.Frame
		strict  bool
		wantErr error
		want    map[string]string
		tainted []string
	}{
		{
			name:   "platform receiver passes its last invocation",
			method: "run([Ljava/lang/String;)V", line: 70,
			logged: map[string]string{"p0": "aa", "p1": "n"},
			setup: func(tables *value.Tables) {
				recv := value.NewInstance("La/Main;", "aa")
				arr := sensitive(value.NewArray("[Ljava/lang/String;")).(*value.Array)
				arr.Elements = append(arr.Elements, value.NewInstance("Ljava/lang/String;", "ee"))
				recv.LastCall = &value.Invocation{
					Class:    "Ljava/lang/Thread;",
					Method:   "start()V",
					ArgTypes: []string{"La/Main;", "[Ljava/lang/String;"},
					Values:   []value.Value{arr},
				}
				tables.Instances.Register(recv)
			},
			want:    map[string]string{"p0": "aa", "p1": "[ee]"},
			tainted: []string{"p1"},
		},
		{
			name:   "platform receiver with a primitive last invocation uses the log",
			method: "run([Ljava/lang/String;)V", line: 70,
			logged: map[string]string{"p0": "aa", "p1": "n"},
			setup: func(tables *value.Tables) {
				recv := value.NewInstance("La/Main;", "aa")
				recv.LastCall = &value.Invocation{
					ArgTypes: []string{"La/Main;", "I"},
					Values:   []value.Value{sensitive(value.NewInt("I", 3))},
				}
				tables.Instances.Register(recv)
			},
			want: map[string]string{"p0": "aa", "p1": ""},
		},
		{
			name:   "caller with the same base identity beats the log",
			method: "work(I)V", line: 50,
			logged: map[string]string{"p0": "aa", "p1": "4"},
			caller: func() *vm.Frame {
				return callerFrame("caller()V", 81, map[string]value.Value{
					"v0": value.NewInstance("La/Main;", "aa"),
					"v1": sensitive(value.NewInt("I", 9)),
				})
			},
			want:    map[string]string{"p0": "aa", "p1": "9"},
			tainted: []string{"p1"},
		},
		{
			name:   "caller with another base identity falls back to the log",
			method: "work(I)V", line: 50,
			logged: map[string]string{"p0": "aa", "p1": "4"},
			caller: func() *vm.Frame {
				return callerFrame("caller()V", 81, map[string]value.Value{
					"v0": value.NewInstance("La/Main;", "zz"),
					"v1": sensitive(value.NewInt("I", 9)),
				})
			},
			want: map[string]string{"p0": "aa", "p1": "4"},
		},
		{
			name:   "ancestor constructor call matches when the receiver is unlogged",
			method: "<init>(I)V", line: 40,
			logged: map[string]string{"p1": "5"},
			caller: func() *vm.Frame {
				return callerFrame("caller()V", 83, map[string]value.Value{
					"v3": value.NewInstance("La/Main;", "bb"),
					"v1": sensitive(value.NewInt("I", 9)),
				})
			},
			want:    map[string]string{"p0": "bb", "p1": "9"},
			tainted: []string{"p1"},
		},
		{
			name:   "unrelated constructor call falls back to the log",
			method: "<init>(I)V", line: 40,
			logged: map[string]string{"p1": "5"},
			caller: func() *vm.Frame {
				return callerFrame("caller()V", 84, map[string]value.Value{
					"v3": value.NewInstance("La/Other;", "bb"),
					"v1": sensitive(value.NewInt("I", 9)),
				})
			},
			want: map[string]string{"p0": "", "p1": "5"},
		},
		{
			name:   "contradicting argument yields to the log",
			method: "keep(Ljava/lang/Object;)V", line: 60,
			logged: map[string]string{"p0": "aa", "p1": "cc"},
			caller: func() *vm.Frame {
				return callerFrame("caller()V", 82, map[string]value.Value{
					"v0": value.NewInstance("La/Main;", "aa"),
					"v2": sensitive(value.NewInstance("Ljava/lang/Object;", "dd")),
				})
			},
			want: map[string]string{"p0": "aa", "p1": "cc"},
		},
		{
			name:   "contradicting argument fails a strict replay",
			method: "keep(Ljava/lang/Object;)V", line: 60,
			logged: map[string]string{"p0": "aa", "p1": "cc"},
			caller: func() *vm.Frame {
				return callerFrame("caller()V", 82, map[string]value.Value{
					"v0": value.NewInstance("La/Main;", "aa"),
					"v2": value.NewInstance("Ljava/lang/Object;", "dd"),
				})
			},
			strict:  true,
			wantErr: ErrMalformed,
		},
		{
			name:   "reflective call unpacks the argument array",
			method: "keep(Ljava/lang/Object;)V", line: 60,
			logged: map[string]string{"p0": "aa", "p1": "ee"},
			caller: func() *vm.Frame {
				args := value.NewArray("[Ljava/lang/Object;")
				args.Elements = append(args.Elements, sensitive(value.NewInstance("Ljava/lang/Object;", "ee")))
				return callerFrame("onCreate()V", 30, map[string]value.Value{
					"v0": value.NewInstance("Ljava/lang/reflect/Method;", "m1"),
					"v1": value.NewInstance("La/Main;", "aa"),
					"v2": args,
				})
			},
			want:    map[string]string{"p0": "aa", "p1": "ee"},
			tainted: []string{"p1"},
		},
		{
			name:   "reflective call on another receiver falls back to the log",
			method: "keep(Ljava/lang/Object;)V", line: 60,
			logged: map[string]string{"p0": "aa", "p1": "ee"},
			caller: func() *vm.Frame {
				args := value.NewArray("[Ljava/lang/Object;")
				args.Elements = append(args.Elements, sensitive(value.NewInstance("Ljava/lang/Object;", "ee")))
				return callerFrame("onCreate()V", 30, map[string]value.Value{
					"v0": value.NewInstance("Ljava/lang/reflect/Method;", "m1"),
					"v1": value.NewInstance("La/Main;", "zz"),
					"v2": args,
				})
			},
			want: map[string]string{"p0": "aa", "p1": "ee"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h.vm.Tables)
			}
			s := h.step(t, tt.method, tt.line, nil, tt.logged)
			s.Strict = tt.strict
			if tt.caller != nil {
				s.Frame.Previous = tt.caller()
			}

			_, err := New().Run(s)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			for reg, want := range tt.want {
				v, err := s.Frame.Get(reg)
				require.NoError(t, err, reg)
				assert.Equal(t, want, v.Ident(), reg)
				wantTaint := false
				for _, r := range tt.tainted {
					wantTaint = wantTaint || r == reg
				}
				assert.Equal(t, wantTaint, v.Taint().IsSensitive(), "taint of %s", reg)
			}
		})
	}
}

func TestAfterConstructorIdentity(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantID     string
		registered bool
	}{
		{"logged identity", "7f", "7f", true},
		{"zero identity is null", "0", "", false},
		{"null literal", "n", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			obj := value.NullInstance("La/Main;")
			s := h.step(t, "caller()V", 85, map[string]value.Value{
				"v3": obj,
				"v1": value.NewInt("I", 1),
			}, map[string]string{"v3": tt.raw})
			s.Frame.AfterInvocation = true

			_, err := New().Run(s)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, obj.ID)
			assert.Equal(t, tt.wantID == "", obj.IsNull())
			_, ok := h.vm.Tables.Instances.Lookup(tt.raw)
			assert.Equal(t, tt.registered, ok)
		})
	}
}

func TestClinitHeadResetsStatics(t *testing.T) {
	h := newHarness(t)
	h.vm.Tables.Static["La/Main;->counter:I"] = value.NewInt("I", 3)
	s := h.step(t, "<clinit>()V", 1, nil, nil)

	_, err := New().Run(s)
	require.NoError(t, err)
	c, _ := h.prog.Class("La/Main;")
	assert.True(t, c.ClinitInvoked)
	assert.NotContains(t, h.vm.Tables.Static, "La/Main;->counter:I")
}

func TestAget(t *testing.T) {
	tests := []struct {
		name  string
		array value.Value
		index int64
		want  vm.Signal
	}{
		{"in bounds", intArray(4, 5), 1, vm.SignalContinue},
		{"past the end", intArray(4, 5), 5, vm.SignalExceptionOccurred},
		{"negative", intArray(4, 5), -1, vm.SignalExceptionOccurred},
		{"null array", value.NullArray("[I"), 0, vm.SignalExceptionOccurred},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			s := h.step(t, "onCreate()V", 21, map[string]value.Value{
				"v0": tt.array,
				"v2": value.NewInt("I", tt.index),
			}, nil)

			sig, err := New().Run(s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig)
			if tt.want == vm.SignalContinue {
				v, err := s.Frame.Get("v1")
				require.NoError(t, err)
				assert.Equal(t, "5", v.Ident())
			}
		})
	}
}

func TestStaticAccessWaitsForClinit(t *testing.T) {
	h := newHarness(t)
	r := New()

	s := h.step(t, "onCreate()V", 22, nil, nil)
	sig, err := r.Run(s)
	require.NoError(t, err)
	assert.Equal(t, vm.SignalClinitInvoked, sig)
	_, err = s.Frame.Get("v3")
	assert.Error(t, err, "nothing is loaded before the initializer ran")

	s = h.step(t, "onCreate()V", 23, map[string]value.Value{"v3": value.NewInt("I", 1)}, nil)
	sig, err = r.Run(s)
	require.NoError(t, err)
	assert.Equal(t, vm.SignalClinitInvoked, sig)

	c, _ := h.prog.Class("La/Main;")
	c.ClinitInvoked = true

	s = h.step(t, "onCreate()V", 22, nil, nil)
	sig, err = r.Run(s)
	require.NoError(t, err)
	assert.Equal(t, vm.SignalContinue, sig)
	v, _ := s.Frame.Get("v3")
	assert.Equal(t, "7", v.Ident(), "declared default")
}

func TestSgetLoggedOverride(t *testing.T) {
	h := newHarness(t)
	h.vm.Tables.Static["La/Main;->counter:I"] = value.NewInt("I", 3)
	s := h.step(t, "onCreate()V", 22, nil, map[string]string{"v3": "9"})
	s.Inst.Base().Logging = true

	_, err := New().Run(s)
	require.NoError(t, err)
	v, _ := s.Frame.Get("v3")
	assert.Equal(t, "9", v.Ident())
	assert.Equal(t, "9", h.vm.Tables.Static["La/Main;->counter:I"].Ident())
}

func TestArithmetic(t *testing.T) {
	t.Run("division by zero throws", func(t *testing.T) {
		h := newHarness(t)
		s := h.step(t, "onCreate()V", 24, map[string]value.Value{
			"v5": value.NewInt("I", 10),
			"v6": value.NewInt("I", 0),
		}, nil)
		sig, err := New().Run(s)
		require.NoError(t, err)
		assert.Equal(t, vm.SignalExceptionOccurred, sig)
	})
	t.Run("literal operand", func(t *testing.T) {
		h := newHarness(t)
		s := h.step(t, "onCreate()V", 25, map[string]value.Value{"v5": value.NewInt("I", 10)}, nil)
		_, err := New().Run(s)
		require.NoError(t, err)
		v, _ := s.Frame.Get("v4")
		assert.Equal(t, "13", v.Ident())
	})
	t.Run("reference operand", func(t *testing.T) {
		h := newHarness(t)
		s := h.step(t, "onCreate()V", 25, map[string]value.Value{"v5": value.NewInstance("La/Main;", "ab12")}, nil)
		_, err := New().Run(s)
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("compare", func(t *testing.T) {
		h := newHarness(t)
		s := h.step(t, "onCreate()V", 32, map[string]value.Value{
			"v2": value.NewInt("J", 1),
			"v4": value.NewInt("J", 2),
		}, nil)
		_, err := New().Run(s)
		require.NoError(t, err)
		v, _ := s.Frame.Get("v1")
		assert.Equal(t, "-1", v.Ident())
	})
}

func TestNewArray(t *testing.T) {
	h := newHarness(t)
	r := New()

	s := h.step(t, "onCreate()V", 26, map[string]value.Value{"v2": value.NewInt("I", -1)}, nil)
	sig, err := r.Run(s)
	require.NoError(t, err)
	assert.Equal(t, vm.SignalExceptionOccurred, sig)

	s = h.step(t, "onCreate()V", 26, map[string]value.Value{"v2": value.NewInt("I", 3)}, nil)
	sig, err = r.Run(s)
	require.NoError(t, err)
	assert.Equal(t, vm.SignalContinue, sig)
	v, _ := s.Frame.Get("v0")
	arr, ok := v.(*value.Array)
	require.True(t, ok)
	assert.Equal(t, 3, arr.Len())

	s = h.step(t, "onCreate()V", 31, map[string]value.Value{"v0": arr}, nil)
	_, err = r.Run(s)
	require.NoError(t, err)
	n, _ := s.Frame.Get("v1")
	assert.Equal(t, "3", n.Ident())
}

func TestConstString(t *testing.T) {
	h := newHarness(t)
	r := New()

	s := h.step(t, "onCreate()V", 27, nil, nil)
	_, err := r.Run(s)
	require.NoError(t, err)
	v, _ := s.Frame.Get("v7")
	unlogged := v.(*value.ClassInstance)
	assert.False(t, unlogged.IsNull())
	assert.Equal(t, "hello", unlogged.Str)

	s = h.step(t, "onCreate()V", 27, nil, map[string]string{"v7": "1f2e:hello"})
	_, err = r.Run(s)
	require.NoError(t, err)
	v, _ = s.Frame.Get("v7")
	assert.Equal(t, "1f2e", v.Ident())
	assert.Equal(t, "hello", v.(*value.ClassInstance).Str)
}

func TestInstanceOf(t *testing.T) {
	tests := []struct {
		name string
		obj  value.Value
		want string
	}{
		{"subclass", value.NewInstance("La/Main;", "aa"), "1"},
		{"unrelated", value.NewInstance("La/Other;", "bb"), "0"},
		{"null", value.NullInstance("La/Main;"), "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			s := h.step(t, "onCreate()V", 28, map[string]value.Value{"p0": tt.obj}, nil)
			_, err := New().Run(s)
			require.NoError(t, err)
			v, _ := s.Frame.Get("v8")
			assert.Equal(t, tt.want, v.Ident())
		})
	}
}

func TestIgetReconcilesWithLog(t *testing.T) {
	const field = "La/Main;->name:Ljava/lang/Object;"
	h := newHarness(t)
	obj := value.NewInstance("La/Main;", "aa")
	known := value.NewInstance("Ljava/lang/Object;", "cc")
	h.vm.Tables.Instances.Register(known)

	s := h.step(t, "onCreate()V", 29, map[string]value.Value{"p0": obj}, map[string]string{"v1": "cc"})
	s.Inst.Base().Logging = true
	_, err := New().Run(s)
	require.NoError(t, err)
	v, _ := s.Frame.Get("v1")
	assert.Same(t, known, v, "missing fields resolve through the registry")

	obj.Fields[field] = value.NewInstance("Ljava/lang/Object;", "dd")
	s = h.step(t, "onCreate()V", 29, map[string]value.Value{"p0": obj}, map[string]string{"v1": "ee"})
	s.Inst.Base().Logging = true
	_, err = New().Run(s)
	require.NoError(t, err)
	v, _ = s.Frame.Get("v1")
	assert.Equal(t, "ee", v.Ident())
	assert.Equal(t, "ee", obj.Fields[field].Ident())

	s = h.step(t, "onCreate()V", 29, map[string]value.Value{"p0": value.NullInstance("La/Main;")}, nil)
	sig, err := New().Run(s)
	require.NoError(t, err)
	assert.Equal(t, vm.SignalExceptionOccurred, sig)
}

func TestReflectionAnnotatesInvoke(t *testing.T) {
	h := newHarness(t)
	method := value.NewInstance("Ljava/lang/reflect/Method;", "public java.lang.String a.B.c(int)")
	s := h.step(t, "onCreate()V", 30, map[string]value.Value{
		"v0": method,
		"v1": value.NewInstance("La/B;", "ff"),
		"v2": value.NewArray("[Ljava/lang/Object;"),
	}, nil)

	_, err := NewReflection().Run(s)
	require.NoError(t, err)
	inv := s.Inst.(*program.Invoke)
	assert.True(t, IsReflectiveCall(inv))
	class, name, reflective := inv.Target()
	assert.True(t, reflective)
	assert.Equal(t, "La/B;", class)
	assert.Equal(t, "c(I)Ljava/lang/String;", name)
}

func TestMoveException(t *testing.T) {
	h := newHarness(t)
	exc := value.NewInstance("Ljava/lang/RuntimeException;", "77")
	h.vm.Exception = exc

	s := h.step(t, "onCreate()V", 33, nil, nil)
	_, err := New().Run(s)
	require.NoError(t, err)
	v, _ := s.Frame.Get("v9")
	assert.Same(t, exc, v)
	assert.Nil(t, h.vm.Exception)

	s = h.step(t, "onCreate()V", 33, nil, map[string]string{"v9": "88"})
	_, err = New().Run(s)
	require.NoError(t, err)
	v, _ = s.Frame.Get("v9")
	assert.Equal(t, "88", v.Ident(), "a platform exception is materialised from the log")
}
