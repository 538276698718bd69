package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smalien/internal/config"
	"smalien/internal/emulator"
	"smalien/internal/flowlog"
	"smalien/internal/store"
	"smalien/internal/tracker"
	"smalien/internal/ui/colorize"
	"smalien/internal/vm"
)

const app = `
classes:
  - name: La/Main;
    id: 1
    parent: Landroid/app/Activity;
    methods:
      - name: onCreate(Landroid/telephony/TelephonyManager;)V
        attribute: public
        instructions:
          - {num: 10, op: .method}
          - {num: 11, op: invoke-virtual, class: Landroid/telephony/TelephonyManager;, method: "getDeviceId()Ljava/lang/String;", args: [p1]}
          - {num: 12, op: move-result-object, dest: v0}
          - {num: 13, op: const-string, dest: v1, value: tag}
          - {num: 14, op: invoke-static, class: Landroid/util/Log;, method: "i(Ljava/lang/String;Ljava/lang/String;)I", args: [v1, v0]}
          - {num: 15, op: move-result, dest: v2}
          - {num: 16, op: return-void}
          - {num: 17, op: .end method}
      - name: onLowMemory()V
        attribute: public
        instructions:
          - {num: 30, op: .method}
          - {num: 31, op: return-void}
          - {num: 32, op: .end method}
`

var trace = strings.Join([]string{
	`["1700000000000:1:1:1_10_p0:7f1","1700000000000:1:1:1_10_p1:a2b"]`,
	"1700000000001:1:1:1_12_v0:c3d:356938035643809",
	"1700000000002:1:1:1_13_v1:e4f:tag",
	"1700000000003:1:1:1_15_v2:1",
}, "\n")

// fixture writes the program and trace into a temporary directory.
func fixture(t *testing.T) (dir, progPath, tracePath string) {
	t.Helper()
	dir = t.TempDir()
	progPath = filepath.Join(dir, "app.yaml")
	tracePath = filepath.Join(dir, "trace.log")
	require.NoError(t, os.WriteFile(progPath, []byte(app), 0o644))
	require.NoError(t, os.WriteFile(tracePath, []byte(trace), 0o644))
	return dir, progPath, tracePath
}

func newSession(t *testing.T, dir, progPath string) *session {
	t.Helper()
	cfg := config.Default()
	cfg.OutputDir = dir
	s, err := openSession(cfg, progPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunJSON(t *testing.T) {
	dir, progPath, tracePath := fixture(t)
	s := newSession(t, dir, progPath)
	dot := filepath.Join(dir, "flows.dot")

	var out bytes.Buffer
	require.NoError(t, runJSON(context.Background(), &out, s, tracePath, replayOptions{dot: dot}))

	var res emulator.Results
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Len(t, res.Leaks, 1)
	assert.Equal(t, "1_14", res.Leaks[0].Tag)
	assert.Equal(t, 4, res.Directives)

	data, err := os.ReadFile(dot)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	flow, err := os.ReadFile(filepath.Join(dir, flowlog.DefaultFile))
	require.NoError(t, err)
	assert.Contains(t, string(flow), "[SINK]")
}

func TestRunNoTUI(t *testing.T) {
	t.Setenv("SMALIEN_NO_COLOR", "1")
	dir, progPath, tracePath := fixture(t)
	s := newSession(t, dir, progPath)

	var out bytes.Buffer
	require.NoError(t, runNoTUI(context.Background(), &out, s, tracePath, replayOptions{tree: true}))
	text := out.String()
	assert.Contains(t, text, "IMEI")
	assert.Contains(t, text, "→    14  invoke-static")
	assert.Contains(t, text, "leaks (1)")
}

func TestModel(t *testing.T) {
	_, progPath, tracePath := fixture(t)
	s := newSession(t, t.TempDir(), progPath)
	res, err := s.replay(context.Background(), tracePath, replayOptions{}, nil)
	require.NoError(t, err)

	calls := 0
	replay := func(progress func(vm.Order, vm.Result)) (*emulator.Results, error) {
		progress(vm.Order{}, vm.Result{})
		calls++
		return res, nil
	}
	listing := func(l *tracker.Leak) string { return "LISTING " + l.Tag }
	m := NewModel("demo", replay, listing, nil)

	assert.Nil(t, m.results)
	m.selectMode(viewLeaks)
	assert.Equal(t, viewSummary, m.mode, "no leak view before the replay ends")

	msg := m.replayCmd()()
	assert.Equal(t, 1, calls)
	assert.EqualValues(t, 1, m.directives.Load())

	next, _ := m.Update(msg)
	m = next.(model)
	assert.False(t, m.replaying)
	assert.Contains(t, colorize.StripANSI(m.View()), "Directives")
	assert.Contains(t, m.View(), "L: leaks")

	m.selectMode(viewLeaks)
	assert.Equal(t, viewLeaks, m.mode)
	m.showLeak(0)
	assert.Equal(t, viewDetails, m.mode)
	assert.Contains(t, m.View(), "LISTING 1_14")
}

func TestModelRecoversReplayPanic(t *testing.T) {
	m := NewModel("demo", func(func(vm.Order, vm.Result)) (*emulator.Results, error) {
		panic("boom")
	}, nil, nil)

	msg, ok := m.replayCmd()().(replayDoneMsg)
	require.True(t, ok)
	assert.Error(t, msg.err)
}

func TestLookup(t *testing.T) {
	db, err := store.Open("")
	require.NoError(t, err)
	defer db.Close()
	for _, d := range []string{"abc1", "abd2"} {
		require.NoError(t, db.Put(&store.Entry{Digest: d, Results: &emulator.Results{Results: tracker.NewResults()}}))
	}

	e, err := lookup(db, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc1", e.Digest)
	e, err = lookup(db, "abd2")
	require.NoError(t, err)
	assert.Equal(t, "abd2", e.Digest)

	_, err = lookup(db, "ab")
	assert.ErrorContains(t, err, "ambiguous")
	_, err = lookup(db, "zz")
	assert.Error(t, err)

	var out bytes.Buffer
	writeHistory(&out, nil)
	assert.Equal(t, "no stored results\n", out.String())
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestCoverageCommand(t *testing.T) {
	_, progPath, tracePath := fixture(t)
	out := execute(t, "coverage", "--missing", progPath, tracePath)
	assert.Contains(t, out, "50.00% (1 of 2 methods, 5 records)")
	assert.Contains(t, out, "La/Main;->onLowMemory()V")
}

func TestCompareCommand(t *testing.T) {
	dir, progPath, tracePath := fixture(t)
	s := newSession(t, dir, progPath)

	var a bytes.Buffer
	require.NoError(t, runJSON(context.Background(), &a, s, tracePath, replayOptions{}))
	first := filepath.Join(dir, "a.json")
	second := filepath.Join(dir, "b.json")
	require.NoError(t, os.WriteFile(first, a.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(second, a.Bytes(), 0o644))

	assert.Equal(t, "results are identical\n", execute(t, "compare", first, second))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(a.Bytes(), &doc))
	doc["directives"] = 99
	changed, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(second, changed, 0o644))
	assert.Contains(t, execute(t, "compare", first, second), "directives")
}

func TestRunFailOnLeak(t *testing.T) {
	dir, progPath, tracePath := fixture(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"run", "-q", "--fail-on-leak", "-D", filepath.Join(dir, "db"), "-o", dir, progPath, tracePath})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		_ = runCmd.Flags().Set("fail-on-leak", "false")
	})

	err := rootCmd.Execute()
	require.ErrorIs(t, err, ErrLeaksFound)
	assert.Contains(t, out.String(), "1 leaks")
}

func TestSchemaCommand(t *testing.T) {
	assert.Contains(t, execute(t, "schema"), `"stepBudget"`)
}
