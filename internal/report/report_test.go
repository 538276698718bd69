package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smalien/internal/emulator"
	"smalien/internal/program"
	"smalien/internal/tracker"
)

func results() *emulator.Results {
	ret := "1"
	res := tracker.NewResults()
	res.Sources = []tracker.Source{
		{Label: "IMEI", Class: "La/Main;", Method: "onCreate()V", Line: 11,
			SourceClass: "Landroid/telephony/TelephonyManager;", SourceMethod: "getDeviceId()Ljava/lang/String;", CallType: "normal"},
		{Label: "LOCATION", Class: "La/Main;", Method: "onCreate()V", Line: 20,
			SourceClass: "Landroid/location/Location;", SourceMethod: "getLatitude()D", CallType: "normal"},
	}
	res.Leaks = []*tracker.Leak{
		{Tag: "1_14", Class: "La/Main;", Method: "onCreate()V", Line: 14,
			SinkClass: "Landroid/util/Log;", SinkMethod: "i(Ljava/lang/String;Ljava/lang/String;)I",
			Values: []string{"356938035643809"}, Sources: []string{"IMEI", "LOCATION"}, ReturnValue: &ret},
	}
	return &emulator.Results{Results: res, Coverage: 50, Records: 5, Directives: 4, Threads: []string{"1_1"}}
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, results()))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.EqualValues(t, 4, doc["directives"])
	sinks, ok := doc["sinks"].([]any)
	require.True(t, ok)
	require.Len(t, sinks, 1)
	assert.Equal(t, "1_14", sinks[0].(map[string]any)["smali_tag"])
	assert.Equal(t, "1", sinks[0].(map[string]any)["returned_value"])
}

func TestMarkdown(t *testing.T) {
	md := Markdown("demo", results())
	assert.True(t, strings.HasPrefix(md, "# demo\n"))
	assert.Contains(t, md, "| Leaks | 2 |")
	assert.Contains(t, md, "| Coverage | 50.00% |")
	assert.Contains(t, md, "### 1. `Landroid/util/Log;->i(Ljava/lang/String;Ljava/lang/String;)I`")
	assert.Contains(t, md, "- Sources: IMEI, LOCATION")
	assert.Contains(t, md, "- Returned: `1`")
	assert.Contains(t, md, "**IMEI**")

	empty := &emulator.Results{Results: tracker.NewResults()}
	assert.Contains(t, Markdown("x", empty), "No sensitive data reached a sink.")
}

func TestLeakTree(t *testing.T) {
	out := LeakTree(results()).String()
	assert.True(t, strings.HasPrefix(out, "leaks (2)"))
	assert.Contains(t, out, "IMEI")
	assert.Contains(t, out, "LOCATION")
	assert.Contains(t, out, "from La/Main;->onCreate()V:11")
	assert.Equal(t, 2, strings.Count(out, "to Landroid/util/Log;->i("), "one sink branch per source label")
	assert.Contains(t, out, `value "356938035643809"`)
}

func TestFlowGraph(t *testing.T) {
	g := FlowGraph(results())
	site := "Landroid/util/Log;->i(Ljava/lang/String;Ljava/lang/String;)I @ La/Main;:14"
	assert.ElementsMatch(t, []string{
		"La/Main;->onCreate()V:11", "IMEI",
		"La/Main;->onCreate()V:20", "LOCATION",
		site,
	}, g.Nodes)

	var edges []string
	for _, e := range g.Edges {
		edges = append(edges, e.Caller+" => "+e.Callee)
	}
	assert.ElementsMatch(t, []string{
		"La/Main;->onCreate()V:11 => IMEI",
		"La/Main;->onCreate()V:20 => LOCATION",
		"IMEI => " + site,
		"LOCATION => " + site,
	}, edges)

	assert.NotEmpty(t, DOT(results(), "flows"))
}

func TestDiff(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, JSON(&a, results()))
	require.NoError(t, JSON(&b, results()))

	_, changed, err := Diff(a.Bytes(), b.Bytes(), false)
	require.NoError(t, err)
	assert.False(t, changed)

	other := results()
	other.Directives = 9
	b.Reset()
	require.NoError(t, JSON(&b, other))
	out, changed, err := Diff(a.Bytes(), b.Bytes(), false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, out, "directives")

	_, _, err = Diff([]byte("{"), b.Bytes(), false)
	assert.Error(t, err)
}

const listingFixture = `
classes:
  - name: La/Main;
    id: 1
    methods:
      - name: run()V
        attribute: public
        instructions:
          - {num: 10, op: .method}
          - {num: 11, op: const-string, dest: v1, value: tag, text: 'const-string v1, "tag"'}
          - {num: 12, op: return-void}
          - {num: 13, op: .end method}
`

func TestListing(t *testing.T) {
	t.Setenv("SMALIEN_NO_COLOR", "1")
	prog, err := program.Parse([]byte(listingFixture))
	require.NoError(t, err)

	out, err := Listing(prog, "La/Main;", 11, 1)
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `→    11  const-string v1, "tag"`, lines[1])
	assert.Equal(t, "     12  return-void", lines[2])

	_, err = Listing(prog, "La/Missing;", 11, 1)
	assert.Error(t, err)
	_, err = Listing(prog, "La/Main;", 40, 1)
	assert.Error(t, err)
}
