package report

import (
	"fmt"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"smalien/internal/emulator"
)

// FlowGraph links source call sites to their label and each label to the
// sink sites it reached.
func FlowGraph(res *emulator.Results) *lattice.Graph {
	g := &lattice.Graph{}
	nodes := map[string]bool{}
	edges := map[[2]string]bool{}
	node := func(name string) {
		if !nodes[name] {
			nodes[name] = true
			g.Nodes = append(g.Nodes, name)
		}
	}
	edge := func(from, to string) {
		node(from)
		node(to)
		if k := [2]string{from, to}; !edges[k] {
			edges[k] = true
			g.Edges = append(g.Edges, lattice.Edge{Caller: from, Callee: to})
		}
	}

	for _, s := range res.Sources {
		edge(fmt.Sprintf("%s->%s:%d", s.Class, s.Method, s.Line), s.Label)
	}
	for _, l := range res.Leaks {
		site := fmt.Sprintf("%s->%s @ %s:%d", l.SinkClass, l.SinkMethod, l.Class, l.Line)
		for _, src := range l.Sources {
			edge(src, site)
		}
	}
	g.Dedup()
	return g
}

// DOT renders the flow graph of res.
func DOT(res *emulator.Results, title string) string {
	return render.DOT(FlowGraph(res), title)
}
