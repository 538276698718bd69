package report

import (
	"fmt"

	"github.com/xlab/treeprint"

	"smalien/internal/emulator"
)

// LeakTree groups the leaks of res by source label.
func LeakTree(res *emulator.Results) treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("leaks (%d)", res.NumLeaks()))
	for _, label := range res.SourceLabels() {
		branch := tree.AddBranch(label)
		for _, s := range res.Sources {
			if s.Label == label {
				branch.AddNode(fmt.Sprintf("from %s->%s:%d", s.Class, s.Method, s.Line))
			}
		}
		for _, l := range res.Leaks {
			for _, src := range l.Sources {
				if src != label {
					continue
				}
				sink := branch.AddBranch(fmt.Sprintf("to %s->%s", l.SinkClass, l.SinkMethod))
				sink.AddNode(fmt.Sprintf("at %s->%s:%d", l.Class, l.Method, l.Line))
				for _, v := range l.Values {
					sink.AddNode(fmt.Sprintf("value %q", v))
				}
			}
		}
	}
	return tree
}
