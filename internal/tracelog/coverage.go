package tracelog

import (
	"sort"
	"strings"

	"smalien/internal/program"
)

// Coverage counts the methods the trace explored against the methods the
// instrumentation could reach.
type Coverage struct {
	methods  []string
	explored map[string]struct{}
}

// NewCoverage counts the instrumentable methods of prog: implemented
// methods of classes that are neither ignored nor generated resources.
func NewCoverage(prog *program.Program) *Coverage {
	c := &Coverage{explored: map[string]struct{}{}}
	if prog == nil {
		return c
	}
	for _, cls := range prog.Classes() {
		if !instrumentable(cls) {
			continue
		}
		for _, m := range cls.Methods {
			if m.Implemented() {
				c.methods = append(c.methods, key(cls.Name, m.Name))
			}
		}
	}
	sort.Strings(c.methods)
	return c
}

func instrumentable(c *program.Class) bool {
	if c.Ignore {
		return false
	}
	for _, generated := range []string{"/R$", "/R;", "/BuildConfig;"} {
		if strings.Contains(c.Name, generated) {
			return false
		}
	}
	return true
}

// Explore marks class->method as reached.
func (c *Coverage) Explore(class, method string) {
	c.explored[key(class, method)] = struct{}{}
}

func key(class, method string) string { return class + "->" + method }

func (c *Coverage) Explored() int { return len(c.explored) }

func (c *Coverage) Total() int { return len(c.methods) }

// Unexplored lists the instrumentable methods the trace never entered.
func (c *Coverage) Unexplored() []string {
	var out []string
	for _, m := range c.methods {
		if _, ok := c.explored[m]; !ok {
			out = append(out, m)
		}
	}
	return out
}

// Percent is explored over instrumentable methods, times 100. A program
// without instrumentable methods has zero coverage.
func (c *Coverage) Percent() float64 {
	if len(c.methods) == 0 {
		return 0
	}
	return float64(len(c.explored)) / float64(len(c.methods)) * 100
}
