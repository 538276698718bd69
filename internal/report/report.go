// Package report renders replay results: JSON, a markdown summary, a leak
// tree, a source to sink flow graph and diffs between two runs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"smalien/internal/emulator"
	"smalien/internal/program"
	"smalien/internal/ui/colorize"
)

// JSON writes res indented.
func JSON(w io.Writer, res *emulator.Results) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}

// Markdown summarises res for glamour.
func Markdown(title string, res *emulator.Results) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Records | %d |\n", res.Records)
	fmt.Fprintf(&b, "| Directives | %d |\n", res.Directives)
	fmt.Fprintf(&b, "| Threads | %d |\n", len(res.Threads))
	fmt.Fprintf(&b, "| Coverage | %.2f%% |\n", res.Coverage)
	fmt.Fprintf(&b, "| Sources | %d |\n", len(res.Sources))
	fmt.Fprintf(&b, "| Leaks | %d |\n\n", res.NumLeaks())

	b.WriteString("## Leaks\n\n")
	if len(res.Leaks) == 0 {
		b.WriteString("No sensitive data reached a sink.\n\n")
	}
	for i, l := range res.Leaks {
		fmt.Fprintf(&b, "### %d. `%s->%s`\n\n", i+1, l.SinkClass, l.SinkMethod)
		fmt.Fprintf(&b, "- Location: `%s->%s` line %d (`%s`)\n", l.Class, l.Method, l.Line, l.Tag)
		fmt.Fprintf(&b, "- Sources: %s\n", strings.Join(l.Sources, ", "))
		for _, v := range l.Values {
			fmt.Fprintf(&b, "- Value: `%s`\n", v)
		}
		if l.ReturnValue != nil {
			fmt.Fprintf(&b, "- Returned: `%s`\n", *l.ReturnValue)
		}
		b.WriteString("\n")
	}

	if len(res.Sources) > 0 {
		b.WriteString("## Sources\n\n")
		for _, s := range res.Sources {
			fmt.Fprintf(&b, "- **%s** `%s->%s` at `%s->%s` line %d (%s)\n",
				s.Label, s.SourceClass, s.SourceMethod, s.Class, s.Method, s.Line, s.CallType)
		}
	}
	return b.String()
}

// Listing prints the instructions of the method enclosing class:line,
// limited to around lines on either side, with line marked.
func Listing(prog *program.Program, class string, line, around int) (string, error) {
	c, ok := prog.Class(class)
	if !ok {
		return "", fmt.Errorf("listing: unknown class %s", class)
	}
	m, ok := c.MethodAt(line)
	if !ok {
		return "", fmt.Errorf("listing: no method at %s:%d", class, line)
	}
	var out []string
	for _, n := range m.Lines() {
		if n < line-around || n > line+around {
			continue
		}
		out = append(out, colorize.ListingLine(n, m.Instructions[n].Base().Text, n == line))
	}
	return strings.Join(out, "\n"), nil
}
