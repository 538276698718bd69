package report

import (
	"encoding/json"
	"fmt"

	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Diff compares two JSON result documents. It returns false when they are
// equal.
func Diff(a, b []byte, color bool) (string, bool, error) {
	delta, err := gojsondiff.New().Compare(a, b)
	if err != nil {
		return "", false, fmt.Errorf("diff results: %w", err)
	}
	if !delta.Modified() {
		return "", false, nil
	}

	var left any
	if err := json.Unmarshal(a, &left); err != nil {
		return "", false, fmt.Errorf("diff results: %w", err)
	}
	f := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       color,
	})
	out, err := f.Format(delta)
	if err != nil {
		return "", false, fmt.Errorf("format diff: %w", err)
	}
	return out, true, nil
}
