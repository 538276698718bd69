// Package flowlog writes the flow-detail log: one tagged line per source,
// sink, inter-component or reflective hop observed during replay.
package flowlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFile is the name of the log inside the output directory.
const DefaultFile = "flow_details.log"

// Tag prefixes a flow-detail line.
type Tag string

const (
	Source             Tag = "SOURCE"
	Sink               Tag = "SINK"
	ICCStartActivity   Tag = "ICC_STARTACTIVITY_ARG"
	ICCSend            Tag = "ICC_SEND_ARG"
	ReflectionArgument Tag = "REFLECTION_ARG"
	ReflectionReturn   Tag = "REFLECTION_RET"
)

// Writer appends flow-detail lines. The zero value discards them.
type Writer struct {
	w      *bufio.Writer
	closer io.Closer
	counts map[Tag]int
}

// New writes to w.
func New(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w), counts: map[Tag]int{}}
}

// Open creates (or truncates) the log file inside dir.
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, DefaultFile))
	if err != nil {
		return nil, fmt.Errorf("open flow-detail log: %w", err)
	}
	w := New(f)
	w.closer = f
	return w, nil
}

// Discard returns a writer that drops everything but still counts.
func Discard() *Writer { return New(io.Discard) }

// Write emits "[TAG] f1, f2, ...". A nil writer is a no-op.
func (w *Writer) Write(tag Tag, fields ...any) {
	if w == nil || w.w == nil {
		return
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprint(f)
	}
	fmt.Fprintf(w.w, "[%s] %s\n", tag, strings.Join(parts, ", "))
	w.counts[tag]++
}

// Count returns how many lines carried tag.
func (w *Writer) Count(tag Tag) int {
	if w == nil {
		return 0
	}
	return w.counts[tag]
}

// Flush pushes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	if w == nil || w.w == nil {
		return nil
	}
	return w.w.Flush()
}

// Close flushes and closes the file opened by Open.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w != nil && w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
