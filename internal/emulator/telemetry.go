package emulator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// SpanStat aggregates the finished spans of one name.
type SpanStat struct {
	Name   string        `json:"name"`
	Count  int           `json:"count"`
	Errors int           `json:"errors"`
	Total  time.Duration `json:"total"`
	Max    time.Duration `json:"max"`
}

// Timings is a span processor that keeps per-name statistics of the
// session's spans.
type Timings struct {
	mu    sync.Mutex
	stats map[string]*SpanStat
}

func NewTimings() *Timings {
	return &Timings{stats: map[string]*SpanStat{}}
}

// Tracer returns a tracer whose spans are recorded by t.
func (t *Timings) Tracer() trace.Tracer {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(t))
	return tp.Tracer(tracerName)
}

func (t *Timings) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (t *Timings) OnEnd(s sdktrace.ReadOnlySpan) {
	d := s.EndTime().Sub(s.StartTime())
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.stats[s.Name()]
	if !ok {
		st = &SpanStat{Name: s.Name()}
		t.stats[s.Name()] = st
	}
	st.Count++
	st.Total += d
	if d > st.Max {
		st.Max = d
	}
	if s.Status().Code == codes.Error {
		st.Errors++
	}
}

func (t *Timings) Shutdown(context.Context) error   { return nil }
func (t *Timings) ForceFlush(context.Context) error { return nil }

// Stats returns the statistics sorted by span name.
func (t *Timings) Stats() []SpanStat {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SpanStat, 0, len(t.stats))
	for _, st := range t.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
