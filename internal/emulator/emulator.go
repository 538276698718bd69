// Package emulator drives a replay session: it turns a trace into
// directives, dispatches them to the per-thread VMs and collects the taint
// findings.
package emulator

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"smalien/internal/flowlog"
	"smalien/internal/logging"
	"smalien/internal/program"
	"smalien/internal/resolver"
	"smalien/internal/taint"
	"smalien/internal/tracelog"
	"smalien/internal/tracker"
	"smalien/internal/value"
	"smalien/internal/vm"
)

const tracerName = "smalien/emulator"

// Options configure a session.
type Options struct {
	// Strict aborts on the first inconsistency instead of resynchronising
	// at the next directive.
	Strict     bool
	StepBudget int
	// TriggerCallbacks runs onLowMemory() of live app objects after the
	// trace ends.
	TriggerCallbacks bool
	// Definitions defaults to taint.DefaultDefinitions.
	Definitions *taint.Definitions
	// Flow receives flow-detail lines; nil discards them.
	Flow   *flowlog.Writer
	Logger *log.Logger
	// Tracer defaults to the global OpenTelemetry tracer, a no-op unless a
	// provider is installed.
	Tracer trace.Tracer
	// Progress is called after every directive.
	Progress func(vm.Order, vm.Result)
}

// Results is what a session found.
type Results struct {
	*tracker.Results
	// Coverage is explored over instrumentable methods, in percent.
	Coverage   float64  `json:"coverage"`
	Records    int      `json:"records"`
	Directives int      `json:"directives"`
	Threads    []string `json:"threads"`
	LaunchTime int64    `json:"launch_time,omitempty"`
}

// Session replays one trace against one program. It is not safe for
// concurrent use; every directive runs on the caller's goroutine.
type Session struct {
	prog   *program.Program
	opts   Options
	logger *log.Logger
	tracer trace.Tracer

	tables   *value.Tables
	pipeline *tracker.Pipeline
	vms      *vm.Manager
	logs     *tracelog.Manager

	directives int
}

// NewSession prepares a session. Each step runs the reflection annotator,
// the value resolver and the taint pipeline, in that order. The replay
// annotates prog, so sessions over the same program must not run
// concurrently.
func NewSession(prog *program.Program, opts Options) *Session {
	prog.Reset()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	tables := value.NewTables()
	pipeline := tracker.NewPipeline(opts.Definitions, opts.Flow)
	modules := []vm.Module{resolver.NewReflection(), resolver.New(), pipeline}
	return &Session{
		prog:     prog,
		opts:     opts,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		tables:   tables,
		pipeline: pipeline,
		vms: vm.NewManager(prog, tables, modules, vm.Options{
			Strict:     opts.Strict,
			StepBudget: opts.StepBudget,
			Logger:     opts.Logger,
		}),
		logs: tracelog.NewManager(prog, opts.Logger),
	}
}

// Tables returns the state shared by the session's threads.
func (s *Session) Tables() *value.Tables { return s.tables }

// VMs returns the thread manager.
func (s *Session) VMs() *vm.Manager { return s.vms }

// Logs returns the trace grouper.
func (s *Session) Logs() *tracelog.Manager { return s.logs }

// Run replays a single directive. Only strict mode and cancellation
// return errors.
func (s *Session) Run(ctx context.Context, o vm.Order) error {
	ctx, span := s.tracer.Start(ctx, "directive", trace.WithAttributes(
		attribute.String("ptid", o.PTID()),
		attribute.String("class", o.Class),
		attribute.String("method", o.Method),
		attribute.Int("line", o.Line),
		attribute.Bool("logging", o.Logging),
	))
	defer span.End()

	s.directives++
	res := s.vms.Run(ctx, o)
	span.SetAttributes(
		attribute.String("signal", res.Signal.String()),
		attribute.Int("steps", res.Steps),
	)
	if s.opts.Progress != nil {
		s.opts.Progress(o, res)
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		return fmt.Errorf("directive %s %s->%s:%d: %w", o.PTID(), o.Class, o.Method, o.Line, res.Err)
	}
	return nil
}

// Replay runs every directive of the trace read from r, then the end of run
// callbacks when enabled.
func (s *Session) Replay(ctx context.Context, r io.Reader) (*Results, error) {
	ctx, span := s.tracer.Start(ctx, "replay")
	defer span.End()

	err := s.logs.Orders(r, func(o vm.Order) error {
		return s.Run(ctx, o)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.Results(), err
	}
	if err := s.Finish(ctx); err != nil {
		return s.Results(), err
	}
	return s.Results(), nil
}

// Follow replays a trace file while the app keeps writing it, until ctx is
// cancelled.
func (s *Session) Follow(ctx context.Context, path string, fo tracelog.FollowOptions) (*Results, error) {
	// Directives still pending at cancellation run on a fresh context.
	run := context.WithoutCancel(ctx)
	err := s.logs.Follow(ctx, path, fo, func(o vm.Order) error {
		return s.Run(run, o)
	})
	if err != nil {
		return s.Results(), err
	}
	if err := s.Finish(run); err != nil {
		return s.Results(), err
	}
	return s.Results(), nil
}

// Finish runs the end of run callbacks when enabled.
func (s *Session) Finish(ctx context.Context) error {
	if !s.opts.TriggerCallbacks {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "callbacks")
	defer span.End()

	cb := NewCallbackTriggerer(s.prog, s.logger)
	orders := cb.Orders(s.vms.VMs(), s.tables)
	span.SetAttributes(attribute.Int("directives", len(orders)))
	for _, o := range orders {
		if v, ok := s.vms.VM(o.PTID()); ok {
			// Each callback starts from an empty stack.
			v.Stack = v.Stack[:1]
		}
		if err := s.Run(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// Results snapshots the findings so far.
func (s *Session) Results() *Results {
	threads := make([]string, 0, len(s.vms.VMs()))
	for _, v := range s.vms.VMs() {
		threads = append(threads, v.PTID)
	}
	return &Results{
		Results:    s.pipeline.Results(),
		Coverage:   s.logs.Coverage().Percent(),
		Records:    s.logs.Records(),
		Directives: s.directives,
		Threads:    threads,
		LaunchTime: s.logs.LaunchTime(),
	}
}

// Run replays the trace in r against prog in a fresh session.
func Run(ctx context.Context, prog *program.Program, r io.Reader, opts Options) (*Results, error) {
	return NewSession(prog, opts).Replay(ctx, r)
}
