package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"smalien/internal/config"
	"smalien/internal/emulator"
	"smalien/internal/flowlog"
	"smalien/internal/logging"
	"smalien/internal/program"
)

// session holds what one command needs to replay traces of a program.
type session struct {
	cfg      *config.Config
	prog     *program.Program
	progPath string
	logger   *logging.LoggerCloser
	flow     *flowlog.Writer
	timings  *emulator.Timings
}

func openSession(cfg *config.Config, progPath string) (*session, error) {
	prog, err := program.Load(progPath)
	if err != nil {
		return nil, err
	}
	flow, err := flowlog.Open(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.Session(cfg.Debug, cfg.OutputDir)
	if err != nil {
		flow.Close()
		return nil, err
	}
	slog.Debug("program loaded", "path", progPath, "classes", len(prog.Classes()), "log", logger.Path)
	return &session{
		cfg:      cfg,
		prog:     prog,
		progPath: progPath,
		logger:   logger,
		flow:     flow,
		timings:  emulator.NewTimings(),
	}, nil
}

func (s *session) options() (emulator.Options, error) {
	defs, err := s.cfg.TaintDefinitions()
	if err != nil {
		return emulator.Options{}, err
	}
	return emulator.Options{
		Strict:           s.cfg.Strict,
		StepBudget:       s.cfg.StepBudget,
		TriggerCallbacks: s.cfg.TriggerCallbacks,
		Definitions:      defs,
		Flow:             s.flow,
		Logger:           s.logger.Logger,
		Tracer:           s.timings.Tracer(),
	}, nil
}

// openTrace opens the trace at path for a one-shot replay.
func openTrace(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	return f, nil
}

// writeTimings prints the span statistics gathered so far.
func (s *session) writeTimings(w io.Writer) {
	for _, st := range s.timings.Stats() {
		fmt.Fprintf(w, "%-10s %6d spans %4d errors  total %-12s max %s\n",
			st.Name, st.Count, st.Errors, st.Total, st.Max)
	}
}

func (s *session) Close() error {
	if err := s.flow.Close(); err != nil {
		s.logger.Close()
		return err
	}
	return s.logger.Close()
}
