package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	_ "net/http/pprof" // profiling

	"smalien/internal/smalien/cmd"
	"smalien/internal/smalien/log"
	"smalien/internal/vm"
)

// Exit statuses. A strict replay that fails on the trace and a
// batch run that found leaks are told apart from other failures so that
// scripts can react to them.
const (
	exitOK           = 0
	exitFailure      = 1
	exitInconsistent = 2
	exitLeaks        = 3
	exitInterrupted  = 130
)

func exitCode(err error) int {
	var stepErr *vm.StepError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, cmd.ErrLeaksFound):
		return exitLeaks
	case errors.As(err, &stepErr):
		return exitInconsistent
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	}
	return exitFailure
}

func main() {
	defer log.RecoverPanic("main", func() {
		slog.Error("Replay terminated due to unhandled panic")
		os.Exit(exitFailure)
	})

	if os.Getenv("SMALIEN_PROFILE") != "" {
		go func() {
			slog.Info("Serving pprof at localhost:6060")
			if httpErr := http.ListenAndServe("localhost:6060", nil); httpErr != nil {
				slog.Error("Failed to pprof listen", "error", httpErr)
			}
		}()
	}

	err := cmd.Execute()
	code := exitCode(err)
	if code != exitOK {
		slog.Debug("exiting", "status", code, "error", err)
	}
	os.Exit(code)
}
