package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"strings"

	"github.com/charmbracelet/x/term"

	"smalien/internal/emulator"
	"smalien/internal/flowlog"
	"smalien/internal/report"
	"smalien/internal/smalien/styles"
	"smalien/internal/tracelog"
	"smalien/internal/ui/colorize"
	"smalien/internal/vm"
)

// listingContext is the number of lines shown around a leak location.
const listingContext = 3

type replayOptions struct {
	follow  bool
	fromEnd bool
	tree    bool
	timings bool
	dot     string
}

// replay runs the trace at tracePath once, or follows it until ctx ends.
func (s *session) replay(ctx context.Context, tracePath string, opts replayOptions, progress func(vm.Order, vm.Result)) (*emulator.Results, error) {
	eo, err := s.options()
	if err != nil {
		return nil, err
	}
	eo.Progress = progress
	sess := emulator.NewSession(s.prog, eo)

	if opts.follow {
		slog.Info("Following trace", "path", tracePath)
		return sess.Follow(ctx, tracePath, tracelog.FollowOptions{FromEnd: opts.fromEnd})
	}
	f, err := openTrace(tracePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return sess.Replay(ctx, f)
}

// finish writes the side outputs of a replay.
func (s *session) finish(w io.Writer, res *emulator.Results, opts replayOptions) error {
	if err := s.flow.Flush(); err != nil {
		return fmt.Errorf("flush flow log: %w", err)
	}
	if opts.dot != "" {
		dot := report.DOT(res, pathpkg.Base(s.progPath))
		if err := os.WriteFile(opts.dot, []byte(dot), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", opts.dot, err)
		}
		slog.Info("Wrote flow graph", "path", opts.dot)
	}
	if opts.timings {
		s.writeTimings(os.Stderr)
	}
	return nil
}

func runJSON(ctx context.Context, w io.Writer, s *session, tracePath string, opts replayOptions) error {
	res, err := s.replay(ctx, tracePath, opts, nil)
	if err != nil {
		return err
	}
	if err := report.JSON(w, res); err != nil {
		return err
	}
	return s.finish(w, res, opts)
}

func runNoTUI(ctx context.Context, w io.Writer, s *session, tracePath string, opts replayOptions) error {
	res, err := s.replay(ctx, tracePath, opts, nil)
	if res == nil {
		return err
	}
	// Print what was found even when a strict replay stopped early.
	if perr := printSummary(w, s, res, tracePath, opts); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		return err
	}
	return s.finish(w, res, opts)
}

func terminalWidth() int {
	if width, _, err := term.GetSize(os.Stdout.Fd()); err == nil && width > 0 {
		return width
	}
	return 80
}

func printSummary(w io.Writer, s *session, res *emulator.Results, tracePath string, opts replayOptions) error {
	title := fmt.Sprintf("%s / %s", pathpkg.Base(s.progPath), pathpkg.Base(tracePath))
	md := report.Markdown(title, res)
	rendered, err := styles.Render(md, terminalWidth()-2, colorize.Disabled())
	if err != nil {
		return err
	}
	fmt.Fprintln(w, rendered)

	for i, l := range res.Leaks {
		listing, err := report.Listing(s.prog, l.Class, l.Line, listingContext)
		if err != nil {
			slog.Debug("no listing for leak", "tag", l.Tag, "error", err)
			continue
		}
		fmt.Fprintf(w, "\n%d. %s->%s\n%s\n", i+1, l.Class, l.Method, listing)
	}

	if opts.tree && len(res.Leaks) > 0 {
		fmt.Fprintln(w)
		fmt.Fprint(w, report.LeakTree(res).String())
	}
	return nil
}

// flowLines renders the last n lines of the flow-detail log of s.
func flowLines(s *session, n int) string {
	data, err := os.ReadFile(pathpkg.Join(s.cfg.OutputDir, flowlog.DefaultFile))
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, l := range lines {
		lines[i] = colorize.FlowLine(l)
	}
	return strings.Join(lines, "\n")
}
