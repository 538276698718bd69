package tracelog

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nxadm/tail"

	"smalien/internal/vm"
)

// FollowOptions configures Follow.
type FollowOptions struct {
	// Poll uses polling instead of inotify, for file systems without
	// change notification.
	Poll bool
	// FromEnd skips what the file already holds.
	FromEnd bool
}

// Follow tails a growing trace file and passes directives to fn as their
// locations complete. When ctx is cancelled the pending directives are
// flushed as last records and Follow returns nil.
//
// Lines arrive from the tail goroutine; Feed and fn only run on the calling
// goroutine.
func (m *Manager) Follow(ctx context.Context, path string, opts FollowOptions, fn func(vm.Order) error) error {
	cfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      opts.Poll,
		Logger:    tail.DiscardingLogger,
	}
	if opts.FromEnd {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}
	t, err := tail.TailFile(path, cfg)
	if err != nil {
		return fmt.Errorf("follow %s: %w", path, err)
	}
	defer t.Cleanup()

	stop := func() error {
		_ = t.Stop()
		for _, o := range m.Flush() {
			if err := fn(o); err != nil {
				return err
			}
		}
		return nil
	}

	n := 0
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("stopped following", "path", path, "records", m.records)
			return stop()
		case line, ok := <-t.Lines:
			if !ok {
				if err := t.Err(); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("follow %s: %w", path, err)
				}
				return stop()
			}
			n++
			if line.Err != nil {
				m.logger.Warn("trace read error", "path", path, "err", line.Err)
				continue
			}
			recs, err := ParseLine(line.Text)
			if err != nil {
				m.logger.Warn("skipping trace line", "line", n, "err", err)
				continue
			}
			for _, rec := range recs {
				if err := m.feed(rec, fn); err != nil {
					_ = t.Stop()
					return err
				}
			}
		}
	}
}
