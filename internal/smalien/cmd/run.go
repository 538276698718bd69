package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	pathpkg "path/filepath"

	"github.com/spf13/cobra"

	"smalien/internal/store"
)

// ErrLeaksFound is returned by run --fail-on-leak when the replay found a
// leak.
var ErrLeaksFound = errors.New("sensitive data reached a sink")

var runCmd = &cobra.Command{
	Use:   "run [program] [trace]",
	Short: "Replay a trace non-interactively and store the results",
	Long: `Run replays a trace without any interface and stores the results in the
results database, keyed by the SHA-256 digest of the trace. Rerunning the
same trace replaces the stored results.`,
	Example: `
# Replay and store
smalien run app.yaml trace.log

# Quiet batch mode with a custom database
smalien run -q -D /var/lib/smalien app.yaml trace.log

# Fail a CI job when a leak is found
smalien run -q --fail-on-leak app.yaml trace.log
  `,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, _ := cmd.Flags().GetBool("quiet")

		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		progPath, tracePath, err := inputs(args)
		if err != nil {
			return err
		}

		digest, err := traceDigest(tracePath)
		if err != nil {
			return err
		}
		if !quiet {
			slog.Info("Running replay", "program", progPath, "trace", tracePath, "digest", digest)
		}

		s, err := openSession(cfg, progPath)
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.replay(cmd.Context(), tracePath, replayOptions{}, nil)
		if err != nil {
			return err
		}
		if err := s.finish(cmd.OutOrStdout(), res, replayOptions{}); err != nil {
			return err
		}

		db, err := store.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer db.Close()
		err = db.Put(&store.Entry{
			Digest:  digest,
			Program: progPath,
			Trace:   tracePath,
			Results: res,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s  %d leaks  %d sources  %.2f%% coverage  %s\n",
			digest, res.NumLeaks(), len(res.Sources), res.Coverage, pathpkg.Base(tracePath))
		if n := res.NumLeaks(); n > 0 && flagBool(cmd, "fail-on-leak") {
			cmd.SilenceUsage = true
			return fmt.Errorf("%d leaks in %s: %w", n, pathpkg.Base(tracePath), ErrLeaksFound)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolP("quiet", "q", false, "Only print the summary line")
	runCmd.Flags().Bool("fail-on-leak", false, "Exit with status 3 when a leak is found")
}

func traceDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()
	return store.Digest(f)
}
