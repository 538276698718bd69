package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"smalien/internal/report"
	"smalien/internal/store"
	"smalien/internal/ui/colorize"
)

var compareCmd = &cobra.Command{
	Use:   "compare [a] [b]",
	Short: "Show the difference between two replay results",
	Long: `Compare diffs two result sets. Each argument is either a JSON file written
by --json or the digest (or digest prefix) of a stored replay.`,
	Example: `
# Compare two JSON outputs
smalien compare before.json after.json

# Compare stored replays
smalien compare 9f86d081 60303ae2
  `,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}

		var db *store.Store
		docs := make([][]byte, 2)
		for i, arg := range args {
			if data, err := os.ReadFile(arg); err == nil {
				docs[i] = data
				continue
			}
			if db == nil {
				if db, err = store.Open(cfg.DataDir); err != nil {
					return err
				}
				defer db.Close()
			}
			e, err := lookup(db, arg)
			if err != nil {
				return err
			}
			if docs[i], err = json.Marshal(e.Results); err != nil {
				return fmt.Errorf("encode stored results: %w", err)
			}
		}

		out, changed, err := report.Diff(docs[0], docs[1], !colorize.Disabled() && isTerminal())
		if err != nil {
			return err
		}
		if !changed {
			fmt.Fprintln(cmd.OutOrStdout(), "results are identical")
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}
