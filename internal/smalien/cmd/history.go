package cmd

import (
	"fmt"
	"io"
	pathpkg "path/filepath"
	"time"

	"github.com/spf13/cobra"

	"smalien/internal/report"
	"smalien/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List, show or delete stored results",
	Example: `
# List stored replays
smalien history

# Print one stored result as JSON
smalien history --show 9f86d081884c7d65

# Forget a replay
smalien history --delete 9f86d081884c7d65
  `,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		db, err := store.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer db.Close()

		if digest, _ := cmd.Flags().GetString("delete"); digest != "" {
			e, err := lookup(db, digest)
			if err != nil {
				return err
			}
			return db.Delete(e.Digest)
		}
		if digest, _ := cmd.Flags().GetString("show"); digest != "" {
			e, err := lookup(db, digest)
			if err != nil {
				return err
			}
			return report.JSON(cmd.OutOrStdout(), e.Results)
		}

		entries, err := db.List()
		if err != nil {
			return err
		}
		writeHistory(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	historyCmd.Flags().String("show", "", "Print the stored results of a digest (prefix allowed)")
	historyCmd.Flags().String("delete", "", "Delete the stored results of a digest (prefix allowed)")
}

func writeHistory(w io.Writer, entries []*store.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no stored results")
		return
	}
	for _, e := range entries {
		leaks := 0
		if e.Results != nil {
			leaks = e.Results.NumLeaks()
		}
		fmt.Fprintf(w, "%.16s  %s  %3d leaks  %s / %s\n",
			e.Digest, e.StoredAt.Local().Format(time.DateTime), leaks,
			pathpkg.Base(e.Program), pathpkg.Base(e.Trace))
	}
}

// lookup finds the single entry whose digest starts with prefix.
func lookup(db *store.Store, prefix string) (*store.Entry, error) {
	if e, ok, err := db.Get(prefix); err != nil || ok {
		return e, err
	}
	entries, err := db.List()
	if err != nil {
		return nil, err
	}
	var found *store.Entry
	for _, e := range entries {
		if len(e.Digest) >= len(prefix) && e.Digest[:len(prefix)] == prefix {
			if found != nil {
				return nil, fmt.Errorf("digest prefix %s is ambiguous", prefix)
			}
			found = e
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no stored results for %s", prefix)
	}
	return found, nil
}
