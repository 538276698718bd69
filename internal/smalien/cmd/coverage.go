package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"smalien/internal/program"
	"smalien/internal/tracelog"
	"smalien/internal/vm"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage [program] [trace]",
	Short: "Report the methods a trace explored",
	Long: `Coverage reads a trace without replaying it and reports the share of
instrumentable methods that were entered. Ignored classes, generated resource
classes and native or abstract methods are not counted.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		progPath, tracePath, err := inputs(args)
		if err != nil {
			return err
		}
		prog, err := program.Load(progPath)
		if err != nil {
			return err
		}
		f, err := openTrace(tracePath)
		if err != nil {
			return err
		}
		defer f.Close()

		m := tracelog.NewManager(prog, nil)
		if err := m.Orders(f, func(vm.Order) error { return nil }); err != nil {
			return err
		}

		c := m.Coverage()
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%.2f%% (%d of %d methods, %d records)\n", c.Percent(), c.Explored(), c.Total(), m.Records())
		if missing, _ := cmd.Flags().GetBool("missing"); missing {
			for _, name := range c.Unexplored() {
				fmt.Fprintf(w, "  %s\n", name)
			}
		}
		return nil
	},
}

func init() {
	coverageCmd.Flags().BoolP("missing", "m", false, "List the methods the trace never entered")
}
