package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"smalien/internal/config"
	"smalien/internal/taint"
)

var schemaCmd = &cobra.Command{
	Use:    "schema",
	Short:  "Generate JSON schema for configuration",
	Long:   "Generate JSON schema for the smalien configuration or, with --taint, for taint definition files",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var v any = &config.Config{}
		if defs, _ := cmd.Flags().GetBool("taint"); defs {
			v = &taint.Definitions{}
		}
		bts, err := config.Schema(v)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(bts))
		return nil
	},
}

func init() {
	schemaCmd.Flags().Bool("taint", false, "Print the schema of taint definition files")
}
