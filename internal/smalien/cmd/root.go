package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	pathpkg "path/filepath"
	"runtime/pprof"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"smalien/internal/config"
	smalienlog "smalien/internal/smalien/log"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().String("config", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("data-dir", "D", "", "Results database directory")
	rootCmd.PersistentFlags().StringP("output-dir", "o", "", "Directory for flow_details.log")
	rootCmd.PersistentFlags().String("definitions", "", "Taint source and sink definitions (YAML)")
	rootCmd.PersistentFlags().Bool("strict", false, "Abort on the first trace inconsistency")
	rootCmd.PersistentFlags().Int("step-budget", 0, "Maximum steps replayed per directive")
	rootCmd.PersistentFlags().Bool("callbacks", false, "Run onLowMemory() of live objects after the trace")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().BoolP("no-tui", "n", false, "Print a summary without TUI")
	rootCmd.Flags().BoolP("json", "j", false, "Output results as JSON")
	rootCmd.Flags().BoolP("follow", "F", false, "Keep replaying while the trace grows, until interrupted")
	rootCmd.Flags().Bool("from-end", false, "With --follow, skip the records already in the trace")
	rootCmd.Flags().Bool("tree", false, "Print the leak tree (use with --no-tui)")
	rootCmd.Flags().String("dot", "", "Write the source to sink graph as DOT to file")
	rootCmd.Flags().Bool("timings", false, "Print span timings after the replay")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.Flags().String("memprofile", "", "Write memory profile to file")

	rootCmd.AddCommand(runCmd, compareCmd, coverageCmd, historyCmd, schemaCmd)
}

var rootCmd = &cobra.Command{
	Use:   "smalien [program] [trace]",
	Short: "Replay instrumented Android app traces and track sensitive data",
	Long: `Smalien replays the runtime trace of an instrumented Android app against the
app's smali program, reconstructs the executed instructions and values, and
reports every flow of sensitive data from a source API to a sink API.`,
	Example: `
# Replay interactively
smalien app.yaml trace.log

# Print a summary and the leak tree
smalien -n --tree app.yaml trace.log

# Follow a trace while the app runs
smalien -n --follow app.yaml /sdcard/smalien.log
  `,
	Args: cobra.ExactArgs(2),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ResolveCwd(cmd); err != nil {
			return err
		}
		debug, _ := cmd.Flags().GetBool("debug")
		return smalienlog.Setup("", debug)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		stop, err := startProfiling(cmd, cfg.ProfilePath)
		if err != nil {
			return err
		}
		defer stop()
		progPath, tracePath, err := inputs(args)
		if err != nil {
			return err
		}

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		follow, _ := cmd.Flags().GetBool("follow")

		// Also use no-tui mode when output is being piped
		if !isTerminal() {
			noTUI = true
			os.Setenv("SMALIEN_NO_COLOR", "1")
		}
		if noTUI || jsonOutput {
			os.Setenv("SMALIEN_NO_COLOR", "1")
		}

		s, err := openSession(cfg, progPath)
		if err != nil {
			return err
		}
		defer s.Close()

		opts := replayOptions{
			follow:  follow,
			timings: flagBool(cmd, "timings"),
		}
		opts.fromEnd, _ = cmd.Flags().GetBool("from-end")
		opts.tree, _ = cmd.Flags().GetBool("tree")
		opts.dot, _ = cmd.Flags().GetString("dot")

		switch {
		case jsonOutput:
			return runJSON(cmd.Context(), cmd.OutOrStdout(), s, tracePath, opts)
		case noTUI || follow:
			return runNoTUI(cmd.Context(), cmd.OutOrStdout(), s, tracePath, opts)
		default:
			return runTUI(cmd.Context(), s, tracePath)
		}
	},
}

func isTerminal() bool {
	return term.IsTerminal(os.Stdout.Fd())
}

func flagBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}

// settings loads the configuration file, the environment and then the
// flags the user set explicitly.
func settings(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("debug") {
		cfg.Debug, _ = f.GetBool("debug")
	}
	if f.Changed("data-dir") {
		cfg.DataDir, _ = f.GetString("data-dir")
	}
	if f.Changed("output-dir") {
		cfg.OutputDir, _ = f.GetString("output-dir")
	}
	if f.Changed("definitions") {
		cfg.Definitions, _ = f.GetString("definitions")
	}
	if f.Changed("strict") {
		cfg.Strict, _ = f.GetBool("strict")
	}
	if f.Changed("step-budget") {
		cfg.StepBudget, _ = f.GetInt("step-budget")
	}
	if f.Changed("callbacks") {
		cfg.TriggerCallbacks, _ = f.GetBool("callbacks")
	}
	if f.Changed("cpuprofile") {
		cfg.ProfilePath, _ = f.GetString("cpuprofile")
	}
	return cfg, nil
}

// inputs resolves and checks the program and trace paths.
func inputs(args []string) (string, string, error) {
	var out [2]string
	for i, file := range args[:2] {
		absPath, err := pathpkg.Abs(file)
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve path: %v", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return "", "", fmt.Errorf("file not found: %s", file)
			}
			return "", "", fmt.Errorf("cannot access file: %v", err)
		}
		out[i] = absPath
	}
	return out[0], out[1], nil
}

// startProfiling starts a CPU profile into cpuprofile and the heap profile
// requested by --memprofile. The returned function stops them.
func startProfiling(cmd *cobra.Command, cpuprofile string) (func(), error) {
	var stops []func()
	stop := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return stop, fmt.Errorf("could not create CPU profile: %v", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return stop, fmt.Errorf("could not start CPU profile: %v", err)
		}
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			f.Close()
		})
	}

	memprofile, _ := cmd.Flags().GetString("memprofile")
	if memprofile != "" {
		stops = append(stops, func() {
			f, err := os.Create(memprofile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
				return
			}
			defer f.Close()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
			}
		})
	}
	return stop, nil
}

// Execute runs the command line and returns the error of the command that
// failed, if any.
func Execute() error {
	// Bypass fang's markdown rendering with --no-tui, --json or a pipe.
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--json" || arg == "-j" {
			noTUI = true
			break
		}
	}
	if !noTUI && !isTerminal() {
		noTUI = true
	}

	if noTUI {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		return rootCmd.ExecuteContext(ctx)
	}
	return fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	)
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %v", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %v", err)
	}
	return cwd, nil
}
