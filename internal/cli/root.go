// Package cli implements the stride command surface: a thin presentation
// layer over the execution engine.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stride-run/stride/internal/logging"
)

// Global flag values accessible to all subcommands.
var (
	flagVerbose bool
	flagQuiet   bool
	flagConfig  string
	flagDir     string
	flagDryRun  bool
	flagNoColor bool
	flagNoCache bool
	flagJobs    int
)

// rootCmd is the base command for Stride. Invoked without a subcommand it
// runs the given task (or "default").
var rootCmd = &cobra.Command{
	Use:   "stride [task] [-- args...]",
	Short: "Cross-platform task runner",
	Long: `Stride is a cross-platform task runner: declare named tasks with
dependencies, conditions, retries, and cache hints in stride.toml, and
Stride computes an execution plan, runs commands in the right order, and
skips work its content-addressable cache proves up to date.

Arguments after -- are passed through to the task's commands, replacing
$1..$n placeholders (or appended when no placeholder is used).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	RunE:          runTaskCommand,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Check env vars for flags not explicitly set on command line.
		if !cmd.Flags().Changed("verbose") && os.Getenv("STRIDE_VERBOSE") != "" {
			flagVerbose = true
		}
		if !cmd.Flags().Changed("quiet") && os.Getenv("STRIDE_QUIET") != "" {
			flagQuiet = true
		}
		if !cmd.Flags().Changed("no-color") && (os.Getenv("NO_COLOR") != "" || os.Getenv("STRIDE_NO_COLOR") != "") {
			flagNoColor = true
		}

		jsonFormat := os.Getenv("STRIDE_LOG_FORMAT") == "json"
		logging.Setup(flagVerbose, flagQuiet, jsonFormat)

		if flagNoColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}

		if flagDir != "" {
			if err := os.Chdir(flagDir); err != nil {
				return fmt.Errorf("changing directory to %s: %w", flagDir, err)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (debug) output (env: STRIDE_VERBOSE)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all output except errors (env: STRIDE_QUIET)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to stride.toml config file")
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Override working directory")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output (env: STRIDE_NO_COLOR, NO_COLOR)")

	rootCmd.Flags().BoolVarP(&flagDryRun, "dry-run", "d", false, "Print the execution plan without running commands")
	rootCmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "Ignore cached fingerprints for this run")
	rootCmd.Flags().IntVarP(&flagJobs, "jobs", "j", 0, "Maximum concurrently running tasks in a parallel group (default: CPU count)")

	// Accept snake_case spellings for multi-word flags (dry_run, no_cache).
	rootCmd.PersistentFlags().SetNormalizeFunc(normalizeFlag)
	rootCmd.Flags().SetNormalizeFunc(normalizeFlag)
}

// normalizeFlag maps underscore flag spellings to their hyphenated names.
func normalizeFlag(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// Execute runs the root command and returns the process exit code: 0 on
// overall success, non-zero on any non-ignored task failure or
// configuration error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		return 1
	}
	return 0
}

var errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
