package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/stride-run/stride/internal/config"
	"github.com/stride-run/stride/internal/engine"
	"github.com/stride-run/stride/internal/executor"
	"github.com/stride-run/stride/internal/fingerprint"
	"github.com/stride-run/stride/internal/graph"
	"github.com/stride-run/stride/internal/logging"
)

// DefaultTaskName is run when no task argument is given.
const DefaultTaskName = "default"

var (
	statusOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	statusSkipStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	statusFailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	taskNameStyle   = lipgloss.NewStyle().Bold(true)
)

// runTaskCommand is the root RunE: resolve the target task, build the plan,
// execute it, and report.
func runTaskCommand(cmd *cobra.Command, args []string) error {
	taskName := DefaultTaskName
	extraArgs := args
	if len(args) > 0 {
		taskName = args[0]
		extraArgs = args[1:]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	project, err := loadProject(ctx)
	if err != nil {
		return err
	}

	g, err := graph.Build(project.loaded.Config.Tasks)
	if err != nil {
		return err
	}
	if _, ok := g.Task(taskName); !ok {
		return &graph.UnknownTaskError{Task: taskName}
	}

	logger := logging.New("engine")
	store := fingerprint.OpenStore(project.loaded.Dir, logging.New("cache"))

	stdout := io.Writer(os.Stdout)
	stderr := io.Writer(os.Stderr)
	if project.redactor != nil {
		stdout = project.redactor.Wrap(stdout)
		stderr = project.redactor.Wrap(stderr)
	}

	coordinator := engine.New(project.loaded.Config, g, project.env, project.loaded.Dir,
		engine.WithLogger(logger),
		engine.WithStore(store),
		engine.WithOutput(stdout, stderr),
		engine.WithJobs(flagJobs),
		engine.WithDryRun(flagDryRun),
		engine.WithNoCache(flagNoCache),
	)

	summary, err := coordinator.Run(ctx, taskName, extraArgs)
	if err != nil {
		return err
	}

	printSummary(summary)

	if !summary.Success() {
		return fmt.Errorf("task %q failed", taskName)
	}
	return nil
}

// project bundles everything loaded and resolved before scheduling starts.
type project struct {
	loaded   *config.Loaded
	env      *config.ResolvedEnvironment
	redactor *logging.Redactor
}

// loadProject loads and merges the configuration, validates it, and
// resolves the environment (including dynamic $(command) values, which run
// through the same shell task commands will use). All structural errors
// abort here: nothing partially executes.
func loadProject(ctx context.Context) (*project, error) {
	var loaded *config.Loaded
	var err error
	if flagConfig != "" {
		loaded, err = config.LoadFile(flagConfig)
	} else {
		wd, wdErr := os.Getwd()
		if wdErr != nil {
			return nil, fmt.Errorf("getting working directory: %w", wdErr)
		}
		loaded, err = config.Load(wd)
	}
	if err != nil {
		return nil, err
	}

	if errs := config.Validate(loaded.Config); len(errs) > 0 {
		for _, e := range errs[1:] {
			logging.New("config").Error(e.Error())
		}
		return nil, errs[0]
	}
	for _, w := range config.Warnings(loaded.Config) {
		logging.New("config").Warn(w)
	}

	shell := executor.DetectShell(loaded.Config.Project.Shell)
	env, err := config.Resolve(loaded, os.Environ(), func(command string, environ []string) (string, error) {
		r := &executor.Runner{Shell: shell, Dir: loaded.Dir, Environ: environ}
		return r.Capture(ctx, command)
	})
	if err != nil {
		return nil, err
	}

	redactor := logging.NewRedactor(loaded.Config.Project.Secrets)
	if redactor != nil {
		logging.Redact(loaded.Config.Project.Secrets)
	}

	return &project{loaded: loaded, env: env, redactor: redactor}, nil
}

// printSummary writes the per-task outcome table to stdout.
func printSummary(summary *engine.Summary) {
	if len(summary.Results) == 0 {
		return
	}

	fmt.Println()
	for _, r := range summary.Results {
		fmt.Printf("  %s  %s%s\n", renderStatus(r), taskNameStyle.Render(r.Task), renderDetail(r))
	}
	fmt.Printf("\n%d tasks in %s\n", len(summary.Results), summary.Duration.Round(time.Millisecond))
}

func renderStatus(r engine.Result) string {
	switch r.Status {
	case engine.StatusExecuted:
		return statusOKStyle.Render("ok     ")
	case engine.StatusCached:
		return statusOKStyle.Render("cached ")
	case engine.StatusSkipped:
		return statusSkipStyle.Render("skipped")
	case engine.StatusFailed:
		if r.Ignored {
			return statusSkipStyle.Render("failed!")
		}
		return statusFailStyle.Render("FAILED ")
	default:
		return string(r.Status)
	}
}

func renderDetail(r engine.Result) string {
	switch {
	case r.Status == engine.StatusSkipped:
		return fmt.Sprintf("  (%s)", r.SkipReason)
	case r.Status == engine.StatusFailed && r.Ignored:
		return "  (ignored)"
	case r.Status == engine.StatusFailed && r.Err != nil:
		return "  " + firstLine(r.Err)
	case r.Status == engine.StatusExecuted && r.Attempts > 1:
		return fmt.Sprintf("  (%d attempts)", r.Attempts)
	default:
		return ""
	}
}

func firstLine(err error) string {
	msg := err.Error()
	for i, c := range msg {
		if c == '\n' {
			return msg[:i]
		}
	}
	return msg
}
