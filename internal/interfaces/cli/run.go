package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilometers-ai/plugsync/internal/application/services"
)

// NewRunCommand creates the run command
func NewRunCommand(app *App) *cobra.Command {
	var forceUpdate, quiet bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync cycle",
		Long: `Run one sync cycle in the foreground.

Failures of individual steps are logged and do not change the exit code.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.Container(cmd)
			if err != nil {
				return err
			}
			report := c.Sync.Run(cmd.Context(), services.CycleOptions{ForceUpdate: forceUpdate})
			if !quiet {
				printCycle(app.Out, report)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&forceUpdate, "force-update", false, "Skip the cooldown and update marketplaces and plugins now")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print nothing; the log file still records the cycle")

	return cmd
}

// NewLaunchCommand creates the launch command used by the session hook
func NewLaunchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "launch",
		Short: "Start a detached sync cycle and return immediately",
		Long: `Start "plugsync run" as a detached background process writing to the log
file, then return. This is the command registered as the Claude Code
session-start hook.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.Container(cmd)
			if err != nil {
				return err
			}
			pid, err := c.Launcher.Launch(c.Settings.Paths.LogFile(), c.Executable, launchArgs(cmd)...)
			if err != nil {
				return fmt.Errorf("failed to start background cycle: %w", err)
			}
			c.Logger.Debug("background cycle started", "pid", pid)
			return nil
		},
	}
}

// launchArgs forwards explicitly set persistent flags to the child.
func launchArgs(cmd *cobra.Command) []string {
	args := []string{"run", "--quiet"}
	for _, name := range []string{"log-level", "home", "host-dir"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			args = append(args, "--"+name, f.Value.String())
		}
	}
	return args
}

func printCycle(w io.Writer, r *services.CycleReport) {
	switch r.Skipped {
	case services.SkipCooldown:
		fmt.Fprintln(w, mutedStyle.Render("Skipped: a cycle ran recently (use --force-update to run anyway)"))
		return
	case services.SkipSession:
		fmt.Fprintln(w, mutedStyle.Render("Skipped: running inside a Claude Code session"))
		return
	}

	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Cycle"), mutedStyle.Render(r.ID))
	fmt.Fprintf(w, "  Installed:   %d of %d missing\n", len(r.Reconcile.Installed), len(r.Reconcile.Missing))
	if n := len(r.Reconcile.Failed); n > 0 {
		fmt.Fprintf(w, "  %s\n", errorStyle.Render(fmt.Sprintf("Failed:      %d", n)))
	}
	if n := len(r.Reconcile.SkippedBackoff) + len(r.Reconcile.SkippedExhausted); n > 0 {
		fmt.Fprintf(w, "  Deferred:    %d\n", n)
	}
	if r.Update.Ran {
		fmt.Fprintf(w, "  Updated:     %d marketplace(s), %d plugin(s)\n", r.Update.RegistriesUpdated, len(r.Update.PluginsUpdated))
	}
	if r.Snapshot != nil {
		fmt.Fprintf(w, "  Snapshot:    %d plugins, %s\n", r.Snapshot.Len(), r.Change.Kind)
	}
	if r.Publish.Committed {
		pushed := "not pushed"
		if r.Publish.Pushed {
			pushed = "pushed"
		}
		fmt.Fprintf(w, "  Committed:   %s\n", pushed)
	}
	for _, err := range r.Errors {
		fmt.Fprintf(w, "  %s\n", errorStyle.Render(err.Error()))
	}
	fmt.Fprintf(w, "  %s\n", mutedStyle.Render("took "+r.Duration.Round(time.Millisecond).String()))
}
