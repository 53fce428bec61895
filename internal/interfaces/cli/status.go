package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kilometers-ai/plugsync/internal/application/services"
)

const rowFormat = "%-36s │ %-15s │ %-10s │ %-10s │ %s"

// NewStatusCommand creates the status command
func NewStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how installed plugins compare to the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.Container(cmd)
			if err != nil {
				return err
			}
			report, err := c.Status.Inspect(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(app.Out, report)
			return nil
		},
	}
}

// renderStatus lays out report. selected highlights a row (-1 for none);
// maxRows limits the table (0 for all).
func renderStatus(report *services.StatusReport, selected, maxRows int) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		renderSummary(report),
		dividerStyle.Render(strings.Repeat("─", 80)),
		renderPluginTable(report.Plugins, selected, maxRows),
	)
}

func renderSummary(r *services.StatusReport) string {
	snapshot := "none yet"
	if r.HasSnapshot {
		snapshot = fmt.Sprintf("%s, %d marketplaces", formatTime(r.SnapshotAt), len(r.Registries))
	}
	counts := fmt.Sprintf("%s synced  %s missing  %s retrying  %s gave up  %s unshared",
		okStyle.Render(fmt.Sprint(r.Count(services.StateSynced))),
		warnStyle.Render(fmt.Sprint(r.Count(services.StateMissing))),
		warnStyle.Render(fmt.Sprint(r.Count(services.StateRetrying))),
		errorStyle.Render(fmt.Sprint(r.Count(services.StateExhausted))),
		mutedStyle.Render(fmt.Sprint(r.Count(services.StateUnshared))),
	)
	lines := []string{
		fmt.Sprintf("Snapshot:    %s", snapshot),
		fmt.Sprintf("Last cycle:  %s", formatTime(r.LastRun)),
		fmt.Sprintf("Last update: %s (%s)", formatTime(r.LastUpdate), r.UpdateDue),
		counts,
	}
	if !r.RegistryFound {
		lines = append(lines, warnStyle.Render("Claude Code has not created its plugin registry yet"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderPluginTable(plugins []services.PluginStatus, selected, maxRows int) string {
	if len(plugins) == 0 {
		return mutedStyle.Render("\n  No plugins in the snapshot or installed.\n")
	}

	rows := []string{headerStyle.Render(fmt.Sprintf(rowFormat, "PLUGIN", "STATE", "WANT", "HAVE", "NOTE"))}
	start, end := 0, len(plugins)
	if maxRows > 0 && len(plugins) > maxRows {
		// keep the selection visible
		if selected >= maxRows {
			start = selected - maxRows + 1
		}
		end = start + maxRows
	}
	for i := start; i < end; i++ {
		p := plugins[i]
		row := fmt.Sprintf(rowFormat,
			truncateString(p.ID.String(), 36),
			stateStyle(p.State).Render(fmt.Sprintf("%-15s", p.State)),
			truncateString(p.DesiredVersion, 10),
			truncateString(p.InstalledVersion, 10),
			truncateString(pluginNote(p), 40),
		)
		if i == selected {
			row = lipgloss.NewStyle().Background(lipgloss.Color("240")).Render(row)
		}
		rows = append(rows, row)
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func pluginNote(p services.PluginStatus) string {
	switch p.State {
	case services.StateRetrying:
		return fmt.Sprintf("attempt %d, next %s", p.Attempts, p.NextRetry.Local().Format("15:04"))
	case services.StateExhausted:
		return fmt.Sprintf("%d attempts: %s", p.Attempts, p.LastError)
	case services.StateSynced, services.StateMissing:
		if !p.Enabled {
			return "disabled"
		}
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printStatus(w io.Writer, report *services.StatusReport) {
	fmt.Fprintln(w, renderStatus(report, -1, 0))
}
