package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kilometers-ai/plugsync/internal/application/services"
	"github.com/kilometers-ai/plugsync/internal/core/classify"
	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
)

// NewSnapshotCommand creates the snapshot command
func NewSnapshotCommand(app *App) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Record the installed plugins as the shared snapshot",
		Long: `Rewrite the snapshot from the plugins installed on this machine and
commit it when plugin or marketplace membership changed.

Unlike a sync cycle, plugins listed in the previous snapshot but not
installed here are dropped, so this is how an uninstall reaches other
machines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.Container(cmd)
			if err != nil {
				return err
			}
			snap, change, result, err := c.Snapshots.Sync(cmd.Context())
			if err != nil {
				return fmt.Errorf("snapshot failed: %w", err)
			}
			if !quiet {
				printSnapshot(app.Out, snap, change, result)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print nothing on success")

	return cmd
}

func printSnapshot(w io.Writer, snap *plugindomain.Snapshot, change classify.Change, result services.PublishResult) {
	fmt.Fprintf(w, "%s %d plugins, %d marketplaces\n", titleStyle.Render("Snapshot"), snap.Len(), len(snap.Registries))
	for _, id := range change.Added {
		fmt.Fprintf(w, "  %s %s\n", okStyle.Render("+"), id)
	}
	for _, id := range change.Removed {
		fmt.Fprintf(w, "  %s %s\n", errorStyle.Render("-"), id)
	}
	for _, name := range change.RegistriesAdded {
		fmt.Fprintf(w, "  %s marketplace %s\n", okStyle.Render("+"), name)
	}
	for _, name := range change.RegistriesRemoved {
		fmt.Fprintf(w, "  %s marketplace %s\n", errorStyle.Render("-"), name)
	}
	for _, v := range change.VersionChanges {
		fmt.Fprintf(w, "  %s %s %s -> %s\n", warnStyle.Render("~"), v.Identity, v.From, v.To)
	}

	switch {
	case result.Pushed:
		fmt.Fprintln(w, okStyle.Render("Committed and pushed"))
	case result.Committed:
		fmt.Fprintln(w, warnStyle.Render("Committed, not pushed"))
	case change.ShouldPush():
		fmt.Fprintln(w, mutedStyle.Render("Written, not committed: git sync is off, the home is not a repository or the file is already committed"))
	default:
		fmt.Fprintln(w, mutedStyle.Render("No membership change; nothing to commit"))
	}
}
