package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	configinfra "github.com/kilometers-ai/plugsync/internal/infrastructure/config"
	"github.com/kilometers-ai/plugsync/internal/interfaces/di"
)

// NewConfigCommand creates the config command
func NewConfigCommand(app *App) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect the effective configuration.

Values come from built-in defaults, then config files, then PLUGSYNC_*
environment variables, then command-line flags; later sources win.`,
	}

	configCmd.AddCommand(NewConfigShowCommand(app))
	configCmd.AddCommand(NewConfigPathCommand(app))

	return configCmd
}

// NewConfigShowCommand creates the show subcommand
func NewConfigShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show every setting and where its value came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cmd, app)
			if err != nil {
				return err
			}
			printConfig(app.Out, loaded.Entries)
			return nil
		},
	}
}

// NewConfigPathCommand creates the path subcommand
func NewConfigPathCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the files and directories plugsync uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cmd, app)
			if err != nil {
				return err
			}
			p := loaded.Settings.Paths
			fmt.Fprintf(app.Out, "Home:      %s\n", p.Home)
			fmt.Fprintf(app.Out, "Host dir:  %s\n", p.HostDir)
			fmt.Fprintf(app.Out, "Snapshot:  %s\n", p.SnapshotFile())
			fmt.Fprintf(app.Out, "Log:       %s\n", p.LogFile())
			for _, f := range p.ConfigFiles() {
				fmt.Fprintf(app.Out, "Config:    %s\n", f)
			}
			return nil
		},
	}
}

// loadConfig reads settings without the rest of the container, so it
// neither opens nor rotates the log file.
func loadConfig(cmd *cobra.Command, app *App) (*configinfra.Loaded, error) {
	opts := app.Options
	opts.Flags = cmd.Flags()
	return di.LoadConfig(cmd.Context(), opts)
}

func printConfig(w io.Writer, entries configdomain.Snapshot) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, titleStyle.Render("Current Configuration:"))
	for _, k := range keys {
		e := entries[k]
		source := e.Source
		if e.SourcePath != "" {
			source += " " + e.SourcePath
		}
		fmt.Fprintf(w, "  %-32s %-24v %s\n", k, e.Value, mutedStyle.Render("("+source+")"))
	}
}
