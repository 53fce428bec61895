package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/kilometers-ai/plugsync/internal/interfaces/di"
)

var (
	Version   = "dev"     // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

// App carries what commands share. The container is built on first use,
// after cobra has parsed the persistent flags it reads.
type App struct {
	Options di.Options
	Out     io.Writer

	container *di.Container
}

// Container returns the wired dependencies for cmd.
func (a *App) Container(cmd *cobra.Command) (*di.Container, error) {
	if a.container != nil {
		return a.container, nil
	}
	opts := a.Options
	opts.Flags = cmd.Flags()
	c, err := di.NewContainer(cmd.Context(), opts)
	if err != nil {
		return nil, err
	}
	a.container = c
	return c, nil
}

// Close releases the container, if one was built.
func (a *App) Close(ctx context.Context) error {
	if a.container == nil {
		return nil
	}
	return a.container.Shutdown(ctx)
}

// NewRootCommand represents the base command when called without any subcommands
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "plugsync",
		Short: "Keep Claude Code plugins in sync across machines",
		Long: `plugsync keeps the plugins and marketplaces installed in Claude Code
consistent across machines through a snapshot file in a git repository.

Each cycle pulls the snapshot, installs what is missing, optionally updates
marketplaces and plugins, rewrites the snapshot and pushes it when plugin or
marketplace membership changed.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nBuild time: %s\nGo version: %s\nPlatform: %s/%s\n",
		BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH))

	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("home", "", "Snapshot repository (default ~/.claude/plugins/auto-manager)")
	rootCmd.PersistentFlags().String("host-dir", "", "Claude Code directory (default ~/.claude)")

	rootCmd.AddCommand(NewRunCommand(app))
	rootCmd.AddCommand(NewLaunchCommand(app))
	rootCmd.AddCommand(NewSnapshotCommand(app))
	rootCmd.AddCommand(NewStatusCommand(app))
	rootCmd.AddCommand(NewDashboardCommand(app))
	rootCmd.AddCommand(NewServiceCommand(app))
	rootCmd.AddCommand(NewConfigCommand(app))

	return rootCmd
}

// goVersion returns the Go version used to build the binary
func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	app := &App{Out: os.Stdout}
	rootCmd := NewRootCommand(app)
	defer app.Close(ctx)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
