package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewServiceCommand creates the service command
func NewServiceCommand(app *App) *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the login-time service that runs a sync cycle",
		Long: `Manage the service that runs "plugsync run" shortly after login: a launchd
agent on macOS, a systemd user unit or a cron @reboot entry on Linux.`,
	}

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install the service for this platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.Container(cmd)
			if err != nil {
				return err
			}
			platform, err := c.Service.Install(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to install service: %w", err)
			}
			if !platform.Managed() {
				fmt.Fprintf(app.Out, "No service is installed on %s\n", platform)
				return nil
			}
			fmt.Fprintf(app.Out, "%s service installed (%s)\n", okStyle.Render("✓"), platform)
			return nil
		},
	})

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.Container(cmd)
			if err != nil {
				return err
			}
			platform, err := c.Service.Uninstall(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to remove service: %w", err)
			}
			fmt.Fprintf(app.Out, "Service removed (%s)\n", platform)
			return nil
		},
	})

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the service is installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.Container(cmd)
			if err != nil {
				return err
			}
			st := c.Service.Status(cmd.Context())
			state := errorStyle.Render("not installed")
			if st.Installed {
				state = okStyle.Render("installed")
			}
			fmt.Fprintf(app.Out, "Platform: %s\nService:  %s\n", st.Platform, state)
			if st.Location != "" {
				fmt.Fprintf(app.Out, "Location: %s\n", st.Location)
			}
			return nil
		},
	})

	return serviceCmd
}
