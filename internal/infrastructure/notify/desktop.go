// Package notify sends desktop notifications through the platform's own
// tooling.
package notify

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/kilometers-ai/plugsync/internal/core/domain/process"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	procp "github.com/kilometers-ai/plugsync/internal/core/ports/process"
)

// AppName is shown as the notification heading.
const AppName = "Claude Plugins"

// Timeout bounds one notification command.
const Timeout = 10 * time.Second

// Desktop implements pluginports.Notifier with osascript, notify-send or a
// PowerShell toast depending on goos.
type Desktop struct {
	runner procp.Runner
	goos   string
	logger hclog.Logger
}

// NewDesktop creates a notifier for the running platform.
func NewDesktop(runner procp.Runner, logger hclog.Logger) *Desktop {
	return NewDesktopFor(runner, runtime.GOOS, logger)
}

// NewDesktopFor creates a notifier for goos.
func NewDesktopFor(runner procp.Runner, goos string, logger hclog.Logger) *Desktop {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Desktop{runner: runner, goos: goos, logger: logger}
}

// Notify shows title and message. Unsupported platforms are a no-op.
func (d *Desktop) Notify(ctx context.Context, title, message string) error {
	cmd, ok, err := d.command(title, message)
	if err != nil || !ok {
		return err
	}

	res, err := d.runner.Run(ctx, cmd.WithTimeout(Timeout))
	if err != nil {
		return fmt.Errorf("notification failed: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("notification failed (exit %d): %s", res.ExitCode, res.ErrorText())
	}
	d.logger.Debug("notification sent", "title", title)
	return nil
}

func (d *Desktop) command(title, message string) (process.Command, bool, error) {
	var (
		cmd process.Command
		err error
	)
	switch d.goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s" subtitle "%s"`,
			EscapeAppleScript(message), AppName, EscapeAppleScript(title))
		cmd, err = process.NewCommand("osascript", "-e", script)
	case "linux":
		cmd, err = process.NewCommand("notify-send", AppName, title+": "+message)
	case "windows":
		cmd, err = process.NewCommand("powershell", "-NoProfile", "-Command", toastScript(title, message))
	default:
		return process.Command{}, false, nil
	}
	return cmd, err == nil, err
}

// EscapeAppleScript escapes text for a double-quoted AppleScript string.
func EscapeAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// EscapePowerShell escapes text for a double-quoted PowerShell string.
func EscapePowerShell(s string) string {
	return strings.NewReplacer("`", "``", `"`, "`\"", "$", "`$").Replace(s)
}

func toastScript(title, message string) string {
	text := EscapePowerShell(title) + ": " + EscapePowerShell(message)
	return strings.Join([]string{
		`[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null`,
		`$template = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02)`,
		`$toastXml = [xml] $template.GetXml()`,
		`$toastXml.GetElementsByTagName("text")[0].AppendChild($toastXml.CreateTextNode("` + AppName + `")) | Out-Null`,
		`$toastXml.GetElementsByTagName("text")[1].AppendChild($toastXml.CreateTextNode("` + text + `")) | Out-Null`,
		`$xml = New-Object Windows.Data.Xml.Dom.XmlDocument`,
		`$xml.LoadXml($toastXml.OuterXml)`,
		`$toast = [Windows.UI.Notifications.ToastNotification]::new($xml)`,
		`[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("` + AppName + `").Show($toast)`,
	}, "\n")
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, string, string) error { return nil }

var (
	_ pluginports.Notifier = (*Desktop)(nil)
	_ pluginports.Notifier = Discard{}
)
