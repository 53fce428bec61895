// Package service installs plugsync as a login-time service: a launchd
// agent on macOS, a systemd user unit or a cron @reboot line on Linux.
package service

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/kilometers-ai/plugsync/internal/core/domain/process"
)

// Platform is the service mechanism available on this machine.
type Platform string

const (
	PlatformMacOS     Platform = "macos"
	PlatformSystemd   Platform = "linux_systemd"
	PlatformCron      Platform = "linux_cron"
	PlatformContainer Platform = "container"
	PlatformWindows   Platform = "windows"
	PlatformUnknown   Platform = "unknown"
)

// Managed reports whether plugsync installs a service on p. Other platforms
// count as installed and are never self-healed.
func (p Platform) Managed() bool {
	switch p {
	case PlatformMacOS, PlatformSystemd, PlatformCron:
		return true
	}
	return false
}

var containerEnv = []string{"REMOTE_CONTAINERS", "CODESPACES", "DEVCONTAINER", "KUBERNETES_SERVICE_HOST"}

// Probe holds the host facts platform detection reads.
type Probe struct {
	GOOS     string
	Getenv   func(string) string
	Exists   func(string) bool
	LookPath func(string) (string, error)
}

// OSProbe reads the running system.
func OSProbe(goos string) Probe {
	return Probe{
		GOOS:   goos,
		Getenv: os.Getenv,
		Exists: func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		},
		LookPath: exec.LookPath,
	}
}

// InContainer reports whether the process runs inside a container or a
// remote development environment.
func (p Probe) InContainer() bool {
	if p.Exists != nil && p.Exists("/.dockerenv") {
		return true
	}
	for _, name := range containerEnv {
		if p.Getenv != nil && p.Getenv(name) != "" {
			return true
		}
	}
	return false
}

func (m *Manager) detect(ctx context.Context) Platform {
	if m.probe.InContainer() {
		return PlatformContainer
	}
	switch m.probe.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		if m.userSystemd(ctx) {
			return PlatformSystemd
		}
		return PlatformCron
	}
	return PlatformUnknown
}

// userSystemd checks for a reachable user manager. `systemctl --user status`
// exits 0, 1 or 3 when one answers.
func (m *Manager) userSystemd(ctx context.Context) bool {
	if m.probe.LookPath == nil {
		return false
	}
	if _, err := m.probe.LookPath("systemctl"); err != nil {
		return false
	}
	cmd, err := process.NewCommand("systemctl", "--user", "status")
	if err != nil {
		return false
	}
	res, err := m.runner.Run(ctx, cmd.WithTimeout(5*time.Second))
	if err != nil || res.TimedOut {
		return false
	}
	switch res.ExitCode {
	case 0, 1, 3:
		return true
	}
	return false
}
