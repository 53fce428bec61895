package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
)

// LaunchBanner separates detached runs in the shared log file.
const LaunchBanner = "========================================"

// Launcher starts a command in its own session so it outlives the caller,
// with both output streams appended to a log file.
type Launcher struct {
	env    []string
	now    func() time.Time
	logger hclog.Logger
}

// NewLauncher creates a launcher that passes the current environment, minus
// the session markers, to its children.
func NewLauncher(logger hclog.Logger) *Launcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Launcher{env: os.Environ(), now: func() time.Time { return time.Now().UTC() }, logger: logger}
}

// Launch writes a header line to logFile, starts exe with args detached
// and returns its pid without waiting for it.
func (l *Launcher) Launch(logFile, exe string, args ...string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\n[%s] SessionStart triggered\n", LaunchBanner, l.now().Format("2006-01-02T15:04:05Z")); err != nil {
		return 0, fmt.Errorf("failed to write log header: %w", err)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.Env = CleanEnvironment(l.env)
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", exe, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		l.logger.Debug("failed to release child process", "pid", pid, "error", err)
	}
	l.logger.Debug("launched detached process", "pid", pid, "command", exe)
	return pid, nil
}
