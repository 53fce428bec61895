package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"howett.net/plist"

	"github.com/kilometers-ai/plugsync/internal/core/domain/process"
	procp "github.com/kilometers-ai/plugsync/internal/core/ports/process"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/fsutil"
)

const (
	LaunchdLabel = "com.claude.auto-manager"
	UnitName     = "claude-auto-manager"
	CronMarker   = "# claude-auto-manager"
	StartDelay   = 30
)

const commandTimeout = 10 * time.Second

// Config locates the service files and the command they start.
type Config struct {
	UserHome   string
	Executable string
	LogFile    string
}

// Status describes the service on this machine.
type Status struct {
	Platform  Platform
	Installed bool
	Location  string
}

// Manager installs, removes and inspects the startup service.
type Manager struct {
	runner procp.Runner
	cfg    Config
	probe  Probe
	logger hclog.Logger
}

func NewManager(runner procp.Runner, cfg Config, probe Probe, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{runner: runner, cfg: cfg, probe: probe, logger: logger}
}

func (m *Manager) PlistPath() string {
	return filepath.Join(m.cfg.UserHome, "Library", "LaunchAgents", LaunchdLabel+".plist")
}

func (m *Manager) UnitPath() string {
	return filepath.Join(m.cfg.UserHome, ".config", "systemd", "user", UnitName+".service")
}

// Status inspects the service without changing anything.
func (m *Manager) Status(ctx context.Context) Status {
	p := m.detect(ctx)
	st := Status{Platform: p, Installed: true}
	switch p {
	case PlatformMacOS:
		st.Location = m.PlistPath()
		st.Installed = m.exists(st.Location)
	case PlatformSystemd:
		st.Location = m.UnitPath()
		st.Installed = m.exists(st.Location)
	case PlatformCron:
		st.Location = CronMarker
		crontab, err := m.readCrontab(ctx)
		st.Installed = err == nil && strings.Contains(crontab, CronMarker)
	}
	return st
}

// EnsureInstalled installs the service when the platform supports one and
// it is missing. It reports whether it installed.
func (m *Manager) EnsureInstalled(ctx context.Context) (bool, error) {
	st := m.Status(ctx)
	if st.Installed {
		return false, nil
	}
	m.logger.Info("startup service missing, installing", "platform", st.Platform)
	if _, err := m.Install(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Install writes the service definition for the detected platform.
func (m *Manager) Install(ctx context.Context) (Platform, error) {
	p := m.detect(ctx)
	var err error
	switch p {
	case PlatformMacOS:
		err = m.installLaunchd(ctx)
	case PlatformSystemd:
		err = m.installSystemd(ctx)
	case PlatformCron:
		err = m.installCron(ctx)
	default:
		m.logger.Info("no startup service on this platform", "platform", p)
	}
	return p, err
}

// Uninstall removes the service definition for the detected platform.
func (m *Manager) Uninstall(ctx context.Context) (Platform, error) {
	p := m.detect(ctx)
	var err error
	switch p {
	case PlatformMacOS:
		if m.exists(m.PlistPath()) {
			m.run(ctx, "", "launchctl", "unload", m.PlistPath())
			err = removeIfExists(m.PlistPath())
		}
	case PlatformSystemd:
		m.run(ctx, "", "systemctl", "--user", "disable", "--now", UnitName)
		if err = removeIfExists(m.UnitPath()); err == nil {
			m.run(ctx, "", "systemctl", "--user", "daemon-reload")
		}
	case PlatformCron:
		err = m.uninstallCron(ctx)
	}
	return p, err
}

// launchAgent is the plist written to ~/Library/LaunchAgents.
type launchAgent struct {
	Label                string            `plist:"Label"`
	ProgramArguments     []string          `plist:"ProgramArguments"`
	RunAtLoad            bool              `plist:"RunAtLoad"`
	StandardOutPath      string            `plist:"StandardOutPath"`
	StandardErrorPath    string            `plist:"StandardErrorPath"`
	EnvironmentVariables map[string]string `plist:"EnvironmentVariables"`
	ThrottleInterval     int               `plist:"ThrottleInterval"`
}

func (m *Manager) startScript() string {
	return fmt.Sprintf("sleep %d && %s run", StartDelay, ShellQuote(m.cfg.Executable))
}

func (m *Manager) installLaunchd(ctx context.Context) error {
	data, err := plist.MarshalIndent(launchAgent{
		Label:             LaunchdLabel,
		ProgramArguments:  []string{"/bin/sh", "-c", m.startScript()},
		RunAtLoad:         true,
		StandardOutPath:   m.cfg.LogFile,
		StandardErrorPath: m.cfg.LogFile,
		EnvironmentVariables: map[string]string{
			"PATH": "/opt/homebrew/bin:/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin",
			"HOME": m.cfg.UserHome,
		},
		ThrottleInterval: 60,
	}, plist.XMLFormat, "\t")
	if err != nil {
		return fmt.Errorf("failed to encode launch agent: %w", err)
	}
	if err := fsutil.WriteFileAtomic(m.PlistPath(), data, 0o644); err != nil {
		return err
	}

	// the agent loads at next login even when launchctl refuses now
	m.run(ctx, "", "launchctl", "unload", m.PlistPath())
	if res, ok := m.run(ctx, "", "launchctl", "load", m.PlistPath()); !ok {
		m.logger.Warn("launchctl load failed", "output", res.ErrorText())
	}
	return nil
}

func (m *Manager) unitFile() string {
	return fmt.Sprintf(`[Unit]
Description=Claude Plugin Auto-Manager
After=network.target

[Service]
Type=oneshot
ExecStart=/bin/sh -c '%s'
Environment=HOME=%s
Environment=PATH=/usr/local/bin:/usr/bin:/bin
StandardOutput=append:%s
StandardError=append:%s
RemainAfterExit=no

[Install]
WantedBy=default.target
`, strings.ReplaceAll(m.startScript(), "'", `'\''`), m.cfg.UserHome, m.cfg.LogFile, m.cfg.LogFile)
}

func (m *Manager) installSystemd(ctx context.Context) error {
	if err := fsutil.WriteFileAtomic(m.UnitPath(), []byte(m.unitFile()), 0o644); err != nil {
		return err
	}
	if res, ok := m.run(ctx, "", "systemctl", "--user", "daemon-reload"); !ok {
		return fmt.Errorf("systemctl daemon-reload failed: %s", res.ErrorText())
	}
	if res, ok := m.run(ctx, "", "systemctl", "--user", "enable", UnitName); !ok {
		return fmt.Errorf("systemctl enable failed: %s", res.ErrorText())
	}
	return nil
}

func (m *Manager) cronLine() string {
	return fmt.Sprintf("@reboot %s >> %s 2>&1 %s", m.startScript(), ShellQuote(m.cfg.LogFile), CronMarker)
}

func (m *Manager) installCron(ctx context.Context) error {
	current, err := m.readCrontab(ctx)
	if err != nil {
		return err
	}
	lines := withoutMarker(current)
	lines = append(lines, m.cronLine())
	return m.writeCrontab(ctx, strings.Join(lines, "\n")+"\n")
}

func (m *Manager) uninstallCron(ctx context.Context) error {
	current, err := m.readCrontab(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(current, CronMarker) {
		return nil
	}
	lines := withoutMarker(current)
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	return m.writeCrontab(ctx, content)
}

// readCrontab returns the user's crontab; "no crontab" reads as empty.
func (m *Manager) readCrontab(ctx context.Context) (string, error) {
	res, ok := m.run(ctx, "", "crontab", "-l")
	if ok {
		return res.Stdout, nil
	}
	if res.ExitCode > 0 {
		return "", nil
	}
	return "", fmt.Errorf("crontab -l failed: %s", res.ErrorText())
}

func (m *Manager) writeCrontab(ctx context.Context, content string) error {
	if res, ok := m.run(ctx, content, "crontab", "-"); !ok {
		return fmt.Errorf("crontab install failed: %s", res.ErrorText())
	}
	return nil
}

func (m *Manager) run(ctx context.Context, stdin, exe string, args ...string) (process.Result, bool) {
	cmd, err := process.NewCommand(exe, args...)
	if err != nil {
		return process.Result{ExitCode: -1}, false
	}
	cmd = cmd.WithTimeout(commandTimeout)
	if stdin != "" {
		cmd = cmd.WithStdin(stdin)
	}
	res, err := m.runner.Run(ctx, cmd)
	if err != nil {
		m.logger.Debug("service command could not start", "command", exe, "error", err)
		return process.Result{ExitCode: -1, Stderr: err.Error()}, false
	}
	return res, res.Success()
}

func withoutMarker(crontab string) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(crontab, "\n"), "\n") {
		if line == "" && len(lines) == 0 {
			continue
		}
		if strings.Contains(line, CronMarker) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func (m *Manager) exists(path string) bool {
	if m.probe.Exists == nil {
		_, err := os.Stat(path)
		return err == nil
	}
	return m.probe.Exists(path)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ShellQuote single-quotes s for /bin/sh when it contains anything beyond
// plain path characters.
func ShellQuote(s string) string {
	if s != "" && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789/._-+:@=,~") == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
