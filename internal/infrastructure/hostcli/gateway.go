// Package hostcli drives the host application's plugin subcommands.
package hostcli

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	"github.com/kilometers-ai/plugsync/internal/core/domain/process"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	procp "github.com/kilometers-ai/plugsync/internal/core/ports/process"
)

const (
	DefaultListTimeout    = 60 * time.Second
	DefaultInstallTimeout = 120 * time.Second
)

const (
	notInstalledMarker = "not installed"
	noPluginsMarker    = "no plugins installed"
)

// Config configures the gateway.
type Config struct {
	Command        string
	ListTimeout    time.Duration
	InstallTimeout time.Duration
}

// Gateway implements pluginports.HostCLI on top of a process runner.
type Gateway struct {
	runner procp.Runner
	cfg    Config
	logger hclog.Logger
}

// NewGateway creates a gateway. Zero config values fall back to defaults.
func NewGateway(runner procp.Runner, cfg Config, logger hclog.Logger) *Gateway {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = DefaultInstallTimeout
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Gateway{runner: runner, cfg: cfg, logger: logger}
}

// List returns the output of `plugin list`.
func (g *Gateway) List(ctx context.Context) (string, error) {
	res, err := g.run(ctx, "list", "", g.cfg.ListTimeout, "plugin", "list")
	return res.Combined(), err
}

// Install runs `plugin install name@registry`.
func (g *Gateway) Install(ctx context.Context, id plugindomain.Identity) error {
	_, err := g.run(ctx, "install", id.String(), g.cfg.InstallTimeout, "plugin", "install", id.String())
	return err
}

// Update runs `plugin update name@registry`. When the host answers that the
// qualified name is not installed, it retries once with the bare name.
func (g *Gateway) Update(ctx context.Context, id plugindomain.Identity) error {
	_, err := g.run(ctx, "update", id.String(), g.cfg.InstallTimeout, "plugin", "update", id.String())
	if pluginports.OutcomeOf(err) != pluginports.OutcomeNotInstalled || !id.IsQualified() {
		return err
	}

	g.logger.Info("retrying update with bare name", "plugin", id.String(), "name", id.Name())
	_, err = g.run(ctx, "update", id.Name(), g.cfg.InstallTimeout, "plugin", "update", id.Name())
	return err
}

// UpdateRegistry runs `plugin marketplace update [name]`.
func (g *Gateway) UpdateRegistry(ctx context.Context, name string) error {
	args := []string{"plugin", "marketplace", "update"}
	if name != "" {
		args = append(args, name)
	}
	_, err := g.run(ctx, "marketplace update", name, g.cfg.InstallTimeout, args...)
	return err
}

// Available reports false when `plugin list` claims nothing is installed
// while the registry file lists plugins, which happens when the host has
// plugin management switched off. Probe failures count as available.
func (g *Gateway) Available(ctx context.Context, registered int) bool {
	if registered == 0 {
		return true
	}
	out, err := g.List(ctx)
	if err != nil && pluginports.OutcomeOf(err) != pluginports.OutcomeFailed {
		g.logger.Debug("plugin list probe failed, assuming available", "error", err)
		return true
	}
	if strings.Contains(strings.ToLower(out), noPluginsMarker) {
		g.logger.Warn("plugin management appears disabled: host lists no plugins but its registry has some",
			"registered", registered)
		return false
	}
	return true
}

func (g *Gateway) run(ctx context.Context, op, target string, timeout time.Duration, args ...string) (process.Result, error) {
	cmd, err := process.NewCommand(g.cfg.Command, args...)
	if err != nil {
		return process.Result{}, &pluginports.CommandError{Op: op, Target: target, Outcome: pluginports.OutcomeUnavailable, ExitCode: -1, Err: err}
	}
	cmd = cmd.WithTimeout(timeout)

	res, err := g.runner.Run(ctx, cmd)
	if err != nil {
		return res, &pluginports.CommandError{Op: op, Target: target, Outcome: pluginports.OutcomeUnavailable, ExitCode: -1, Err: err}
	}
	if res.Success() {
		g.logger.Debug("host command succeeded", "op", op, "target", target, "duration", res.Duration)
		return res, nil
	}
	return res, classify(op, target, res)
}

// classify maps a failed result to its typed outcome. The host prints
// "not installed" on either stream, so both are checked.
func classify(op, target string, res process.Result) error {
	e := &pluginports.CommandError{Op: op, Target: target, ExitCode: res.ExitCode, Output: firstLine(res.ErrorText())}
	switch {
	case res.TimedOut:
		e.Outcome = pluginports.OutcomeTimeout
	case strings.Contains(strings.ToLower(res.Combined()), notInstalledMarker):
		e.Outcome = pluginports.OutcomeNotInstalled
	default:
		e.Outcome = pluginports.OutcomeFailed
	}
	return e
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ pluginports.HostCLI = (*Gateway)(nil)
