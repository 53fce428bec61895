package services

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"go.uber.org/multierr"

	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
)

// Maintenance groups the housekeeping a cycle does outside the plugin
// install and update flow. Every step logs its own failure and returns it.
type Maintenance struct {
	backups     pluginports.BackupCleaner
	hooks       pluginports.SessionHookStore
	startup     pluginports.StartupService
	assets      pluginports.AssetMirror
	settings    *configdomain.Settings
	hookCommand string
	logger      hclog.Logger
}

// MaintenanceDeps are the adapters Maintenance drives. Nil members are
// skipped.
type MaintenanceDeps struct {
	Backups     pluginports.BackupCleaner
	Hooks       pluginports.SessionHookStore
	Startup     pluginports.StartupService
	Assets      pluginports.AssetMirror
	HookCommand string
}

// NewMaintenance creates the housekeeping steps for settings.
func NewMaintenance(deps MaintenanceDeps, settings *configdomain.Settings, logger hclog.Logger) *Maintenance {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Maintenance{
		backups:     deps.Backups,
		hooks:       deps.Hooks,
		startup:     deps.Startup,
		assets:      deps.Assets,
		settings:    settings,
		hookCommand: deps.HookCommand,
		logger:      logger,
	}
}

// CleanBackups deletes the host's timestamped configuration backups.
func (m *Maintenance) CleanBackups(ctx context.Context) error {
	if m.backups == nil {
		return nil
	}
	if _, err := m.backups.CleanBackups(ctx); err != nil {
		m.logger.Warn("backup cleanup incomplete", "error", err)
		return err
	}
	return nil
}

// EnsureHook registers the session-start hook when enabled.
func (m *Maintenance) EnsureHook(ctx context.Context) error {
	if m.hooks == nil || !m.settings.Hook.Enabled || m.hookCommand == "" {
		return nil
	}
	change, err := m.hooks.EnsureSessionHook(ctx, m.hookCommand)
	if err != nil {
		m.logger.Error("failed to configure session hook", "error", err)
		return err
	}
	if change != pluginports.HookUnchanged {
		m.logger.Info("session hook configured", "change", change.String(), "command", m.hookCommand)
	}
	return nil
}

// EnsureService reinstalls the startup service when it went missing.
func (m *Maintenance) EnsureService(ctx context.Context) error {
	if m.startup == nil || !m.settings.Service.SelfHeal {
		return nil
	}
	installed, err := m.startup.EnsureInstalled(ctx)
	if err != nil {
		m.logger.Error("failed to restore startup service", "error", err)
		return err
	}
	if installed {
		m.logger.Info("startup service was missing and has been reinstalled")
	}
	return nil
}

// SyncAssets mirrors the rules file and skills when their toggles are on.
func (m *Maintenance) SyncAssets(ctx context.Context) (int, error) {
	if m.assets == nil {
		return 0, nil
	}
	total := 0
	var errs error
	if m.settings.GlobalSync.RulesEnabled {
		n, err := m.assets.SyncRules(ctx)
		total += n
		if err != nil {
			m.logger.Error("rules sync failed", "error", err)
			errs = multierr.Append(errs, err)
		}
	} else {
		m.logger.Debug("rules sync disabled")
	}
	if m.settings.GlobalSync.SkillsEnabled {
		n, err := m.assets.SyncSkills(ctx)
		total += n
		if err != nil {
			m.logger.Error("skills sync failed", "error", err)
			errs = multierr.Append(errs, err)
		}
	} else {
		m.logger.Debug("skills sync disabled")
	}
	return total, errs
}
