package di

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"

	"github.com/kilometers-ai/plugsync/internal/application/services"
	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	configinfra "github.com/kilometers-ai/plugsync/internal/infrastructure/config"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/git"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/hostcli"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/hostfiles"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/logging"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/metrics"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/notify"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/process"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/service"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/state"
)

// FlagBindings maps persistent command-line flags to config keys.
var FlagBindings = map[string]string{
	"log-level": "log.level",
	"home":      "paths.home",
	"host-dir":  "paths.host_dir",
}

// Options configures NewContainer.
type Options struct {
	// UserHome defaults to os.UserHomeDir.
	UserHome string
	// Flags holds the parsed persistent flags; nil means none were given.
	Flags *pflag.FlagSet
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Stderr defaults to os.Stderr.
	Stderr *os.File
	// Executable defaults to os.Executable.
	Executable string
}

// Container holds all application dependencies
type Container struct {
	Settings   *configdomain.Settings
	Config     *configinfra.Loaded
	Logger     *logging.Logger
	Executable string

	Sync      *services.SyncService
	Snapshots *services.SnapshotService
	Status    *services.StatusService
	Service   *service.Manager
	Launcher  *process.Launcher
}

// LoadConfig resolves settings without building anything else.
func LoadConfig(ctx context.Context, opts Options) (*configinfra.Loaded, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	bootstrap := hclog.New(&hclog.LoggerOptions{Name: "plugsync", Level: hclog.Warn, Output: opts.Stderr})

	loader := configinfra.NewUnifiedLoader(
		opts.UserHome,
		configinfra.NewEnvLoaderFunc(opts.LookupEnv),
		configinfra.NewFlagLoader(opts.Flags, FlagBindings),
		configinfra.NewValidator(),
		bootstrap,
	)
	loaded, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return loaded, nil
}

// NewContainer loads configuration and wires every component.
func NewContainer(ctx context.Context, opts Options) (*Container, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	loaded, err := LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	settings := loaded.Settings
	paths := settings.Paths

	rotated, rotateErr := logging.DefaultRotator().Rotate(paths.LogFile())
	logger, err := logging.New(logging.Options{Level: settings.LogLevel, File: paths.LogFile(), Stderr: opts.Stderr})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	if rotateErr != nil {
		logger.Warn("log rotation failed", "error", rotateErr)
	} else if rotated {
		logger.Info("log rotated", "file", paths.LogFile())
	}

	c := &Container{
		Settings:   settings,
		Config:     loaded,
		Logger:     logger,
		Executable: opts.Executable,
	}
	c.initializeComponents()
	logger.Debug("container initialized", "home", paths.Home, "host_dir", paths.HostDir)
	return c, nil
}

func (c *Container) initializeComponents() {
	settings, paths, logger := c.Settings, c.Settings.Paths, c.Logger

	// 1. Process plumbing
	executor := process.NewExecutor(logger.Named("exec"))
	c.Launcher = process.NewLauncher(logger.Named("launch"))

	// 2. Host application
	host := hostcli.NewGateway(executor, hostcli.Config{
		Command:        settings.Host.Command,
		ListTimeout:    settings.Host.ListTimeout,
		InstallTimeout: settings.Host.InstallTimeout,
	}, logger.Named("host"))
	installed := hostfiles.NewInstalledFile(paths.InstalledPluginsFile(), logger.Named("installed"))
	registries := hostfiles.NewMarketplacesFile(paths.KnownMarketplacesFile(), logger.Named("registries"))

	// 3. Snapshot repository and local state
	repo := git.NewRepository(executor, paths.Home, git.DefaultTimeout, logger.Named("git"))
	snapshots := state.NewSnapshotStore(paths.Home, paths.SnapshotFile(), logger.Named("store"))
	ledger := state.NewLedgerStore(paths.LedgerFile(), logger.Named("ledger"))
	lastUpdate := state.NewTimestampStore(paths.LastUpdateFile())
	lastRun := state.NewTimestampStore(paths.LastRunFile())

	// 4. Reporting
	var notifier pluginports.Notifier = notify.Discard{}
	if settings.AutoUpdate.Notify {
		notifier = notify.NewDesktop(executor, logger.Named("notify"))
	}
	var recorder pluginports.CycleRecorder = metrics.Discard{}
	if settings.Metrics.Textfile != "" {
		recorder = metrics.NewTextfile(settings.Metrics.Textfile)
	}

	// 5. Housekeeping
	c.Service = service.NewManager(executor, service.Config{
		UserHome:   paths.UserHome,
		Executable: c.Executable,
		LogFile:    paths.LogFile(),
	}, service.OSProbe(runtime.GOOS), logger.Named("service"))

	maintenance := services.NewMaintenance(services.MaintenanceDeps{
		Backups: hostfiles.NewBackups(paths.HostDir, logger.Named("backups")),
		Hooks:   hostfiles.NewLocalSettingsFile(paths.HostLocalSettingsFile()),
		Startup: c.Service,
		Assets: hostfiles.NewAssets(hostfiles.AssetPaths{
			RulesSource:  paths.GlobalRulesSource(),
			RulesTarget:  paths.GlobalRulesTarget(),
			SkillsSource: paths.GlobalSkillsSource(),
			SkillsTarget: paths.GlobalSkillsTarget(),
		}, logger.Named("assets")),
		HookCommand: HookCommand(c.Executable),
	}, settings, logger.Named("maintenance"))

	// 6. Application services
	c.Sync = services.NewSyncService(services.SyncDependencies{
		Settings:     settings,
		Host:         host,
		Repo:         repo,
		Installed:    installed,
		Registration: installed,
		Registries:   registries,
		Enablement:   hostfiles.NewSettingsFile(paths.HostSettingsFile()),
		Snapshots:    snapshots,
		Ledger:       ledger,
		LastUpdate:   lastUpdate,
		LastRun:      lastRun,
		Notifier:     notifier,
		Recorder:     recorder,
		Maintenance:  maintenance,
		Logger:       logger.Named("cycle"),
	})
	c.Snapshots = c.Sync.Snapshots()
	c.Status = services.NewStatusService(settings, installed, snapshots, ledger, lastUpdate, lastRun)
}

// HookCommand is the session-start command registered with the host.
func HookCommand(executable string) string {
	if executable == "" {
		return ""
	}
	return service.ShellQuote(executable) + " launch"
}

// Shutdown releases the log file.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Logger == nil {
		return nil
	}
	return c.Logger.Close()
}

func (o Options) withDefaults() (Options, error) {
	if o.UserHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return o, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		o.UserHome = home
	}
	if o.LookupEnv == nil {
		o.LookupEnv = os.LookupEnv
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Executable == "" {
		if exe, err := os.Executable(); err == nil {
			o.Executable = exe
		}
	}
	return o, nil
}
