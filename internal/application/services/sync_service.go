package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"go.uber.org/multierr"

	"github.com/kilometers-ai/plugsync/internal/core/classify"
	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/core/reconcile"
	"github.com/kilometers-ai/plugsync/internal/core/retry"
)

// SessionEnv is set by the host in every process it starts for a session.
const SessionEnv = "CLAUDECODE"

// State names one step of a sync cycle.
type State string

const (
	StateSelfRegister   State = "SELF_REGISTER"
	StateMaintenance    State = "MAINTENANCE"
	StateCooldown       State = "COOLDOWN"
	StateRemotePull     State = "REMOTE_PULL"
	StateSessionCheck   State = "SESSION_CHECK"
	StateLoadState      State = "LOAD_STATE"
	StateSyncRegistries State = "SYNC_REGISTRIES"
	StateReconcile      State = "RECONCILE"
	StateSyncAssets     State = "SYNC_ASSETS"
	StateMaybeUpdate    State = "MAYBE_UPDATE"
	StateRegenerate     State = "REGENERATE_SNAPSHOT"
	StateClassify       State = "CLASSIFY_CHANGE"
	StatePush           State = "CONDITIONAL_PUSH"
	StateNotify         State = "NOTIFY"
	StateDone           State = "DONE"
)

// SkipReason explains a cycle that stopped early.
type SkipReason string

const (
	SkipNone     SkipReason = ""
	SkipCooldown SkipReason = "cooldown"
	SkipSession  SkipReason = "session"
)

// Notification titles.
const (
	TitleInstall = "Auto-Install"
	TitleUpdate  = "Auto-Update"
)

// StateError is a failure caught while running one state.
type StateError struct {
	State State
	Err   error
}

func (e *StateError) Error() string { return fmt.Sprintf("%s: %v", e.State, e.Err) }
func (e *StateError) Unwrap() error { return e.Err }

// errPanic wraps a recovered panic value.
var errPanic = errors.New("panic")

// Notification is one queued desktop notification.
type Notification struct {
	Title   string
	Message string
}

// CycleOptions are the per-invocation switches.
type CycleOptions struct {
	ForceUpdate bool
}

// CycleReport describes what one cycle did.
type CycleReport struct {
	ID              string
	StartedAt       time.Time
	Duration        time.Duration
	Skipped         SkipReason
	Pulled          bool
	Desired         *plugindomain.Snapshot
	RegistriesAdded []string
	Reconcile       reconcile.Result
	AssetsSynced    int
	Update          UpdateResult
	Snapshot        *plugindomain.Snapshot
	Change          classify.Change
	Publish         PublishResult
	Notifications   []Notification
	Errors          []error
}

// Stats converts the report to exported statistics.
func (r *CycleReport) Stats(registrationFailed bool) pluginports.CycleStats {
	return pluginports.CycleStats{
		StartedAt:          r.StartedAt,
		Duration:           r.Duration,
		Skipped:            string(r.Skipped),
		InstallsAttempted:  len(r.Reconcile.Attempted),
		InstallsSucceeded:  len(r.Reconcile.Installed),
		InstallsFailed:     len(r.Reconcile.Failed),
		RetriesExhausted:   len(r.Reconcile.SkippedExhausted),
		UpdateRan:          r.Update.Ran,
		UpdateFailures:     r.Update.Failures(),
		PluginsInSnapshot:  r.Snapshot.Len(),
		Structural:         r.Change.Kind == classify.Structural,
		Pushed:             r.Publish.Pushed,
		RegistrationFailed: registrationFailed,
		Errors:             len(r.Errors),
	}
}

// SyncDependencies wires the orchestrator to its adapters. Repo, Recorder,
// Notifier and Maintenance may be nil.
type SyncDependencies struct {
	Settings     *configdomain.Settings
	Host         pluginports.HostCLI
	Repo         pluginports.VersionControl
	Installed    pluginports.InstalledSource
	Registration pluginports.RegistrationStore
	Registries   pluginports.RegistrySource
	Enablement   pluginports.EnablementSource
	Snapshots    pluginports.SnapshotStore
	Ledger       pluginports.LedgerStore
	LastUpdate   pluginports.TimestampStore
	LastRun      pluginports.TimestampStore
	Notifier     pluginports.Notifier
	Recorder     pluginports.CycleRecorder
	Maintenance  *Maintenance
	Getenv       func(string) string
	Now          func() time.Time
	Logger       hclog.Logger
}

// SyncService runs one reconciliation cycle per call to Run.
type SyncService struct {
	deps      SyncDependencies
	settings  *configdomain.Settings
	guard     *RegistrationGuard
	snapshots *SnapshotService
	updates   *UpdateService
	registry  *RegistrySync
	logger    hclog.Logger
	now       func() time.Time
	getenv    func(string) string
}

// NewSyncService creates the orchestrator.
func NewSyncService(deps SyncDependencies) *SyncService {
	logger := deps.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	getenv := deps.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	s := &SyncService{
		deps:     deps,
		settings: deps.Settings,
		logger:   logger,
		now:      now,
		getenv:   getenv,
	}

	s.guard = NewRegistrationGuard(deps.Registration, deps.Settings.Paths.Home, logger.Named("guard"))
	s.guard.now = now

	s.snapshots = NewSnapshotService(deps.Installed, deps.Enablement, deps.Registries, deps.Snapshots, deps.Repo,
		PublishOptions{GitEnabled: deps.Settings.GitSync.Enabled, AutoPush: deps.Settings.GitSync.AutoPush},
		logger.Named("snapshot"))
	s.snapshots.now = now

	s.updates = NewUpdateService(deps.Host, deps.Registries, deps.Installed, deps.LastUpdate, s.guard,
		UpdateOptions{IntervalHours: deps.Settings.AutoUpdate.IntervalHours, Parallelism: deps.Settings.AutoUpdate.Parallelism},
		logger.Named("update"))
	s.updates.now = now

	s.registry = NewRegistrySync(deps.Registries, deps.Host, s.guard, logger.Named("registry"))
	return s
}

// Guard returns the registration guard shared by every step.
func (s *SyncService) Guard() *RegistrationGuard { return s.guard }

// Snapshots returns the snapshot service the cycle publishes through.
func (s *SyncService) Snapshots() *SnapshotService { return s.snapshots }

// Run executes one cycle. Item failures and caught panics are recorded in
// the report; Run itself never fails.
func (s *SyncService) Run(ctx context.Context, opts CycleOptions) *CycleReport {
	report := &CycleReport{ID: uuid.NewString(), StartedAt: s.now()}
	logger := s.logger.With("cycle", report.ID)
	logger.Info("sync cycle started", "force_update", opts.ForceUpdate)

	defer func() {
		report.Duration = s.now().Sub(report.StartedAt)
		s.record(ctx, logger, report)
		logger.Info("sync cycle finished",
			"skipped", string(report.Skipped),
			"errors", len(report.Errors),
			"duration", report.Duration.Round(time.Millisecond))
	}()

	s.step(ctx, logger, report, StateSelfRegister, func(ctx context.Context) error {
		return s.guard.EnsureRegistered(ctx)
	})
	s.step(ctx, logger, report, StateMaintenance, s.maintain)

	if !opts.ForceUpdate && s.inCooldown(ctx, logger) {
		report.Skipped = SkipCooldown
		return report
	}

	s.step(ctx, logger, report, StateRemotePull, func(ctx context.Context) error {
		return s.pull(ctx, logger, report)
	})

	if s.getenv(SessionEnv) != "" {
		logger.Info("running inside a host session, skipping plugin operations")
		report.Skipped = SkipSession
		return report
	}
	if err := s.deps.LastRun.Save(ctx, report.StartedAt); err != nil {
		logger.Warn("failed to save run marker", "error", err)
	}

	var (
		ledger   *retry.Ledger
		observed *plugindomain.ObservedState
	)
	s.step(ctx, logger, report, StateLoadState, func(ctx context.Context) error {
		var err error
		report.Desired, ledger, observed, err = s.load(ctx, logger)
		return err
	})

	if report.Desired != nil {
		s.step(ctx, logger, report, StateSyncRegistries, func(ctx context.Context) error {
			added, err := s.registry.Run(ctx, report.Desired)
			report.RegistriesAdded = added
			return err
		})
	}

	s.step(ctx, logger, report, StateReconcile, func(ctx context.Context) error {
		return s.reconcile(ctx, logger, report, ledger, observed)
	})

	s.step(ctx, logger, report, StateSyncAssets, func(ctx context.Context) error {
		if s.deps.Maintenance == nil {
			return nil
		}
		n, err := s.deps.Maintenance.SyncAssets(ctx)
		report.AssetsSynced = n
		return err
	})

	s.step(ctx, logger, report, StateMaybeUpdate, func(ctx context.Context) error {
		return s.update(ctx, logger, report, opts)
	})

	var prev *plugindomain.Snapshot
	s.step(ctx, logger, report, StateRegenerate, func(ctx context.Context) error {
		var err error
		prev, report.Snapshot, err = s.snapshots.Regenerate(ctx, report.Desired)
		return err
	})
	if report.Snapshot != nil {
		s.step(ctx, logger, report, StateClassify, func(ctx context.Context) error {
			report.Change = s.snapshots.Classify(prev, report.Snapshot)
			return nil
		})
		s.step(ctx, logger, report, StatePush, func(ctx context.Context) error {
			var err error
			report.Publish, err = s.snapshots.Publish(ctx, report.Snapshot, report.Change)
			return err
		})
	}

	s.step(ctx, logger, report, StateNotify, func(ctx context.Context) error {
		return s.notify(ctx, logger, report)
	})
	return report
}

// step runs fn, converting an error or panic into a logged StateError.
func (s *SyncService) step(ctx context.Context, logger hclog.Logger, report *CycleReport, state State, fn func(context.Context) error) {
	if ctx.Err() != nil {
		report.Errors = append(report.Errors, &StateError{State: state, Err: ctx.Err()})
		logger.Warn("cycle cancelled", "state", string(state))
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("recovered panic", "state", string(state), "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("%w: %v", errPanic, r)
			}
		}()
		logger.Trace("entering state", "state", string(state))
		return fn(ctx)
	}()
	if err != nil {
		logger.Error("state failed", "state", string(state), "error", err)
		report.Errors = append(report.Errors, &StateError{State: state, Err: err})
	}
}

func (s *SyncService) maintain(ctx context.Context) error {
	m := s.deps.Maintenance
	if m == nil {
		return nil
	}
	// Each step reports its own failure; one failing must not skip the rest.
	return multierr.Combine(m.CleanBackups(ctx), m.EnsureHook(ctx), m.EnsureService(ctx))
}

func (s *SyncService) inCooldown(ctx context.Context, logger hclog.Logger) bool {
	if s.settings.Cooldown <= 0 {
		return false
	}
	last, err := s.deps.LastRun.Load(ctx)
	if err != nil {
		logger.Warn("failed to read run marker", "error", err)
		return false
	}
	if last.IsZero() {
		return false
	}
	elapsed := s.now().Sub(last)
	if elapsed < 0 || elapsed >= s.settings.Cooldown {
		return false
	}
	logger.Info("skipping cycle, previous run was recent",
		"elapsed", elapsed.Round(time.Second), "cooldown", s.settings.Cooldown)
	return true
}

func (s *SyncService) pull(ctx context.Context, logger hclog.Logger, report *CycleReport) error {
	if !s.settings.GitSync.Enabled {
		logger.Debug("git sync disabled, not pulling")
		return nil
	}
	if s.deps.Repo == nil || !s.deps.Repo.IsRepo() {
		logger.Debug("plugsync home is not a git repository, not pulling")
		return nil
	}
	if _, err := s.snapshots.DiscardUnpublished(ctx); err != nil {
		logger.Warn("could not check the snapshot for local changes", "error", err)
	}
	out, err := s.deps.Repo.Pull(ctx)
	if err != nil {
		logger.Warn("pull failed, continuing with the local snapshot", "error", err)
		return nil
	}
	report.Pulled = true
	logger.Info("pulled snapshot repository", "result", out)
	return nil
}

func (s *SyncService) load(ctx context.Context, logger hclog.Logger) (*plugindomain.Snapshot, *retry.Ledger, *plugindomain.ObservedState, error) {
	policy := retry.Policy{RetryInterval: s.settings.Retry.Interval, MaxRetryCount: s.settings.Retry.MaxCount}

	entries, err := s.deps.Ledger.Load(ctx)
	if err != nil {
		logger.Warn("failed to read retry ledger, starting empty", "error", err)
		entries = nil
	}
	ledger := retry.NewLedger(policy, entries)

	observed, err := s.deps.Installed.Observe(ctx)
	if err != nil {
		if !errors.Is(err, pluginports.ErrRegistryFileMissing) {
			return nil, ledger, nil, fmt.Errorf("failed to read installed plugins: %w", err)
		}
		logger.Warn("installed plugin registry not found, treating as empty")
		observed = plugindomain.NewObservedState()
	}

	desired, err := s.deps.Snapshots.Load(ctx)
	if err != nil {
		return nil, ledger, observed, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if desired == nil {
		logger.Info("no snapshot found, nothing to reconcile")
		return nil, ledger, observed, nil
	}
	for _, problem := range desired.Sanitize() {
		logger.Warn("ignoring snapshot entry", "problem", problem)
	}
	logger.Debug("state loaded", "desired", desired.Len(), "installed", len(observed.Plugins), "ledger", ledger.Len())
	return desired, ledger, observed, nil
}

func (s *SyncService) reconcile(ctx context.Context, logger hclog.Logger, report *CycleReport, ledger *retry.Ledger, observed *plugindomain.ObservedState) error {
	if !s.settings.AutoInstall.Enabled {
		logger.Info("auto install disabled")
		return nil
	}
	if report.Desired == nil || ledger == nil || observed == nil {
		return nil
	}

	r := reconcile.NewReconciler(s.deps.Host, s.guard,
		reconcile.WithClock(s.now), reconcile.WithLogger(logger.Named("reconcile")))
	report.Reconcile = r.Reconcile(ctx, report.Desired, observed, ledger)

	if n := len(report.Reconcile.Installed); n > 0 && s.settings.AutoUpdate.Notify {
		report.Notifications = append(report.Notifications, Notification{
			Title:   TitleInstall,
			Message: fmt.Sprintf("Installed %d missing plugin(s)", n),
		})
	}

	if !ledger.Dirty() {
		return nil
	}
	if err := s.deps.Ledger.Save(ctx, ledger.Entries()); err != nil {
		return fmt.Errorf("failed to save retry ledger: %w", err)
	}
	return nil
}

func (s *SyncService) update(ctx context.Context, logger hclog.Logger, report *CycleReport, opts CycleOptions) error {
	if !opts.ForceUpdate && !s.settings.AutoUpdate.Enabled {
		logger.Info("auto update disabled")
		return nil
	}
	report.Update = s.updates.Run(ctx, opts.ForceUpdate)

	if n := len(report.Update.PluginsUpdated); n > 0 && s.settings.AutoUpdate.Notify {
		msg := fmt.Sprintf("Updated %d plugin(s)", n)
		if report.Update.RegistriesUpdated > 0 {
			msg = fmt.Sprintf("Updated marketplaces and %d plugin(s)", n)
		}
		report.Notifications = append(report.Notifications, Notification{Title: TitleUpdate, Message: msg})
	}
	// Item failures are logged by the update pass and counted in the report.
	return nil
}

func (s *SyncService) notify(ctx context.Context, logger hclog.Logger, report *CycleReport) error {
	if s.deps.Notifier == nil {
		return nil
	}
	for _, n := range report.Notifications {
		if err := s.deps.Notifier.Notify(ctx, n.Title, n.Message); err != nil {
			logger.Debug("notification not delivered", "title", n.Title, "error", err)
		}
	}
	return nil
}

func (s *SyncService) record(ctx context.Context, logger hclog.Logger, report *CycleReport) {
	if s.deps.Recorder == nil {
		return
	}
	if err := s.deps.Recorder.Record(ctx, report.Stats(s.guard.Failed())); err != nil {
		logger.Warn("failed to record cycle metrics", "error", err)
	}
}
