package pluginports

import (
	"context"
	"time"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
)

// HostCLI drives the host application's plugin commands.
type HostCLI interface {
	// List returns the raw output of the host's plugin listing
	List(ctx context.Context) (string, error)

	// Install installs one registry-qualified plugin
	Install(ctx context.Context, id plugindomain.Identity) error

	// Update refreshes one installed plugin
	Update(ctx context.Context, id plugindomain.Identity) error

	// UpdateRegistry refreshes one registry; an empty name asks the host
	// for its default update
	UpdateRegistry(ctx context.Context, name string) error

	// Available probes whether plugin management commands work. registered
	// is the number of plugins the host's registry file lists
	Available(ctx context.Context, registered int) bool
}

// VersionControl is the git checkout that carries the snapshot.
type VersionControl interface {
	IsRepo() bool
	Pull(ctx context.Context) (string, error)
	HasChanges(ctx context.Context, paths ...string) (bool, error)
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) error
	Push(ctx context.Context) error
	// Committed returns the HEAD content of path, ErrNotCommitted when HEAD
	// does not carry it
	Committed(ctx context.Context, path string) ([]byte, error)
	// Restore discards uncommitted changes to paths
	Restore(ctx context.Context, paths ...string) error
}

// Notifier delivers a user-visible desktop notification.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// SnapshotStore persists the desired-state snapshot.
type SnapshotStore interface {
	// Load returns nil without error when no snapshot exists yet
	Load(ctx context.Context) (*plugindomain.Snapshot, error)
	Save(ctx context.Context, snap *plugindomain.Snapshot) error
	// Decode parses snapshot bytes in the stored format
	Decode(data []byte) (*plugindomain.Snapshot, error)
	// RelPath is the snapshot file location relative to the repository root
	RelPath() string
}

// LedgerStore persists the retry ledger.
type LedgerStore interface {
	Load(ctx context.Context) (map[plugindomain.Identity]plugindomain.LedgerEntry, error)
	Save(ctx context.Context, entries map[plugindomain.Identity]plugindomain.LedgerEntry) error
}

// TimestampStore persists a single UTC instant. A missing value loads as
// the zero time.
type TimestampStore interface {
	Load(ctx context.Context) (time.Time, error)
	Save(ctx context.Context, ts time.Time) error
}

// InstalledSource reads the host's installed-plugin registry.
type InstalledSource interface {
	Observe(ctx context.Context) (*plugindomain.ObservedState, error)
}

// RegistrationRecord is the entry plugsync keeps for itself in the host's
// installed-plugin registry.
type RegistrationRecord struct {
	Scope       string
	InstallPath string
	Version     string
	InstalledAt string
	LastUpdated string
}

// RegistrationStore inserts an entry into the installed-plugin registry
// when its key is absent, reporting whether it wrote.
type RegistrationStore interface {
	EnsureEntry(ctx context.Context, name string, record RegistrationRecord) (bool, error)
}

// RegistrySource reads and extends the host's known registries.
type RegistrySource interface {
	Registries(ctx context.Context) (map[string]plugindomain.RegistryState, error)
	AddMissing(ctx context.Context, registries map[string]plugindomain.RegistryState) ([]string, error)
}

// EnablementSource reads which plugins the host has enabled.
type EnablementSource interface {
	Enabled(ctx context.Context) (map[string]bool, error)
}

// CycleStats summarises one sync cycle for external reporting.
type CycleStats struct {
	StartedAt          time.Time
	Duration           time.Duration
	Skipped            string
	InstallsAttempted  int
	InstallsSucceeded  int
	InstallsFailed     int
	RetriesExhausted   int
	UpdateRan          bool
	UpdateFailures     int
	PluginsInSnapshot  int
	Structural         bool
	Pushed             bool
	RegistrationFailed bool
	Errors             int
}

// CycleRecorder exports cycle statistics.
type CycleRecorder interface {
	Record(ctx context.Context, stats CycleStats) error
}

// HookChange describes what EnsureSessionHook did.
type HookChange int

const (
	HookUnchanged HookChange = iota
	HookAdded
	HookUpgraded
)

func (c HookChange) String() string {
	switch c {
	case HookAdded:
		return "added"
	case HookUpgraded:
		return "upgraded"
	default:
		return "unchanged"
	}
}

// SessionHookStore registers the host session-start hook that launches
// plugsync.
type SessionHookStore interface {
	EnsureSessionHook(ctx context.Context, command string) (HookChange, error)
}

// StartupService keeps the platform's periodic service definition
// installed, reporting whether it had to install it.
type StartupService interface {
	EnsureInstalled(ctx context.Context) (bool, error)
}

// AssetMirror copies user-maintained rules and skills into the host
// directory. Each call reports how many files it wrote.
type AssetMirror interface {
	SyncRules(ctx context.Context) (int, error)
	SyncSkills(ctx context.Context) (int, error)
}

// BackupCleaner removes the host's timestamped configuration backups and
// reports how many it deleted.
type BackupCleaner interface {
	CleanBackups(ctx context.Context) (int, error)
}
