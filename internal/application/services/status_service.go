package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/core/retry"
	"github.com/kilometers-ai/plugsync/internal/core/schedule"
)

// SyncState is where one plugin stands between the snapshot and this
// machine.
type SyncState string

const (
	StateSynced    SyncState = "synced"
	StateMissing   SyncState = "missing"
	StateRetrying  SyncState = "retrying"
	StateExhausted SyncState = "gave up"
	StateUnshared  SyncState = "not in snapshot"
	StateLocal     SyncState = "local"
)

// PluginStatus is one row of the status view.
type PluginStatus struct {
	ID               plugindomain.Identity
	State            SyncState
	DesiredVersion   string
	InstalledVersion string
	Enabled          bool
	Attempts         int
	LastError        string
	NextRetry        time.Time
}

// StatusReport is a read-only view of the snapshot, the host registry and
// the retry ledger.
type StatusReport struct {
	GeneratedAt   time.Time
	HasSnapshot   bool
	SnapshotAt    time.Time
	Registries    []string
	Plugins       []PluginStatus
	LastUpdate    time.Time
	LastRun       time.Time
	UpdateDue     schedule.Decision
	RegistryFound bool
}

// Count returns how many plugins are in state.
func (r *StatusReport) Count(state SyncState) int {
	n := 0
	for _, p := range r.Plugins {
		if p.State == state {
			n++
		}
	}
	return n
}

// StatusService assembles StatusReports. It never writes.
type StatusService struct {
	settings   *configdomain.Settings
	installed  pluginports.InstalledSource
	snapshots  pluginports.SnapshotStore
	ledger     pluginports.LedgerStore
	lastUpdate pluginports.TimestampStore
	lastRun    pluginports.TimestampStore
	now        func() time.Time
}

// NewStatusService creates a status service.
func NewStatusService(
	settings *configdomain.Settings,
	installed pluginports.InstalledSource,
	snapshots pluginports.SnapshotStore,
	ledger pluginports.LedgerStore,
	lastUpdate, lastRun pluginports.TimestampStore,
) *StatusService {
	return &StatusService{
		settings:   settings,
		installed:  installed,
		snapshots:  snapshots,
		ledger:     ledger,
		lastUpdate: lastUpdate,
		lastRun:    lastRun,
		now:        time.Now,
	}
}

// Inspect reads the current state.
func (s *StatusService) Inspect(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{GeneratedAt: s.now(), RegistryFound: true}

	desired, err := s.snapshots.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if desired != nil {
		report.HasSnapshot = true
		report.SnapshotAt = desired.GeneratedAt
		report.Registries = desired.RegistryNames()
	}

	observed, err := s.installed.Observe(ctx)
	if errors.Is(err, pluginports.ErrRegistryFileMissing) {
		report.RegistryFound = false
		observed, err = plugindomain.NewObservedState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read installed plugins: %w", err)
	}

	entries, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read retry ledger: %w", err)
	}
	policy := retry.Policy{RetryInterval: s.settings.Retry.Interval, MaxRetryCount: s.settings.Retry.MaxCount}

	if report.LastUpdate, err = s.lastUpdate.Load(ctx); err != nil {
		return nil, err
	}
	if report.LastRun, err = s.lastRun.Load(ctx); err != nil {
		return nil, err
	}
	report.UpdateDue = schedule.Evaluate(report.LastUpdate, report.GeneratedAt, s.settings.AutoUpdate.IntervalHours, false)

	all := desired.Identities()
	for pid := range observed.Plugins {
		all.Add(pid)
	}
	for _, pid := range all.Sorted() {
		row := PluginStatus{ID: pid}
		want, isDesired := plugindomain.PluginState{}, false
		if desired != nil {
			want, isDesired = desired.Plugins[pid]
		}
		have, isInstalled := observed.Plugins[pid]
		row.DesiredVersion = want.Version
		row.Enabled = want.Enabled
		row.InstalledVersion = have.Version

		switch {
		case pid.IsLocal():
			row.State = StateLocal
		case isDesired && isInstalled:
			row.State = StateSynced
		case isInstalled:
			row.State = StateUnshared
		default:
			row.State = StateMissing
			if entry, ok := entries[pid]; ok {
				row.Attempts = entry.AttemptCount
				row.LastError = entry.LastError
				if policy.Exhausted(entry) {
					row.State = StateExhausted
				} else {
					row.State = StateRetrying
					row.NextRetry = entry.LastAttempt.Add(policy.RetryInterval)
				}
			}
		}
		report.Plugins = append(report.Plugins, row)
	}
	return report, nil
}
