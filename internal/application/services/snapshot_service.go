package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/kilometers-ai/plugsync/internal/core/classify"
	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
)

// UnknownSource marks values the host did not report.
const UnknownSource = "unknown"

// PublishOptions selects what Publish does after writing the snapshot.
type PublishOptions struct {
	GitEnabled bool
	AutoPush   bool
}

// PublishResult records how far a snapshot got past the local write.
type PublishResult struct {
	Committed bool
	Pushed    bool
}

// SnapshotService regenerates the desired-state snapshot from this
// machine's installed plugins and shares it through git.
type SnapshotService struct {
	installed  pluginports.InstalledSource
	enablement pluginports.EnablementSource
	registries pluginports.RegistrySource
	store      pluginports.SnapshotStore
	repo       pluginports.VersionControl
	opts       PublishOptions
	logger     hclog.Logger
	now        func() time.Time
}

// NewSnapshotService creates a snapshot service. repo may be nil when git
// sync is not configured.
func NewSnapshotService(
	installed pluginports.InstalledSource,
	enablement pluginports.EnablementSource,
	registries pluginports.RegistrySource,
	store pluginports.SnapshotStore,
	repo pluginports.VersionControl,
	opts PublishOptions,
	logger hclog.Logger,
) *SnapshotService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &SnapshotService{
		installed:  installed,
		enablement: enablement,
		registries: registries,
		store:      store,
		repo:       repo,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Generate builds a snapshot of every installed registry-qualified plugin.
// Local plugins are left out. A plugin whose registry is not known to the
// host gets a placeholder registry entry so the snapshot stays valid.
func (s *SnapshotService) Generate(ctx context.Context) (*plugindomain.Snapshot, error) {
	observed, err := s.installed.Observe(ctx)
	if err != nil {
		if !errors.Is(err, pluginports.ErrRegistryFileMissing) {
			return nil, fmt.Errorf("failed to read installed plugins: %w", err)
		}
		observed = plugindomain.NewObservedState()
	}

	enabled, err := s.enablement.Enabled(ctx)
	if err != nil {
		s.logger.Warn("failed to read enabled plugins, recording all as disabled", "error", err)
		enabled = map[string]bool{}
	}

	registries, err := s.registries.Registries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read known registries: %w", err)
	}

	snap := plugindomain.NewSnapshot(s.now())
	for name, state := range registries {
		snap.Registries[name] = state
	}

	if local := observed.LocalCount(); local > 0 {
		s.logger.Debug("leaving local plugins out of the snapshot", "count", local)
	}
	for _, id := range observed.Qualified().Sorted() {
		installed := observed.Plugins[id]
		snap.Plugins[id] = plugindomain.PluginState{
			Enabled:      enabled[id.String()],
			Version:      orUnknown(installed.Version),
			Scope:        orDefault(installed.Scope, "user"),
			SourceCommit: installed.GitCommitSha,
			RegistryName: id.Registry(),
		}
		if _, ok := snap.Registries[id.Registry()]; !ok {
			s.logger.Warn("plugin registry is not known, recording a placeholder", "plugin", id.String())
			snap.Registries[id.Registry()] = plugindomain.RegistryState{SourceKind: UnknownSource, Location: UnknownSource}
		}
	}
	return snap, nil
}

// Regenerate reads the stored snapshot, generates a fresh one and replaces
// the stored file with it. Plugins in keep that are not installed here are
// carried over unchanged, so a failed install does not read as a removal.
// prev is nil when no readable snapshot existed.
func (s *SnapshotService) Regenerate(ctx context.Context, keep *plugindomain.Snapshot) (prev, next *plugindomain.Snapshot, err error) {
	prev, err = s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to read stored snapshot, treating it as absent", "error", err)
		prev = nil
	}
	next, err = s.Generate(ctx)
	if err != nil {
		return prev, nil, err
	}
	carryOver(next, keep, s.logger)
	if err := s.store.Save(ctx, next); err != nil {
		return prev, nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	s.logger.Info("snapshot written", "plugins", next.Len(), "registries", len(next.Registries))
	return prev, next, nil
}

func carryOver(next, keep *plugindomain.Snapshot, logger hclog.Logger) {
	if keep == nil {
		return
	}
	for _, id := range keep.Identities().Qualified().Difference(next.Identities()) {
		logger.Debug("keeping desired plugin that is not installed here", "plugin", id.String())
		next.Plugins[id] = keep.Plugins[id]
		if _, ok := next.Registries[id.Registry()]; !ok {
			if state, ok := keep.Registries[id.Registry()]; ok {
				next.Registries[id.Registry()] = state
			}
		}
	}
}

// Classify compares the two snapshots and logs the result.
func (s *SnapshotService) Classify(prev, next *plugindomain.Snapshot) classify.Change {
	change := classify.Classify(prev, next)

	switch {
	case change.FirstSnapshot:
		s.logger.Info("no previous snapshot", "plugins", next.Len())
	case change.Kind == classify.Structural:
		s.logger.Info("plugin set changed", "added", idStrings(change.Added), "removed", idStrings(change.Removed))
	case len(change.VersionChanges) > 0:
		s.logger.Info("only plugin versions changed", "count", len(change.VersionChanges))
	}
	if change.RegistriesChanged() && !change.FirstSnapshot {
		s.logger.Info("registry set changed", "added", change.RegistriesAdded, "removed", change.RegistriesRemoved)
	}
	return change
}

// Publish commits the written snapshot and optionally pushes it when change
// warrants sharing. Version-only changes stay local. A failed push keeps
// the local commit and is not an error.
func (s *SnapshotService) Publish(ctx context.Context, next *plugindomain.Snapshot, change classify.Change) (PublishResult, error) {
	var result PublishResult
	if !change.ShouldPush() {
		s.logger.Info("no structural change, not committing")
		return result, nil
	}
	if !s.opts.GitEnabled {
		s.logger.Debug("git sync disabled")
		return result, nil
	}
	if s.repo == nil || !s.repo.IsRepo() {
		s.logger.Info("plugsync home is not a git repository, skipping commit")
		return result, nil
	}

	rel := s.store.RelPath()
	changed, err := s.repo.HasChanges(ctx, rel)
	if err != nil {
		return result, fmt.Errorf("failed to check snapshot status: %w", err)
	}
	if !changed {
		s.logger.Debug("snapshot matches the committed version")
		return result, nil
	}

	if err := s.repo.Add(ctx, rel); err != nil {
		return result, fmt.Errorf("failed to stage snapshot: %w", err)
	}
	msg := CommitMessage(next.Len())
	if err := s.repo.Commit(ctx, msg); err != nil {
		if errors.Is(err, pluginports.ErrNothingToCommit) {
			s.logger.Debug("nothing to commit")
			return result, nil
		}
		return result, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	result.Committed = true
	s.logger.Info("snapshot committed", "message", msg)

	if !s.opts.AutoPush {
		s.logger.Debug("auto push disabled, commit stays local")
		return result, nil
	}
	if err := s.repo.Push(ctx); err != nil {
		s.logger.Warn("push failed, commit kept locally", "error", err)
		return result, nil
	}
	result.Pushed = true
	s.logger.Info("snapshot pushed")
	return result, nil
}

// DiscardUnpublished restores the committed snapshot when the working copy
// differs from HEAD only in ways Publish would not commit. Such a rewrite
// would otherwise block a fast-forward pull; the cycle regenerates the file
// after pulling. It reports whether the file was restored.
func (s *SnapshotService) DiscardUnpublished(ctx context.Context) (bool, error) {
	if s.repo == nil || !s.repo.IsRepo() {
		return false, nil
	}
	working, err := s.store.Load(ctx)
	if err != nil || working == nil {
		return false, err
	}

	rel := s.store.RelPath()
	data, err := s.repo.Committed(ctx, rel)
	if err != nil {
		if errors.Is(err, pluginports.ErrNotCommitted) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read committed snapshot: %w", err)
	}
	committed, err := s.store.Decode(data)
	if err != nil {
		return false, fmt.Errorf("failed to parse committed snapshot: %w", err)
	}
	if sameSnapshot(committed, working) {
		return false, nil
	}
	if change := classify.Classify(committed, working); change.ShouldPush() {
		s.logger.Warn("snapshot has uncommitted plugin or registry changes, keeping them",
			"added", idStrings(change.Added), "removed", idStrings(change.Removed))
		return false, nil
	}

	if err := s.repo.Restore(ctx, rel); err != nil {
		return false, fmt.Errorf("failed to restore committed snapshot: %w", err)
	}
	s.logger.Info("discarded unpublished version-only snapshot rewrite")
	return true, nil
}

func sameSnapshot(a, b *plugindomain.Snapshot) bool {
	return a.FormatVersion == b.FormatVersion &&
		a.GeneratedAt.Equal(b.GeneratedAt) &&
		maps.Equal(a.Plugins, b.Plugins) &&
		maps.Equal(a.Registries, b.Registries)
}

// Sync regenerates from the installed plugins alone, classifies and
// publishes in one call. It is how removals reach the shared snapshot.
func (s *SnapshotService) Sync(ctx context.Context) (*plugindomain.Snapshot, classify.Change, PublishResult, error) {
	prev, next, err := s.Regenerate(ctx, nil)
	if err != nil {
		return next, classify.Change{}, PublishResult{}, err
	}
	change := s.Classify(prev, next)
	result, err := s.Publish(ctx, next, change)
	return next, change, result, err
}

// CommitMessage is the message used for snapshot commits.
func CommitMessage(plugins int) string {
	return fmt.Sprintf("Update plugin snapshot - %d plugins", plugins)
}

func orUnknown(s string) string { return orDefault(s, UnknownSource) }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func idStrings(ids []plugindomain.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
