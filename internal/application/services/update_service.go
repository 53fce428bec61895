package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/core/reconcile"
	"github.com/kilometers-ai/plugsync/internal/core/schedule"
)

// UpdateResult summarises one update pass.
type UpdateResult struct {
	Decision          schedule.Decision
	Ran               bool
	RegistriesUpdated int
	RegistriesFailed  int
	PluginsUpdated    []plugindomain.Identity
	PluginsFailed     []plugindomain.Identity
	Unavailable       bool
	Err               error
}

// Failures counts failed registry and plugin updates.
func (r UpdateResult) Failures() int {
	return r.RegistriesFailed + len(r.PluginsFailed)
}

// UpdateOptions tunes an UpdateService.
type UpdateOptions struct {
	IntervalHours int
	Parallelism   int
}

// UpdateService refreshes registries and installed plugins when the update
// interval has elapsed.
type UpdateService struct {
	host       pluginports.HostCLI
	registries pluginports.RegistrySource
	installed  pluginports.InstalledSource
	lastUpdate pluginports.TimestampStore
	guard      reconcile.Guard
	opts       UpdateOptions
	logger     hclog.Logger
	now        func() time.Time
}

// NewUpdateService creates an update service. guard may be nil.
func NewUpdateService(
	host pluginports.HostCLI,
	registries pluginports.RegistrySource,
	installed pluginports.InstalledSource,
	lastUpdate pluginports.TimestampStore,
	guard reconcile.Guard,
	opts UpdateOptions,
	logger hclog.Logger,
) *UpdateService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &UpdateService{
		host:       host,
		registries: registries,
		installed:  installed,
		lastUpdate: lastUpdate,
		guard:      guard,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Run performs the update pass when due. Every registry and plugin is
// updated individually; a failure never stops its siblings. The timestamp
// is written after every pass that ran, whatever its outcome.
func (s *UpdateService) Run(ctx context.Context, forced bool) UpdateResult {
	last, err := s.lastUpdate.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to read last update time, treating as never updated", "error", err)
		last = time.Time{}
	}

	result := UpdateResult{Decision: schedule.Evaluate(last, s.now(), s.opts.IntervalHours, forced)}
	if !result.Decision.Due {
		s.logger.Info("update not due", "decision", result.Decision.String())
		return result
	}
	s.logger.Info("starting update pass", "decision", result.Decision.String())
	result.Ran = true

	var errs error
	updated, failed, err := s.updateRegistries(ctx)
	result.RegistriesUpdated, result.RegistriesFailed = updated, failed
	errs = multierr.Append(errs, err)

	result.PluginsUpdated, result.PluginsFailed, result.Unavailable, err = s.updatePlugins(ctx)
	errs = multierr.Append(errs, err)
	result.Err = errs

	if err := s.lastUpdate.Save(ctx, s.now()); err != nil {
		s.logger.Error("failed to save update timestamp", "error", err)
		result.Err = multierr.Append(result.Err, err)
	}

	s.logger.Info("update pass finished",
		"registries_updated", result.RegistriesUpdated,
		"registries_failed", result.RegistriesFailed,
		"plugins_updated", len(result.PluginsUpdated),
		"plugins_failed", len(result.PluginsFailed))
	return result
}

func (s *UpdateService) updateRegistries(ctx context.Context) (int, int, error) {
	known, err := s.registries.Registries(ctx)
	if err != nil {
		s.logger.Warn("failed to read known registries, using the default update", "error", err)
		known = nil
	}

	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		s.logger.Info("no known registries, running the default registry update")
		names = []string{""}
	}

	var errs error
	updated, failed := 0, 0
	for _, name := range names {
		if ctx.Err() != nil {
			return updated, failed, multierr.Append(errs, ctx.Err())
		}
		err := s.host.UpdateRegistry(ctx, name)
		s.ensureRegistered(ctx)
		if err != nil {
			s.logger.Error("registry update failed", "registry", name, "outcome", pluginports.OutcomeOf(err).String(), "error", err)
			errs = multierr.Append(errs, fmt.Errorf("registry %q: %w", name, err))
			failed++
			continue
		}
		s.logger.Info("registry updated", "registry", name)
		updated++
	}
	return updated, failed, errs
}

func (s *UpdateService) updatePlugins(ctx context.Context) (updated, failed []plugindomain.Identity, unavailable bool, err error) {
	observed, err := s.installed.Observe(ctx)
	if err != nil {
		if !errors.Is(err, pluginports.ErrRegistryFileMissing) {
			return nil, nil, false, fmt.Errorf("failed to read installed plugins: %w", err)
		}
		observed = plugindomain.NewObservedState()
	}
	if len(observed.Plugins) == 0 {
		s.logger.Info("no plugins installed, skipping plugin updates")
		return nil, nil, false, nil
	}
	if !s.host.Available(ctx, len(observed.Plugins)) {
		s.logger.Warn("plugin management commands are unavailable, skipping plugin updates")
		return nil, nil, true, nil
	}

	targets := observed.Qualified().Sorted()
	if local := observed.LocalCount(); local > 0 {
		s.logger.Debug("skipping local plugins", "count", local)
	}

	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for _, id := range targets {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := s.host.Update(gctx, id)
			s.ensureRegistered(gctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("plugin update failed", "plugin", id.String(), "outcome", pluginports.OutcomeOf(err).String(), "error", err)
				errs = multierr.Append(errs, fmt.Errorf("plugin %s: %w", id, err))
				failed = append(failed, id)
				return nil
			}
			s.logger.Info("plugin updated", "plugin", id.String())
			updated = append(updated, id)
			return nil
		})
	}
	_ = g.Wait()

	plugindomain.SortIdentities(updated)
	plugindomain.SortIdentities(failed)
	return updated, failed, false, errs
}

func (s *UpdateService) ensureRegistered(ctx context.Context) {
	if s.guard == nil {
		return
	}
	if err := s.guard.EnsureRegistered(ctx); err != nil {
		s.logger.Debug("self-registration check failed after update", "error", err)
	}
}
