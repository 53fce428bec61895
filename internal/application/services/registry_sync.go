package services

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"go.uber.org/multierr"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/core/reconcile"
)

// RegistrySync adds registries that another machine recorded in the
// snapshot and fetches their plugin lists, so their plugins can install.
type RegistrySync struct {
	registries pluginports.RegistrySource
	host       pluginports.HostCLI
	guard      reconcile.Guard
	logger     hclog.Logger
}

// NewRegistrySync creates a registry sync. guard may be nil.
func NewRegistrySync(registries pluginports.RegistrySource, host pluginports.HostCLI, guard reconcile.Guard, logger hclog.Logger) *RegistrySync {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RegistrySync{registries: registries, host: host, guard: guard, logger: logger}
}

// Run adds the snapshot's registries missing from the host and updates each
// one it added. It returns the added names.
func (r *RegistrySync) Run(ctx context.Context, desired *plugindomain.Snapshot) ([]string, error) {
	if desired == nil || len(desired.Registries) == 0 {
		return nil, nil
	}
	want := make(map[string]plugindomain.RegistryState, len(desired.Registries))
	for name, state := range desired.Registries {
		if state.SourceKind == UnknownSource {
			r.logger.Debug("not adding placeholder registry", "registry", name)
			continue
		}
		want[name] = state
	}

	added, err := r.registries.AddMissing(ctx, want)
	if err != nil {
		return nil, fmt.Errorf("failed to add registries: %w", err)
	}
	if len(added) == 0 {
		r.logger.Debug("all snapshot registries are known")
		return nil, nil
	}
	r.logger.Info("added registries from snapshot", "registries", added)

	var errs error
	for _, name := range added {
		err := r.host.UpdateRegistry(ctx, name)
		if r.guard != nil {
			if gerr := r.guard.EnsureRegistered(ctx); gerr != nil {
				r.logger.Debug("self-registration check failed after registry fetch", "error", gerr)
			}
		}
		if err != nil {
			r.logger.Warn("failed to fetch new registry", "registry", name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("registry %q: %w", name, err))
		}
	}
	return added, errs
}
