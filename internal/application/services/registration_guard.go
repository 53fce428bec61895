package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
)

// SelfVersion is the version plugsync records for its own registry entry.
const SelfVersion = "1.0.0"

// RegistrationGuard keeps plugsync's own entry in the host's installed
// plugin registry. Host install and update commands may rewrite that file
// and drop entries they do not manage.
type RegistrationGuard struct {
	store       pluginports.RegistrationStore
	installPath string
	logger      hclog.Logger
	now         func() time.Time

	mu     sync.Mutex
	failed bool
	wrote  int
}

// NewRegistrationGuard creates a guard registering installPath.
func NewRegistrationGuard(store pluginports.RegistrationStore, installPath string, logger hclog.Logger) *RegistrationGuard {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RegistrationGuard{
		store:       store,
		installPath: installPath,
		logger:      logger,
		now:         time.Now,
	}
}

// EnsureRegistered inserts the entry when it is missing. A missing registry
// file is left for the host to create. Other failures are logged at ERROR
// and returned; callers continue regardless.
func (g *RegistrationGuard) EnsureRegistered(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UTC().Format(time.RFC3339)
	wrote, err := g.store.EnsureEntry(ctx, configdomain.SelfName, pluginports.RegistrationRecord{
		Scope:       "user",
		InstallPath: g.installPath,
		Version:     SelfVersion,
		InstalledAt: ts,
		LastUpdated: ts,
	})
	switch {
	case errors.Is(err, pluginports.ErrRegistryFileMissing):
		g.logger.Warn("installed plugin registry not found, skipping self-registration")
		return nil
	case err != nil:
		g.failed = true
		g.logger.Error("self-registration failed", "error", err)
		return err
	}
	if wrote {
		g.wrote++
		g.logger.Info("re-registered in installed plugin registry", "name", configdomain.SelfName)
	}
	return nil
}

// Failed reports whether any call since creation failed.
func (g *RegistrationGuard) Failed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}

// Writes returns how many times the entry had to be re-inserted.
func (g *RegistrationGuard) Writes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wrote
}
