// Package reconcile installs plugins that the desired snapshot lists but the
// host does not have. It never uninstalls.
package reconcile

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	"github.com/kilometers-ai/plugsync/internal/core/retry"
)

// Installer installs one registry-qualified plugin.
type Installer interface {
	Install(ctx context.Context, id plugindomain.Identity) error
}

// Guard re-asserts the tool's own registration after host commands that may
// rewrite the installed-plugin registry.
type Guard interface {
	EnsureRegistered(ctx context.Context) error
}

// Result summarises one reconciliation pass.
type Result struct {
	Missing          []plugindomain.Identity
	Attempted        []plugindomain.Identity
	Installed        []plugindomain.Identity
	Failed           []plugindomain.Identity
	SkippedExhausted []plugindomain.Identity
	SkippedBackoff   []plugindomain.Identity
	Pruned           []plugindomain.Identity
}

// Changed reports whether anything was installed.
func (r Result) Changed() bool { return len(r.Installed) > 0 }

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// Reconciler drives the desired-minus-observed install loop.
type Reconciler struct {
	installer Installer
	guard     Guard
	logger    hclog.Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler. guard may be nil.
func NewReconciler(installer Installer, guard Guard, opts ...Option) *Reconciler {
	r := &Reconciler{
		installer: installer,
		guard:     guard,
		logger:    hclog.NewNullLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Missing returns the qualified identities in desired that are not observed,
// in key order.
func Missing(desired *plugindomain.Snapshot, observed *plugindomain.ObservedState) []plugindomain.Identity {
	return desired.Identities().Qualified().Difference(observed.Qualified())
}

// Reconcile installs every missing plugin the ledger allows and records the
// outcome in ledger. Ledger entries for plugins that are already installed
// are pruned first.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	desired *plugindomain.Snapshot,
	observed *plugindomain.ObservedState,
	ledger *retry.Ledger,
) Result {
	var result Result

	installed := observed.Qualified()
	result.Pruned = ledger.Retain(func(id plugindomain.Identity) bool { return !installed.Has(id) })
	for _, id := range result.Pruned {
		r.logger.Debug("clearing retry entry for installed plugin", "plugin", id.String())
	}

	result.Missing = Missing(desired, observed)
	if len(result.Missing) == 0 {
		r.logger.Debug("all desired plugins are installed", "desired", desired.Len())
		return result
	}
	r.logger.Info("plugins missing from this machine", "count", len(result.Missing))

	for _, id := range result.Missing {
		if ctx.Err() != nil {
			r.logger.Warn("reconcile interrupted", "error", ctx.Err())
			break
		}

		now := r.now()
		switch ledger.Decide(id, now) {
		case retry.DecisionExhausted:
			entry, _ := ledger.Entry(id)
			r.logger.Warn("skipping plugin after too many failed installs",
				"plugin", id.String(), "attempts", entry.AttemptCount, "last_error", entry.LastError)
			result.SkippedExhausted = append(result.SkippedExhausted, id)
			continue
		case retry.DecisionBackoff:
			entry, _ := ledger.Entry(id)
			wait := ledger.Policy().RetryInterval - now.Sub(entry.LastAttempt)
			r.logger.Info("skipping plugin until retry interval elapses",
				"plugin", id.String(), "attempts", entry.AttemptCount, "retry_in", wait.Round(time.Second))
			result.SkippedBackoff = append(result.SkippedBackoff, id)
			continue
		}

		result.Attempted = append(result.Attempted, id)
		r.logger.Info("installing plugin", "plugin", id.String())
		if err := r.installer.Install(ctx, id); err != nil {
			entry := ledger.RecordFailure(id, err.Error(), r.now())
			r.logger.Error("plugin install failed",
				"plugin", id.String(), "attempt", entry.AttemptCount, "error", err)
			result.Failed = append(result.Failed, id)
		} else {
			ledger.RecordSuccess(id)
			r.logger.Info("plugin installed", "plugin", id.String())
			result.Installed = append(result.Installed, id)
		}

		r.ensureRegistered(ctx)
	}

	return result
}

func (r *Reconciler) ensureRegistered(ctx context.Context) {
	if r.guard == nil {
		return
	}
	if err := r.guard.EnsureRegistered(ctx); err != nil {
		r.logger.Debug("self-registration check failed after install", "error", err)
	}
}
