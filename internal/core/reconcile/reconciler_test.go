package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	"github.com/kilometers-ai/plugsync/internal/core/retry"
)

type MockInstaller struct {
	mock.Mock
}

func (m *MockInstaller) Install(ctx context.Context, id plugindomain.Identity) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type countingGuard struct {
	calls int
	err   error
}

func (g *countingGuard) EnsureRegistered(context.Context) error {
	g.calls++
	return g.err
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func snapshotOf(ids ...plugindomain.Identity) *plugindomain.Snapshot {
	snap := plugindomain.NewSnapshot(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, id := range ids {
		snap.Registries[id.Registry()] = plugindomain.RegistryState{SourceKind: "github", Location: "org/" + id.Registry()}
		snap.Plugins[id] = plugindomain.PluginState{Enabled: true, Version: "1.0.0", Scope: "user", RegistryName: id.Registry()}
	}
	return snap
}

func observedOf(ids ...plugindomain.Identity) *plugindomain.ObservedState {
	obs := plugindomain.NewObservedState()
	for _, id := range ids {
		obs.Plugins[id] = plugindomain.InstalledPlugin{Version: "1.0.0", Scope: "user"}
	}
	return obs
}

func TestReconcile_InstallsMissingInSortedOrder(t *testing.T) {
	a := plugindomain.MustQualified("a", "r1")
	b := plugindomain.MustQualified("b", "r1")
	c := plugindomain.MustQualified("c", "r2")

	installer := new(MockInstaller)
	var order []string
	installer.On("Install", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { order = append(order, args.Get(1).(plugindomain.Identity).String()) }).
		Return(nil)
	guard := &countingGuard{}

	r := NewReconciler(installer, guard)
	ledger := retry.NewLedger(retry.DefaultPolicy(), nil)
	result := r.Reconcile(context.Background(), snapshotOf(c, a, b), observedOf(b), ledger)

	assert.Equal(t, []string{"a@r1", "c@r2"}, order, "Missing plugins should be installed in key order")
	assert.Equal(t, []plugindomain.Identity{a, c}, result.Installed)
	assert.Equal(t, 2, guard.calls, "Guard should run after every install attempt")
	assert.True(t, result.Changed())
	installer.AssertExpectations(t)
}

func TestReconcile_NothingMissing(t *testing.T) {
	a := plugindomain.MustQualified("a", "r1")
	installer := new(MockInstaller)
	guard := &countingGuard{}

	result := NewReconciler(installer, guard).Reconcile(
		context.Background(), snapshotOf(a), observedOf(a), retry.NewLedger(retry.DefaultPolicy(), nil))

	assert.Empty(t, result.Missing)
	assert.Zero(t, guard.calls)
	installer.AssertNotCalled(t, "Install", mock.Anything, mock.Anything)
}

func TestReconcile_NeverUninstallsExtras(t *testing.T) {
	extra := plugindomain.MustQualified("extra", "r1")
	local, err := plugindomain.Local("scratch")
	require.NoError(t, err)

	installer := new(MockInstaller)
	result := NewReconciler(installer, nil).Reconcile(
		context.Background(), snapshotOf(), observedOf(extra, local), retry.NewLedger(retry.DefaultPolicy(), nil))

	assert.Empty(t, result.Missing)
	assert.Empty(t, result.Attempted)
}

func TestReconcile_FailureIsIsolated(t *testing.T) {
	bad := plugindomain.MustQualified("bad", "r1")
	good := plugindomain.MustQualified("good", "r1")

	installer := new(MockInstaller)
	installer.On("Install", mock.Anything, bad).Return(errors.New("exit status 1"))
	installer.On("Install", mock.Anything, good).Return(nil)
	guard := &countingGuard{err: errors.New("registry unreadable")}

	ledger := retry.NewLedger(retry.DefaultPolicy(), nil)
	result := NewReconciler(installer, guard).Reconcile(context.Background(), snapshotOf(bad, good), observedOf(), ledger)

	assert.Equal(t, []plugindomain.Identity{bad}, result.Failed)
	assert.Equal(t, []plugindomain.Identity{good}, result.Installed)
	assert.Equal(t, 2, guard.calls, "Guard errors must not stop the loop")

	entry, ok := ledger.Entry(bad)
	require.True(t, ok)
	assert.Equal(t, 1, entry.AttemptCount)
	assert.Equal(t, "exit status 1", entry.LastError)
}

func TestReconcile_SuccessClearsLedgerEntry(t *testing.T) {
	x := plugindomain.MustQualified("x", "r1")
	clock := &fakeClock{t: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	ledger := retry.NewLedger(retry.DefaultPolicy(), map[plugindomain.Identity]plugindomain.LedgerEntry{
		x: {LastAttempt: clock.Now().Add(-time.Hour), AttemptCount: 3, LastError: "old"},
	})
	installer := new(MockInstaller)
	installer.On("Install", mock.Anything, x).Return(nil)

	NewReconciler(installer, nil, WithClock(clock.Now)).Reconcile(context.Background(), snapshotOf(x), observedOf(), ledger)

	_, ok := ledger.Entry(x)
	assert.False(t, ok, "A successful install must delete the ledger entry")
}

func TestReconcile_PrunesEntriesForInstalledPlugins(t *testing.T) {
	x := plugindomain.MustQualified("x", "r1")
	ledger := retry.NewLedger(retry.DefaultPolicy(), map[plugindomain.Identity]plugindomain.LedgerEntry{
		x: {AttemptCount: 6},
	})

	result := NewReconciler(new(MockInstaller), nil).Reconcile(context.Background(), snapshotOf(x), observedOf(x), ledger)

	assert.Equal(t, []plugindomain.Identity{x}, result.Pruned)
	assert.Zero(t, ledger.Len())
}

func TestReconcile_ExhaustedEntryIsSkipped(t *testing.T) {
	x := plugindomain.MustQualified("x", "r1")
	clock := &fakeClock{t: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	ledger := retry.NewLedger(retry.DefaultPolicy(), map[plugindomain.Identity]plugindomain.LedgerEntry{
		x: {LastAttempt: clock.Now().Add(-48 * time.Hour), AttemptCount: 6},
	})
	installer := new(MockInstaller)

	result := NewReconciler(installer, nil, WithClock(clock.Now)).Reconcile(
		context.Background(), snapshotOf(x), observedOf(), ledger)

	assert.Equal(t, []plugindomain.Identity{x}, result.SkippedExhausted)
	installer.AssertNotCalled(t, "Install", mock.Anything, mock.Anything)
	entry, ok := ledger.Entry(x)
	require.True(t, ok, "Exhausted entries are kept as a record")
	assert.Equal(t, 6, entry.AttemptCount)
}

// Two failures eleven minutes apart leave AttemptCount 2; a third cycle five
// minutes later must not attempt the install.
func TestReconcile_RetryBackoffAcrossCycles(t *testing.T) {
	x := plugindomain.MustQualified("x", "reg1")
	clock := &fakeClock{t: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	ledger := retry.NewLedger(retry.DefaultPolicy(), nil)

	installer := new(MockInstaller)
	installer.On("Install", mock.Anything, x).Return(errors.New("network unreachable"))
	r := NewReconciler(installer, nil, WithClock(clock.Now))

	r.Reconcile(context.Background(), snapshotOf(x), observedOf(), ledger)
	clock.Advance(11 * time.Minute)
	r.Reconcile(context.Background(), snapshotOf(x), observedOf(), ledger)

	entry, ok := ledger.Entry(x)
	require.True(t, ok)
	assert.Equal(t, 2, entry.AttemptCount)

	clock.Advance(5 * time.Minute)
	result := r.Reconcile(context.Background(), snapshotOf(x), observedOf(), ledger)

	assert.Equal(t, []plugindomain.Identity{x}, result.SkippedBackoff)
	installer.AssertNumberOfCalls(t, "Install", 2)
}

func TestReconcile_StopsOnCancelledContext(t *testing.T) {
	x := plugindomain.MustQualified("x", "r1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	installer := new(MockInstaller)
	result := NewReconciler(installer, nil).Reconcile(ctx, snapshotOf(x), observedOf(), retry.NewLedger(retry.DefaultPolicy(), nil))

	assert.Equal(t, []plugindomain.Identity{x}, result.Missing)
	assert.Empty(t, result.Attempted)
}

type recordingInstaller struct {
	fail  map[plugindomain.Identity]bool
	calls []plugindomain.Identity
}

func (i *recordingInstaller) Install(_ context.Context, id plugindomain.Identity) error {
	i.calls = append(i.calls, id)
	if i.fail[id] {
		return errors.New("failed")
	}
	return nil
}

// TestReconcile_Properties checks that only desired-but-missing plugins are
// ever installed and that the ledger matches the install outcomes.
func TestReconcile_Properties(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e"}
	registries := []string{"r1", "r2"}

	rapid.Check(t, func(t *rapid.T) {
		var desired, observed []plugindomain.Identity
		fail := make(map[plugindomain.Identity]bool)
		for _, n := range names {
			for _, reg := range registries {
				id := plugindomain.MustQualified(n, reg)
				if rapid.Bool().Draw(t, "desired "+id.String()) {
					desired = append(desired, id)
				}
				if rapid.Bool().Draw(t, "observed "+id.String()) {
					observed = append(observed, id)
				}
				fail[id] = rapid.Bool().Draw(t, "fails "+id.String())
			}
		}

		installer := &recordingInstaller{fail: fail}
		ledger := retry.NewLedger(retry.DefaultPolicy(), nil)
		obs := observedOf(observed...)
		result := NewReconciler(installer, nil).Reconcile(context.Background(), snapshotOf(desired...), obs, ledger)

		for _, id := range installer.calls {
			if obs.Qualified().Has(id) {
				t.Fatalf("installed %s which was already observed", id)
			}
		}
		for i := 1; i < len(installer.calls); i++ {
			if !installer.calls[i-1].Less(installer.calls[i]) {
				t.Fatalf("installs out of order: %v", installer.calls)
			}
		}
		for _, id := range result.Installed {
			if _, ok := ledger.Entry(id); ok {
				t.Fatalf("successful install %s left a ledger entry", id)
			}
		}
		for _, id := range result.Failed {
			entry, ok := ledger.Entry(id)
			if !ok || entry.AttemptCount != 1 {
				t.Fatalf("failed install %s has entry %+v", id, entry)
			}
		}
		if len(result.Installed)+len(result.Failed) != len(result.Missing) {
			t.Fatalf("fresh ledger should attempt every missing plugin")
		}
	})
}
