package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/state"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func id(key string) plugindomain.Identity {
	parsed, err := plugindomain.ParseIdentity(key)
	if err != nil {
		panic(err)
	}
	return parsed
}

func testSettings(t *testing.T) *configdomain.Settings {
	t.Helper()
	s, err := configdomain.Build(configdomain.Snapshot{}, "/home/dev")
	require.NoError(t, err)
	return s
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockHost is a testify mock of the host CLI.
type mockHost struct {
	mock.Mock
}

func (m *mockHost) List(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockHost) Install(ctx context.Context, id plugindomain.Identity) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockHost) Update(ctx context.Context, id plugindomain.Identity) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockHost) UpdateRegistry(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockHost) Available(ctx context.Context, registered int) bool {
	return m.Called(ctx, registered).Bool(0)
}

// mockRepo is a testify mock of the snapshot repository.
type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) IsRepo() bool { return m.Called().Bool(0) }

func (m *mockRepo) Pull(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockRepo) HasChanges(ctx context.Context, paths ...string) (bool, error) {
	args := m.Called(ctx, paths)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) Add(ctx context.Context, paths ...string) error {
	return m.Called(ctx, paths).Error(0)
}

func (m *mockRepo) Commit(ctx context.Context, message string) error {
	return m.Called(ctx, message).Error(0)
}

func (m *mockRepo) Push(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *mockRepo) Committed(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockRepo) Restore(ctx context.Context, paths ...string) error {
	return m.Called(ctx, paths).Error(0)
}

// mockNotifier records notifications through testify.
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, title, message string) error {
	return m.Called(ctx, title, message).Error(0)
}

// hostRegistry stands in for installed_plugins.json. Like the real host it
// may drop plugsync's own entry whenever it installs or updates.
type hostRegistry struct {
	mu        sync.Mutex
	plugins   map[plugindomain.Identity]plugindomain.InstalledPlugin
	self      bool
	missing   bool
	ensureErr error
	inserts   int
	checks    int
}

func newHostRegistry(keys ...string) *hostRegistry {
	r := &hostRegistry{plugins: make(map[plugindomain.Identity]plugindomain.InstalledPlugin)}
	for _, k := range keys {
		r.plugins[id(k)] = plugindomain.InstalledPlugin{Version: "1.0.0", Scope: "user"}
	}
	return r
}

func (r *hostRegistry) Observe(ctx context.Context) (*plugindomain.ObservedState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missing {
		return nil, pluginports.ErrRegistryFileMissing
	}
	out := plugindomain.NewObservedState()
	for k, v := range r.plugins {
		out.Plugins[k] = v
	}
	return out, nil
}

func (r *hostRegistry) EnsureEntry(ctx context.Context, name string, record pluginports.RegistrationRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks++
	if r.missing {
		return false, pluginports.ErrRegistryFileMissing
	}
	if r.ensureErr != nil {
		return false, r.ensureErr
	}
	if r.self {
		return false, nil
	}
	r.self = true
	r.inserts++
	return true, nil
}

// install mimics a host install that rewrites the registry file.
func (r *hostRegistry) install(key, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[id(key)] = plugindomain.InstalledPlugin{Version: version, Scope: "user"}
	r.self = false
}

func (r *hostRegistry) setVersion(key, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.plugins[id(key)]
	p.Version = version
	r.plugins[id(key)] = p
	r.self = false
}

func (r *hostRegistry) selfRegistered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self
}

// registries stands in for known_marketplaces.json.
type registries struct {
	mu    sync.Mutex
	known map[string]plugindomain.RegistryState
	err   error
}

func newRegistries(names ...string) *registries {
	r := &registries{known: make(map[string]plugindomain.RegistryState)}
	for _, n := range names {
		r.known[n] = plugindomain.RegistryState{SourceKind: "github", Location: "acme/" + n, AutoUpdate: true}
	}
	return r
}

func (r *registries) Registries(ctx context.Context) (map[string]plugindomain.RegistryState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]plugindomain.RegistryState, len(r.known))
	for k, v := range r.known {
		out[k] = v
	}
	return out, nil
}

func (r *registries) AddMissing(ctx context.Context, want map[string]plugindomain.RegistryState) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var added []string
	for _, name := range sortedKeys(want) {
		if _, ok := r.known[name]; ok {
			continue
		}
		r.known[name] = want[name]
		added = append(added, name)
	}
	return added, nil
}

func sortedKeys(m map[string]plugindomain.RegistryState) []string {
	s := plugindomain.NewSnapshot(t0)
	s.Registries = m
	return s.RegistryNames()
}

type enablement map[string]bool

func (e enablement) Enabled(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out, nil
}

// snapshotStore keeps the snapshot in memory.
type snapshotStore struct {
	current *plugindomain.Snapshot
	saves   int
	saveErr error
}

func (s *snapshotStore) Load(ctx context.Context) (*plugindomain.Snapshot, error) {
	return s.current, nil
}

func (s *snapshotStore) Save(ctx context.Context, snap *plugindomain.Snapshot) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.current = snap
	s.saves++
	return nil
}

func (s *snapshotStore) Decode(data []byte) (*plugindomain.Snapshot, error) {
	return state.DecodeSnapshot(data, nil)
}

func (s *snapshotStore) RelPath() string { return "snapshots/current.json" }

// ledgerStore keeps ledger entries in memory.
type ledgerStore struct {
	entries map[plugindomain.Identity]plugindomain.LedgerEntry
	saves   int
}

func (s *ledgerStore) Load(ctx context.Context) (map[plugindomain.Identity]plugindomain.LedgerEntry, error) {
	out := make(map[plugindomain.Identity]plugindomain.LedgerEntry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *ledgerStore) Save(ctx context.Context, entries map[plugindomain.Identity]plugindomain.LedgerEntry) error {
	s.entries = entries
	s.saves++
	return nil
}

// timestampStore keeps one instant in memory.
type timestampStore struct {
	ts    time.Time
	saves int
}

func (s *timestampStore) Load(ctx context.Context) (time.Time, error) { return s.ts, nil }

func (s *timestampStore) Save(ctx context.Context, ts time.Time) error {
	s.ts = ts
	s.saves++
	return nil
}

func snapshotOf(keys ...string) *plugindomain.Snapshot {
	snap := plugindomain.NewSnapshot(t0)
	for _, k := range keys {
		pid := id(k)
		snap.Plugins[pid] = plugindomain.PluginState{Enabled: true, Version: "1.0.0", Scope: "user", RegistryName: pid.Registry()}
		snap.Registries[pid.Registry()] = plugindomain.RegistryState{SourceKind: "github", Location: "acme/" + pid.Registry(), AutoUpdate: true}
	}
	return snap
}
