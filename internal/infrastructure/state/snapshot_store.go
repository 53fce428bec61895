// Package state persists the snapshot, the retry ledger and the cycle
// timestamps under the snapshot repository. Every write is atomic.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/fsutil"
)

// snapshotData represents the persisted snapshot format
type snapshotData struct {
	Version      string                       `json:"version"`
	Timestamp    string                       `json:"timestamp"`
	Plugins      map[string]pluginRecord      `json:"plugins"`
	Marketplaces map[string]marketplaceRecord `json:"marketplaces"`
}

type pluginRecord struct {
	Enabled      bool   `json:"enabled"`
	Version      string `json:"version"`
	Scope        string `json:"scope"`
	Marketplace  string `json:"marketplace"`
	GitCommitSha string `json:"gitCommitSha,omitempty"`
}

type marketplaceRecord struct {
	Source     string `json:"source"`
	Repo       string `json:"repo"`
	AutoUpdate bool   `json:"autoUpdate"`
}

// SnapshotStore reads and writes snapshots/current.json.
type SnapshotStore struct {
	home     string
	filePath string
	logger   hclog.Logger
}

// NewSnapshotStore creates a store for the snapshot at filePath inside the
// repository rooted at home.
func NewSnapshotStore(home, filePath string, logger hclog.Logger) *SnapshotStore {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &SnapshotStore{home: home, filePath: filePath, logger: logger}
}

// RelPath is the snapshot path relative to the repository root, in slash form.
func (s *SnapshotStore) RelPath() string {
	rel, err := filepath.Rel(s.home, s.filePath)
	if err != nil {
		return filepath.ToSlash(s.filePath)
	}
	return filepath.ToSlash(rel)
}

// Load returns nil when no snapshot exists. Plugins with malformed keys or
// undeclared registries are skipped and logged; they never invalidate the
// whole snapshot.
func (s *SnapshotStore) Load(ctx context.Context) (*plugindomain.Snapshot, error) {
	data, ok, err := fsutil.ReadFileIfExists(s.filePath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	snap, err := DecodeSnapshot(data, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", s.filePath, err)
	}
	return snap, nil
}

// Save replaces the snapshot file.
func (s *SnapshotStore) Save(ctx context.Context, snap *plugindomain.Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.filePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Decode parses data in the stored format, logging skipped entries.
func (s *SnapshotStore) Decode(data []byte) (*plugindomain.Snapshot, error) {
	return DecodeSnapshot(data, s.logger)
}

// DecodeSnapshot parses the wire format.
func DecodeSnapshot(data []byte, logger hclog.Logger) (*plugindomain.Snapshot, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	var raw snapshotData
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	snap := &plugindomain.Snapshot{
		FormatVersion: raw.Version,
		GeneratedAt:   ParseTimestamp(raw.Timestamp),
		Plugins:       make(map[plugindomain.Identity]plugindomain.PluginState, len(raw.Plugins)),
		Registries:    make(map[string]plugindomain.RegistryState, len(raw.Marketplaces)),
	}
	for name, m := range raw.Marketplaces {
		snap.Registries[name] = plugindomain.RegistryState{SourceKind: m.Source, Location: m.Repo, AutoUpdate: m.AutoUpdate}
	}
	for key, p := range raw.Plugins {
		id, err := plugindomain.ParseIdentity(key)
		if err != nil {
			logger.Warn("skipping snapshot entry", "key", key, "error", err)
			continue
		}
		registry := p.Marketplace
		if registry == "" {
			registry = id.Registry()
		}
		snap.Plugins[id] = plugindomain.PluginState{
			Enabled:      p.Enabled,
			Version:      p.Version,
			Scope:        p.Scope,
			SourceCommit: p.GitCommitSha,
			RegistryName: registry,
		}
	}

	for _, problem := range snap.Sanitize() {
		logger.Warn("skipping snapshot entry", "error", problem)
	}
	return snap, nil
}

// EncodeSnapshot renders the wire format with two-space indentation and a
// trailing newline.
func EncodeSnapshot(snap *plugindomain.Snapshot) ([]byte, error) {
	raw := snapshotData{
		Version:      snap.FormatVersion,
		Timestamp:    snap.GeneratedAt.UTC().Format(time.RFC3339),
		Plugins:      make(map[string]pluginRecord, len(snap.Plugins)),
		Marketplaces: make(map[string]marketplaceRecord, len(snap.Registries)),
	}
	if raw.Version == "" {
		raw.Version = plugindomain.FormatVersion
	}
	for id, p := range snap.Plugins {
		raw.Plugins[id.String()] = pluginRecord{
			Enabled:      p.Enabled,
			Version:      p.Version,
			Scope:        p.Scope,
			Marketplace:  p.RegistryName,
			GitCommitSha: p.SourceCommit,
		}
	}
	for name, r := range snap.Registries {
		raw.Marketplaces[name] = marketplaceRecord{Source: r.SourceKind, Repo: r.Location, AutoUpdate: r.AutoUpdate}
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

var _ pluginports.SnapshotStore = (*SnapshotStore)(nil)
