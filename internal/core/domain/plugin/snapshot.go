package plugindomain

import (
	"fmt"
	"sort"
	"time"
)

// FormatVersion is written into every generated snapshot.
const FormatVersion = "1.0"

// PluginState is the desired state of one plugin.
type PluginState struct {
	Enabled      bool
	Version      string
	Scope        string
	SourceCommit string
	RegistryName string
}

// RegistryState describes where a registry comes from.
type RegistryState struct {
	SourceKind string
	Location   string
	AutoUpdate bool
}

// Snapshot is the desired-state document shared across machines.
// It is replaced as a whole on regeneration, never merged.
type Snapshot struct {
	FormatVersion string
	GeneratedAt   time.Time
	Plugins       map[Identity]PluginState
	Registries    map[string]RegistryState
}

// NewSnapshot returns an empty snapshot stamped with now.
func NewSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		FormatVersion: FormatVersion,
		GeneratedAt:   now.UTC(),
		Plugins:       make(map[Identity]PluginState),
		Registries:    make(map[string]RegistryState),
	}
}

// Identities returns the set of plugin identities in the snapshot.
func (s *Snapshot) Identities() IdentitySet {
	if s == nil {
		return NewIdentitySet()
	}
	set := make(IdentitySet, len(s.Plugins))
	for id := range s.Plugins {
		set.Add(id)
	}
	return set
}

// RegistryNames returns the registry names in sorted order.
func (s *Snapshot) RegistryNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Registries))
	for name := range s.Registries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of plugins.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Plugins)
}

// Validate checks the snapshot invariants and returns one error per
// violation. Offending plugins are reported, not removed.
func (s *Snapshot) Validate() []error {
	var problems []error
	for _, id := range s.Identities().Sorted() {
		state := s.Plugins[id]
		if !id.IsQualified() {
			problems = append(problems, fmt.Errorf("plugin %q: local plugins cannot be part of a snapshot", id))
			continue
		}
		if state.RegistryName != id.Registry() {
			problems = append(problems, fmt.Errorf("plugin %q: registry %q does not match identity", id, state.RegistryName))
			continue
		}
		if _, ok := s.Registries[state.RegistryName]; !ok {
			problems = append(problems, fmt.Errorf("plugin %q: %w %q", id, ErrUnknownRegistry, state.RegistryName))
		}
	}
	return problems
}

// Sanitize drops plugins that violate the invariants and returns what was
// dropped. The rest of the snapshot stays usable.
func (s *Snapshot) Sanitize() []error {
	problems := s.Validate()
	for id, state := range s.Plugins {
		if !id.IsQualified() || state.RegistryName != id.Registry() {
			delete(s.Plugins, id)
			continue
		}
		if _, ok := s.Registries[state.RegistryName]; !ok {
			delete(s.Plugins, id)
		}
	}
	return problems
}
