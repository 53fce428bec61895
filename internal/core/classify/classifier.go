// Package classify decides whether a regenerated snapshot differs from the
// previous one in a way worth publishing.
package classify

import (
	"sort"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
)

// Kind is the class of change between two snapshots.
type Kind int

const (
	// VersionOnly means the plugin identity sets are equal. Version, enabled
	// flag, scope or commit may still differ.
	VersionOnly Kind = iota
	// Structural means a plugin was added or removed.
	Structural
)

func (k Kind) String() string {
	if k == Structural {
		return "structural"
	}
	return "version-only"
}

// VersionChange is a plugin present in both snapshots whose version moved.
type VersionChange struct {
	Identity plugindomain.Identity
	From     string
	To       string
}

// Change describes the difference between two snapshots.
type Change struct {
	Kind              Kind
	Added             []plugindomain.Identity
	Removed           []plugindomain.Identity
	RegistriesAdded   []string
	RegistriesRemoved []string
	VersionChanges    []VersionChange
	FirstSnapshot     bool
}

// RegistriesChanged reports whether registry membership differs.
func (c Change) RegistriesChanged() bool {
	return len(c.RegistriesAdded) > 0 || len(c.RegistriesRemoved) > 0
}

// ShouldPush reports whether the change should be published to the remote.
// Version-only changes are suppressed.
func (c Change) ShouldPush() bool {
	return c.Kind == Structural || c.RegistriesChanged()
}

// Sets classifies two identity sets. It is the pure core of Classify.
func Sets(prev, next plugindomain.IdentitySet) Kind {
	if prev.Equal(next) {
		return VersionOnly
	}
	return Structural
}

// Classify compares prev and next. A nil prev means no snapshot existed
// before and is always structural.
func Classify(prev, next *plugindomain.Snapshot) Change {
	nextIDs := next.Identities()

	if prev == nil {
		return Change{
			Kind:            Structural,
			Added:           nextIDs.Sorted(),
			RegistriesAdded: next.RegistryNames(),
			FirstSnapshot:   true,
		}
	}

	prevIDs := prev.Identities()
	change := Change{
		Kind:              Sets(prevIDs, nextIDs),
		Added:             nextIDs.Difference(prevIDs),
		Removed:           prevIDs.Difference(nextIDs),
		RegistriesAdded:   registryDiff(next, prev),
		RegistriesRemoved: registryDiff(prev, next),
	}

	for _, id := range nextIDs.Sorted() {
		if !prevIDs.Has(id) {
			continue
		}
		before, after := prev.Plugins[id].Version, next.Plugins[id].Version
		if before != after {
			change.VersionChanges = append(change.VersionChanges, VersionChange{Identity: id, From: before, To: after})
		}
	}
	return change
}

func registryDiff(a, b *plugindomain.Snapshot) []string {
	var out []string
	if a == nil {
		return out
	}
	for name := range a.Registries {
		if b == nil {
			out = append(out, name)
			continue
		}
		if _, ok := b.Registries[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
