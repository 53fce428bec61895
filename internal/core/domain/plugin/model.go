package plugindomain

import (
	"errors"
	"time"
)

// ErrUnknownRegistry marks a plugin whose registry is not declared.
var ErrUnknownRegistry = errors.New("unknown registry")

// InstalledPlugin is what the host reports for one installed plugin.
type InstalledPlugin struct {
	Version      string
	Scope        string
	GitCommitSha string
	InstallPath  string
}

// ObservedState is the locally installed plugin set, read fresh every cycle.
type ObservedState struct {
	Plugins map[Identity]InstalledPlugin
}

// NewObservedState returns an empty observed state.
func NewObservedState() *ObservedState {
	return &ObservedState{Plugins: make(map[Identity]InstalledPlugin)}
}

// Identities returns every installed identity, local ones included.
func (o *ObservedState) Identities() IdentitySet {
	if o == nil {
		return NewIdentitySet()
	}
	set := make(IdentitySet, len(o.Plugins))
	for id := range o.Plugins {
		set.Add(id)
	}
	return set
}

// Qualified returns the installed registry-qualified identities.
func (o *ObservedState) Qualified() IdentitySet {
	return o.Identities().Qualified()
}

// LocalCount returns how many local plugins are installed.
func (o *ObservedState) LocalCount() int {
	if o == nil {
		return 0
	}
	n := 0
	for id := range o.Plugins {
		if id.IsLocal() {
			n++
		}
	}
	return n
}

// LedgerEntry tracks failed install attempts for one identity.
// AttemptCount starts at 1 on the first recorded failure.
type LedgerEntry struct {
	LastAttempt   time.Time
	AttemptCount  int
	LastError     string
	FirstFailedAt time.Time
}
