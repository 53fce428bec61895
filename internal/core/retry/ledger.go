// Package retry tracks failed plugin installs and decides when a failed
// install may be attempted again.
//
// An entry is created on the first failure with AttemptCount 1, bumped on
// every further failure, and deleted on success. Once AttemptCount exceeds
// the ceiling the entry becomes inert: it is kept as a record but never
// retried until a success or a manual edit removes it.
package retry

import (
	"time"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
)

const (
	DefaultRetryInterval = 600 * time.Second
	DefaultMaxRetryCount = 5
)

// Policy bounds retry scheduling.
type Policy struct {
	RetryInterval time.Duration
	MaxRetryCount int
}

// DefaultPolicy returns the 10 minute / 5 attempt policy.
func DefaultPolicy() Policy {
	return Policy{RetryInterval: DefaultRetryInterval, MaxRetryCount: DefaultMaxRetryCount}
}

// Eligible reports whether entry may be retried at now.
func (p Policy) Eligible(entry plugindomain.LedgerEntry, now time.Time) bool {
	return now.Sub(entry.LastAttempt) >= p.RetryInterval && entry.AttemptCount <= p.MaxRetryCount
}

// Exhausted reports whether entry has passed the attempt ceiling.
func (p Policy) Exhausted(entry plugindomain.LedgerEntry) bool {
	return entry.AttemptCount > p.MaxRetryCount
}

// Decision is the ledger's verdict for one missing identity.
type Decision int

const (
	// DecisionAttempt means install now.
	DecisionAttempt Decision = iota
	// DecisionBackoff means the retry interval has not elapsed.
	DecisionBackoff
	// DecisionExhausted means the attempt ceiling was passed.
	DecisionExhausted
)

func (d Decision) String() string {
	switch d {
	case DecisionBackoff:
		return "backoff"
	case DecisionExhausted:
		return "exhausted"
	default:
		return "attempt"
	}
}

// Ledger is the in-memory view of the persisted retry state. It is not safe
// for concurrent use.
type Ledger struct {
	policy  Policy
	entries map[plugindomain.Identity]plugindomain.LedgerEntry
	dirty   bool
}

// NewLedger wraps entries loaded from storage. The map is copied.
func NewLedger(policy Policy, entries map[plugindomain.Identity]plugindomain.LedgerEntry) *Ledger {
	l := &Ledger{
		policy:  policy,
		entries: make(map[plugindomain.Identity]plugindomain.LedgerEntry, len(entries)),
	}
	for id, e := range entries {
		l.entries[id] = e
	}
	return l
}

// Policy returns the policy the ledger applies.
func (l *Ledger) Policy() Policy { return l.policy }

// Entry returns the entry for id.
func (l *Ledger) Entry(id plugindomain.Identity) (plugindomain.LedgerEntry, bool) {
	e, ok := l.entries[id]
	return e, ok
}

// Decide returns whether id should be installed at now. Identities without
// an entry are always attempted.
func (l *Ledger) Decide(id plugindomain.Identity, now time.Time) Decision {
	entry, ok := l.entries[id]
	if !ok {
		return DecisionAttempt
	}
	if l.policy.Exhausted(entry) {
		return DecisionExhausted
	}
	if !l.policy.Eligible(entry, now) {
		return DecisionBackoff
	}
	return DecisionAttempt
}

// RecordFailure registers a failed attempt and returns the updated entry.
func (l *Ledger) RecordFailure(id plugindomain.Identity, message string, now time.Time) plugindomain.LedgerEntry {
	now = now.UTC()
	entry, ok := l.entries[id]
	if !ok || entry.AttemptCount < 1 {
		entry = plugindomain.LedgerEntry{AttemptCount: 1, FirstFailedAt: now}
	} else {
		entry.AttemptCount++
		if entry.FirstFailedAt.IsZero() {
			entry.FirstFailedAt = entry.LastAttempt
		}
	}
	entry.LastAttempt = now
	entry.LastError = message
	l.entries[id] = entry
	l.dirty = true
	return entry
}

// RecordSuccess deletes the entry for id. It reports whether one existed.
func (l *Ledger) RecordSuccess(id plugindomain.Identity) bool {
	if _, ok := l.entries[id]; !ok {
		return false
	}
	delete(l.entries, id)
	l.dirty = true
	return true
}

// Retain drops every entry whose identity fails keep and returns the
// dropped identities in key order.
func (l *Ledger) Retain(keep func(plugindomain.Identity) bool) []plugindomain.Identity {
	var dropped []plugindomain.Identity
	for id := range l.entries {
		if !keep(id) {
			delete(l.entries, id)
			dropped = append(dropped, id)
		}
	}
	if len(dropped) > 0 {
		l.dirty = true
		plugindomain.SortIdentities(dropped)
	}
	return dropped
}

// Entries returns a copy of all entries.
func (l *Ledger) Entries() map[plugindomain.Identity]plugindomain.LedgerEntry {
	out := make(map[plugindomain.Identity]plugindomain.LedgerEntry, len(l.entries))
	for id, e := range l.entries {
		out[id] = e
	}
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Dirty reports whether the ledger changed since it was loaded.
func (l *Ledger) Dirty() bool { return l.dirty }
