package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
)

var (
	baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pluginX  = plugindomain.MustQualified("x", "reg1")
)

func TestPolicy_Defaults(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 600*time.Second, p.RetryInterval, "Default retry interval should be 10 minutes")
	assert.Equal(t, 5, p.MaxRetryCount, "Default retry ceiling should be 5")
}

func TestPolicy_Eligible(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		entry    plugindomain.LedgerEntry
		now      time.Time
		expected bool
	}{
		{
			name:     "IntervalElapsed_ShouldRetry",
			entry:    plugindomain.LedgerEntry{LastAttempt: baseTime, AttemptCount: 1},
			now:      baseTime.Add(10 * time.Minute),
			expected: true,
		},
		{
			name:     "InsideInterval_ShouldWait",
			entry:    plugindomain.LedgerEntry{LastAttempt: baseTime, AttemptCount: 1},
			now:      baseTime.Add(9*time.Minute + 59*time.Second),
			expected: false,
		},
		{
			name:     "AtCeiling_ShouldRetry",
			entry:    plugindomain.LedgerEntry{LastAttempt: baseTime, AttemptCount: 5},
			now:      baseTime.Add(time.Hour),
			expected: true,
		},
		{
			name:     "PastCeiling_ShouldNeverRetry",
			entry:    plugindomain.LedgerEntry{LastAttempt: baseTime, AttemptCount: 6},
			now:      baseTime.Add(24 * time.Hour),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.Eligible(tt.entry, tt.now))
		})
	}
}

func TestLedger_FirstFailureStartsAtOne(t *testing.T) {
	ledger := NewLedger(DefaultPolicy(), nil)

	entry := ledger.RecordFailure(pluginX, "network unreachable", baseTime)

	assert.Equal(t, 1, entry.AttemptCount, "First failure must be recorded as attempt 1")
	assert.Equal(t, "network unreachable", entry.LastError)
	assert.Equal(t, baseTime, entry.FirstFailedAt)
	assert.True(t, ledger.Dirty())
}

func TestLedger_ZeroCountEntryIsTreatedAsFirstFailure(t *testing.T) {
	ledger := NewLedger(DefaultPolicy(), map[plugindomain.Identity]plugindomain.LedgerEntry{
		pluginX: {LastAttempt: baseTime, AttemptCount: 0},
	})

	entry := ledger.RecordFailure(pluginX, "boom", baseTime.Add(time.Hour))

	assert.Equal(t, 1, entry.AttemptCount)
}

func TestLedger_FailureIncrementsAndOverwrites(t *testing.T) {
	ledger := NewLedger(DefaultPolicy(), nil)
	ledger.RecordFailure(pluginX, "first", baseTime)

	later := baseTime.Add(11 * time.Minute)
	entry := ledger.RecordFailure(pluginX, "second", later)

	assert.Equal(t, 2, entry.AttemptCount)
	assert.Equal(t, "second", entry.LastError)
	assert.Equal(t, later, entry.LastAttempt)
	assert.Equal(t, baseTime, entry.FirstFailedAt, "First failure time should be preserved")
}

func TestLedger_Decide(t *testing.T) {
	ledger := NewLedger(DefaultPolicy(), map[plugindomain.Identity]plugindomain.LedgerEntry{
		plugindomain.MustQualified("fresh", "reg"):     {LastAttempt: baseTime, AttemptCount: 2},
		plugindomain.MustQualified("stale", "reg"):     {LastAttempt: baseTime.Add(-time.Hour), AttemptCount: 2},
		plugindomain.MustQualified("exhausted", "reg"): {LastAttempt: baseTime.Add(-time.Hour), AttemptCount: 6},
	})

	assert.Equal(t, DecisionAttempt, ledger.Decide(plugindomain.MustQualified("new", "reg"), baseTime))
	assert.Equal(t, DecisionBackoff, ledger.Decide(plugindomain.MustQualified("fresh", "reg"), baseTime))
	assert.Equal(t, DecisionAttempt, ledger.Decide(plugindomain.MustQualified("stale", "reg"), baseTime))
	assert.Equal(t, DecisionExhausted, ledger.Decide(plugindomain.MustQualified("exhausted", "reg"), baseTime))
}

func TestLedger_RecordSuccessRemovesEntry(t *testing.T) {
	ledger := NewLedger(DefaultPolicy(), map[plugindomain.Identity]plugindomain.LedgerEntry{
		pluginX: {LastAttempt: baseTime, AttemptCount: 4},
	})

	require.True(t, ledger.RecordSuccess(pluginX))
	_, ok := ledger.Entry(pluginX)
	assert.False(t, ok)
	assert.False(t, ledger.RecordSuccess(pluginX), "Second success has nothing to remove")
}

func TestLedger_Retain(t *testing.T) {
	keep := plugindomain.MustQualified("keep", "reg")
	drop := plugindomain.MustQualified("drop", "reg")
	ledger := NewLedger(DefaultPolicy(), map[plugindomain.Identity]plugindomain.LedgerEntry{
		keep: {AttemptCount: 1},
		drop: {AttemptCount: 3},
	})

	dropped := ledger.Retain(func(id plugindomain.Identity) bool { return id == keep })

	assert.Equal(t, []plugindomain.Identity{drop}, dropped)
	assert.Equal(t, 1, ledger.Len())
}

func TestLedger_NewLedgerCopiesInput(t *testing.T) {
	input := map[plugindomain.Identity]plugindomain.LedgerEntry{pluginX: {AttemptCount: 1}}
	ledger := NewLedger(DefaultPolicy(), input)

	ledger.RecordSuccess(pluginX)

	assert.Len(t, input, 1, "Caller's map must not be mutated")
}

// TestLedger_Properties checks the ledger invariants over random histories.
func TestLedger_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ledger := NewLedger(DefaultPolicy(), nil)
		now := baseTime
		failures := 0

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			now = now.Add(time.Duration(rapid.IntRange(0, 3600).Draw(t, "gap")) * time.Second)
			if rapid.Bool().Draw(t, "fails") {
				failures++
				entry := ledger.RecordFailure(pluginX, "err", now)
				if entry.AttemptCount != failures {
					t.Fatalf("attempt count %d after %d consecutive failures", entry.AttemptCount, failures)
				}
				if entry.AttemptCount < 1 {
					t.Fatalf("recorded entry has count %d", entry.AttemptCount)
				}
			} else {
				ledger.RecordSuccess(pluginX)
				failures = 0
				if _, ok := ledger.Entry(pluginX); ok {
					t.Fatalf("entry survived a success")
				}
			}
		}

		if entry, ok := ledger.Entry(pluginX); ok && entry.AttemptCount > DefaultMaxRetryCount {
			if ledger.Decide(pluginX, now.Add(1000*time.Hour)) != DecisionExhausted {
				t.Fatalf("entry past the ceiling was not exhausted")
			}
		}
	})
}
