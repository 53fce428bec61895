package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"

	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/fsutil"
)

// ledgerData represents the persisted ledger format
type ledgerData struct {
	Plugins   map[string]ledgerRecord `json:"plugins"`
	Timestamp string                  `json:"timestamp"`
}

type ledgerRecord struct {
	LastAttempt   string `json:"last_attempt"`
	AttemptCount  int    `json:"attempt_count"`
	LastError     string `json:"last_error,omitempty"`
	FirstFailedAt string `json:"first_failed_at,omitempty"`
}

// LedgerStore reads and writes snapshots/.last-install-state.json.
type LedgerStore struct {
	filePath string
	logger   hclog.Logger
	now      func() time.Time
}

// NewLedgerStore creates a ledger store for filePath.
func NewLedgerStore(filePath string, logger hclog.Logger) *LedgerStore {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LedgerStore{filePath: filePath, logger: logger, now: time.Now}
}

// Load returns an empty ledger when the file is missing. The reader is
// lenient: entries are read either from a "plugins" object or from the
// document root, "retry_count" stands in for "attempt_count", and entries
// with status "installed" are dropped since success deletes entries.
func (s *LedgerStore) Load(ctx context.Context) (map[plugindomain.Identity]plugindomain.LedgerEntry, error) {
	entries := make(map[plugindomain.Identity]plugindomain.LedgerEntry)

	data, ok, err := fsutil.ReadFileIfExists(s.filePath)
	if err != nil || !ok {
		return entries, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse ledger %s: invalid JSON", s.filePath)
	}

	doc := gjson.ParseBytes(data)
	records := doc.Get("plugins")
	if !records.IsObject() {
		records = doc
	}

	records.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			return true
		}
		if value.Get("status").String() == "installed" {
			return true
		}
		id, err := plugindomain.ParseIdentity(key.String())
		if err != nil || !id.IsQualified() {
			s.logger.Warn("skipping ledger entry", "key", key.String(), "error", err)
			return true
		}

		count := value.Get("attempt_count")
		if !count.Exists() {
			count = value.Get("retry_count")
		}
		entry := plugindomain.LedgerEntry{
			LastAttempt:   ParseTimestamp(value.Get("last_attempt").String()),
			AttemptCount:  int(count.Int()),
			LastError:     value.Get("last_error").String(),
			FirstFailedAt: ParseTimestamp(value.Get("first_failed_at").String()),
		}
		if entry.AttemptCount < 1 {
			entry.AttemptCount = 1
		}
		entries[id] = entry
		return true
	})
	return entries, nil
}

// Save replaces the ledger file.
func (s *LedgerStore) Save(ctx context.Context, entries map[plugindomain.Identity]plugindomain.LedgerEntry) error {
	raw := ledgerData{
		Plugins:   make(map[string]ledgerRecord, len(entries)),
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
	for id, e := range entries {
		rec := ledgerRecord{
			LastAttempt:  e.LastAttempt.UTC().Format(time.RFC3339),
			AttemptCount: e.AttemptCount,
			LastError:    e.LastError,
		}
		if !e.FirstFailedAt.IsZero() {
			rec.FirstFailedAt = e.FirstFailedAt.UTC().Format(time.RFC3339)
		}
		raw.Plugins[id.String()] = rec
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.filePath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}

var _ pluginports.LedgerStore = (*LedgerStore)(nil)
