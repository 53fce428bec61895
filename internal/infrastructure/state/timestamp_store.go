package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/fsutil"
)

// TimestampStore keeps one UTC instant in a text file. It backs both the
// last-update marker and the last-run cooldown marker.
type TimestampStore struct {
	filePath string
}

// NewTimestampStore creates a store for filePath.
func NewTimestampStore(filePath string) *TimestampStore {
	return &TimestampStore{filePath: filePath}
}

// Load returns the zero time when the file is missing or unparseable. An
// unreadable marker only makes the next pass due earlier.
func (s *TimestampStore) Load(ctx context.Context) (time.Time, error) {
	data, ok, err := fsutil.ReadFileIfExists(s.filePath)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return ParseTimestamp(string(data)), nil
}

// Save writes ts in RFC 3339 UTC form.
func (s *TimestampStore) Save(ctx context.Context, ts time.Time) error {
	line := ts.UTC().Format(time.RFC3339Nano) + "\n"
	if err := fsutil.WriteFileAtomic(s.filePath, []byte(line), 0o644); err != nil {
		return fmt.Errorf("failed to save timestamp: %w", err)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999-07:00Z",
}

// ParseTimestamp accepts RFC 3339 and the ISO 8601 variants older tools
// wrote: no zone (read as UTC) and an offset followed by a stray "Z". It
// returns the zero time when nothing matches.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var _ pluginports.TimestampStore = (*TimestampStore)(nil)
