package hostfiles

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"
	"go.uber.org/multierr"

	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
)

// BackupPattern matches the timestamped copies the host leaves beside its
// .claude.json. The plain ".claude.json.backup" does not match.
const BackupPattern = ".claude.json.backup.*"

// Backups deletes timestamped host backups from one directory.
type Backups struct {
	dir    string
	logger hclog.Logger
}

// NewBackups creates a cleaner for dir.
func NewBackups(dir string, logger hclog.Logger) *Backups {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Backups{dir: dir, logger: logger}
}

// CleanBackups removes every file matching BackupPattern.
func (b *Backups) CleanBackups(ctx context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(b.dir, BackupPattern))
	if err != nil {
		return 0, err
	}
	sort.Strings(matches)

	var errs error
	deleted := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("failed to delete backup", "file", filepath.Base(path), "error", err)
			errs = multierr.Append(errs, err)
			continue
		}
		b.logger.Debug("deleted backup", "file", filepath.Base(path))
		deleted++
	}
	if deleted > 0 {
		b.logger.Info("cleaned up host backups", "count", deleted)
	}
	return deleted, errs
}

var _ pluginports.BackupCleaner = (*Backups)(nil)
