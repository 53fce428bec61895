package hostfiles

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"
	"go.uber.org/multierr"

	pluginports "github.com/kilometers-ai/plugsync/internal/core/ports/plugin"
	"github.com/kilometers-ai/plugsync/internal/infrastructure/fsutil"
)

// SkillFile is the file mirrored out of every skill directory.
const SkillFile = "SKILL.md"

// AssetPaths locates the mirrored rules file and skills tree.
type AssetPaths struct {
	RulesSource  string
	RulesTarget  string
	SkillsSource string
	SkillsTarget string
}

// Assets mirrors the rules file and skill definitions kept next to the
// snapshot into the host directory.
type Assets struct {
	paths  AssetPaths
	logger hclog.Logger
}

// NewAssets creates a mirror for paths.
func NewAssets(paths AssetPaths, logger hclog.Logger) *Assets {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Assets{paths: paths, logger: logger}
}

// SyncRules copies the rules file when its content differs from the target.
// A missing source is not an error.
func (a *Assets) SyncRules(ctx context.Context) (int, error) {
	wrote, err := mirrorFile(a.paths.RulesSource, a.paths.RulesTarget)
	if err != nil {
		return 0, fmt.Errorf("failed to sync rules: %w", err)
	}
	if !wrote {
		a.logger.Debug("rules unchanged", "source", a.paths.RulesSource)
		return 0, nil
	}
	a.logger.Info("rules synced", "target", a.paths.RulesTarget)
	return 1, nil
}

// SyncSkills copies <source>/<skill>/SKILL.md to <target>/<skill>/SKILL.md
// for every skill directory whose file differs. One failing skill does not
// stop the others.
func (a *Assets) SyncSkills(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(a.paths.SkillsSource)
	if os.IsNotExist(err) {
		a.logger.Debug("skills source not found", "path", a.paths.SkillsSource)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read skills directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var errs error
	synced := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return synced, multierr.Append(errs, ctx.Err())
		}
		if !entry.IsDir() {
			continue
		}
		src := filepath.Join(a.paths.SkillsSource, entry.Name(), SkillFile)
		dst := filepath.Join(a.paths.SkillsTarget, entry.Name(), SkillFile)
		wrote, err := mirrorFile(src, dst)
		if err != nil {
			a.logger.Error("skill sync failed", "skill", entry.Name(), "error", err)
			errs = multierr.Append(errs, fmt.Errorf("skill %s: %w", entry.Name(), err))
			continue
		}
		if wrote {
			a.logger.Info("skill synced", "skill", entry.Name())
			synced++
		}
	}
	return synced, errs
}

func mirrorFile(src, dst string) (bool, error) {
	data, ok, err := fsutil.ReadFileIfExists(src)
	if err != nil || !ok {
		return false, err
	}
	current, ok, err := fsutil.ReadFileIfExists(dst)
	if err != nil {
		return false, err
	}
	if ok && bytes.Equal(current, data) {
		return false, nil
	}
	if err := fsutil.WriteFileAtomic(dst, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

var _ pluginports.AssetMirror = (*Assets)(nil)
