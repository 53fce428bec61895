package hostfiles

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assetPaths(t *testing.T) AssetPaths {
	t.Helper()
	home, host := t.TempDir(), t.TempDir()
	return AssetPaths{
		RulesSource:  filepath.Join(home, "global-rules", "CLAUDE.md"),
		RulesTarget:  filepath.Join(host, "CLAUDE.md"),
		SkillsSource: filepath.Join(home, "global-skills"),
		SkillsTarget: filepath.Join(host, "skills"),
	}
}

func put(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestAssets_SyncRules(t *testing.T) {
	paths := assetPaths(t)
	assets := NewAssets(paths, nil)
	ctx := context.Background()

	n, err := assets.SyncRules(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "Missing source is skipped")

	put(t, paths.RulesSource, "# rules v1\n")
	n, err = assets.SyncRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = assets.SyncRules(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "Identical content is not rewritten")

	put(t, paths.RulesSource, "# rules v2\n")
	n, err = assets.SyncRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	data, err := os.ReadFile(paths.RulesTarget)
	require.NoError(t, err)
	assert.Equal(t, "# rules v2\n", string(data))
}

func TestAssets_SyncSkills(t *testing.T) {
	paths := assetPaths(t)
	put(t, filepath.Join(paths.SkillsSource, "review", SkillFile), "review skill")
	put(t, filepath.Join(paths.SkillsSource, "deploy", SkillFile), "deploy skill")
	put(t, filepath.Join(paths.SkillsSource, "notes", "README.md"), "no skill file")
	put(t, filepath.Join(paths.SkillsSource, "stray.md"), "not a directory")
	put(t, filepath.Join(paths.SkillsTarget, "deploy", SkillFile), "deploy skill")

	n, err := NewAssets(paths, nil).SyncSkills(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "Only the changed skill is written")

	data, err := os.ReadFile(filepath.Join(paths.SkillsTarget, "review", SkillFile))
	require.NoError(t, err)
	assert.Equal(t, "review skill", string(data))
	assert.NoDirExists(t, filepath.Join(paths.SkillsTarget, "notes"))
}

func TestAssets_SyncSkillsMissingSource(t *testing.T) {
	n, err := NewAssets(assetPaths(t), nil).SyncSkills(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackups_CleanKeepsPrimaryBackup(t *testing.T) {
	dir := t.TempDir()
	put(t, filepath.Join(dir, ".claude.json"), "{}")
	put(t, filepath.Join(dir, ".claude.json.backup"), "{}")
	put(t, filepath.Join(dir, ".claude.json.backup.1770000000"), "{}")
	put(t, filepath.Join(dir, ".claude.json.backup.1770000100"), "{}")

	n, err := NewBackups(dir, nil).CleanBackups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.FileExists(t, filepath.Join(dir, ".claude.json"))
	assert.FileExists(t, filepath.Join(dir, ".claude.json.backup"))
	assert.NoFileExists(t, filepath.Join(dir, ".claude.json.backup.1770000000"))
}
