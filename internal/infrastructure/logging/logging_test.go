package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotator_BelowLimitUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auto-manager.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o644))

	rotated, err := Rotator{MaxSize: 100, KeepSize: 50}.Rotate(path)

	require.NoError(t, err)
	assert.False(t, rotated)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestRotator_KeepsTailFromLineBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auto-manager.log")
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("line-")
		b.WriteString(strings.Repeat("x", 5))
		b.WriteString("\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Rotator{MaxSize: 500, KeepSize: 125, Now: func() time.Time { return now }}

	rotated, err := r.Rotate(path)
	require.NoError(t, err)
	assert.True(t, rotated)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Equal(t, "[2026-03-01T12:00:00Z] [LOG ROTATED - keeping last 125B]", lines[0])
	for _, l := range lines[1:] {
		assert.Equal(t, "line-xxxxx", l, "Only whole lines survive")
	}
	assert.LessOrEqual(t, len(lines)-1, 125/11)
}

func TestRotator_MissingFile(t *testing.T) {
	rotated, err := DefaultRotator().Rotate(filepath.Join(t.TempDir(), "none.log"))

	require.NoError(t, err)
	assert.False(t, rotated)
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "auto-manager.log")
	devnull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer devnull.Close()

	logger, err := New(Options{Level: "debug", File: path, Stderr: devnull})
	require.NoError(t, err)
	logger.Named("reconcile").Info("installed plugin", "plugin", "lint@tools")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "plugsync.reconcile: installed plugin: plugin=lint@tools")
}

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel("WARN")
	assert.True(t, ok)
	assert.Equal(t, hclog.Warn, level)

	_, ok = ParseLevel("chatty")
	assert.False(t, ok)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "8MB", formatSize(DefaultKeepSize))
	assert.Equal(t, "1000B", formatSize(1000))
}
