package cli

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilometers-ai/plugsync/internal/application/services"
	plugindomain "github.com/kilometers-ai/plugsync/internal/core/domain/plugin"
)

func sampleReport() *services.StatusReport {
	return &services.StatusReport{
		HasSnapshot:   true,
		RegistryFound: true,
		Registries:    []string{"reg"},
		Plugins: []services.PluginStatus{
			{ID: plugindomain.MustQualified("a", "reg"), State: services.StateSynced, DesiredVersion: "1.0.0", InstalledVersion: "1.0.0", Enabled: true},
			{ID: plugindomain.MustQualified("b", "reg"), State: services.StateRetrying, Attempts: 2, NextRetry: time.Now()},
			{ID: plugindomain.MustQualified("c", "reg"), State: services.StateExhausted, Attempts: 6, LastError: "not found"},
		},
	}
}

func update(t *testing.T, m dashboardModel, msg tea.Msg) (dashboardModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	dm, ok := next.(dashboardModel)
	require.True(t, ok)
	return dm, cmd
}

func TestDashboard_LoadAndNavigate(t *testing.T) {
	calls := 0
	m := newDashboardModel(func() (*services.StatusReport, error) {
		calls++
		return sampleReport(), nil
	}, time.Second)

	loaded := m.loadCmd()()
	m, _ = update(t, m, loaded)
	assert.Equal(t, 1, calls)
	require.NotNil(t, m.report)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 2, m.selectedRow, "selection stops at the last row")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m.selectedRow)

	view := m.View()
	assert.Contains(t, view, "a@reg")
	assert.Contains(t, view, "6 attempts: not found")
	assert.Contains(t, view, "LIVE")
}

func TestDashboard_PauseSkipsLoad(t *testing.T) {
	m := newDashboardModel(func() (*services.StatusReport, error) { return sampleReport(), nil }, time.Second)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(" ")})
	assert.True(t, m.paused)
	assert.Contains(t, m.View(), "Loading")

	m, _ = update(t, m, m.loadCmd()())
	assert.Contains(t, m.View(), "PAUSED")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(" ")})
	assert.False(t, m.paused)
}

func TestDashboard_ErrorAndQuit(t *testing.T) {
	m := newDashboardModel(func() (*services.StatusReport, error) { return nil, errors.New("ledger unreadable") }, 0)
	assert.Equal(t, 2*time.Second, m.refreshRate)

	m, _ = update(t, m, m.loadCmd()())
	assert.Contains(t, m.View(), "ledger unreadable")

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestDashboard_SelectionClampedOnShrink(t *testing.T) {
	m := newDashboardModel(nil, time.Second)
	m.selectedRow = 5

	m, _ = update(t, m, reportLoadedMsg{report: sampleReport(), at: time.Now()})

	assert.Equal(t, 2, m.selectedRow)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab...", truncateString("abcdefgh", 5))
}
