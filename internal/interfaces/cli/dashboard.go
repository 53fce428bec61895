package cli

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kilometers-ai/plugsync/internal/application/services"
)

// DashboardFlags holds command-line flags for the dashboard command
type DashboardFlags struct {
	RefreshRate time.Duration
}

// NewDashboardCommand creates the dashboard command
func NewDashboardCommand(app *App) *cobra.Command {
	flags := &DashboardFlags{}

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Live terminal view of plugin sync state",
		Long: `Launch an interactive terminal view of the snapshot, the installed plugins
and the retry ledger, refreshed periodically. Background cycles started by
the session hook show up as they finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.Container(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			model := newDashboardModel(func() (*services.StatusReport, error) {
				return c.Status.Inspect(ctx)
			}, flags.RefreshRate)

			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := program.Run(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("dashboard failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&flags.RefreshRate, "refresh", 2*time.Second, "Refresh rate")

	return cmd
}

// dashboardModel holds the state for the Bubble Tea dashboard
type dashboardModel struct {
	inspect      func() (*services.StatusReport, error)
	refreshRate  time.Duration
	report       *services.StatusReport
	selectedRow  int
	paused       bool
	lastUpdate   time.Time
	windowWidth  int
	windowHeight int
	err          error
}

func newDashboardModel(inspect func() (*services.StatusReport, error), refreshRate time.Duration) dashboardModel {
	if refreshRate <= 0 {
		refreshRate = 2 * time.Second
	}
	return dashboardModel{inspect: inspect, refreshRate: refreshRate}
}

// Init implements the Bubble Tea init method
func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.tickCmd(), m.loadCmd())
}

// Update implements the Bubble Tea update method
func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case " ":
			m.paused = !m.paused
			return m, nil

		case "up", "k":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
			return m, nil

		case "down", "j":
			if m.selectedRow < m.rowCount()-1 {
				m.selectedRow++
			}
			return m, nil

		case "r":
			return m, m.loadCmd()
		}

	case tickMsg:
		if !m.paused {
			return m, tea.Batch(m.tickCmd(), m.loadCmd())
		}
		return m, m.tickCmd()

	case reportLoadedMsg:
		m.report = msg.report
		m.err = nil
		m.lastUpdate = msg.at
		if n := m.rowCount(); m.selectedRow >= n {
			m.selectedRow = max(n-1, 0)
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) rowCount() int {
	if m.report == nil {
		return 0
	}
	return len(m.report.Plugins)
}

// View implements the Bubble Tea view method
func (m dashboardModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress 'r' to retry or 'q' to quit", m.err)
	}
	if m.report == nil {
		return mutedStyle.Render("Loading...")
	}

	maxRows := 0
	if m.windowHeight > 0 {
		// header, summary, divider, table header and footer
		maxRows = max(m.windowHeight-11, 1)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		renderStatus(m.report, m.selectedRow, maxRows),
		m.renderFooter(),
	)
}

func (m dashboardModel) renderHeader() string {
	status := okStyle.Bold(true).Render("LIVE")
	if m.paused {
		status = errorStyle.Bold(true).Render("PAUSED")
	}
	line := lipgloss.JoinHorizontal(lipgloss.Left,
		titleStyle.Render("plugsync"),
		"  ",
		mutedStyle.Render(fmt.Sprintf("updated %s, every %v", m.lastUpdate.Format("15:04:05"), m.refreshRate)),
		"  ",
		status,
	)
	return lipgloss.JoinVertical(lipgloss.Left, line, "")
}

func (m dashboardModel) renderFooter() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		"",
		mutedStyle.Render("Controls: [Space] Pause/Resume | [↑↓] Navigate | [r] Refresh | [q] Quit"),
	)
}

// tickMsg is sent every refresh interval
type tickMsg time.Time

func (m dashboardModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type reportLoadedMsg struct {
	report *services.StatusReport
	at     time.Time
}

// errMsg is sent when an error occurs
type errMsg struct {
	err error
}

func (m dashboardModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		report, err := m.inspect()
		if err != nil {
			return errMsg{err: err}
		}
		return reportLoadedMsg{report: report, at: time.Now()}
	}
}
