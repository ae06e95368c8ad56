package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"datafill/internal/csv"
	"datafill/internal/database"
	"datafill/internal/device"
	"datafill/internal/models"
	"datafill/internal/report"
	"datafill/internal/session"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type SessionsState int

const (
	SessionsListState SessionsState = iota
	SessionsDetailState
	SessionsDeleteState
)

type SessionsModel struct {
	state     SessionsState
	store     database.Store
	template  string
	outputDir string
	sessions  []models.Session
	cursor    int
	detail    viewport.Model
	loading   bool
	status    string
	err       error
	width     int
	height    int
}

type sessionsLoadedMsg struct {
	sessions []models.Session
	err      error
}

type sessionsActionMsg struct {
	status string
	reload bool
	err    error
}

func NewSessionsModel(store database.Store, template, outputDir string) *SessionsModel {
	if outputDir == "" {
		outputDir = "."
	}
	return &SessionsModel{
		store:     store,
		template:  template,
		outputDir: outputDir,
		detail:    viewport.New(80, 20),
	}
}

func (m *SessionsModel) Init() tea.Cmd {
	return nil
}

func (m *SessionsModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.detail.Width = max(width-8, 20)
	m.detail.Height = max(height-10, 5)
}

func (m *SessionsModel) ConsumesEsc() bool {
	return m.state != SessionsListState
}

// Load fetches the saved sessions.
func (m *SessionsModel) Load() tea.Cmd {
	m.loading = true
	store := m.store
	return func() tea.Msg {
		ctx, cancel := storeContext()
		defer cancel()
		sessions, err := store.ListSessions(ctx)
		return sessionsLoadedMsg{sessions: sessions, err: err}
	}
}

func (m *SessionsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case sessionsLoadedMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.sessions = msg.sessions
		}
		if m.cursor >= len(m.sessions) {
			m.cursor = max(len(m.sessions)-1, 0)
		}
		return m, nil

	case sessionsActionMsg:
		m.err = msg.err
		m.status = msg.status
		if msg.reload {
			return m, m.Load()
		}
		return m, nil

	case tea.KeyMsg:
		if m.loading {
			return m, nil
		}
		switch m.state {
		case SessionsListState:
			return m.updateList(msg)
		case SessionsDetailState:
			return m.updateDetail(msg)
		case SessionsDeleteState:
			return m.updateDelete(msg)
		}
	}
	return m, nil
}

func (m *SessionsModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.sessions)-1 {
			m.cursor++
		}
	case "ctrl+r":
		m.status = ""
		return m, m.Load()
	case "e":
		return m, m.export()
	}

	s := m.selected()
	if s == nil {
		return m, nil
	}
	switch msg.String() {
	case "enter":
		m.detail.SetContent(renderSessionDetail(s))
		m.detail.GotoTop()
		m.state = SessionsDetailState
	case "d":
		m.state = SessionsDeleteState
	case "r":
		return m, m.writeReport(*s)
	}
	return m, nil
}

func (m *SessionsModel) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.state = SessionsListState
		return m, nil
	case "r":
		if s := m.selected(); s != nil {
			return m, m.writeReport(*s)
		}
	}
	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

func (m *SessionsModel) updateDelete(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y":
		m.state = SessionsListState
		if s := m.selected(); s != nil {
			return m, m.delete(*s)
		}
	case "n", "esc":
		m.state = SessionsListState
	}
	return m, nil
}

func (m *SessionsModel) selected() *models.Session {
	if m.cursor < 0 || m.cursor >= len(m.sessions) {
		return nil
	}
	return &m.sessions[m.cursor]
}

func (m *SessionsModel) delete(s models.Session) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx, cancel := storeContext()
		defer cancel()
		if err := store.DeleteSession(ctx, s.ID); err != nil {
			return sessionsActionMsg{err: fmt.Errorf("failed to delete %s: %w", s.SerialNumber, err)}
		}
		return sessionsActionMsg{status: "Deleted session " + s.SerialNumber, reload: true}
	}
}

func (m *SessionsModel) writeReport(s models.Session) tea.Cmd {
	dir, tmpl := m.outputDir, m.template
	return func() tea.Msg {
		path, err := report.WriteFile(dir, tmpl, &s, time.Local)
		if err != nil {
			return sessionsActionMsg{err: err}
		}
		return sessionsActionMsg{status: "Report written to " + path}
	}
}

func (m *SessionsModel) export() tea.Cmd {
	sessions := m.sessions
	dir := m.outputDir
	return func() tea.Msg {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return sessionsActionMsg{err: err}
		}
		path := filepath.Join(dir, "sessions_"+time.Now().Format("20060102_150405")+".csv")
		f, err := os.Create(path)
		if err != nil {
			return sessionsActionMsg{err: fmt.Errorf("failed to create export file: %w", err)}
		}
		defer f.Close()
		n, err := csv.ExportSessions(f, sessions)
		if err != nil {
			return sessionsActionMsg{err: fmt.Errorf("export failed: %w", err)}
		}
		return sessionsActionMsg{status: fmt.Sprintf("Exported %d rows to %s", n, path)}
	}
}

func (m *SessionsModel) View() string {
	adaptiveTitleStyle, adaptiveFormStyle, adaptiveHelpStyle := GetAdaptiveStyles(m.width, m.height)

	var title, body, help string
	switch m.state {
	case SessionsDetailState:
		title = adaptiveTitleStyle.Render("📋 Session Details")
		body = adaptiveFormStyle.Render(m.detail.View())
		help = adaptiveHelpStyle.Render("↑/↓: Scroll • r: Write report • Esc: Back to list")
	case SessionsDeleteState:
		title = adaptiveTitleStyle.Render("📋 Delete Session")
		s := m.selected()
		body = dialogStyle.Render(warningStyle.Render(fmt.Sprintf("Delete the saved session of %s (%s)?", s.SerialNumber, s.DeviceName)) +
			"\n\n" + labelStyle.Render("y") + " yes • " + labelStyle.Render("n") + " no")
		help = adaptiveHelpStyle.Render("This cannot be undone.")
	default:
		title = adaptiveTitleStyle.Render(fmt.Sprintf("📋 Saved Sessions (%d)", len(m.sessions)))
		body = adaptiveFormStyle.Render(m.renderList())
		help = adaptiveHelpStyle.Render("↑/↓: Navigate • Enter: Details • r: Report • e: Export CSV • d: Delete • Ctrl+R: Refresh • Esc: Menu")
	}

	parts := []string{title, body}
	if m.loading {
		parts = append(parts, mutedStyle.Render("Loading..."))
	}
	if m.err != nil {
		parts = append(parts, errorStyle.Render("❌ "+m.err.Error()))
	} else if m.status != "" {
		parts = append(parts, successStyle.Render("✅ "+m.status))
	}
	parts = append(parts, help)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *SessionsModel) renderList() string {
	if len(m.sessions) == 0 {
		return mutedStyle.Render("No saved sessions")
	}

	rows := max(m.height-12, 5)
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	end := min(start+rows, len(m.sessions))

	var b strings.Builder
	for i := start; i < end; i++ {
		s := &m.sessions[i]
		cursor := " "
		style := menuItemStyle
		if i == m.cursor {
			cursor = ">"
			style = selectedMenuItemStyle
		}
		line := fmt.Sprintf("%-16s %-28s %s", s.SerialNumber, s.DeviceName, s.Timestamp.Local().Format("02.01.2006 15:04"))
		fmt.Fprintf(&b, "%s %s %s\n", cursor, style.Render(line), verdictBadge(overallOf(s)))
	}
	return b.String()
}

func overallOf(s *models.Session) models.Verdict {
	fam, err := device.Resolve(s.DeviceType, s.SubDeviceType)
	if err != nil {
		return ""
	}
	return session.Overall(s, fam.Points())
}

func renderSessionDetail(s *models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Serial:"), s.SerialNumber)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Device:"), s.DeviceName)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Inspector:"), s.InspectorID)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Saved:"), s.Timestamp.Local().Format("02.01.2006 15:04:05"))
	if s.ZipGroupCode != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("ZIP:"), s.ZipGroupCode)
	}
	if s.FastTrackPoint != "" {
		fmt.Fprintf(&b, "%s measured at %s, other points derived\n", labelStyle.Render("Fast-track:"), s.FastTrackPoint)
	}
	fmt.Fprintf(&b, "%s %s\n\n", labelStyle.Render("Overall:"), verdictBadge(overallOf(s)))

	for _, p := range s.Points {
		fmt.Fprintf(&b, "%s  %s\n", labelStyle.Render(p.Label), verdictBadge(p.Verdict))
		fmt.Fprintf(&b, "  readings %g / %g / %g   average %g   limits %g … %g\n",
			p.Raw[0], p.Raw[1], p.Raw[2], p.Average, p.LowerLimit, p.UpperLimit)
		if p.CapturedAt != nil {
			fmt.Fprintf(&b, "  captured %s\n", p.CapturedAt.Local().Format("15:04:05"))
		}
	}
	return b.String()
}
