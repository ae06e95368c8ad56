package tui

import (
	"fmt"

	"datafill/internal/models"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type menuChoice struct {
	label string
	cmd   func() tea.Cmd
}

type MenuModel struct {
	choices  []menuChoice
	cursor   int
	selected int
	width    int
	height   int
}

func NewMenuModel() *MenuModel {
	return &MenuModel{
		choices: []menuChoice{
			{"🌡  Verify thermometers", func() tea.Cmd { return StartVerification(models.Thermometer, "") }},
			{"🍷 Verify alcotests", func() tea.Cmd { return StartVerification(models.Alcotest, "") }},
			{"🔍 Inspector: thermometer", func() tea.Cmd { return StartVerification(models.Inspector, models.Thermometer) }},
			{"🔍 Inspector: alcotest", func() tea.Cmd { return StartVerification(models.Inspector, models.Alcotest) }},
			{"📥 Import serial list", func() tea.Cmd { return ChangeScreen(ImportScreen) }},
			{"📋 Saved sessions", func() tea.Cmd { return ChangeScreen(SessionsScreen) }},
			{"💾 Backup sessions", func() tea.Cmd { return ChangeScreen(BackupScreen) }},
			{"🔄 Restore sessions", func() tea.Cmd { return ChangeScreen(RestoreScreen) }},
			{"🚪 Exit", func() tea.Cmd { return tea.Quit }},
		},
		cursor: 0,
	}
}

func (m *MenuModel) Init() tea.Cmd {
	return nil
}

func (m *MenuModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.choices)-1 {
				m.cursor++
			}
		case "enter", " ":
			m.selected = m.cursor
			return m, m.choices[m.selected].cmd()
		}
	}
	return m, nil
}

func (m *MenuModel) View() string {
	adaptiveTitleStyle, _, adaptiveHelpStyle := GetAdaptiveStyles(m.width, m.height)

	title := adaptiveTitleStyle.Render("📟 Datafill - Instrument Verification")

	var menu string
	for i, c := range m.choices {
		cursor := " "
		choice := menuItemStyle.Render(c.label)
		if m.cursor == i {
			cursor = ">"
			choice = selectedMenuItemStyle.Render(c.label)
		}
		menu += fmt.Sprintf("%s %s\n", cursor, choice)
	}

	help := adaptiveHelpStyle.Render("Use ↑/↓ (or j/k) to navigate • Enter to select • q to quit")

	content := lipgloss.JoinVertical(
		lipgloss.Center,
		title,
		menu,
		help,
	)

	if m.width > 0 {
		content = lipgloss.Place(
			m.width, m.height,
			lipgloss.Center, lipgloss.Center,
			content,
		)
	}

	return content
}
