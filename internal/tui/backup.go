package tui

import (
	"fmt"
	"strings"

	"datafill/internal/backup"
	"datafill/internal/database"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type BackupModel struct {
	state           BackupState
	service         *backup.Service
	outputDirInput  textinput.Model
	formatSelection int
	formats         []string
	result          BackupResult
	width           int
	height          int
}

type BackupState int

const (
	BackupInputState BackupState = iota
	BackupFormatSelectState
	BackupProgressState
	BackupResultState
)

type BackupResult struct {
	SessionCount int
	FilePath     string
	Error        error
}

type BackupCompleteMsg struct {
	Result BackupResult
}

func NewBackupModel(store database.Store, dir string) *BackupModel {
	if dir == "" {
		dir = "."
	}
	outputDirInput := textinput.New()
	outputDirInput.Placeholder = "backups"
	outputDirInput.SetValue(dir)
	outputDirInput.Focus()

	return &BackupModel{
		state:          BackupInputState,
		service:        backup.NewService(store),
		outputDirInput: outputDirInput,
		formats:        []string{"JSON", "BSON"},
	}
}

func (m *BackupModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *BackupModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *BackupModel) ConsumesEsc() bool {
	return m.state == BackupFormatSelectState
}

func (m *BackupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.state {
		case BackupInputState:
			return m.updateInputState(msg)
		case BackupFormatSelectState:
			return m.updateFormatSelectState(msg)
		case BackupProgressState:
			return m, nil
		case BackupResultState:
			if msg.String() == "enter" || msg.String() == " " {
				m.reset()
				return m, nil
			}
		}

	case BackupCompleteMsg:
		m.result = msg.Result
		m.state = BackupResultState
		return m, nil
	}

	return m, nil
}

func (m *BackupModel) updateInputState(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+f":
		m.state = BackupFormatSelectState
		return m, nil
	case "enter":
		if strings.TrimSpace(m.outputDirInput.Value()) != "" {
			m.state = BackupFormatSelectState
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.outputDirInput, cmd = m.outputDirInput.Update(msg)
	return m, cmd
}

func (m *BackupModel) updateFormatSelectState(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.formatSelection > 0 {
			m.formatSelection--
		}
	case "down", "j":
		if m.formatSelection < len(m.formats)-1 {
			m.formatSelection++
		}
	case "enter":
		m.state = BackupProgressState
		return m, m.performBackup()
	case "esc":
		m.state = BackupInputState
	}
	return m, nil
}

func (m *BackupModel) performBackup() tea.Cmd {
	outputDir := strings.TrimSpace(m.outputDirInput.Value())
	format := strings.ToLower(m.formats[m.formatSelection])
	svc := m.service
	return func() tea.Msg {
		ctx, cancel := storeContext()
		defer cancel()

		path, n, err := svc.Backup(ctx, outputDir, format)
		result := BackupResult{SessionCount: n, FilePath: path}
		if err != nil {
			result.Error = fmt.Errorf("backup failed: %w", err)
		}
		return BackupCompleteMsg{Result: result}
	}
}

func (m *BackupModel) reset() {
	m.state = BackupInputState
	m.result = BackupResult{}
	m.outputDirInput.Focus()
}

func (m *BackupModel) View() string {
	switch m.state {
	case BackupInputState:
		return m.renderInputForm()
	case BackupFormatSelectState:
		return m.renderFormatSelector()
	case BackupProgressState:
		return titleStyle.Render("💾 Creating Backup...")
	case BackupResultState:
		return m.renderResult()
	}
	return ""
}

func (m *BackupModel) renderInputForm() string {
	title := titleStyle.Render("💾 Backup Sessions")

	form := formStyle.Render(
		labelStyle.Render("Output Directory:") + "\n" + m.outputDirInput.View() + "\n\n" +
			mutedStyle.Render("Every saved session goes into one timestamped file."),
	)

	help := helpStyle.Render("Enter: Continue • Ctrl+F: Choose format • Esc: Back to menu")

	return lipgloss.JoinVertical(lipgloss.Left, title, form, help)
}

func (m *BackupModel) renderFormatSelector() string {
	title := titleStyle.Render("📄 Select Backup Format")

	var formatList string
	for i, format := range m.formats {
		cursor := " "
		style := menuItemStyle
		if i == m.formatSelection {
			cursor = ">"
			style = selectedMenuItemStyle
		}
		formatList += fmt.Sprintf("%s %s\n", cursor, style.Render(format))
	}

	help := helpStyle.Render("↑/↓: Navigate • Enter: Start backup • Esc: Back")

	return lipgloss.JoinVertical(lipgloss.Left, title, formatList, help)
}

func (m *BackupModel) renderResult() string {
	title := titleStyle.Render("💾 Backup Complete")

	if m.result.Error != nil {
		status := errorStyle.Render(fmt.Sprintf("❌ %v", m.result.Error))
		help := helpStyle.Render("Enter: Try again • Esc: Back to menu")
		return lipgloss.JoinVertical(lipgloss.Left, title, status, help)
	}

	status := successStyle.Render("✅ Backup completed successfully!")
	stats := fmt.Sprintf(
		"📊 Backup Information:\n"+
			"   Output file: %s\n"+
			"   Format: %s\n"+
			"   Sessions: %d",
		m.result.FilePath,
		m.formats[m.formatSelection],
		m.result.SessionCount,
	)

	help := helpStyle.Render("Enter: Create another backup • Esc: Back to menu")

	return lipgloss.JoinVertical(lipgloss.Left, title, status, stats, help)
}
