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

type RestoreModel struct {
	state           RestoreState
	service         *backup.Service
	backupFileInput textinput.Model
	dir             string
	replaceExisting bool
	result          RestoreResult
	files           []string
	selectedFile    int
	width           int
	height          int
}

type RestoreState int

const (
	RestoreInputState RestoreState = iota
	RestoreFileSelectState
	ConfirmationState
	RestoreProgressState
	RestoreResultState
)

type RestoreResult struct {
	SessionCount int
	Error        error
}

type RestoreCompleteMsg struct {
	Result RestoreResult
}

func NewRestoreModel(store database.Store, dir string) *RestoreModel {
	backupFileInput := textinput.New()
	backupFileInput.Placeholder = "backup_sessions_20060102_150405.json"
	backupFileInput.Focus()

	return &RestoreModel{
		state:           RestoreInputState,
		service:         backup.NewService(store),
		backupFileInput: backupFileInput,
		dir:             dir,
	}
}

func (m *RestoreModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *RestoreModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *RestoreModel) ConsumesEsc() bool {
	return m.state == RestoreFileSelectState || m.state == ConfirmationState
}

func (m *RestoreModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.state {
		case RestoreInputState:
			return m.updateInputState(msg)
		case RestoreFileSelectState:
			return m.updateFileSelectState(msg)
		case ConfirmationState:
			return m.updateConfirmationState(msg)
		case RestoreProgressState:
			return m, nil
		case RestoreResultState:
			if msg.String() == "enter" || msg.String() == " " {
				m.reset()
				return m, nil
			}
		}

	case RestoreCompleteMsg:
		m.result = msg.Result
		m.state = RestoreResultState
		return m, nil
	}

	return m, nil
}

func (m *RestoreModel) updateInputState(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+f":
		return m.browseFiles()
	case "enter":
		file := strings.TrimSpace(m.backupFileInput.Value())
		if file == "" {
			return m, nil
		}
		if err := m.service.ValidateBackupFile(file, ""); err != nil {
			return m, ShowError(err)
		}
		m.state = ConfirmationState
		return m, nil
	}

	var cmd tea.Cmd
	m.backupFileInput, cmd = m.backupFileInput.Update(msg)
	return m, cmd
}

func (m *RestoreModel) updateFileSelectState(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.selectedFile > 0 {
			m.selectedFile--
		}
	case "down", "j":
		if m.selectedFile < len(m.files)-1 {
			m.selectedFile++
		}
	case "enter":
		if len(m.files) > 0 {
			m.backupFileInput.SetValue(m.files[m.selectedFile])
			m.backupFileInput.CursorEnd()
			m.state = RestoreInputState
		}
	case "esc":
		m.state = RestoreInputState
	}
	return m, nil
}

func (m *RestoreModel) updateConfirmationState(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "d":
		m.replaceExisting = !m.replaceExisting
	case "y", "enter":
		m.state = RestoreProgressState
		return m, m.performRestore()
	case "n", "esc":
		m.state = RestoreInputState
	}
	return m, nil
}

func (m *RestoreModel) browseFiles() (tea.Model, tea.Cmd) {
	patterns := []string{"*.json", "*.bson"}
	if m.dir != "" && m.dir != "." {
		patterns = append(patterns, m.dir+"/*.json", m.dir+"/*.bson")
	}
	files, err := listFiles(patterns...)
	if err != nil {
		return m, ShowError(err)
	}
	m.files = files
	m.selectedFile = 0
	m.state = RestoreFileSelectState
	return m, nil
}

func (m *RestoreModel) performRestore() tea.Cmd {
	backupFile := strings.TrimSpace(m.backupFileInput.Value())
	replace := m.replaceExisting
	svc := m.service
	return func() tea.Msg {
		ctx, cancel := storeContext()
		defer cancel()

		n, err := svc.Restore(ctx, backupFile, "", replace)
		result := RestoreResult{SessionCount: n}
		if err != nil {
			result.Error = fmt.Errorf("restore failed: %w", err)
		}
		return RestoreCompleteMsg{Result: result}
	}
}

func (m *RestoreModel) reset() {
	m.state = RestoreInputState
	m.result = RestoreResult{}
	m.replaceExisting = false
	m.backupFileInput.Focus()
}

func (m *RestoreModel) View() string {
	switch m.state {
	case RestoreInputState:
		return m.renderInputForm()
	case RestoreFileSelectState:
		return renderFileSelector("📁 Select Backup File", m.files, m.selectedFile)
	case ConfirmationState:
		return m.renderConfirmation()
	case RestoreProgressState:
		return titleStyle.Render("🔄 Restoring Sessions...")
	case RestoreResultState:
		return m.renderResult()
	}
	return ""
}

func (m *RestoreModel) renderInputForm() string {
	title := titleStyle.Render("🔄 Restore Sessions")

	form := formStyle.Render(
		labelStyle.Render("Backup File:") + "\n" + m.backupFileInput.View() + "\n\n" +
			mutedStyle.Render("The format follows the file extension (.json or .bson)."),
	)

	help := helpStyle.Render("Ctrl+F: Browse files • Enter: Continue • Esc: Back to menu")

	return lipgloss.JoinVertical(lipgloss.Left, title, form, help)
}

func (m *RestoreModel) renderConfirmation() string {
	title := titleStyle.Render("⚠️  Confirm Restore")

	mode := "Merge: sessions with the same ID are replaced, others are kept"
	if m.replaceExisting {
		mode = warningStyle.Render("Replace: every saved session is deleted first")
	}

	content := dialogStyle.Render(
		labelStyle.Render("Backup File: ") + strings.TrimSpace(m.backupFileInput.Value()) + "\n" +
			labelStyle.Render("Format: ") + strings.ToUpper(backup.DetectFormat(m.backupFileInput.Value())) + "\n\n" +
			mode,
	)

	help := helpStyle.Render("y/Enter: Restore • d: Toggle replace • n/Esc: Cancel")

	return lipgloss.JoinVertical(lipgloss.Left, title, content, help)
}

func (m *RestoreModel) renderResult() string {
	title := titleStyle.Render("🔄 Restore Complete")

	if m.result.Error != nil {
		status := errorStyle.Render(fmt.Sprintf("❌ %v", m.result.Error))
		help := helpStyle.Render("Enter: Try again • Esc: Back to menu")
		return lipgloss.JoinVertical(lipgloss.Left, title, status, help)
	}

	status := successStyle.Render(fmt.Sprintf("✅ %d sessions restored", m.result.SessionCount))
	help := helpStyle.Render("Enter: Restore another file • Esc: Back to menu")

	return lipgloss.JoinVertical(lipgloss.Left, title, status, help)
}
