package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"datafill/internal/csv"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type ImportModel struct {
	state        ImportState
	csvFileInput textinput.Model
	serialsFile  string
	result       ImportResult
	files        []string
	selectedFile int
	width        int
	height       int
}

type ImportState int

const (
	ImportInputState ImportState = iota
	ImportFileSelectState
	ImportProgressState
	ImportResultState
)

type ImportResult struct {
	Serials []string
	SavedTo string
	Error   error
}

type ImportCompleteMsg struct {
	Result ImportResult
}

// NewImportModel builds the serial list import screen. A non-empty
// serialsFile keeps the imported list for the next start.
func NewImportModel(serialsFile string) *ImportModel {
	csvInput := textinput.New()
	csvInput.Placeholder = "path/to/serials.csv"
	csvInput.Focus()

	return &ImportModel{
		state:        ImportInputState,
		csvFileInput: csvInput,
		serialsFile:  serialsFile,
	}
}

func (m *ImportModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *ImportModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *ImportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.state {
		case ImportInputState:
			return m.updateInputState(msg)
		case ImportFileSelectState:
			return m.updateFileSelectState(msg)
		case ImportProgressState:
			return m, nil
		case ImportResultState:
			if msg.String() == "enter" || msg.String() == " " {
				m.reset()
				return m, nil
			}
		}

	case ImportCompleteMsg:
		m.result = msg.Result
		m.state = ImportResultState
		if msg.Result.Error != nil {
			return m, nil
		}
		serials := msg.Result.Serials
		return m, func() tea.Msg { return ImportedSerialsMsg{Serials: serials} }
	}

	return m, nil
}

func (m *ImportModel) updateInputState(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+f":
		return m.browseFiles()
	case "enter":
		if strings.TrimSpace(m.csvFileInput.Value()) != "" {
			m.state = ImportProgressState
			return m, m.performImport()
		}
	}

	var cmd tea.Cmd
	m.csvFileInput, cmd = m.csvFileInput.Update(msg)
	return m, cmd
}

// updateFileSelectState handles esc here; the root model lets it through
// because ConsumesEsc reports the picker is open.
func (m *ImportModel) updateFileSelectState(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
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
			m.csvFileInput.SetValue(m.files[m.selectedFile])
			m.csvFileInput.CursorEnd()
			m.state = ImportInputState
		}
	case "esc":
		m.state = ImportInputState
	}
	return m, nil
}

func (m *ImportModel) ConsumesEsc() bool {
	return m.state == ImportFileSelectState
}

func (m *ImportModel) browseFiles() (tea.Model, tea.Cmd) {
	files, err := listFiles("*.csv", "*.txt")
	if err != nil {
		return m, ShowError(err)
	}
	m.files = files
	m.selectedFile = 0
	m.state = ImportFileSelectState
	return m, nil
}

func (m *ImportModel) performImport() tea.Cmd {
	csvFile := strings.TrimSpace(m.csvFileInput.Value())
	serialsFile := m.serialsFile
	return func() tea.Msg {
		result := ImportResult{}

		serials, err := csv.NewParser(csvFile).ParseSerials()
		if err != nil {
			result.Error = fmt.Errorf("failed to parse serial list: %w", err)
			return ImportCompleteMsg{Result: result}
		}
		result.Serials = serials

		if serialsFile != "" {
			if err := csv.WriteSerials(serialsFile, serials); err != nil {
				result.Error = fmt.Errorf("failed to keep serial list: %w", err)
				return ImportCompleteMsg{Result: result}
			}
			result.SavedTo = serialsFile
		}
		return ImportCompleteMsg{Result: result}
	}
}

func (m *ImportModel) reset() {
	m.state = ImportInputState
	m.result = ImportResult{}
	m.csvFileInput.SetValue("")
	m.csvFileInput.Focus()
}

func (m *ImportModel) View() string {
	switch m.state {
	case ImportInputState:
		return m.renderInputForm()
	case ImportFileSelectState:
		return renderFileSelector("📁 Select Serial List", m.files, m.selectedFile)
	case ImportProgressState:
		return titleStyle.Render("📥 Reading serial list...")
	case ImportResultState:
		return m.renderResult()
	}
	return ""
}

func (m *ImportModel) renderInputForm() string {
	adaptiveTitleStyle, adaptiveFormStyle, adaptiveHelpStyle := GetAdaptiveStyles(m.width, m.height)

	title := adaptiveTitleStyle.Render("📥 Import Serial List")

	form := adaptiveFormStyle.Render(
		labelStyle.Render("CSV or Excel-exported file:") + "\n" + m.csvFileInput.View() + "\n\n" +
			mutedStyle.Render("The first column (or a column named \"serial\") is read."),
	)

	help := adaptiveHelpStyle.Render("Ctrl+F: Browse files • Enter: Import • Esc: Back to menu")

	content := lipgloss.JoinVertical(lipgloss.Left, title, form, help)
	if m.width > 0 && m.height > 0 {
		content = lipgloss.Place(
			m.width, m.height,
			lipgloss.Center, lipgloss.Top,
			content,
		)
	}
	return content
}

func (m *ImportModel) renderResult() string {
	title := titleStyle.Render("📥 Import Complete")

	if m.result.Error != nil {
		status := errorStyle.Render(fmt.Sprintf("❌ Import failed: %v", m.result.Error))
		help := helpStyle.Render("Enter: Try another file • Esc: Back to menu")
		return lipgloss.JoinVertical(lipgloss.Left, title, status, help)
	}

	status := successStyle.Render(fmt.Sprintf("✅ %d serial numbers ready for verification", len(m.result.Serials)))
	var details string
	if m.result.SavedTo != "" {
		details = mutedStyle.Render("Kept in " + m.result.SavedTo)
	}
	preview := m.result.Serials
	if len(preview) > 10 {
		preview = preview[:10]
	}
	list := strings.Join(preview, ", ")
	if len(m.result.Serials) > len(preview) {
		list += fmt.Sprintf(" … (+%d)", len(m.result.Serials)-len(preview))
	}

	help := helpStyle.Render("Enter: Import another file • Esc: Back to menu")
	return lipgloss.JoinVertical(lipgloss.Left, title, status, list, details, help)
}

// listFiles globs the working directory and returns relative paths.
func listFiles(patterns ...string) ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(cwd, p))
		if err != nil {
			return nil, err
		}
		for _, f := range matches {
			rel, err := filepath.Rel(cwd, f)
			if err != nil {
				rel = f
			}
			files = append(files, rel)
		}
	}
	return files, nil
}

func renderFileSelector(heading string, files []string, selected int) string {
	title := titleStyle.Render(heading)

	if len(files) == 0 {
		content := warningStyle.Render("No matching files found in current directory")
		help := helpStyle.Render("Esc: Back to form")
		return lipgloss.JoinVertical(lipgloss.Left, title, content, help)
	}

	var fileList string
	for i, file := range files {
		cursor := " "
		style := menuItemStyle
		if i == selected {
			cursor = ">"
			style = selectedMenuItemStyle
		}
		fileList += fmt.Sprintf("%s %s\n", cursor, style.Render(file))
	}

	help := helpStyle.Render("↑/↓: Navigate • Enter: Select • Esc: Cancel")
	return lipgloss.JoinVertical(lipgloss.Left, title, fileList, help)
}
