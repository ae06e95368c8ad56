package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"datafill/internal/workflow"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type verifyOp string

const (
	opConfirmSerial verifyOp = "confirm serial"
	opConfirm       verifyOp = "confirm overwrite"
	opCommit        verifyOp = "save result"
	opAutoCommit    verifyOp = "auto-save result"
	opFinish        verifyOp = "save session"
)

type verifyDoneMsg struct {
	op  verifyOp
	err error
}

type autoCommitMsg struct {
	token uint64
}

type availableSerialsMsg struct {
	serials []string
	err     error
}

// VerifyModel is the verification screen of one device family.
type VerifyModel struct {
	wf   *workflow.Workflow
	view workflow.View

	serialInput  textinput.Model
	readingInput textinput.Model
	zipInput     textinput.Model
	editingZip   bool

	cursor int

	picking    bool
	picks      []string
	pickCursor int

	progress  progress.Model
	waiting   bool
	scheduled uint64
	status    string
	err       error
	width     int
	height    int
}

func NewVerifyModel(store workflow.Store, cfg workflow.Config) (*VerifyModel, error) {
	wf, err := workflow.New(store, cfg)
	if err != nil {
		return nil, err
	}

	serialInput := textinput.New()
	serialInput.Placeholder = "scan or type the serial number"
	serialInput.CharLimit = 64
	serialInput.Focus()

	readingInput := textinput.New()
	readingInput.Placeholder = "0.0"
	readingInput.CharLimit = 12
	readingInput.TextStyle = inputStyle

	zipInput := textinput.New()
	zipInput.Placeholder = "ZIP group code"
	zipInput.CharLimit = 32

	m := &VerifyModel{
		wf:           wf,
		serialInput:  serialInput,
		readingInput: readingInput,
		zipInput:     zipInput,
		progress: progress.New(
			progress.WithSolidFill("#00aadd"),
			progress.WithoutPercentage(),
		),
	}
	m.refresh()
	return m, nil
}

func (m *VerifyModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *VerifyModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	w := width - 10
	if w < 20 {
		w = 20
	}
	if w > 60 {
		w = 60
	}
	m.progress.Width = w
}

func (m *VerifyModel) SetImportedSerials(serials []string) {
	m.wf.SetImportedSerials(serials)
}

// ConsumesEsc reports whether esc means something on the current step.
func (m *VerifyModel) ConsumesEsc() bool {
	return m.waiting || m.editingZip || m.picking || m.view.Pending != nil || m.view.Step != workflow.StepSerialEntry
}

// Scanned feeds a scanned line into serial entry and confirms it.
func (m *VerifyModel) Scanned(line string) tea.Cmd {
	if m.waiting || m.view.Pending != nil || m.view.Step != workflow.StepSerialEntry {
		m.status = fmt.Sprintf("Scan %q ignored: finish the current serial number first", line)
		return nil
	}
	m.picking = false
	if err := m.wf.SetSerialInput(line); err != nil {
		m.err = err
		return nil
	}
	m.refresh()
	return m.run(opConfirmSerial, m.wf.ConfirmSerial)
}

func (m *VerifyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case verifyDoneMsg:
		m.waiting = false
		m.err = msg.err
		m.refresh()
		if msg.err == nil && m.view.Step == workflow.StepSerialEntry && m.view.LastSaved != nil &&
			(msg.op == opCommit || msg.op == opAutoCommit || msg.op == opFinish || msg.op == opConfirm) {
			s := m.view.LastSaved
			m.status = fmt.Sprintf("Saved %s: %d points", s.SerialNumber, len(s.Points))
		}
		return m, m.schedule()

	case autoCommitMsg:
		if msg.token != m.view.AutoCommit.Token || m.waiting {
			return m, nil
		}
		token := msg.token
		return m, m.run(opAutoCommit, func(ctx context.Context) error {
			return m.wf.AutoCommit(ctx, token)
		})

	case availableSerialsMsg:
		m.waiting = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.picks = msg.serials
		m.pickCursor = 0
		m.picking = true
		return m, nil

	case tea.KeyMsg:
		if m.waiting {
			return m, nil
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m *VerifyModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.view.Pending != nil {
		return m.updateConflict(msg)
	}
	if m.editingZip {
		return m.updateZip(msg)
	}
	if m.picking {
		return m.updatePicker(msg)
	}

	switch msg.String() {
	case "ctrl+z":
		m.act(m.wf.SetZipMode(!m.view.ZipMode))
		if m.view.ZipMode && strings.TrimSpace(m.view.ZipCode) == "" {
			m.startZipEdit()
		}
		return m, nil
	case "tab":
		if m.view.ZipMode {
			m.startZipEdit()
			return m, nil
		}
	case "ctrl+n":
		m.status = ""
		m.act(m.wf.Reset())
		return m, nil
	}

	switch m.view.Step {
	case workflow.StepSerialEntry:
		return m.updateSerial(msg)
	case workflow.StepPointSelection:
		return m.updatePoints(msg)
	case workflow.StepReading1, workflow.StepReading2, workflow.StepReading3:
		return m.updateReading(msg)
	case workflow.StepResult:
		switch msg.String() {
		case "enter":
			return m, m.run(opCommit, m.wf.CommitResult)
		case "esc":
			m.act(m.wf.Back())
		}
	case workflow.StepComplete:
		switch msg.String() {
		case "enter":
			return m, m.run(opFinish, m.wf.Finish)
		case "esc":
			m.act(m.wf.Back())
		}
	}
	return m, nil
}

func (m *VerifyModel) updateConflict(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "enter":
		return m, m.run(opConfirm, m.wf.Confirm)
	case "n", "esc":
		m.act(m.wf.Cancel())
	}
	return m, nil
}

func (m *VerifyModel) updateZip(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "tab":
		m.editingZip = false
		m.zipInput.Blur()
		m.act(m.wf.SetZipCode(m.zipInput.Value()))
		return m, nil
	case "esc":
		m.editingZip = false
		m.zipInput.Blur()
		m.zipInput.SetValue(m.view.ZipCode)
		m.refresh()
		return m, nil
	}
	var cmd tea.Cmd
	m.zipInput, cmd = m.zipInput.Update(msg)
	return m, cmd
}

func (m *VerifyModel) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.pickCursor > 0 {
			m.pickCursor--
		}
	case "down", "j":
		if m.pickCursor < len(m.picks)-1 {
			m.pickCursor++
		}
	case "enter":
		m.picking = false
		if len(m.picks) > 0 {
			m.act(m.wf.SetSerialInput(m.picks[m.pickCursor]))
			m.serialInput.CursorEnd()
		}
	case "esc":
		m.picking = false
	}
	return m, nil
}

func (m *VerifyModel) updateSerial(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.status = ""
		return m, m.run(opConfirmSerial, m.wf.ConfirmSerial)
	case "ctrl+o":
		m.waiting = true
		return m, m.loadSerials()
	}

	var cmd tea.Cmd
	m.serialInput, cmd = m.serialInput.Update(msg)
	if m.serialInput.Value() != m.view.SerialInput {
		m.act(m.wf.SetSerialInput(m.serialInput.Value()))
	}
	return m, cmd
}

func (m *VerifyModel) updatePoints(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.view.Points)-1 {
			m.cursor++
		}
	case "enter", " ":
		if len(m.view.Points) > 0 {
			m.act(m.wf.SelectPoint(m.view.Points[m.cursor].Def.ID))
		}
	case "esc":
		m.act(m.wf.Back())
	}
	return m, nil
}

func (m *VerifyModel) updateReading(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.act(m.wf.NextReading())
		return m, m.schedule()
	case "esc":
		m.act(m.wf.Back())
		return m, nil
	}

	var cmd tea.Cmd
	m.readingInput, cmd = m.readingInput.Update(msg)
	kept, err := m.wf.SetReadingInput(m.readingInput.Value())
	if err != nil {
		m.err = err
	}
	if kept != m.readingInput.Value() {
		m.readingInput.SetValue(kept)
		m.readingInput.CursorEnd()
	}
	m.view = m.wf.Snapshot()
	return m, cmd
}

// act records the outcome of a synchronous workflow call and redraws.
func (m *VerifyModel) act(err error) {
	m.err = err
	m.refresh()
}

// run performs a storage-bound workflow call off the update loop.
func (m *VerifyModel) run(op verifyOp, fn func(context.Context) error) tea.Cmd {
	m.waiting = true
	m.err = nil
	return func() tea.Msg {
		ctx, cancel := storeContext()
		defer cancel()
		return verifyDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m *VerifyModel) loadSerials() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := storeContext()
		defer cancel()
		serials, err := m.wf.AvailableSerials(ctx)
		return availableSerialsMsg{serials: serials, err: err}
	}
}

// schedule arms a tick for a newly armed auto-commit token.
func (m *VerifyModel) schedule() tea.Cmd {
	ac := m.view.AutoCommit
	if ac.Token == 0 || ac.Token == m.scheduled {
		return nil
	}
	m.scheduled = ac.Token
	return tea.Tick(ac.Delay, func(time.Time) tea.Msg {
		return autoCommitMsg{token: ac.Token}
	})
}

// refresh pulls a new snapshot and lines the inputs up with it.
func (m *VerifyModel) refresh() {
	prevStep := m.view.Step
	m.view = m.wf.Snapshot()

	if m.view.Step == workflow.StepSerialEntry {
		if m.serialInput.Value() != m.view.SerialInput {
			m.serialInput.SetValue(m.view.SerialInput)
			m.serialInput.CursorEnd()
		}
		m.serialInput.Focus()
	} else {
		m.serialInput.Blur()
	}

	if m.view.ReadingIndex > 0 {
		if m.readingInput.Value() != m.view.Input {
			m.readingInput.SetValue(m.view.Input)
			m.readingInput.CursorEnd()
		}
		m.readingInput.Focus()
	} else {
		m.readingInput.Blur()
	}

	if !m.editingZip {
		m.zipInput.SetValue(m.view.ZipCode)
	}
	if prevStep != m.view.Step && m.view.Step == workflow.StepPointSelection {
		m.cursor = m.firstOpenPoint()
	}
	if m.cursor >= len(m.view.Points) {
		m.cursor = 0
	}
}

func (m *VerifyModel) firstOpenPoint() int {
	for i, p := range m.view.Points {
		if p.Verdict == "" {
			return i
		}
	}
	return 0
}

func (m *VerifyModel) startZipEdit() {
	m.editingZip = true
	m.zipInput.SetValue(m.view.ZipCode)
	m.zipInput.CursorEnd()
	m.zipInput.Focus()
}

func (m *VerifyModel) View() string {
	adaptiveTitleStyle, adaptiveFormStyle, adaptiveHelpStyle := GetAdaptiveStyles(m.width, m.height)

	heading := "📟 " + m.view.DeviceName
	if m.view.FastTrack {
		heading += " (fast-track)"
	}
	title := adaptiveTitleStyle.Render(heading)

	var body string
	switch {
	case m.picking:
		body = m.renderPicker()
	default:
		body = m.renderStep()
	}

	parts := []string{title, m.renderHeader(), adaptiveFormStyle.Render(body)}
	if m.view.Pending != nil {
		parts = append(parts, m.renderConflict())
	}
	if m.waiting {
		parts = append(parts, mutedStyle.Render("Saving..."))
	}
	if m.err != nil {
		parts = append(parts, errorStyle.Render("❌ "+m.err.Error()))
	} else if m.status != "" {
		parts = append(parts, successStyle.Render("✅ "+m.status))
	}
	parts = append(parts, adaptiveHelpStyle.Render(m.help()))

	content := lipgloss.JoinVertical(lipgloss.Left, parts...)
	if m.width > 0 && m.height > 0 {
		content = lipgloss.Place(
			m.width, m.height,
			lipgloss.Center, lipgloss.Top,
			content,
		)
	}
	return content
}

func (m *VerifyModel) renderHeader() string {
	serial := m.view.Serial
	if serial == "" {
		serial = mutedStyle.Render("none")
	}
	zip := mutedStyle.Render("off")
	if m.view.ZipMode {
		zip = m.zipInput.View()
		if !m.editingZip && m.view.ZipCode == "" {
			zip = warningStyle.Render("code required")
		}
	}

	overall := verdictBadge("")
	if m.view.Recorded > 0 {
		overall = verdictBadge(m.view.Overall)
	}

	ratio := 0.0
	if m.view.Total > 0 {
		ratio = float64(m.view.Recorded) / float64(m.view.Total)
	}
	bar := progressStyle.Render(fmt.Sprintf("%s %d/%d", m.progress.ViewAs(ratio), m.view.Recorded, m.view.Total))

	return lipgloss.JoinVertical(lipgloss.Left,
		labelStyle.Render("Serial: ")+serial+"   "+labelStyle.Render("ZIP: ")+zip,
		labelStyle.Render("Step: ")+m.view.Step.String()+"   "+labelStyle.Render("Overall: ")+overall,
		bar,
	)
}

func (m *VerifyModel) renderStep() string {
	switch m.view.Step {
	case workflow.StepSerialEntry:
		s := labelStyle.Render("Serial number:") + "\n" + m.serialInput.View()
		if m.view.SerialWarning != "" {
			s += "\n" + warningStyle.Render("⚠️  "+m.view.SerialWarning)
		}
		return s

	case workflow.StepPointSelection, workflow.StepComplete:
		var b strings.Builder
		b.WriteString(labelStyle.Render("Points:") + "\n")
		for i, p := range m.view.Points {
			cursor := " "
			label := menuItemStyle.Render(p.Def.Label)
			if i == m.cursor && m.view.Step == workflow.StepPointSelection {
				cursor = ">"
				label = selectedMenuItemStyle.Render(p.Def.Label)
			}
			saved := ""
			if p.Saved {
				saved = mutedStyle.Render(" (saved)")
			}
			fmt.Fprintf(&b, "%s %s %s%s\n", cursor, label, verdictBadge(p.Verdict), saved)
		}
		if m.view.Step == workflow.StepComplete {
			b.WriteString("\n" + successStyle.Render("All points verified. Press Enter to save the session."))
		}
		return b.String()

	case workflow.StepReading1, workflow.StepReading2, workflow.StepReading3:
		var b strings.Builder
		fmt.Fprintf(&b, "%s %s\n\n", labelStyle.Render("Point:"), m.view.Point.Label)
		for i := 0; i < m.view.ReadingIndex-1; i++ {
			fmt.Fprintf(&b, "Reading %d: %s\n", i+1, m.view.Readings[i])
		}
		fmt.Fprintf(&b, "%s\n%s", labelStyle.Render(fmt.Sprintf("Reading %d:", m.view.ReadingIndex)), m.readingInput.View())
		return b.String()

	case workflow.StepResult:
		return m.renderResult()
	}
	return ""
}

func (m *VerifyModel) renderResult() string {
	r := m.view.Result
	if r == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", labelStyle.Render("Point:"), r.Label)
	for i, v := range r.Raw {
		fmt.Fprintf(&b, "Reading %d: %g", i+1, v)
		if r.Correction != 0 {
			fmt.Fprintf(&b, "  →  %g", r.Corrected[i])
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nAverage: %g   Limits: %g … %g\n", r.Average, r.LowerLimit, r.UpperLimit)
	b.WriteString(verdictBadge(r.Verdict))
	if m.view.AutoCommit.Token != 0 {
		b.WriteString("\n" + mutedStyle.Render(fmt.Sprintf("Saving automatically in %s", m.view.AutoCommit.Delay)))
	}
	return b.String()
}

func (m *VerifyModel) renderConflict() string {
	return dialogStyle.Render(
		warningStyle.Render("⚠️  "+m.view.Pending.Message) + "\n\n" +
			"Overwrite? " + labelStyle.Render("y") + " yes • " + labelStyle.Render("n") + " no",
	)
}

func (m *VerifyModel) renderPicker() string {
	if len(m.picks) == 0 {
		return warningStyle.Render("No imported serial numbers left to verify")
	}
	var b strings.Builder
	b.WriteString(labelStyle.Render("Imported serial numbers:") + "\n")
	for i, sn := range m.picks {
		cursor := " "
		style := menuItemStyle
		if i == m.pickCursor {
			cursor = ">"
			style = selectedMenuItemStyle
		}
		fmt.Fprintf(&b, "%s %s\n", cursor, style.Render(sn))
	}
	return b.String()
}

func (m *VerifyModel) help() string {
	switch {
	case m.view.Pending != nil:
		return "y/Enter: Overwrite • n/Esc: Keep saved data"
	case m.editingZip:
		return "Enter: Save ZIP code • Esc: Cancel"
	case m.picking:
		return "↑/↓: Navigate • Enter: Use serial • Esc: Close"
	}
	common := "Ctrl+Z: ZIP mode • Ctrl+N: New serial"
	if m.view.ZipMode {
		common += " • Tab: Edit ZIP"
	}
	switch m.view.Step {
	case workflow.StepSerialEntry:
		return "Enter: Continue • Ctrl+O: Imported list • " + common + " • Esc: Menu"
	case workflow.StepPointSelection:
		return "↑/↓: Navigate • Enter: Measure • Esc: Back • " + common
	case workflow.StepResult:
		return "Enter: Save now • Esc: Edit readings • " + common
	case workflow.StepComplete:
		return "Enter: Save session • Esc: Back to points • " + common
	}
	return "Enter: Next • Esc: Back • " + common
}
