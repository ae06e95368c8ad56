package tui

import (
	"context"
	"fmt"
	"log"
	"time"

	"datafill/internal/database"
	"datafill/internal/device"
	"datafill/internal/models"
	"datafill/internal/scanner"
	"datafill/internal/workflow"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type Screen int

const (
	MenuScreen Screen = iota
	VerifyScreen
	ImportScreen
	SessionsScreen
	BackupScreen
	RestoreScreen
)

// Options carries what the console needs from the command line and environment.
type Options struct {
	Store           database.Store
	InspectorID     string
	FastTrack       bool
	ImportedSerials []string
	SerialsFile     string
	Scanner         *scanner.Scanner
	ReportTemplate  string
	OutputDir       string
	BackupDir       string
	Logger          *log.Logger
}

type Model struct {
	opts          Options
	currentScreen Screen
	menuModel     *MenuModel
	verifyModel   *VerifyModel
	importModel   *ImportModel
	sessionsModel *SessionsModel
	backupModel   *BackupModel
	restoreModel  *RestoreModel
	imported      []string
	err           error
	quitting      bool
	width         int
	height        int
}

func NewModel(opts Options) Model {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return Model{
		opts:          opts,
		currentScreen: MenuScreen,
		menuModel:     NewMenuModel(),
		importModel:   NewImportModel(opts.SerialsFile),
		sessionsModel: NewSessionsModel(opts.Store, opts.ReportTemplate, opts.OutputDir),
		backupModel:   NewBackupModel(opts.Store, opts.BackupDir),
		restoreModel:  NewRestoreModel(opts.Store, opts.BackupDir),
		imported:      opts.ImportedSerials,
	}
}

func (m Model) Init() tea.Cmd {
	return waitForScan(m.opts.Scanner)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Pass window size to sub-models
		m.menuModel.SetSize(msg.Width, msg.Height)
		m.importModel.SetSize(msg.Width, msg.Height)
		m.sessionsModel.SetSize(msg.Width, msg.Height)
		m.backupModel.SetSize(msg.Width, msg.Height)
		m.restoreModel.SetSize(msg.Width, msg.Height)
		if m.verifyModel != nil {
			m.verifyModel.SetSize(msg.Width, msg.Height)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "q":
			if m.currentScreen == MenuScreen {
				m.quitting = true
				return m, tea.Quit
			}
		case "esc":
			if m.currentScreen != MenuScreen && !m.screenConsumesEsc() {
				m.err = nil
				m.currentScreen = MenuScreen
				return m, nil
			}
		}

	case ScreenChangeMsg:
		m.err = nil
		m.currentScreen = msg.Screen
		return m, m.enterScreen(msg.Screen)

	case StartVerificationMsg:
		return m.startVerification(msg)

	case ImportedSerialsMsg:
		m.imported = msg.Serials
		if m.verifyModel != nil {
			m.verifyModel.SetImportedSerials(msg.Serials)
		}
		return m, nil

	case ScanMsg:
		next := waitForScan(m.opts.Scanner)
		if m.currentScreen == VerifyScreen && m.verifyModel != nil {
			return m, tea.Batch(m.verifyModel.Scanned(msg.Line), next)
		}
		m.opts.Logger.Printf("Scan %q ignored outside verification", msg.Line)
		return m, next

	case ErrorMsg:
		m.err = msg.Err
		return m, nil
	}

	switch m.currentScreen {
	case MenuScreen:
		newMenuModel, cmd := m.menuModel.Update(msg)
		m.menuModel = newMenuModel.(*MenuModel)
		return m, cmd
	case VerifyScreen:
		if m.verifyModel == nil {
			return m, nil
		}
		newVerifyModel, cmd := m.verifyModel.Update(msg)
		m.verifyModel = newVerifyModel.(*VerifyModel)
		return m, cmd
	case ImportScreen:
		newImportModel, cmd := m.importModel.Update(msg)
		m.importModel = newImportModel.(*ImportModel)
		return m, cmd
	case SessionsScreen:
		newSessionsModel, cmd := m.sessionsModel.Update(msg)
		m.sessionsModel = newSessionsModel.(*SessionsModel)
		return m, cmd
	case BackupScreen:
		newBackupModel, cmd := m.backupModel.Update(msg)
		m.backupModel = newBackupModel.(*BackupModel)
		return m, cmd
	case RestoreScreen:
		newRestoreModel, cmd := m.restoreModel.Update(msg)
		m.restoreModel = newRestoreModel.(*RestoreModel)
		return m, cmd
	}

	return m, cmd
}

// escConsumer is a screen that uses esc itself in some of its states.
type escConsumer interface {
	ConsumesEsc() bool
}

func (m Model) screenConsumesEsc() bool {
	var sub escConsumer
	switch m.currentScreen {
	case VerifyScreen:
		if m.verifyModel == nil {
			return false
		}
		sub = m.verifyModel
	case ImportScreen:
		sub = m.importModel
	case SessionsScreen:
		sub = m.sessionsModel
	case BackupScreen:
		sub = m.backupModel
	case RestoreScreen:
		sub = m.restoreModel
	default:
		return false
	}
	return sub.ConsumesEsc()
}

func (m Model) enterScreen(s Screen) tea.Cmd {
	switch s {
	case SessionsScreen:
		return m.sessionsModel.Load()
	case ImportScreen:
		return m.importModel.Init()
	case BackupScreen:
		return m.backupModel.Init()
	case RestoreScreen:
		return m.restoreModel.Init()
	}
	return nil
}

func (m Model) startVerification(msg StartVerificationMsg) (tea.Model, tea.Cmd) {
	fam, err := device.Resolve(msg.Device, msg.SubDevice)
	if err != nil {
		m.err = err
		return m, nil
	}
	cfg := workflow.Config{
		DeviceType:      msg.Device,
		SubDeviceType:   msg.SubDevice,
		InspectorID:     m.opts.InspectorID,
		FastTrack:       m.opts.FastTrack && fam.FastTrackPoint != "",
		ImportedSerials: m.imported,
		Logger:          m.opts.Logger,
	}
	vm, err := NewVerifyModel(m.opts.Store, cfg)
	if err != nil {
		m.err = err
		return m, nil
	}
	vm.SetSize(m.width, m.height)
	m.verifyModel = vm
	m.err = nil
	m.currentScreen = VerifyScreen
	return m, vm.Init()
}

func (m Model) View() string {
	if m.quitting {
		return "Bye! 👋\n"
	}

	var content string
	switch m.currentScreen {
	case MenuScreen:
		content = m.menuModel.View()
	case VerifyScreen:
		if m.verifyModel != nil {
			content = m.verifyModel.View()
		}
	case ImportScreen:
		content = m.importModel.View()
	case SessionsScreen:
		content = m.sessionsModel.View()
	case BackupScreen:
		content = m.backupModel.View()
	case RestoreScreen:
		content = m.restoreModel.View()
	}

	if m.err != nil {
		errorStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true).
			Margin(1, 0)
		content += errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}

	return content
}

type ScreenChangeMsg struct {
	Screen Screen
}

type ErrorMsg struct {
	Err error
}

type StartVerificationMsg struct {
	Device    models.DeviceType
	SubDevice models.DeviceType
}

// ImportedSerialsMsg replaces the serial picker list.
type ImportedSerialsMsg struct {
	Serials []string
}

// ScanMsg is one line from the barcode scanner.
type ScanMsg struct {
	Line string
}

func ChangeScreen(screen Screen) tea.Cmd {
	return func() tea.Msg {
		return ScreenChangeMsg{Screen: screen}
	}
}

func ShowError(err error) tea.Cmd {
	return func() tea.Msg {
		return ErrorMsg{Err: err}
	}
}

func StartVerification(dev, sub models.DeviceType) tea.Cmd {
	return func() tea.Msg {
		return StartVerificationMsg{Device: dev, SubDevice: sub}
	}
}

// waitForScan blocks on the next scanned line. It returns nil when no
// scanner is attached, and stops once the scanner is closed.
func waitForScan(s *scanner.Scanner) tea.Cmd {
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		line, ok := <-s.Lines()
		if !ok {
			return nil
		}
		return ScanMsg{Line: line}
	}
}

// storeTimeout bounds every storage call made from the console.
const storeTimeout = 30 * time.Second

func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}
