// Package tui is the terminal surface: one record button and the transcript.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"speechpad/internal/domain"
)

// Controller is the part of usecase.SessionController the surface drives.
type Controller interface {
	Load()
	HandleAction(ctx context.Context)
	Close()
}

// dispatchMsg carries work onto the bubbletea update loop.
type dispatchMsg struct {
	fn func()
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

	buttonStyle = lipgloss.NewStyle().
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63"))

	recordingButtonStyle = buttonStyle.
				BorderForeground(lipgloss.Color("196")).
				Foreground(lipgloss.Color("196"))

	placeholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Model implements tea.Model, ports.View and ports.UIExecutor. View methods
// mutate the model and must only run inside Update, which is where
// dispatched work and key handling execute.
type Model struct {
	ctx        context.Context
	controller Controller

	programMu sync.Mutex
	program   *tea.Program

	viewport   viewport.Model
	ready      bool
	width      int
	state      domain.RecognitionState
	button     string
	transcript string
	errText    string
}

func New(ctx context.Context) *Model {
	return &Model{ctx: ctx}
}

// Bind sets the controller the button drives.
func (m *Model) Bind(controller Controller) {
	m.controller = controller
}

// Attach connects the running program so Dispatch can reach it.
func (m *Model) Attach(program *tea.Program) {
	m.programMu.Lock()
	defer m.programMu.Unlock()
	m.program = program
}

// Dispatch queues fn onto the update loop. It blocks until the loop accepts
// the message, so it must not be called from inside Update.
func (m *Model) Dispatch(fn func()) {
	m.programMu.Lock()
	program := m.program
	m.programMu.Unlock()
	if program == nil {
		return
	}
	program.Send(dispatchMsg{fn: fn})
}

func (m *Model) Render(state domain.RecognitionState, buttonTitle string) {
	m.state = state
	m.button = buttonTitle
	if state == domain.StateRecording {
		m.errText = ""
	}
}

func (m *Model) ShowTranscript(text string) {
	m.transcript = text
	m.refreshContent()
}

func (m *Model) ShowError(code domain.ErrorCode, detail string) {
	m.errText = fmt.Sprintf("%s: %s", code, detail)
}

func (m *Model) Init() tea.Cmd {
	return func() tea.Msg {
		return dispatchMsg{fn: m.controller.Load}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case dispatchMsg:
		msg.fn()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.controller.Close()
			return m, tea.Quit
		case " ", "enter", "r":
			m.controller.HandleAction(m.ctx)
			return m, nil
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		m.width = msg.Width
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.refreshContent()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf("%s\n%s\n%s", m.headerView(), m.viewport.View(), m.footerView())
}

func (m *Model) headerView() string {
	style := buttonStyle
	if m.state == domain.StateRecording {
		style = recordingButtonStyle
	}
	label := m.button
	if label == "" {
		label = " "
	}
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("speechpad"), style.Render(label))
}

func (m *Model) footerView() string {
	lines := []string{}
	if m.errText != "" {
		lines = append(lines, errorStyle.Render(m.errText))
	}
	lines = append(lines, helpStyle.Render("space: press button • q: quit"))
	return strings.Join(lines, "\n")
}

func (m *Model) refreshContent() {
	if !m.ready {
		return
	}
	content := placeholderStyle.Render("(say something)")
	if m.transcript != "" {
		content = lipgloss.NewStyle().Width(max(m.width-2, 10)).Render(m.transcript)
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}
