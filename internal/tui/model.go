// Package tui is the Bubble Tea front end: a chat log with an input box and
// a call overlay. Engine changes arrive as messages through the store and
// manager subscriptions, so the model itself holds no protocol state.
package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/call"
	"parley/internal/connection"
	"parley/internal/messages"
)

// Deps are the engine handles the TUI renders and drives.
type Deps struct {
	Session *connection.Session
	Store   *messages.Store
	Conn    *connection.Manager
	Calls   *call.Manager
}

// Model is the Bubble Tea model for the chat client.
type Model struct {
	deps  Deps
	input textinput.Model

	storeCh <-chan struct{}
	connCh  <-chan struct{}
	callCh  <-chan struct{}

	width     int
	height    int
	replyTo   string
	minimized bool
	browser   *fileBrowser
	lastErr   string
}

type storeChangedMsg struct{}
type connChangedMsg struct{}
type callChangedMsg struct{}

// NewModel wires the model to the engine.
func NewModel(deps Deps) *Model {
	input := textinput.New()
	input.Placeholder = "Type a message, or /help"
	input.CharLimit = 0
	input.Prompt = "> "
	input.Focus()

	return &Model{
		deps:    deps,
		input:   input,
		storeCh: deps.Store.Subscribe(),
		connCh:  deps.Conn.Subscribe(),
		callCh:  deps.Calls.Subscribe(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		waitFor(m.storeCh, storeChangedMsg{}),
		waitFor(m.connCh, connChangedMsg{}),
		waitFor(m.callCh, callChangedMsg{}),
		textinput.Blink,
	)
}

// waitFor turns one subscription delivery into a tea message. The command is
// re-issued after every delivery so the pipe stays open.
func waitFor[T tea.Msg](ch <-chan struct{}, msg T) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return msg
	}
}

// Run starts the program and blocks until the user quits.
func Run(deps Deps) error {
	program := tea.NewProgram(NewModel(deps), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
