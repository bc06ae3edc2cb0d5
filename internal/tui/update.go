package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/call"
)

func (m *Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.browser != nil {
			return m, m.updateBrowser(msg)
		}
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submitInput()
		}
		switch msg.String() {
		case "ctrl+n":
			// minimize only makes sense while a call is up
			if m.deps.Calls.Status() == call.StatusInCall {
				m.minimized = !m.minimized
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(message)
		return m, cmd

	case storeChangedMsg:
		return m, waitFor(m.storeCh, storeChangedMsg{})

	case connChangedMsg:
		return m, waitFor(m.connCh, connChangedMsg{})

	case callChangedMsg:
		// presentation state resets whenever the session is gone or a new
		// invite needs the user's attention
		switch m.deps.Calls.Status() {
		case call.StatusIdle, call.StatusIncoming:
			m.minimized = false
		}
		if err := m.deps.Calls.CallError(); err != nil {
			m.lastErr = err.Error()
		}
		return m, waitFor(m.callCh, callChangedMsg{})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(message)
	return m, cmd
}

// submitInput handles the Enter key: slash commands drive calls and message
// mutations, anything else is a plain send.
func (m *Model) submitInput() tea.Cmd {
	raw := m.input.Value()
	m.input.SetValue("")
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		m.send(trimmed)
		return nil
	}

	fields := strings.Fields(trimmed)
	command := fields[0]
	args := fields[1:]
	switch command {
	case "/quit":
		return tea.Quit
	case "/help":
		m.deps.Store.AppendSystem("commands: /audio /video /accept /decline /hangup /upload [path] /reply <id> <text> /edit <id> <text> /delete <id> /react <id> <emoji> /quit")
	case "/audio":
		m.reportErr(m.deps.Calls.PlaceCall(context.Background(), call.ModeAudio))
	case "/video":
		m.reportErr(m.deps.Calls.PlaceCall(context.Background(), call.ModeVideo))
	case "/accept":
		m.reportErr(m.deps.Calls.AcceptCall(context.Background()))
	case "/decline":
		m.reportErr(m.deps.Calls.DeclineCall())
	case "/hangup", "/end":
		m.reportErr(m.deps.Calls.EndCall())
	case "/upload":
		if len(args) == 0 {
			m.browser = newFileBrowser()
			break
		}
		m.reportErr(m.deps.Conn.SendMediaMessage(args[0]))
	case "/reply":
		if len(args) < 2 {
			m.deps.Store.AppendSystem("usage: /reply <id> <text>")
			break
		}
		m.replyTo = args[0]
		m.send(strings.Join(args[1:], " "))
	case "/edit":
		if len(args) < 2 {
			m.deps.Store.AppendSystem("usage: /edit <id> <text>")
			break
		}
		m.reportErr(m.deps.Conn.EditMessage(args[0], strings.Join(args[1:], " ")))
	case "/delete":
		if len(args) != 1 {
			m.deps.Store.AppendSystem("usage: /delete <id>")
			break
		}
		m.reportErr(m.deps.Conn.DeleteMessage(args[0]))
	case "/react":
		if len(args) != 2 {
			m.deps.Store.AppendSystem("usage: /react <id> <emoji>")
			break
		}
		m.reportErr(m.deps.Conn.ToggleReaction(args[0], args[1]))
	default:
		m.deps.Store.AppendSystem("unknown command " + command)
	}
	return nil
}

// updateBrowser handles keys while the upload picker is open.
func (m *Model) updateBrowser(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyCtrlC:
		return tea.Quit
	case tea.KeyEsc:
		m.browser = nil
		return nil
	case tea.KeyUp:
		m.browser.moveUp()
		return nil
	case tea.KeyDown:
		m.browser.moveDown()
		return nil
	case tea.KeyEnter:
		if path, ok := m.browser.selectCurrent(); ok {
			m.browser = nil
			m.reportErr(m.deps.Conn.SendMediaMessage(path))
		}
		return nil
	}
	switch msg.String() {
	case "k":
		m.browser.moveUp()
	case "j":
		m.browser.moveDown()
	case "q":
		m.browser = nil
	}
	return nil
}

func (m *Model) send(text string) {
	m.reportErr(m.deps.Conn.SendMessage(text, m.replyTo))
	m.replyTo = ""
}

func (m *Model) reportErr(err error) {
	if err != nil {
		m.lastErr = err.Error()
	}
}
