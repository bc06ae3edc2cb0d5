package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"parley/internal/call"
	"parley/internal/connection"
	"parley/internal/messages"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	deletedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	replyStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Italic(true)
	reactionStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	editedMarkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	hintStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	callOverlayStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("213")).Padding(1, 3).MarginTop(1)
	callBannerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	callTileStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).Width(22).Align(lipgloss.Center)
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (m *Model) View() string {
	header := chatHeaderStyle.Render(strings.Join([]string{
		"Parley",
		fmt.Sprintf("User %s", m.deps.Session.User()),
	}, lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")))

	sections := []string{header, m.renderStatusLine()}

	if overlay := m.renderCallOverlay(); overlay != "" {
		sections = append(sections, overlay)
	}

	var lines []string
	for _, msg := range m.deps.Store.Snapshot() {
		lines = append(lines, m.renderMessage(msg))
	}
	if len(lines) == 0 {
		lines = append(lines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	sections = append(sections, messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))

	if m.browser != nil {
		sections = append(sections, m.renderFileBrowser())
	} else {
		if m.replyTo != "" {
			target := m.deps.Store.ResolveReply(m.replyTo)
			sections = append(sections, replyStyle.Render("↪ replying to "+target.Sender+": "+target.Text))
		}
		sections = append(sections, inputBoxStyle.Render(m.input.View()))
		sections = append(sections, hintStyle.Render("/help for commands • ctrl+n minimize call • ctrl+c quit"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderStatusLine() string {
	if m.lastErr != "" {
		return errorStyle.Render("Error: " + m.lastErr)
	}
	switch m.deps.Conn.State() {
	case connection.StateConnected:
		return connectedStyle.Render("Connected")
	case connection.StateConnecting:
		return connectingStyle.Render("Connecting…")
	case connection.StateError:
		if err := m.deps.Conn.LastError(); err != nil {
			return errorStyle.Render("Connection error: " + err.Error())
		}
		return errorStyle.Render("Connection error")
	default:
		return statusStyle.Render("Disconnected")
	}
}

// renderCallOverlay draws the current call surface. A minimized in-call
// session collapses to a one-line banner above the chat.
func (m *Model) renderCallOverlay() string {
	calls := m.deps.Calls
	status := calls.Status()
	if status == call.StatusIdle {
		return ""
	}
	if m.minimized && status == call.StatusInCall {
		return callBannerStyle.Render(fmt.Sprintf("● In call (%s) with %s — ctrl+n to restore", calls.Mode(), calls.PeerName()))
	}

	switch status {
	case call.StatusIncoming:
		inc := calls.Incoming()
		if inc == nil {
			return ""
		}
		name := inc.DisplayName
		if name == "" {
			name = inc.From
		}
		return callOverlayStyle.Render(callBannerStyle.Render(
			fmt.Sprintf("Incoming %s call from %s", inc.Mode, name)) +
			"\n" + hintStyle.Render("/accept to answer • /decline to reject"))
	case call.StatusCalling:
		return callOverlayStyle.Render(callBannerStyle.Render(
			fmt.Sprintf("Calling (%s)…", calls.Mode())) +
			"\n" + hintStyle.Render("/hangup to cancel"))
	case call.StatusConnecting:
		return callOverlayStyle.Render(callBannerStyle.Render("Connecting…"))
	case call.StatusInCall:
		return callOverlayStyle.Render(m.renderCallTiles())
	}
	return ""
}

// renderCallTiles lays out participant tiles: one remote fills the stage, two
// sit side by side, three or more wrap into rows of three.
func (m *Model) renderCallTiles() string {
	parts := m.deps.Calls.Participants().Snapshot()
	sort.Slice(parts, func(i, j int) bool { return parts[i].UserID < parts[j].UserID })

	tiles := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		name := p.DisplayName
		if name == "" {
			name = p.UserID
		}
		tiles = append(tiles, callTileStyle.Render(name))
	}
	tiles = append(tiles, callTileStyle.Copy().BorderForeground(lipgloss.Color("213")).Render("you"))

	perRow := 3
	if len(tiles) <= 2 {
		perRow = len(tiles)
	}
	var rows []string
	for start := 0; start < len(tiles); start += perRow {
		end := start + perRow
		if end > len(tiles) {
			end = len(tiles)
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, tiles[start:end]...))
	}
	header := callBannerStyle.Render(fmt.Sprintf("In call (%s)", m.deps.Calls.Mode()))
	return lipgloss.JoinVertical(lipgloss.Left, append([]string{header}, rows...)...)
}

// renderMessage renders one chat log line with its edit, delete, reply, and
// reaction decorations.
func (m *Model) renderMessage(msg *messages.Message) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", time.UnixMilli(msg.Timestamp).Format("15:04:05")))
	if msg.IsSystem {
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", systemMessageStyle.Render(msg.Text))
	}

	var nameStyle lipgloss.Style
	if msg.IsMe {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(msg.Sender))
	}
	name := nameStyle.Render(displayName(msg))

	if msg.IsDeleted {
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ", deletedStyle.Render("message deleted"))
	}

	var parts []string
	if msg.ReplyToID != "" {
		target := m.deps.Store.ResolveReply(msg.ReplyToID)
		parts = append(parts, replyStyle.Render("↪ "+replyPreview(target)))
	}

	body := msg.Text
	switch msg.MessageType {
	case messages.TypeImage, messages.TypeAudio, messages.TypeVideo, messages.TypeFile:
		body = fmt.Sprintf("[%s] %s (%s)", msg.MessageType, msg.FileName, msg.MediaURL)
	case messages.TypeSticker:
		body = fmt.Sprintf("[sticker %s]", msg.StickerID)
	}
	line := lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ",
		messageBodyStyle.Render(strings.ReplaceAll(body, "\n", "\n   ")))
	if msg.UpdatedAt > 0 {
		line = lipgloss.JoinHorizontal(lipgloss.Left, line, " ", editedMarkStyle.Render("(edited)"))
	}
	if reactions := renderReactions(msg.Reactions); reactions != "" {
		line = lipgloss.JoinHorizontal(lipgloss.Left, line, "  ", reactionStyle.Render(reactions))
	}
	parts = append(parts, line)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderFileBrowser draws the /upload picker with a viewport of ten rows
// around the cursor.
func (m *Model) renderFileBrowser() string {
	b := m.browser
	lines := []string{callBannerStyle.Render("Upload a file"), timestampStyle.Render(b.path)}
	if b.err != "" {
		lines = append(lines, errorStyle.Render(b.err))
	}

	const window = 10
	start := 0
	if b.cursor >= window {
		start = b.cursor - window + 1
	}
	end := start + window
	if end > len(b.items) {
		end = len(b.items)
	}
	for i := start; i < end; i++ {
		item := b.items[i]
		label := item.Name
		if item.IsDir {
			label += "/"
		} else if item.Size > 0 {
			label += "  " + formatFileSize(item.Size)
		}
		if i == b.cursor {
			lines = append(lines, activeUserStyle.Render("> "+label))
		} else {
			lines = append(lines, messageBodyStyle.Render("  "+label))
		}
	}
	lines = append(lines, hintStyle.Render("↑/↓ move • enter select • esc cancel"))
	return messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderReactions(reactions map[string][]string) string {
	if len(reactions) == 0 {
		return ""
	}
	emojis := make([]string, 0, len(reactions))
	for emoji := range reactions {
		emojis = append(emojis, emoji)
	}
	sort.Strings(emojis)
	var parts []string
	for _, emoji := range emojis {
		parts = append(parts, fmt.Sprintf("%s×%d", emoji, len(reactions[emoji])))
	}
	return strings.Join(parts, " ")
}

func replyPreview(target *messages.Message) string {
	text := target.Text
	// truncate on runes so a multi-byte character is never split
	if runes := []rune(text); len(runes) > 40 {
		text = string(runes[:40]) + "…"
	}
	if target.Sender == "" || target.IsSystem {
		return text
	}
	return target.Sender + ": " + text
}

func displayName(msg *messages.Message) string {
	if msg.DisplayName != "" {
		return msg.DisplayName
	}
	return msg.Sender
}

func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
