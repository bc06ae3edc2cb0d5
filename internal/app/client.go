package app

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"

	"parley/internal/call"
	"parley/internal/connection"
	"parley/internal/messages"
	"parley/internal/tui"
)

// RunClient launches the Bubble Tea client with the provided configuration.
// Command-line values win over the persisted settings file; the file is then
// watched so edits while running replace the event channel live.
func RunClient(cfg ClientConfig) error {
	settingsPath := cfg.SettingsPath
	if settingsPath == "" {
		settingsPath = DefaultSettingsPath()
	}
	persisted, err := LoadSettings(settingsPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	serverURL := firstNonEmpty(cfg.ServerURL, persisted.ServerURL)
	username := firstNonEmpty(cfg.Username, persisted.Username, defaultUsername())
	displayName := firstNonEmpty(cfg.DisplayName, persisted.DisplayName, username)
	chatID := firstNonEmpty(cfg.ChatID, persisted.ChatID)
	demo := cfg.Demo || persisted.Demo

	if !demo && serverURL == "" {
		return errors.New("server URL is required (or pass -demo)")
	}

	// The TUI owns the terminal; logs go to a file next to the settings.
	logFile, err := os.OpenFile(filepath.Join(filepath.Dir(settingsPath), "client.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err == nil {
		log.SetOutput(logFile)
		defer logFile.Close()
	}

	session := connection.NewSession(username, displayName)
	session.SetActiveChat(chatID)
	store := messages.NewStore(session.User)

	var api *connection.Client
	if !demo {
		base, err := connection.HTTPBaseFromWSURL(serverURL)
		if err != nil {
			return fmt.Errorf("server URL: %w", err)
		}
		api = connection.NewClient(base)
	}

	conn := connection.NewManager(session, store, api)
	calls := call.NewManager(conn, call.NewDeviceCapturer(), func() call.Identity {
		return call.Identity{User: session.User(), DisplayName: session.DisplayName()}
	})
	conn.AttachCalls(calls)

	endpoint, err := wsEndpoint(serverURL, session)
	if !demo && err != nil {
		return fmt.Errorf("server URL: %w", err)
	}
	conn.Connect(connection.Settings{ServerURL: endpoint, Demo: demo})
	defer conn.Close()

	stopWatch, err := WatchSettings(settingsPath, func(s Settings) {
		if s.Username != "" {
			session.SetIdentity(s.Username, s.DisplayName)
		}
		if s.ChatID != "" {
			session.SetActiveChat(s.ChatID)
		}
		nextURL := firstNonEmpty(s.ServerURL, serverURL)
		endpoint, err := wsEndpoint(nextURL, session)
		if err != nil && !s.Demo {
			log.Printf("CONF: ignoring settings with bad server URL: %v", err)
			return
		}
		conn.ApplySettings(connection.Settings{ServerURL: endpoint, Demo: s.Demo})
	})
	if err != nil {
		log.Printf("CONF: settings watch unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	return tui.Run(tui.Deps{Session: session, Store: store, Conn: conn, Calls: calls})
}

// wsEndpoint derives the websocket dial URL, with the identity and chat as
// query parameters, from a base server URL.
func wsEndpoint(serverURL string, session *connection.Session) (string, error) {
	if serverURL == "" {
		return "", nil
	}
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/ws"
	}
	query := parsed.Query()
	query.Set("user", session.User())
	query.Set("name", session.DisplayName())
	if chat := session.ActiveChat(); chat != "" {
		query.Set("chat", chat)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func defaultUsername() string {
	if user := os.Getenv("PARLEY_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
