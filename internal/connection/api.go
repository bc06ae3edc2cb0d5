package connection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"parley/internal/event"
)

var httpTimeout = 10 * time.Second

// Client is the REST side of the server: history, chat list, and uploads.
// The event stream itself goes over the websocket channel.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a REST client for the given http(s) base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: httpTimeout},
	}
}

// Media is the descriptor the upload endpoint returns; it feeds straight into
// a media message send.
type Media struct {
	URL         string `json:"url"`
	MediaType   string `json:"mediaType"`
	MessageType string `json:"messageType"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	Duration    int64  `json:"duration,omitempty"`
}

// Messages fetches the persisted history for a chat, newest first. An empty
// chatID returns the default chat's history.
func (c *Client) Messages(chatID string) ([]event.Message, error) {
	endpoint := c.baseURL + "/api/messages"
	if chatID != "" {
		endpoint += "?chatId=" + url.QueryEscape(chatID)
	}
	var out []event.Message
	if err := c.doJSON(http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Chats fetches the server's chat list.
func (c *Client) Chats() ([]event.Chat, error) {
	var out []event.Chat
	if err := c.doJSON(http.MethodGet, c.baseURL+"/api/chats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Upload posts a local file as multipart form data and returns the media
// descriptor for the stored copy.
func (c *Client) Upload(path string) (*Media, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	var media Media
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return nil, err
	}
	return &media, nil
}

func (c *Client) doJSON(method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

// HTTPBaseFromWSURL derives the REST base URL from a websocket endpoint.
func HTTPBaseFromWSURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
