package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"parley/internal/event"
)

const defaultHistoryLimit = 100

// mediaResponse is the upload descriptor handed back to clients; it feeds
// straight into a media message send.
type mediaResponse struct {
	URL         string `json:"url"`
	MediaType   string `json:"mediaType"`
	MessageType string `json:"messageType"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
}

// Routes wires every endpoint into a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/api/messages", s.HandleMessages)
	mux.HandleFunc("/api/chats", s.HandleChats)
	mux.HandleFunc("/api/upload", s.HandleUpload)
	mux.Handle("/uploads/", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(s.uploadDir))))
	mux.Handle("/metrics", s.metrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// HandleMessages serves persisted history for a chat, newest first.
func (s *Server) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	chatID := r.URL.Query().Get("chatId")
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	records, err := s.store.ListMessages(r.Context(), chatID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]event.Message, 0, len(records))
	for _, m := range records {
		wire := event.Message{
			ID:            m.ID,
			User:          m.User,
			DisplayName:   m.DisplayName,
			Text:          m.Text,
			ChatID:        m.ChatID,
			Timestamp:     m.Timestamp,
			MessageType:   m.MessageType,
			MediaURL:      m.MediaURL,
			MediaType:     m.MediaType,
			MediaDuration: m.MediaDuration,
			FileName:      m.FileName,
			FileSize:      m.FileSize,
			StickerID:     m.StickerID,
			ReplyToID:     m.ReplyToID,
			IsForwarded:   m.IsForwarded,
			ForwardedFrom: m.ForwardedFrom,
			Reactions:     m.Reactions,
			UpdatedAt:     m.UpdatedAt,
			IsDeleted:     m.Deleted,
		}
		if m.Deleted {
			wire.Text = ""
		}
		out = append(out, wire)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleChats serves the chat list, most recently active first.
func (s *Server) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	chats, err := s.store.ListChats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]event.Chat, 0, len(chats))
	for _, c := range chats {
		out = append(out, event.Chat{
			ID:            c.ID,
			Name:          c.Name,
			Description:   c.Description,
			ImageURL:      c.ImageURL,
			LastMessageAt: c.LastMessageAt,
			CreatedAt:     c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleUpload stores a multipart file and returns its media descriptor.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.uploadLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("no file provided"))
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == ".." {
		writeError(w, http.StatusBadRequest, errors.New("invalid filename"))
		return
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create upload directory: %w", err))
		return
	}
	stored := uuid.NewString() + "-" + filename
	path := filepath.Join(s.uploadDir, stored)
	dest, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create file: %w", err))
		return
	}
	defer dest.Close()
	written, err := io.Copy(dest, file)
	if err != nil {
		os.Remove(path)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("save file: %w", err))
		return
	}

	mediaType := mime.TypeByExtension(filepath.Ext(filename))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	s.metrics.IncUpload()
	writeJSON(w, http.StatusOK, mediaResponse{
		URL:         "/uploads/" + stored,
		MediaType:   mediaType,
		MessageType: messageTypeFor(mediaType),
		FileName:    filename,
		FileSize:    written,
	})
}

func messageTypeFor(mediaType string) string {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return "image"
	case strings.HasPrefix(mediaType, "audio/"):
		return "audio"
	case strings.HasPrefix(mediaType, "video/"):
		return "video"
	default:
		return "file"
	}
}

func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
