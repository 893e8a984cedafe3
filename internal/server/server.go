// Package server exposes the HTTP surface: file upload and retrieval,
// per-file chat, and the visit counter.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"saleschat/internal/app"
	"saleschat/internal/ownertoken"
	"saleschat/internal/session"
	"saleschat/internal/util"
	"saleschat/internal/visitors"
	"saleschat/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Binder         *session.Binder
	Visitors       *visitors.Service
	FrontendOrigin string
	CookieSecure   bool
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app            *app.App
	binder         *session.Binder
	visitors       *visitors.Service
	mux            *http.ServeMux
	frontendOrigin string
	cookieSecure   bool
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app required")
	}
	if cfg.Binder == nil {
		return nil, fmt.Errorf("session binder required")
	}
	s := &Server{
		app:            cfg.App,
		binder:         cfg.Binder,
		visitors:       cfg.Visitors,
		mux:            http.NewServeMux(),
		frontendOrigin: cfg.FrontendOrigin,
		cookieSecure:   cfg.CookieSecure,
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped in middleware.
func (s *Server) Router() http.Handler {
	handler := ownertoken.Middleware(s.cookieSecure)(s.mux)
	handler = util.WithRequestLog(handler)
	handler = util.WithRequestID(handler)
	return util.WithCORS(s.frontendOrigin, handler)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// files
	s.mux.HandleFunc("/api/files/upload", s.handleUpload)
	s.mux.HandleFunc("/api/files/urls", s.handleListURLs)
	s.mux.HandleFunc("/api/files/url/", s.handleGetURL)
	s.mux.HandleFunc("/api/files/browser/", s.handleListByOwner)
	s.mux.HandleFunc("/api/files/file", s.handleFindFile)
	s.mux.HandleFunc("/api/files/", s.handleFileByID)

	// chat
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/chat/history/", s.handleChatHistory)

	// visits
	s.mux.HandleFunc("/api/visits/track", s.handleTrackVisit)
	s.mux.HandleFunc("/api/visits/stats", s.handleVisitStats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/files/upload
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "File is too large.")
			return
		}
		writeMessage(w, http.StatusBadRequest, "File is required.")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "File is required.")
		return
	}
	defer file.Close()

	rec, err := s.app.Upload(r.Context(), app.UploadInput{
		Reader:      file,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		OwnerToken:  ownertoken.FromContext(r.Context()),
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMissingFile):
			writeMessage(w, http.StatusBadRequest, "File is required.")
		case errors.Is(err, app.ErrNotCSV):
			writeMessage(w, http.StatusBadRequest, "Only CSV files are allowed.")
		default:
			logError(r, "upload failed", err)
			writeMessage(w, http.StatusInternalServerError, "Failed to upload file")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "File uploaded successfully!",
		"url":     rec.FileURL,
		"fileId":  rec.ID,
	})
}

// GET /api/files/urls
func (s *Server) handleListURLs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	urls, err := s.app.ListURLs(ownertoken.FromContext(r.Context()))
	if err != nil {
		logError(r, "list urls failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch URLs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls})
}

// GET /api/files/url/{id}
func (s *Server) handleGetURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/files/url/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	url, err := s.app.GetURL(id)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		logError(r, "get url failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch URL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// GET /api/files/browser/{ownerToken}
func (s *Server) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/api/files/browser/")
	if token == "" || strings.Contains(token, "/") {
		http.NotFound(w, r)
		return
	}
	files, err := s.app.ListByOwner(token)
	if err != nil {
		logError(r, "list by owner failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// GET /api/files/file?fileName=|fileUrl=|fileId=
func (s *Server) handleFindFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := store.FileQuery{
		ID:       r.URL.Query().Get("fileId"),
		FileName: r.URL.Query().Get("fileName"),
		FileURL:  r.URL.Query().Get("fileUrl"),
	}
	rec, err := s.app.Find(q)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrEmptyQuery):
			writeMessage(w, http.StatusBadRequest, "At least one search parameter (fileName, fileUrl, or fileId) is required")
		case errors.Is(err, app.ErrNotFound):
			writeMessage(w, http.StatusNotFound, "File not found")
		default:
			logError(r, "find file failed", err)
			writeMessage(w, http.StatusInternalServerError, "Failed to fetch file")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": rec})
}

// DELETE /api/files/{id}
func (s *Server) handleFileByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/files/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	rec, err := s.app.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		logError(r, "delete file failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "File deleted successfully",
		"file":    rec,
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	FileID    string `json:"fileId"`
	Timestamp string `json:"timestamp"`
}

// POST /api/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if strings.TrimSpace(req.FileID) == "" {
		writeError(w, http.StatusBadRequest, "fileId is required")
		return
	}
	reply, err := s.binder.Chat(r.Context(), req.FileID, req.Message, req.Timestamp)
	if err != nil {
		logError(r, "chat failed", err)
		writeError(w, chatErrorStatus(err), "analyst service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply.Text})
}

// GET or DELETE /api/chat/history/{fileId}
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	fileID := strings.TrimPrefix(r.URL.Path, "/api/chat/history/")
	if fileID == "" || strings.Contains(fileID, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.binder.History(fileID)
		if err != nil {
			logError(r, "load history failed", err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch chat history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	case http.MethodDelete:
		if err := s.binder.Clear(fileID); err != nil {
			logError(r, "clear history failed", err)
			writeError(w, http.StatusInternalServerError, "Failed to clear chat history")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// POST /api/visits/track
func (s *Server) handleTrackVisit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.visitors == nil {
		http.NotFound(w, r)
		return
	}
	stats, err := s.visitors.Track(ownertoken.FromContext(r.Context()), r.UserAgent())
	if err != nil {
		if errors.Is(err, visitors.ErrNoToken) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"message": "No browser ID provided",
			})
			return
		}
		logError(r, "track visit failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Error tracking visitor",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stats})
}

// GET /api/visits/stats
func (s *Server) handleVisitStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.visitors == nil {
		http.NotFound(w, r)
		return
	}
	stats, err := s.visitors.Stats()
	if err != nil {
		logError(r, "visit stats failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Error retrieving visitor statistics",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stats})
}

func chatErrorStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func logError(r *http.Request, msg string, err error) {
	util.LoggerFromContext(r.Context()).Error(msg, "path", r.URL.Path, "err", err)
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}
