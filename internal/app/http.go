package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := s.service.Ready(ctx)
		status := http.StatusOK
		ok := true
		for _, check := range checks {
			if m, isMap := check.(map[string]any); isMap && m["status"] != "ok" {
				status = http.StatusServiceUnavailable
				ok = false
			}
		}
		writeJSON(w, status, map[string]any{"ok": ok, "checks": checks})
		return
	}

	// Room lifecycle
	if r.Method == http.MethodPost && r.URL.Path == "/api/rooms" {
		s.handleCreateRoom(w, r)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/rooms" {
		writeJSON(w, http.StatusOK, map[string]any{"rooms": s.service.ListRooms()})
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/rooms/join" {
		s.handleJoinRoom(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/rooms/leave" {
		s.handleLeaveRoom(w, r)
		return
	}
	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/rooms/") {
		s.handleGetRoom(w, r)
		return
	}

	// Document operations
	if r.Method == http.MethodPost && r.URL.Path == "/api/operations" {
		s.handleOperation(w, r)
		return
	}

	// Presence
	if r.Method == http.MethodPost && r.URL.Path == "/api/presence" {
		s.handleUpdatePresence(w, r)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/presence" {
		writeJSON(w, http.StatusOK, map[string]any{"presence": s.service.ListPresence()})
		return
	}
	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/presence/") {
		userID := strings.TrimPrefix(r.URL.Path, "/api/presence/")
		p, err := s.service.GetPresence(userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	// Typing and cursors
	if r.Method == http.MethodPost && r.URL.Path == "/api/typing" {
		s.handleTyping(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/cursor" {
		s.handleCursor(w, r)
		return
	}

	// Comments
	if r.Method == http.MethodPost && r.URL.Path == "/api/comments" {
		s.handleComment(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RoomID    string `json:"room_id"`
		CreatorID string `json:"creator_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	state, err := s.service.CreateRoom(r.Context(), body.RoomID, body.CreatorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *HTTPServer) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RoomID string `json:"room_id"`
		UserID string `json:"user_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	state, err := s.service.JoinRoom(r.Context(), body.RoomID, body.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RoomID string `json:"room_id"`
		UserID string `json:"user_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	if err := s.service.LeaveRoom(r.Context(), body.RoomID, body.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleGetRoom serves /api/rooms/{id}, /api/rooms/{id}/typing and
// /api/rooms/{id}/history.
func (s *HTTPServer) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	roomID, sub, _ := strings.Cut(rest, "/")
	if roomID == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch sub {
	case "":
		state, err := s.service.GetRoom(roomID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	case "typing":
		writeJSON(w, http.StatusOK, map[string]any{
			"room_id": roomID,
			"typing":  s.service.TypingUsers(roomID),
		})
	case "history":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := s.service.RoomHistory(r.Context(), roomID, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"room_id": roomID, "operations": entries})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleOperation(w http.ResponseWriter, r *http.Request) {
	var body DocumentOpInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	result, err := s.service.ApplyOperation(r.Context(), body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleUpdatePresence(w http.ResponseWriter, r *http.Request) {
	var body PresenceInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	p, err := s.service.UpdatePresence(r.Context(), body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleTyping(w http.ResponseWriter, r *http.Request) {
	var body TypingInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	if err := s.service.UpdateTyping(r.Context(), body); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCursor(w http.ResponseWriter, r *http.Request) {
	var body CursorInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	if err := s.service.UpdateCursor(r.Context(), body); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleComment(w http.ResponseWriter, r *http.Request) {
	var body CommentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	c, err := s.service.AddComment(r.Context(), body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeDomainError(w http.ResponseWriter, err error) {
	var derr *DomainError
	if errors.As(err, &derr) {
		writeError(w, derr.Status, derr.Code, derr.Message, derr.Details)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
