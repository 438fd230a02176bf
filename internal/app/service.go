// Package app is the dispatcher-facing surface of the engine: a service
// facade over the room, presence, and ot components, the typed error
// taxonomy, and a thin HTTP adapter. It trusts user ids as already
// authenticated upstream.
package app

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"cowrite/engine/internal/audit"
	"cowrite/engine/internal/broadcast"
	"cowrite/engine/internal/config"
	"cowrite/engine/internal/ot"
	"cowrite/engine/internal/presence"
	"cowrite/engine/internal/room"
	"cowrite/engine/internal/util"
)

type DocumentOpInput struct {
	OperationID   string    `json:"operation_id"`
	UserID        string    `json:"user_id"`
	RoomID        string    `json:"room_id"`
	OperationType string    `json:"operation_type"`
	Position      int       `json:"position"`
	Length        int       `json:"length"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
}

// OperationResult mirrors the inbound op plus the server-assigned vector
// clock, timestamp, and document version.
type OperationResult struct {
	Operation       ot.Operation `json:"operation"`
	DocumentVersion int64        `json:"document_version"`
	ServerTimestamp time.Time    `json:"server_timestamp"`
}

type PresenceInput struct {
	UserID   string            `json:"user_id"`
	Status   string            `json:"status"`
	RoomID   string            `json:"room_id"`
	Metadata map[string]string `json:"metadata"`
}

type TypingInput struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
	Action string `json:"action"`
}

type CursorInput struct {
	UserID         string `json:"user_id"`
	RoomID         string `json:"room_id"`
	Position       int    `json:"position"`
	SelectionStart *int   `json:"selection_start"`
	SelectionEnd   *int   `json:"selection_end"`
}

type CommentInput struct {
	UserID   string `json:"user_id"`
	RoomID   string `json:"room_id"`
	Position int    `json:"position"`
	Text     string `json:"text"`
}

type Service struct {
	cfg         config.Config
	rooms       *room.Manager
	presence    *presence.Manager
	broadcaster broadcast.Broadcaster
	auditLog    *audit.Log
}

func New(cfg config.Config, broadcaster broadcast.Broadcaster) *Service {
	return &Service{
		cfg:         cfg,
		rooms:       room.NewManager(ot.NewTransformer()),
		presence:    presence.NewManager(presence.SystemClock(), cfg.TypingDebounce, cfg.PresenceStaleAfter),
		broadcaster: broadcaster,
	}
}

// NewWithAuditLog wires an optional Postgres audit log for applied
// operations.
func NewWithAuditLog(cfg config.Config, broadcaster broadcast.Broadcaster, auditLog *audit.Log) *Service {
	s := New(cfg, broadcaster)
	s.auditLog = auditLog
	return s
}

// Run drives the periodic presence sweep until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.presence.Run(ctx, s.cfg.SweepInterval)
}

func (s *Service) CreateRoom(ctx context.Context, roomID, creatorID string) (room.State, error) {
	if err := requireIDs(map[string]string{"room_id": roomID, "creator_id": creatorID}); err != nil {
		return room.State{}, err
	}

	state, err := s.rooms.CreateRoom(roomID, creatorID)
	if err != nil {
		return room.State{}, mapEngineError(err)
	}
	s.publish(ctx, broadcast.EventRoom, roomID, creatorID, map[string]any{
		"action":       "created",
		"participants": state.Participants,
	})
	return state, nil
}

func (s *Service) JoinRoom(ctx context.Context, roomID, userID string) (room.State, error) {
	if err := requireIDs(map[string]string{"room_id": roomID, "user_id": userID}); err != nil {
		return room.State{}, err
	}

	state, err := s.rooms.JoinRoom(roomID, userID)
	if err != nil {
		return room.State{}, mapEngineError(err)
	}
	s.publish(ctx, broadcast.EventRoom, roomID, userID, map[string]any{
		"action":       "joined",
		"participants": state.Participants,
	})
	return state, nil
}

func (s *Service) LeaveRoom(ctx context.Context, roomID, userID string) error {
	if err := requireIDs(map[string]string{"room_id": roomID, "user_id": userID}); err != nil {
		return err
	}

	s.rooms.LeaveRoom(roomID, userID)
	s.publish(ctx, broadcast.EventRoom, roomID, userID, map[string]any{"action": "left"})
	return nil
}

// ApplyOperation resolves a document edit against concurrent operations,
// folds it into the room, and emits the transformed result for fan-out.
func (s *Service) ApplyOperation(ctx context.Context, in DocumentOpInput) (OperationResult, error) {
	if err := requireIDs(map[string]string{"room_id": in.RoomID, "user_id": in.UserID}); err != nil {
		return OperationResult{}, err
	}

	op := ot.Operation{
		ID:        in.OperationID,
		UserID:    in.UserID,
		RoomID:    in.RoomID,
		Type:      ot.OpType(in.OperationType),
		Position:  in.Position,
		Length:    in.Length,
		Text:      in.Text,
		Timestamp: in.Timestamp,
	}
	if op.ID == "" {
		op.ID = util.NewID("op")
	}

	transformed, version, err := s.rooms.UpdateDocument(in.RoomID, in.UserID, op)
	if err != nil {
		return OperationResult{}, mapEngineError(err)
	}

	result := OperationResult{
		Operation:       transformed,
		DocumentVersion: version,
		ServerTimestamp: time.Now().UTC(),
	}
	s.publish(ctx, broadcast.EventOperation, in.RoomID, in.UserID, result)
	s.record(transformed, version, result.ServerTimestamp)
	return result, nil
}

func (s *Service) UpdateCursor(ctx context.Context, in CursorInput) error {
	if err := requireIDs(map[string]string{"room_id": in.RoomID, "user_id": in.UserID}); err != nil {
		return err
	}

	s.rooms.UpdateCursor(in.RoomID, in.UserID, in.Position, in.SelectionStart, in.SelectionEnd)
	s.publish(ctx, broadcast.EventCursor, in.RoomID, in.UserID, in)
	return nil
}

func (s *Service) UpdatePresence(ctx context.Context, in PresenceInput) (presence.UserPresence, error) {
	if err := requireIDs(map[string]string{"user_id": in.UserID}); err != nil {
		return presence.UserPresence{}, err
	}

	p, err := s.presence.UpdatePresence(in.UserID, presence.Status(in.Status), in.RoomID, in.Metadata)
	if err != nil {
		return presence.UserPresence{}, mapEngineError(err)
	}
	s.publish(ctx, broadcast.EventPresence, "", in.UserID, p)
	return p, nil
}

func (s *Service) UpdateTyping(ctx context.Context, in TypingInput) error {
	if err := requireIDs(map[string]string{"room_id": in.RoomID, "user_id": in.UserID}); err != nil {
		return err
	}

	switch in.Action {
	case "start":
		s.presence.StartTyping(in.UserID, in.RoomID)
	case "stop":
		s.presence.StopTyping(in.UserID, in.RoomID)
	default:
		return domainError(http.StatusBadRequest, "INVALID_ACTION", "typing action must be start or stop", nil)
	}
	s.publish(ctx, broadcast.EventTyping, in.RoomID, in.UserID, in)
	return nil
}

func (s *Service) AddComment(ctx context.Context, in CommentInput) (room.Comment, error) {
	if err := requireIDs(map[string]string{"room_id": in.RoomID, "user_id": in.UserID}); err != nil {
		return room.Comment{}, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return room.Comment{}, domainError(http.StatusBadRequest, "VALIDATION", "comment text is required", nil)
	}

	c, err := s.rooms.AddComment(in.RoomID, in.UserID, in.Position, in.Text)
	if err != nil {
		return room.Comment{}, mapEngineError(err)
	}
	s.publish(ctx, broadcast.EventRoom, in.RoomID, in.UserID, map[string]any{
		"action":  "commented",
		"comment": c,
	})
	return c, nil
}

func (s *Service) GetRoom(roomID string) (room.State, error) {
	state, err := s.rooms.GetRoom(roomID)
	if err != nil {
		return room.State{}, mapEngineError(err)
	}
	return state, nil
}

func (s *Service) ListRooms() []room.Summary {
	return s.rooms.ListRooms()
}

func (s *Service) GetPresence(userID string) (presence.UserPresence, error) {
	p, ok := s.presence.GetPresence(userID)
	if !ok {
		return presence.UserPresence{}, domainError(http.StatusNotFound, "PRESENCE_NOT_FOUND", "user is offline", nil)
	}
	return p, nil
}

func (s *Service) ListPresence() []presence.UserPresence {
	return s.presence.ListPresence()
}

func (s *Service) TypingUsers(roomID string) []string {
	return s.presence.TypingUsers(roomID)
}

// RoomHistory reads the audit log for a room, oldest first.
func (s *Service) RoomHistory(ctx context.Context, roomID string, limit int) ([]audit.Entry, error) {
	if s.auditLog == nil {
		return nil, domainError(http.StatusNotImplemented, "AUDIT_DISABLED", "no audit database configured", nil)
	}
	entries, err := s.auditLog.RoomHistory(ctx, roomID, limit)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return entries, nil
}

// Ready reports health of the optional external backends.
func (s *Service) Ready(ctx context.Context) map[string]any {
	checks := map[string]any{}

	if p, ok := s.broadcaster.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["redis"] = map[string]any{"status": "ok"}
		}
	}
	if s.auditLog != nil {
		if err := s.auditLog.Ping(ctx); err != nil {
			checks["audit_database"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["audit_database"] = map[string]any{"status": "ok"}
		}
	}
	return checks
}

// publish sends an event to the broadcaster. Fan-out is best-effort; a
// publish failure is logged and never surfaced to the caller.
func (s *Service) publish(ctx context.Context, eventType broadcast.EventType, roomID, userID string, payload any) {
	ev, err := broadcast.NewEvent(eventType, roomID, userID, payload)
	if err != nil {
		log.Printf("broadcast: building %s event: %v", eventType, err)
		return
	}
	if err := s.broadcaster.Publish(ctx, ev); err != nil {
		log.Printf("broadcast: publishing %s event: %v", eventType, err)
	}
}

// record appends the applied op to the audit log off the request path.
func (s *Service) record(op ot.Operation, version int64, appliedAt time.Time) {
	if s.auditLog == nil {
		return
	}
	entry := audit.Entry{
		OperationID:     op.ID,
		RoomID:          op.RoomID,
		UserID:          op.UserID,
		OperationType:   string(op.Type),
		Position:        op.Position,
		Length:          op.Length,
		Text:            op.Text,
		VectorClock:     op.VectorClock,
		DocumentVersion: version,
		AppliedAt:       appliedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.auditLog.Record(ctx, entry); err != nil {
			log.Printf("audit: recording operation %s: %v", entry.OperationID, err)
		}
	}()
}

func requireIDs(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return domainError(http.StatusBadRequest, "VALIDATION", "missing required fields", missing)
	}
	return nil
}
