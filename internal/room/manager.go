// Package room owns per-room document state and participant membership.
// Conflict resolution is delegated to the ot package.
package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cowrite/engine/internal/ot"
	"cowrite/engine/internal/util"
)

var (
	// ErrRoomNotFound aliases the transformer's sentinel so callers can
	// match either layer with errors.Is.
	ErrRoomNotFound   = ot.ErrRoomNotFound
	ErrDuplicateRoom  = errors.New("room already exists")
	ErrNotParticipant = errors.New("user is not a room participant")
)

type Cursor struct {
	Position  int       `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Selection struct {
	Start     int       `json:"start"`
	End       int       `json:"end"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Comment struct {
	ID        string    `json:"comment_id"`
	UserID    string    `json:"user_id"`
	Position  int       `json:"position"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// State is a point-in-time snapshot of a room, safe to hand to callers.
type State struct {
	RoomID          string               `json:"room_id"`
	Participants    []string             `json:"participants"`
	DocumentContent string               `json:"document_content"`
	DocumentVersion int64                `json:"document_version"`
	Cursors         map[string]Cursor    `json:"cursors"`
	Selections      map[string]Selection `json:"selections"`
	Comments        map[string]Comment   `json:"comments"`
	CreatedAt       time.Time            `json:"created_at"`
	LastActivity    time.Time            `json:"last_activity"`
}

// Summary is the lightweight listing form of a room.
type Summary struct {
	RoomID           string    `json:"room_id"`
	ParticipantCount int       `json:"participant_count"`
	DocumentVersion  int64     `json:"document_version"`
	LastActivity     time.Time `json:"last_activity"`
}

type room struct {
	mu     sync.Mutex
	roomID string
	// closed is set, under mu, before the room is removed from the
	// manager's map. Callers that resolved the pointer just before the
	// last leave must observe it and fail instead of mutating an orphan.
	closed       bool
	participants map[string]struct{}
	content      string
	version      int64
	cursors      map[string]Cursor
	selections   map[string]Selection
	comments     map[string]Comment
	createdAt    time.Time
	lastActivity time.Time
}

func (r *room) snapshotLocked() State {
	participants := make([]string, 0, len(r.participants))
	for id := range r.participants {
		participants = append(participants, id)
	}
	sort.Strings(participants)

	cursors := make(map[string]Cursor, len(r.cursors))
	for k, v := range r.cursors {
		cursors[k] = v
	}
	selections := make(map[string]Selection, len(r.selections))
	for k, v := range r.selections {
		selections[k] = v
	}
	comments := make(map[string]Comment, len(r.comments))
	for k, v := range r.comments {
		comments[k] = v
	}

	return State{
		RoomID:          r.roomID,
		Participants:    participants,
		DocumentContent: r.content,
		DocumentVersion: r.version,
		Cursors:         cursors,
		Selections:      selections,
		Comments:        comments,
		CreatedAt:       r.createdAt,
		LastActivity:    r.lastActivity,
	}
}

// Manager owns the room map. Mutations for one room are serialized by that
// room's mutex; distinct rooms proceed in parallel. Rooms exist from the
// first participant join until the last leave, with no persistence.
type Manager struct {
	mu          sync.RWMutex
	rooms       map[string]*room
	transformer *ot.Transformer
	now         func() time.Time
}

func NewManager(transformer *ot.Transformer) *Manager {
	return &Manager{
		rooms:       make(map[string]*room),
		transformer: transformer,
		now:         time.Now,
	}
}

// CreateRoom creates an empty room with the creator as sole participant.
// Creating over an existing id is refused rather than silently replacing
// live state.
func (m *Manager) CreateRoom(roomID, creatorID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; ok {
		return State{}, fmt.Errorf("%w: %s", ErrDuplicateRoom, roomID)
	}

	now := m.now()
	r := &room{
		roomID:       roomID,
		participants: map[string]struct{}{creatorID: {}},
		cursors:      make(map[string]Cursor),
		selections:   make(map[string]Selection),
		comments:     make(map[string]Comment),
		createdAt:    now,
		lastActivity: now,
	}
	m.rooms[roomID] = r
	m.transformer.TrackRoom(roomID)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), nil
}

// JoinRoom adds the user to the room and returns the full current state so
// the caller can synchronize content and version.
func (m *Manager) JoinRoom(roomID, userID string) (State, error) {
	r, err := m.get(roomID)
	if err != nil {
		return State{}, err
	}
	return m.join(r, userID)
}

func (m *Manager) join(r *room, userID string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return State{}, fmt.Errorf("%w: %s", ErrRoomNotFound, r.roomID)
	}
	r.participants[userID] = struct{}{}
	r.lastActivity = m.now()
	return r.snapshotLocked(), nil
}

// LeaveRoom removes the participant along with their cursor and selection.
// The room is destroyed the instant its last participant leaves. Leaving a
// room twice, or one that never existed, is a safe no-op.
func (m *Manager) LeaveRoom(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.participants, userID)
	delete(r.cursors, userID)
	delete(r.selections, userID)
	r.lastActivity = m.now()
	empty := len(r.participants) == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	if empty {
		delete(m.rooms, roomID)
		m.transformer.ForgetRoom(roomID)
	}
}

// UpdateDocument resolves op against concurrent edits and folds the result
// into the document. The returned operation carries the room's clock
// snapshot, and the returned version counts exactly one increment per
// applied operation. On error the content and version are untouched.
func (m *Manager) UpdateDocument(roomID, userID string, op ot.Operation) (ot.Operation, int64, error) {
	r, err := m.get(roomID)
	if err != nil {
		return ot.Operation{}, 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ot.Operation{}, 0, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if _, ok := r.participants[userID]; !ok {
		return ot.Operation{}, 0, fmt.Errorf("%w: %s in %s", ErrNotParticipant, userID, roomID)
	}

	op.RoomID = roomID
	op.UserID = userID
	transformed, err := m.transformer.ApplyOperation(op, len(r.content))
	if err != nil {
		return ot.Operation{}, 0, err
	}

	r.content = transformed.Apply(r.content)
	r.version++
	r.lastActivity = m.now()
	return transformed, r.version, nil
}

// UpdateCursor overwrites the stored cursor, and selection when bounds are
// given, stamped with the current time. Cursor telemetry is best-effort: a
// missing room is a silent no-op.
func (m *Manager) UpdateCursor(roomID, userID string, position int, selStart, selEnd *int) {
	r, err := m.get(roomID)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	now := m.now()
	r.cursors[userID] = Cursor{Position: position, UpdatedAt: now}
	if selStart != nil && selEnd != nil {
		r.selections[userID] = Selection{Start: *selStart, End: *selEnd, UpdatedAt: now}
	} else {
		delete(r.selections, userID)
	}
	r.lastActivity = now
}

// AddComment anchors a comment to a document position. Comments live and
// die with the room.
func (m *Manager) AddComment(roomID, userID string, position int, text string) (Comment, error) {
	r, err := m.get(roomID)
	if err != nil {
		return Comment{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Comment{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if _, ok := r.participants[userID]; !ok {
		return Comment{}, fmt.Errorf("%w: %s in %s", ErrNotParticipant, userID, roomID)
	}

	c := Comment{
		ID:        util.NewID("cmt"),
		UserID:    userID,
		Position:  position,
		Text:      text,
		CreatedAt: m.now(),
	}
	r.comments[c.ID] = c
	r.lastActivity = c.CreatedAt
	return c, nil
}

// GetRoom returns a snapshot of the room.
func (m *Manager) GetRoom(roomID string) (State, error) {
	r, err := m.get(roomID)
	if err != nil {
		return State{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return State{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return r.snapshotLocked(), nil
}

// ListRooms returns summaries of all live rooms, ordered by room id.
func (m *Manager) ListRooms() []Summary {
	m.mu.RLock()
	rooms := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		out = append(out, Summary{
			RoomID:           r.roomID,
			ParticipantCount: len(r.participants),
			DocumentVersion:  r.version,
			LastActivity:     r.lastActivity,
		})
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (m *Manager) get(roomID string) (*room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return r, nil
}
