// Package presence tracks per-user status and typing indicators with
// automatic staleness cleanup. Typing debounce is expressed as a
// lazily-checked expiry timestamp plus a periodic sweep rather than one
// scheduled task per typing event.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

var ErrInvalidStatus = errors.New("invalid presence status")

const (
	DefaultTypingDebounce = 5 * time.Second
	DefaultStaleAfter     = 10 * time.Minute
	DefaultSweepInterval  = 60 * time.Second
)

// Clock abstracts time so debounce and staleness logic is testable
// without real sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// UserPresence is a snapshot of one user's live state. There is no
// terminal offline record: absence means offline.
type UserPresence struct {
	UserID      string            `json:"user_id"`
	Status      Status            `json:"status"`
	LastSeen    time.Time         `json:"last_seen"`
	TypingIn    string            `json:"typing_in,omitempty"`
	CurrentRoom string            `json:"current_room,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type userState struct {
	status      Status
	lastSeen    time.Time
	typingIn    string
	currentRoom string
	metadata    map[string]string
}

// Manager keys state per user; concurrent updates to the same user are
// last-write-wins on lastSeen.
type Manager struct {
	mu         sync.Mutex
	users      map[string]*userState
	typing     map[string]map[string]time.Time // room -> user -> expiry
	clock      Clock
	debounce   time.Duration
	staleAfter time.Duration
}

func NewManager(clock Clock, debounce, staleAfter time.Duration) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	if debounce <= 0 {
		debounce = DefaultTypingDebounce
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Manager{
		users:      make(map[string]*userState),
		typing:     make(map[string]map[string]time.Time),
		clock:      clock,
		debounce:   debounce,
		staleAfter: staleAfter,
	}
}

// UpdatePresence upserts the user's record with lastSeen set to now.
// Status offline removes the record immediately instead of retaining a
// terminal state.
func (m *Manager) UpdatePresence(userID string, status Status, roomID string, metadata map[string]string) (UserPresence, error) {
	switch status {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
	default:
		return UserPresence{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if status == StatusOffline {
		m.removeUserLocked(userID)
		return UserPresence{UserID: userID, Status: StatusOffline, LastSeen: m.clock.Now()}, nil
	}

	u, ok := m.users[userID]
	if !ok {
		u = &userState{}
		m.users[userID] = u
	}
	u.status = status
	u.lastSeen = m.clock.Now()
	u.currentRoom = roomID
	if metadata != nil {
		// Copy so later caller-side mutation cannot race snapshot reads.
		u.metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			u.metadata[k] = v
		}
	}
	return m.snapshotLocked(userID, u), nil
}

// StartTyping records or refreshes a typing entry. The entry auto-clears
// once the debounce window passes without another StartTyping call.
func (m *Manager) StartTyping(userID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byUser, ok := m.typing[roomID]
	if !ok {
		byUser = make(map[string]time.Time)
		m.typing[roomID] = byUser
	}
	byUser[userID] = m.clock.Now().Add(m.debounce)

	if u, ok := m.users[userID]; ok {
		u.typingIn = roomID
	}
}

// StopTyping removes the typing entry immediately. Safe to call when no
// entry exists.
func (m *Manager) StopTyping(userID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if byUser, ok := m.typing[roomID]; ok {
		delete(byUser, userID)
		if len(byUser) == 0 {
			delete(m.typing, roomID)
		}
	}
	if u, ok := m.users[userID]; ok && u.typingIn == roomID {
		u.typingIn = ""
	}
}

// TypingUsers returns the users currently typing in a room, with expired
// entries filtered out lazily.
func (m *Manager) TypingUsers(roomID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var out []string
	for userID, expiry := range m.typing[roomID] {
		if expiry.After(now) {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

// GetPresence returns the user's snapshot, or false if the user is
// offline (absent).
func (m *Manager) GetPresence(userID string) (UserPresence, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return UserPresence{}, false
	}
	return m.snapshotLocked(userID, u), true
}

// ListPresence returns all tracked users ordered by user id.
func (m *Manager) ListPresence() []UserPresence {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]UserPresence, 0, len(m.users))
	for userID, u := range m.users {
		out = append(out, m.snapshotLocked(userID, u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Sweep removes presence entries whose lastSeen exceeds the staleness
// threshold and drops typing entries past their debounce window, as a
// safety net behind the lazy expiry checks. It returns how many presence
// records were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for userID, u := range m.users {
		if now.Sub(u.lastSeen) > m.staleAfter {
			m.removeUserLocked(userID)
			removed++
		}
	}
	for roomID, byUser := range m.typing {
		for userID, expiry := range byUser {
			if !expiry.After(now) {
				delete(byUser, userID)
				if u, ok := m.users[userID]; ok && u.typingIn == roomID {
					u.typingIn = ""
				}
			}
		}
		if len(byUser) == 0 {
			delete(m.typing, roomID)
		}
	}
	return removed
}

// Run sweeps on the given interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) removeUserLocked(userID string) {
	u, ok := m.users[userID]
	if !ok {
		return
	}
	if u.typingIn != "" {
		if byUser, ok := m.typing[u.typingIn]; ok {
			delete(byUser, userID)
			if len(byUser) == 0 {
				delete(m.typing, u.typingIn)
			}
		}
	}
	delete(m.users, userID)
}

func (m *Manager) snapshotLocked(userID string, u *userState) UserPresence {
	typingIn := u.typingIn
	if typingIn != "" {
		expiry, ok := m.typing[typingIn][userID]
		if !ok || !expiry.After(m.clock.Now()) {
			typingIn = ""
		}
	}

	var metadata map[string]string
	if len(u.metadata) > 0 {
		metadata = make(map[string]string, len(u.metadata))
		for k, v := range u.metadata {
			metadata[k] = v
		}
	}

	return UserPresence{
		UserID:      userID,
		Status:      u.status,
		LastSeen:    u.lastSeen,
		TypingIn:    typingIn,
		CurrentRoom: u.currentRoom,
		Metadata:    metadata,
	}
}
