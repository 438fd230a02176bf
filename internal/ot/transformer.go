package ot

import (
	"fmt"
	"sync"
	"time"
)

// maxLogEntries bounds the per-room operation log. Entries beyond the cap
// are long since folded into the document and can never be concurrent with
// a new submission.
const maxLogEntries = 1024

type logEntry struct {
	op        Operation
	appliedAt time.Time
}

type roomLog struct {
	entries []logEntry
	clock   VectorClock
}

// Transformer resolves concurrent edits into a deterministic outcome and
// maintains one operation log and vector clock per room. It is safe for
// concurrent use; callers are expected to serialize operations per room so
// that arrival order is well-defined.
type Transformer struct {
	mu    sync.Mutex
	rooms map[string]*roomLog
	now   func() time.Time
}

func NewTransformer() *Transformer {
	return &Transformer{
		rooms: make(map[string]*roomLog),
		now:   time.Now,
	}
}

// TrackRoom initializes transform state for a room. Tracking an already
// tracked room is a no-op.
func (t *Transformer) TrackRoom(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rooms[roomID]; !ok {
		t.rooms[roomID] = &roomLog{clock: NewVectorClock()}
	}
}

// ForgetRoom drops the operation log and clock for a room.
func (t *Transformer) ForgetRoom(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, roomID)
}

// Clock returns a snapshot of the room's current vector clock.
func (t *Transformer) Clock(roomID string) (VectorClock, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return room.clock.Clone(), nil
}

// ApplyOperation validates op, transforms it against concurrent logged
// operations from other users, advances the author's vector-clock entry,
// and appends the transformed result to the room log. docLen is the length
// of the document the transformed op will be spliced into. On error no
// transformer state changes.
func (t *Transformer) ApplyOperation(op Operation, docLen int) (Operation, error) {
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[op.RoomID]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %s", ErrRoomNotFound, op.RoomID)
	}

	transformed, adjusted := transformAgainstLog(op, room.entries)

	if err := fitBounds(&transformed, adjusted, docLen); err != nil {
		return Operation{}, err
	}

	room.clock.Increment(op.UserID)
	transformed.VectorClock = room.clock.Clone()

	room.entries = append(room.entries, logEntry{op: transformed, appliedAt: t.now()})
	if len(room.entries) > maxLogEntries {
		room.entries = room.entries[len(room.entries)-maxLogEntries:]
	}

	return transformed, nil
}

// concurrentWith reports whether a logged entry counts as concurrent with
// op: authored by another user and applied after op was submitted, i.e.
// the author could not have observed it. Ops without a client timestamp
// are treated as submitted against the current state.
func concurrentWith(op Operation, e logEntry) bool {
	if e.op.UserID == op.UserID {
		return false
	}
	if op.Timestamp.IsZero() {
		return false
	}
	return e.appliedAt.After(op.Timestamp)
}

// transformAgainstLog shifts op pairwise, in log arrival order, against
// every concurrent entry. The returned flag reports whether any rule
// touched the op (or placed it inside a removed range), which relaxes the
// bounds check from strict rejection to clamping.
func transformAgainstLog(op Operation, entries []logEntry) (Operation, bool) {
	adjusted := false
	for _, e := range entries {
		if !concurrentWith(op, e) {
			continue
		}
		other := e.op
		switch {
		case op.Type == OpInsert && other.Type == OpInsert:
			// Earlier arrival wins ties: an equal position shifts the
			// later insert right.
			if other.Position <= op.Position {
				op.Position += len(other.Text)
				adjusted = true
			}
		case op.Type == OpInsert && other.Type == OpDelete:
			end := other.Position + other.Length
			if op.Position >= end {
				op.Position -= other.Length
				adjusted = true
			} else if op.Position >= other.Position {
				// Inside the deleted range: position is kept and clamped
				// to the shorter content at application time.
				adjusted = true
			}
		case op.Type == OpDelete && other.Type == OpInsert:
			if other.Position <= op.Position {
				op.Position += len(other.Text)
				adjusted = true
			}
		case op.Type == OpDelete && other.Type == OpDelete:
			end := other.Position + other.Length
			if end <= op.Position {
				op.Position -= other.Length
				adjusted = true
			} else if other.Position < op.Position+op.Length {
				// Overlapping deletes are not re-derived; the transformed
				// delete is truncated by bounds at application time.
				adjusted = true
			}
		}
	}
	return op, adjusted
}

// fitBounds reconciles the transformed op with the current document
// length. Ops the transform never touched are strictly rejected when out
// of bounds; ops it shifted (or that landed inside a removed range) are
// clamped so that double-deletion degrades to a truncated no-op.
func fitBounds(op *Operation, adjusted bool, docLen int) error {
	switch op.Type {
	case OpInsert:
		if op.Position > docLen {
			if !adjusted {
				return fmt.Errorf("%w: position %d beyond document length %d", ErrInvalidOperation, op.Position, docLen)
			}
			op.Position = docLen
		}
	case OpDelete:
		if op.Position+op.Length > docLen {
			if !adjusted {
				return fmt.Errorf("%w: range [%d,%d) beyond document length %d", ErrInvalidOperation, op.Position, op.Position+op.Length, docLen)
			}
			if op.Position > docLen {
				op.Position = docLen
			}
			op.Length = docLen - op.Position
		}
	}
	return nil
}
