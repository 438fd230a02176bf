// Package ot implements operational transformation for concurrent text
// edits, plus the per-room vector-clock bookkeeping that orders them.
package ot

import (
	"errors"
	"fmt"
	"time"
)

type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
)

var (
	ErrInvalidOperation = errors.New("invalid operation")
	ErrRoomNotFound     = errors.New("room not found")
)

// VectorClock maps a user ID to the count of operations that user has
// authored in a room.
type VectorClock map[string]int64

func NewVectorClock() VectorClock {
	return VectorClock{}
}

func (vc VectorClock) Increment(userID string) {
	vc[userID]++
}

func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// HappensBefore reports whether every counter in vc is <= the matching
// counter in other, with at least one strictly smaller.
func (vc VectorClock) HappensBefore(other VectorClock) bool {
	strict := false
	for user, n := range vc {
		m, ok := other[user]
		if !ok || n > m {
			return false
		}
		if n < m {
			strict = true
		}
	}
	if len(other) > len(vc) {
		strict = true
	}
	return strict
}

// Operation is a single text edit submitted by a client. Text is set for
// inserts, Length for deletes. Timestamp is the client submission time;
// VectorClock is assigned by the transformer when the op is accepted.
type Operation struct {
	ID          string      `json:"operation_id"`
	UserID      string      `json:"user_id"`
	RoomID      string      `json:"room_id"`
	Type        OpType      `json:"operation_type"`
	Position    int         `json:"position"`
	Length      int         `json:"length,omitempty"`
	Text        string      `json:"text,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	VectorClock VectorClock `json:"vector_clock,omitempty"`
}

// Validate checks that the operation is well-formed independent of any
// document state.
func (op Operation) Validate() error {
	if op.Position < 0 {
		return fmt.Errorf("%w: negative position %d", ErrInvalidOperation, op.Position)
	}
	switch op.Type {
	case OpInsert:
		if op.Text == "" {
			return fmt.Errorf("%w: insert requires text", ErrInvalidOperation)
		}
	case OpDelete:
		if op.Length < 0 {
			return fmt.Errorf("%w: negative length %d", ErrInvalidOperation, op.Length)
		}
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidOperation, op.Type)
	}
	return nil
}

// Apply splices the operation into content. Positions are assumed to be
// within bounds; callers clamp or reject before applying.
func (op Operation) Apply(content string) string {
	switch op.Type {
	case OpInsert:
		return content[:op.Position] + op.Text + content[op.Position:]
	case OpDelete:
		return content[:op.Position] + content[op.Position+op.Length:]
	}
	return content
}
