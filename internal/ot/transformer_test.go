package ot

import (
	"errors"
	"testing"
	"time"
)

func newRoomTransformer(t *testing.T, roomID string) *Transformer {
	t.Helper()
	tr := NewTransformer()
	tr.TrackRoom(roomID)
	return tr
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
		ok   bool
	}{
		{name: "valid insert", op: Operation{Type: OpInsert, Position: 0, Text: "x"}, ok: true},
		{name: "valid delete", op: Operation{Type: OpDelete, Position: 0, Length: 1}, ok: true},
		{name: "zero length delete", op: Operation{Type: OpDelete, Position: 0}, ok: true},
		{name: "insert without text", op: Operation{Type: OpInsert, Position: 0}, ok: false},
		{name: "negative position", op: Operation{Type: OpInsert, Position: -1, Text: "x"}, ok: false},
		{name: "negative length", op: Operation{Type: OpDelete, Position: 0, Length: -2}, ok: false},
		{name: "unknown type", op: Operation{Type: "replace", Position: 0}, ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.op.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrInvalidOperation) {
					t.Fatalf("Validate() = %v, want ErrInvalidOperation", err)
				}
			}
		})
	}
}

func TestApplyOperationUnknownRoom(t *testing.T) {
	tr := NewTransformer()
	_, err := tr.ApplyOperation(Operation{RoomID: "nope", Type: OpInsert, Text: "x"}, 0)
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestBoundsRejection(t *testing.T) {
	tr := newRoomTransformer(t, "doc1")

	_, err := tr.ApplyOperation(Operation{RoomID: "doc1", UserID: "alice", Type: OpInsert, Position: 10, Text: "x"}, 0)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("insert beyond length: got %v, want ErrInvalidOperation", err)
	}

	_, err = tr.ApplyOperation(Operation{RoomID: "doc1", UserID: "alice", Type: OpDelete, Position: 0, Length: 5}, 3)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("delete beyond length: got %v, want ErrInvalidOperation", err)
	}

	// Rejected ops must not advance the clock or the log.
	clock, err := tr.Clock("doc1")
	if err != nil {
		t.Fatalf("Clock failed: %v", err)
	}
	if len(clock) != 0 {
		t.Fatalf("clock advanced on rejected op: %v", clock)
	}
}

func TestVectorClockAdvances(t *testing.T) {
	tr := newRoomTransformer(t, "doc1")

	docLen := 0
	for i := 0; i < 3; i++ {
		op, err := tr.ApplyOperation(Operation{RoomID: "doc1", UserID: "alice", Type: OpInsert, Position: 0, Text: "a"}, docLen)
		if err != nil {
			t.Fatalf("apply %d failed: %v", i, err)
		}
		if got := op.VectorClock["alice"]; got != int64(i+1) {
			t.Fatalf("op %d clock = %d, want %d", i, got, i+1)
		}
		docLen++
	}

	op, err := tr.ApplyOperation(Operation{RoomID: "doc1", UserID: "bob", Type: OpInsert, Position: 0, Text: "b"}, docLen)
	if err != nil {
		t.Fatalf("bob apply failed: %v", err)
	}
	if op.VectorClock["alice"] != 3 || op.VectorClock["bob"] != 1 {
		t.Fatalf("clock snapshot = %v, want alice:3 bob:1", op.VectorClock)
	}
}

func TestHappensBefore(t *testing.T) {
	earlier := VectorClock{"alice": 1}
	later := VectorClock{"alice": 2, "bob": 1}
	if !earlier.HappensBefore(later) {
		t.Fatal("earlier should happen before later")
	}
	if later.HappensBefore(earlier) {
		t.Fatal("later should not happen before earlier")
	}

	a := VectorClock{"alice": 2, "bob": 1}
	b := VectorClock{"alice": 1, "bob": 2}
	if a.HappensBefore(b) || b.HappensBefore(a) {
		t.Fatal("concurrent clocks must not be ordered")
	}
}

// runOrdering applies two concurrent inserts in a given order on a fresh
// room and returns the resulting document.
func runOrdering(t *testing.T, first, second Operation) string {
	t.Helper()
	tr := newRoomTransformer(t, first.RoomID)

	content := ""
	for _, op := range []Operation{first, second} {
		transformed, err := tr.ApplyOperation(op, len(content))
		if err != nil {
			t.Fatalf("apply %s failed: %v", op.ID, err)
		}
		content = transformed.Apply(content)
	}
	return content
}

func TestConvergenceUnderSwappedArrival(t *testing.T) {
	submitted := time.Now().Add(-time.Second)
	opA := Operation{ID: "opA", RoomID: "doc1", UserID: "alice", Type: OpInsert, Position: 0, Text: "A", Timestamp: submitted}
	opB := Operation{ID: "opB", RoomID: "doc1", UserID: "bob", Type: OpInsert, Position: 0, Text: "B", Timestamp: submitted}

	// The earlier arrival keeps its position; the later insert shifts
	// right. Each ordering is deterministic across repeat runs.
	for i := 0; i < 2; i++ {
		if got := runOrdering(t, opA, opB); got != "AB" {
			t.Fatalf("run %d A-then-B = %q, want %q", i, got, "AB")
		}
		if got := runOrdering(t, opB, opA); got != "BA" {
			t.Fatalf("run %d B-then-A = %q, want %q", i, got, "BA")
		}
	}
}

func TestInsertShiftsAgainstConcurrentDelete(t *testing.T) {
	submitted := time.Now().Add(-time.Second)
	tr := newRoomTransformer(t, "doc1")

	content := "hello world"
	del := Operation{ID: "del", RoomID: "doc1", UserID: "alice", Type: OpDelete, Position: 0, Length: 6, Timestamp: submitted}
	transformed, err := tr.ApplyOperation(del, len(content))
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	content = transformed.Apply(content)
	if content != "world" {
		t.Fatalf("content = %q, want %q", content, "world")
	}

	// Insert positioned past the deleted range shifts left by its length.
	ins := Operation{ID: "ins", RoomID: "doc1", UserID: "bob", Type: OpInsert, Position: 11, Text: "!", Timestamp: submitted}
	transformed, err = tr.ApplyOperation(ins, len(content))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if transformed.Position != 5 {
		t.Fatalf("insert position = %d, want 5", transformed.Position)
	}
	if got := transformed.Apply(content); got != "world!" {
		t.Fatalf("content = %q, want %q", got, "world!")
	}
}

func TestInsertInsideDeletedRangeClamps(t *testing.T) {
	submitted := time.Now().Add(-time.Second)
	tr := newRoomTransformer(t, "doc1")

	content := "abcdef"
	del := Operation{ID: "del", RoomID: "doc1", UserID: "alice", Type: OpDelete, Position: 1, Length: 5, Timestamp: submitted}
	transformed, err := tr.ApplyOperation(del, len(content))
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	content = transformed.Apply(content)
	if content != "a" {
		t.Fatalf("content = %q, want %q", content, "a")
	}

	// Insert at position 4 fell inside [1,6); it keeps its position and
	// is clamped to the shorter content.
	ins := Operation{ID: "ins", RoomID: "doc1", UserID: "bob", Type: OpInsert, Position: 4, Text: "x", Timestamp: submitted}
	transformed, err = tr.ApplyOperation(ins, len(content))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if transformed.Position != 1 {
		t.Fatalf("insert position = %d, want clamp to 1", transformed.Position)
	}
	if got := transformed.Apply(content); got != "ax" {
		t.Fatalf("content = %q, want %q", got, "ax")
	}
}

func TestOverlappingDeletesTruncate(t *testing.T) {
	submitted := time.Now().Add(-time.Second)
	tr := newRoomTransformer(t, "doc1")

	content := "abcdef"
	first := Operation{ID: "d1", RoomID: "doc1", UserID: "alice", Type: OpDelete, Position: 2, Length: 4, Timestamp: submitted}
	transformed, err := tr.ApplyOperation(first, len(content))
	if err != nil {
		t.Fatalf("first delete failed: %v", err)
	}
	content = transformed.Apply(content)
	if content != "ab" {
		t.Fatalf("content = %q, want %q", content, "ab")
	}

	// The overlapping second delete degrades to a truncated no-op rather
	// than an error.
	second := Operation{ID: "d2", RoomID: "doc1", UserID: "bob", Type: OpDelete, Position: 2, Length: 4, Timestamp: submitted}
	transformed, err = tr.ApplyOperation(second, len(content))
	if err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if got := transformed.Apply(content); got != "ab" {
		t.Fatalf("content = %q, want %q", got, "ab")
	}
}

func TestForgetRoomDropsState(t *testing.T) {
	tr := newRoomTransformer(t, "doc1")
	if _, err := tr.ApplyOperation(Operation{RoomID: "doc1", UserID: "alice", Type: OpInsert, Position: 0, Text: "x"}, 0); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	tr.ForgetRoom("doc1")
	if _, err := tr.Clock("doc1"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound after forget, got %v", err)
	}
}
