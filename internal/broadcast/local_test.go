package broadcast

import (
	"context"
	"testing"
)

func TestLocalRoomScoping(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	doc1, cancel1 := l.Subscribe("doc1")
	defer cancel1()
	all, cancelAll := l.Subscribe("")
	defer cancelAll()

	ev, err := NewEvent(EventOperation, "doc1", "alice", map[string]any{"position": 0})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if err := l.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	other, err := NewEvent(EventTyping, "doc2", "bob", nil)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if err := l.Publish(context.Background(), other); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got := <-doc1
	if got.Type != EventOperation || got.RoomID != "doc1" {
		t.Fatalf("doc1 subscriber got %+v, want doc1 operation", got)
	}
	select {
	case unexpected := <-doc1:
		t.Fatalf("doc1 subscriber got cross-room event %+v", unexpected)
	default:
	}

	if got := <-all; got.RoomID != "doc1" {
		t.Fatalf("global subscriber got %+v first, want doc1 event", got)
	}
	if got := <-all; got.RoomID != "doc2" {
		t.Fatalf("global subscriber got %+v second, want doc2 event", got)
	}
}

func TestLocalSlowSubscriberDoesNotBlock(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	_, cancel := l.Subscribe("doc1")
	defer cancel()

	// Overflow the buffer; Publish must keep returning immediately.
	for i := 0; i < subscriberBuffer*2; i++ {
		ev, err := NewEvent(EventCursor, "doc1", "alice", nil)
		if err != nil {
			t.Fatalf("NewEvent failed: %v", err)
		}
		if err := l.Publish(context.Background(), ev); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}
}

func TestLocalCancelClosesChannel(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	ch, cancel := l.Subscribe("doc1")
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}

	ev, err := NewEvent(EventRoom, "doc1", "alice", nil)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if err := l.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish after cancel failed: %v", err)
	}
}

func TestLocalPublishAfterClose(t *testing.T) {
	l := NewLocal()
	ch, _ := l.Subscribe("")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after Close")
	}

	ev, err := NewEvent(EventPresence, "", "alice", nil)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if err := l.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish after Close failed: %v", err)
	}
}
