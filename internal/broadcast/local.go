package broadcast

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// Local is an in-process Broadcaster for single-node deployments and
// tests. Subscribers with full buffers miss events rather than blocking
// the publisher.
type Local struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*localSub
	closed bool
}

type localSub struct {
	roomID string // empty subscribes to everything
	ch     chan Event
}

func NewLocal() *Local {
	return &Local{subs: make(map[int]*localSub)}
}

// Subscribe returns a channel of events for one room, or for all events
// when roomID is empty. The returned cancel func releases the
// subscription and closes the channel.
func (l *Local) Subscribe(roomID string) (<-chan Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	sub := &localSub{roomID: roomID, ch: make(chan Event, subscriberBuffer)}
	if l.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	l.subs[id] = sub

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if s, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

func (l *Local) Publish(_ context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	for _, sub := range l.subs {
		if sub.roomID != "" && sub.roomID != ev.RoomID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Full buffer: drop rather than stall the engine.
		}
	}
	return nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	for id, sub := range l.subs {
		delete(l.subs, id)
		close(sub.ch)
	}
	return nil
}
