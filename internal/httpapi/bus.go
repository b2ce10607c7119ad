package httpapi

import (
	"sync"
	"time"
)

const (
	OpReplace = "replace"
	OpUpsert  = "upsert"
	OpDelete  = "delete"
)

// changeEvent tells subscribers which table to refetch.
type changeEvent struct {
	Type  string    `json:"type"`
	Table string    `json:"table"`
	Op    string    `json:"op"`
	ID    string    `json:"id,omitempty"`
	Time  time.Time `json:"time"`
}

type eventBus struct {
	mu     sync.Mutex
	subs   map[chan changeEvent]struct{}
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[chan changeEvent]struct{})}
}

func (b *eventBus) Subscribe() chan changeEvent {
	ch := make(chan changeEvent, 32)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

func (b *eventBus) Unsubscribe(ch chan changeEvent) {
	if ch == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// Close may already have closed it.
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Close ends every subscription and refuses new ones.
func (b *eventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *eventBus) Publish(table, op, id string) {
	ev := changeEvent{Type: "collection", Table: table, Op: op, ID: id, Time: time.Now().UTC()}

	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// drop if subscriber is slow
		}
	}
	b.mu.Unlock()
}

func (b *eventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
