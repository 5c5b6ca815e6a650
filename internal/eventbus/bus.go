package eventbus

import (
	"sync"
	"time"
)

// Event types published by the session tracker.
const (
	MetricsUpdated = "metrics.updated"
	MetricsReset   = "metrics.reset"
	HistorySaved   = "history.saved"
	HistoryCleared = "history.cleared"
)

// Event is an in-memory notification. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Event struct {
	Type    string
	Time    time.Time
	Version uint64
	Data    any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It starts no goroutines.
func New() Bus {
	return &memBus{}
}

type subscriber struct {
	ch chan Event
}

type memBus struct {
	// mu is read-held for the duration of a fanout so a subscriber is never
	// closed while an event is being offered to it.
	mu   sync.RWMutex
	subs []*subscriber
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() { once.Do(func() { b.remove(s) }) }
}

func (b *memBus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	close(s.ch)
}

// Nop discards everything. Subscribers receive nothing.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}
