package persist

import (
	"context"
	"sync"
)

// Subscriber receives documents saved by other sessions.
type Subscriber interface {
	PersistChanged(ctx context.Context, channel string, data any)
}

type busKey struct {
	userid  string
	channel string
}

// Bus fans saved documents out to every session that has loaded the same
// (userid, channel). Subscriptions end with Unsubscribe, which sessions
// call on teardown.
type Bus struct {
	mu   sync.Mutex
	subs map[busKey]map[Subscriber]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[busKey]map[Subscriber]struct{})}
}

// Subscribe registers s for changes to (userid, channel). Repeated calls
// are harmless.
func (b *Bus) Subscribe(userid, channel string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := busKey{userid, channel}
	set, ok := b.subs[key]
	if !ok {
		set = make(map[Subscriber]struct{})
		b.subs[key] = set
	}
	set[s] = struct{}{}
}

// Unsubscribe removes every subscription held by s.
func (b *Bus) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, set := range b.subs {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, key)
		}
	}
}

// Publish delivers data to every subscriber of (userid, channel) except
// from, which saved it and already knows.
func (b *Bus) Publish(ctx context.Context, userid, channel string, data any, from Subscriber) {
	b.mu.Lock()
	targets := make([]Subscriber, 0, len(b.subs[busKey{userid, channel}]))
	for s := range b.subs[busKey{userid, channel}] {
		if s != from {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.PersistChanged(ctx, channel, data)
	}
}

// Subscribers reports how many subscriptions exist for (userid, channel).
func (b *Bus) Subscribers(userid, channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[busKey{userid, channel}])
}
