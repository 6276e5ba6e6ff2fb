package events

import (
	"log/slog"
	"sync"
)

// defaultBufferSize is the per-subscriber channel capacity used when a
// subscriber doesn't request a specific size.
const defaultBufferSize = 64

// Bus fans Events out to any number of subscribers. It is the generalized,
// in-process descendant of a WebSocket connection manager: instead of one
// entry per live socket, each subscriber owns a buffered Go channel.
//
// KindJobOutput is high-volume (one event per streamed transcript message)
// and a slow subscriber must never stall a job; Publish drops the oldest
// buffered KindJobOutput event to make room rather than blocking. Every
// other kind is delivered with a blocking send, since control-plane events
// (job:created, job:completed, ...) are comparatively rare and a subscriber
// missing one is a bigger problem than the publisher blocking briefly.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscription
	next int
}

type subscription struct {
	ch chan Event
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() { s.cancel() }

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscription)}
}

// Subscribe registers a new subscriber with the given channel buffer size
// (defaultBufferSize if bufferSize <= 0).
func (b *Bus) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	b.mu.Lock()
	id := idFor(b.next)
	b.next++
	sub := &subscription{ch: make(chan Event, bufferSize)}
	b.subs[id] = sub
	b.mu.Unlock()

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
			b.mu.Unlock()
		},
	}
}

// Publish delivers ev to every current subscriber. The subscriber list is
// snapshotted under the lock and released before sending, so a slow
// subscriber never blocks Subscribe/Close for others.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if ev.Kind == KindJobOutput {
			sendDropOldest(s.ch, ev)
			continue
		}
		s.ch <- ev
	}
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// sendDropOldest attempts a non-blocking send; if the channel is full it
// discards the oldest buffered event and retries once. A second full buffer
// (another publisher raced us) is logged and dropped rather than retried
// indefinitely — job:output volume makes indefinite retry a liveness risk.
func sendDropOldest(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
		slog.Warn("dropped job:output event, subscriber buffer full twice in a row")
	}
}

func idFor(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{alphabet[n%len(alphabet)]}, buf...)
		n /= len(alphabet)
	}
	return string(buf)
}
