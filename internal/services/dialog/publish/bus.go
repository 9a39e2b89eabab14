package publish

import (
	"context"
	"sync"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
)

const defaultSubscriptionBuffer = 64

// Bus fans events out to in-process subscribers. The runtime relays every
// committed event to it; the HTTP event stream is its built-in consumer and
// embedders may subscribe directly.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	ch       chan event.Event
	done     chan struct{}
	inflight sync.WaitGroup
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a subscriber. The returned cancel detaches it, waits for
// any send already in progress to give up, then closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan event.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	sub := &subscriber{
		ch:   make(chan event.Event, buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.done)
			sub.inflight.Wait()
			close(sub.ch)
		})
	}
}

// Publish delivers evt to every subscriber, waiting on full buffers until ctx
// ends. A subscriber canceled mid-send is skipped.
func (b *Bus) Publish(ctx context.Context, evt event.Event) error {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		// Registered while still subscribed so cancel waits for this send.
		sub.inflight.Add(1)
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var err error
	for _, sub := range subs {
		if err == nil {
			err = sub.send(ctx, evt)
		}
		sub.inflight.Done()
	}
	return err
}

func (s *subscriber) send(ctx context.Context, evt event.Event) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.ch <- evt:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
