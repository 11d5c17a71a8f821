package pubsub

import (
	"context"
	"sync"
)

const defaultBufferSize = 64

// Broker fans events out to every live subscriber channel. Each subscriber
// receives events in publish order and none are dropped.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[*subscriber[T]]struct{}
	closed bool
	buffer int
}

// subscriber queues events between Publish and its output channel. A single
// pump goroutine owns the send side of out.
type subscriber[T any] struct {
	out    chan Event[T]
	wake   chan struct{}
	mu     sync.Mutex
	queue  []Event[T]
	closed bool
}

// NewBroker creates an open broker with the default per-subscriber buffer.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a broker whose subscriber channels hold size events.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	if size < 1 {
		size = 1
	}
	return &Broker[T]{
		subs:   make(map[*subscriber[T]]struct{}),
		buffer: size,
	}
}

// Subscribe registers a channel that stays open until ctx is done or the
// broker shuts down. Events queued before Shutdown are still delivered.
// Subscribing to a closed broker yields a closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	sub := &subscriber[T]{
		out:  make(chan Event[T], b.buffer),
		wake: make(chan struct{}, 1),
	}
	b.subs[sub] = struct{}{}

	go b.pump(ctx, sub)

	return sub.out
}

// Publish queues the payload for all subscribers without blocking the caller.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	event := Event[T]{Type: eventType, Payload: payload}
	for sub := range b.subs {
		sub.push(event)
	}
}

func (b *Broker[T]) pump(ctx context.Context, sub *subscriber[T]) {
	defer close(sub.out)
	defer b.remove(sub)

	for {
		event, ok, done := sub.next()
		if done {
			return
		}
		if !ok {
			select {
			case <-sub.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case sub.out <- event:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broker[T]) remove(sub *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

func (s *subscriber[T]) push(event Event[T]) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	s.notify()
}

// next pops the oldest queued event. done is set once the queue is drained
// after finish.
func (s *subscriber[T]) next() (event Event[T], ok, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return event, false, s.closed
	}
	event = s.queue[0]
	var zero Event[T]
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return event, true, false
}

func (s *subscriber[T]) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber[T]) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Shutdown stops accepting events and closes every subscriber channel once
// its queue drains. It is safe to call more than once.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for sub := range b.subs {
		sub.finish()
		delete(b.subs, sub)
	}
}

// SubscriberCount reports how many channels are currently registered.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Closed reports whether Shutdown has run.
func (b *Broker[T]) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
