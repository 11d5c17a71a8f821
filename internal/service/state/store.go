package state

import (
	"context"
	"sync"

	"github.com/zhouzirui/agora/backend/internal/model/session"
	"github.com/zhouzirui/agora/backend/internal/pubsub"
)

// Observer is called synchronously at the end of every mutation.
type Observer func(session.Change)

// Store owns the state of one conversation session and is the only way to
// mutate it. Every mutation notifies observers and channel subscribers with a
// snapshot taken after the change.
type Store struct {
	mu        sync.RWMutex
	state     session.State
	observers []observerEntry
	nextID    int
	broker    *pubsub.Broker[session.Change]
	closed    bool
}

var _ pubsub.Subscriber[session.Change] = (*Store)(nil)

type observerEntry struct {
	id int
	fn Observer
}

type options struct {
	role       string
	bufferSize int
}

// Option customizes a Store at construction time.
type Option func(*options)

// WithRole overrides the initial role. An empty role keeps the default.
func WithRole(role string) Option {
	return func(o *options) {
		if role != "" {
			o.role = role
		}
	}
}

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// NewStore creates a store holding the initial session state.
func NewStore(opts ...Option) *Store {
	cfg := options{role: session.DefaultRole}
	for _, opt := range opts {
		opt(&cfg)
	}

	var broker *pubsub.Broker[session.Change]
	if cfg.bufferSize > 0 {
		broker = pubsub.NewBrokerWithBuffer[session.Change](cfg.bufferSize)
	} else {
		broker = pubsub.NewBroker[session.Change]()
	}

	return &Store{
		state:  session.NewState(cfg.role),
		broker: broker,
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() session.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Store) STTText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.STTText
}

func (s *Store) ReplyText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ReplyText
}

func (s *Store) Role() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Role
}

// Messages returns a copy of the transcript in display order.
func (s *Store) Messages() []session.ChatMessage {
	return s.Snapshot().Messages
}

func (s *Store) IsRecording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsRecording
}

func (s *Store) IsSending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsSending
}

func (s *Store) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Error
}

// UpdateSTT replaces the live transcription.
func (s *Store) UpdateSTT(text string) {
	s.mutate(session.FieldSTTText, func(st *session.State) { st.STTText = text })
}

// UpdateReply replaces the live assistant reply.
func (s *Store) UpdateReply(text string) {
	s.mutate(session.FieldReplyText, func(st *session.State) { st.ReplyText = text })
}

// SetRole selects the persona. Any string is accepted.
func (s *Store) SetRole(role string) {
	s.mutate(session.FieldRole, func(st *session.State) { st.Role = role })
}

// PushMessage appends msg to the transcript. ID uniqueness is up to the caller.
func (s *Store) PushMessage(msg session.ChatMessage) {
	msg = msg.Clone()
	s.mutate(session.FieldMessages, func(st *session.State) {
		st.Messages = append(st.Messages, msg)
	})
}

// UpdateMessage merges patch into the first message whose ID equals id.
// Unknown ids are ignored so late events from finished turns are harmless.
func (s *Store) UpdateMessage(id string, patch session.MessagePatch) {
	s.mutate(session.FieldMessages, func(st *session.State) {
		for i := range st.Messages {
			if st.Messages[i].ID == id {
				st.Messages[i] = patch.Apply(st.Messages[i])
				return
			}
		}
	})
}

func (s *Store) SetRecording(v bool) {
	s.mutate(session.FieldIsRecording, func(st *session.State) { st.IsRecording = v })
}

func (s *Store) SetSending(v bool) {
	s.mutate(session.FieldIsSending, func(st *session.State) { st.IsSending = v })
}

// SetError records the last failure. An empty message clears it.
func (s *Store) SetError(msg string) {
	s.mutate(session.FieldError, func(st *session.State) { st.Error = msg })
}

// Observe registers fn and returns a function that removes it.
func (s *Store) Observe(fn Observer) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || fn == nil {
		return func() {}
	}

	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { s.removeObserver(id) })
	}
}

func (s *Store) removeObserver(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.observers {
		if entry.id == id {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Subscribe returns a channel of changes that closes when ctx ends or the
// store is closed.
func (s *Store) Subscribe(ctx context.Context) <-chan pubsub.Event[session.Change] {
	return s.broker.Subscribe(ctx)
}

// SubscriberCount reports live channel subscriptions.
func (s *Store) SubscriberCount() int {
	return s.broker.SubscriberCount()
}

// Close detaches all observers and subscribers. Subscribers get a final
// closed event carrying the last state before their channel closes. The state
// stays readable and writable, but nothing is notified afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.observers = nil
	s.broker.Publish(pubsub.EventTypeClosed, session.Change{State: s.state.Clone()})
	s.broker.Shutdown()
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) mutate(field session.Field, apply func(*session.State)) {
	s.mu.Lock()
	apply(&s.state)
	if s.closed {
		s.mu.Unlock()
		return
	}
	change := session.Change{Field: field, State: s.state.Clone()}
	// publishing under the lock keeps subscribers in mutation order
	s.broker.Publish(pubsub.EventTypeUpdated, change)
	observers := make([]Observer, len(s.observers))
	for i, entry := range s.observers {
		observers[i] = entry.fn
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(change)
	}
}
