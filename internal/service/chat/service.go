package chat

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/agora/backend/internal/model/chat"
	"github.com/zhouzirui/agora/backend/internal/service/state"
)

var ErrSessionNotFound = errors.New("session not found")

type entry struct {
	session chat.Session
	store   *state.Store
}

// Service keeps the live sessions and the state store each one owns.
type Service struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	defaultRole string
	storeOpts   []state.Option
	now         func() time.Time
}

// NewService creates an empty registry. defaultRole seeds sessions created
// without an explicit role; an empty value falls back to the store default.
// storeOpts are applied to every session store.
func NewService(defaultRole string, storeOpts ...state.Option) *Service {
	return &Service{
		sessions:    make(map[string]*entry),
		defaultRole: defaultRole,
		storeOpts:   storeOpts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession provisions a session and its state store.
func (s *Service) CreateSession(_ context.Context, role string) (chat.Session, error) {
	if role == "" {
		role = s.defaultRole
	}

	opts := make([]state.Option, 0, len(s.storeOpts)+1)
	opts = append(opts, s.storeOpts...)
	store := state.NewStore(append(opts, state.WithRole(role))...)
	session := chat.Session{
		ID:        uuid.NewString(),
		Role:      store.Role(),
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = &entry{session: session, store: store}
	s.mu.Unlock()

	log.Printf("[chat] session created id=%s role=%s", session.ID, session.Role)
	return session, nil
}

// GetSession retrieves a session by identifier. The Role field reflects the
// role currently selected in the session state.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	session := e.session
	session.Role = e.store.Role()
	return session, nil
}

// State returns the state store owned by the session.
func (s *Service) State(_ context.Context, sessionID string) (*state.Store, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return e.store, nil
}

// EndSession drops the session and closes its store.
func (s *Service) EndSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	e.store.Close()
	log.Printf("[chat] session ended id=%s", sessionID)
	return nil
}

// List returns all live sessions, oldest first.
func (s *Service) List(_ context.Context) []chat.Session {
	s.mu.RLock()
	sessions := make([]chat.Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		session := e.session
		session.Role = e.store.Role()
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// Shutdown ends every session. Used on server exit.
func (s *Service) Shutdown() {
	s.mu.Lock()
	entries := s.sessions
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		e.store.Close()
	}
}

func (s *Service) lookup(sessionID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}
