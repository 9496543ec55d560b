package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// Pins are indexed only while their session is open.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	pins     map[string]string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
		pins:     make(map[string]string),
	}
}

var _ app.SessionRepository = (*SessionStore)(nil)

func (s *SessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.pins[session.Pin]; taken {
		return domain.ErrPinTaken
	}
	s.sessions[session.ID] = session.Clone()
	if session.Phase != domain.PhaseFinished {
		s.pins[session.Pin] = session.ID
	}
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *SessionStore) GetByPin(_ context.Context, pin string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pins[pin]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.sessions[id].Clone(), nil
}

func (s *SessionStore) Update(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.sessions[session.ID] = session.Clone()
	if session.Phase == domain.PhaseFinished && s.pins[session.Pin] == session.ID {
		delete(s.pins, session.Pin)
	}
	return nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.pins[session.Pin] == id {
		delete(s.pins, session.Pin)
	}
	delete(s.sessions, id)
	return nil
}

// List returns matching sessions, newest first.
func (s *SessionStore) List(_ context.Context, filter app.SessionFilter) ([]domain.Session, error) {
	s.mu.RLock()
	out := make([]domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if filter.OwnerID != "" && session.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Phase != "" && session.Phase != filter.Phase {
			continue
		}
		out = append(out, session.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
