package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// ParticipationStore keeps answer ledgers grouped by session.
type ParticipationStore struct {
	mu     sync.RWMutex
	ledger map[string]map[string]domain.Participation
}

func NewParticipationStore() *ParticipationStore {
	return &ParticipationStore{ledger: make(map[string]map[string]domain.Participation)}
}

var _ app.ParticipationRepository = (*ParticipationStore)(nil)

func (s *ParticipationStore) Create(_ context.Context, p domain.Participation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySession, ok := s.ledger[p.SessionID]
	if !ok {
		bySession = make(map[string]domain.Participation)
		s.ledger[p.SessionID] = bySession
	}
	bySession[p.UserID] = p.Clone()
	return nil
}

func (s *ParticipationStore) Get(_ context.Context, sessionID, userID string) (domain.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.ledger[sessionID][userID]
	if !ok {
		return domain.Participation{}, domain.ErrNotAParticipant
	}
	return p.Clone(), nil
}

func (s *ParticipationStore) Update(_ context.Context, p domain.Participation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ledger[p.SessionID][p.UserID]; !ok {
		return domain.ErrNotAParticipant
	}
	s.ledger[p.SessionID][p.UserID] = p.Clone()
	return nil
}

func (s *ParticipationStore) Delete(_ context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySession := s.ledger[sessionID]
	delete(bySession, userID)
	if len(bySession) == 0 {
		delete(s.ledger, sessionID)
	}
	return nil
}

// ListBySession returns ledgers ordered by start time.
func (s *ParticipationStore) ListBySession(_ context.Context, sessionID string) ([]domain.Participation, error) {
	s.mu.RLock()
	out := make([]domain.Participation, 0, len(s.ledger[sessionID]))
	for _, p := range s.ledger[sessionID] {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *ParticipationStore) DeleteBySession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ledger, sessionID)
	return nil
}
