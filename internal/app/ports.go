package app

import (
	"context"

	"live-quiz-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// SessionFilter narrows List. Empty fields match everything.
type SessionFilter struct {
	OwnerID string
	Phase   domain.Phase
}

// SessionRepository abstracts how sessions are stored (in-memory, Redis, etc).
type SessionRepository interface {
	// Create stores a new session. It fails with domain.ErrPinTaken when an
	// open session already holds the pin.
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, id string) (domain.Session, error)
	// GetByPin only resolves sessions that are not finished.
	GetByPin(ctx context.Context, pin string) (domain.Session, error)
	// Update replaces the session. A finished session gives its pin back.
	Update(ctx context.Context, session domain.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter SessionFilter) ([]domain.Session, error)
}

// ParticipationRepository stores the per-participant answer ledgers.
type ParticipationRepository interface {
	Create(ctx context.Context, p domain.Participation) error
	// Get fails with domain.ErrNotAParticipant when absent.
	Get(ctx context.Context, sessionID, userID string) (domain.Participation, error)
	Update(ctx context.Context, p domain.Participation) error
	Delete(ctx context.Context, sessionID, userID string) error
	ListBySession(ctx context.Context, sessionID string) ([]domain.Participation, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}

// Broadcaster fans events out to every socket in a room.
type Broadcaster interface {
	Emit(room, event string, payload any) error
}

// ReportSink receives the summary of every closed session.
type ReportSink interface {
	SessionFinished(ctx context.Context, summary domain.SessionSummary) error
}

// ReportSinks forwards to each sink, returning the first error after
// trying all of them.
type ReportSinks []ReportSink

func (s ReportSinks) SessionFinished(ctx context.Context, summary domain.SessionSummary) error {
	var first error
	for _, sink := range s {
		if err := sink.SessionFinished(ctx, summary); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type nopBroadcaster struct{}

func (nopBroadcaster) Emit(string, string, any) error { return nil }
