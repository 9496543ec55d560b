package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// PinGenerator proposes join codes. Collisions are resolved by the caller.
type PinGenerator interface {
	Next() string
}

// RandomPins yields six digit codes.
type RandomPins struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomPins() *RandomPins {
	return &RandomPins{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (g *RandomPins) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprintf("%06d", 100000+g.rnd.Intn(900000))
}

// createWithPin stores session under the first free pin. The store's
// uniqueness check against open sessions is the collision test.
func (s *SessionService) createWithPin(ctx context.Context, session domain.Session) (domain.Session, error) {
	for attempt := 0; attempt < s.settings.PinAttempts; attempt++ {
		session.Pin = s.pins.Next()
		err := s.sessions.Create(ctx, session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, domain.ErrPinTaken) {
			return domain.Session{}, fmt.Errorf("create session: %w", err)
		}
		s.log.WithField("pin", session.Pin).Debug("pin collision, retrying")
	}
	return domain.Session{}, domain.ErrPinExhausted
}
