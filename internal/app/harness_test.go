package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/logger"
	"live-quiz-service/internal/schedule"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type emitted struct {
	room    string
	event   string
	payload any
}

// recorder is a Broadcaster that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(room, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{room: room, event: event, payload: payload})
	return nil
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) last(event string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].event == event {
			return r.events[i].payload, true
		}
	}
	return nil, false
}

type sinkRecorder struct {
	mu        sync.Mutex
	summaries []domain.SessionSummary
}

func (s *sinkRecorder) SessionFinished(_ context.Context, summary domain.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return nil
}

var errStoreDown = errors.New("store unavailable")

// flakySessions fails the next failUpdates calls to Update.
type flakySessions struct {
	*memory.SessionStore
	failUpdates int32
}

func (f *flakySessions) Update(ctx context.Context, session domain.Session) error {
	for {
		n := atomic.LoadInt32(&f.failUpdates)
		if n <= 0 {
			return f.SessionStore.Update(ctx, session)
		}
		if atomic.CompareAndSwapInt32(&f.failUpdates, n, n-1) {
			return errStoreDown
		}
	}
}

func (f *flakySessions) failNextUpdates(n int32) {
	atomic.StoreInt32(&f.failUpdates, n)
}

type harness struct {
	svc      *app.SessionService
	clock    *schedule.ManualClock
	room     *recorder
	reports  *sinkRecorder
	quizzes  *memory.StaticQuizLoader
	sessions *flakySessions
	parts    *memory.ParticipationStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    schedule.NewManualClock(),
		room:     &recorder{},
		reports:  &sinkRecorder{},
		sessions: &flakySessions{SessionStore: memory.NewSessionStore()},
		parts:    memory.NewParticipationStore(),
		quizzes: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1":    twoQuestionQuiz(),
			"quiz-solo": soloQuiz(),
		}),
	}
	h.svc = app.NewSessionService(app.Dependencies{
		Sessions:       h.sessions,
		Participations: h.parts,
		Quizzes:        h.quizzes,
		Broadcaster:    h.room,
		Reports:        h.reports,
		Clock:          h.clock,
		Logger:         logger.Discard(),
		Now:            func() time.Time { return testNow },
	}, app.Settings{
		DefaultTimeLimit: 20 * time.Second,
		ResultPause:      8 * time.Second,
		RankingSize:      5,
		PinAttempts:      3,
	})
	return h
}

// lobby creates a waiting session for quizID and joins users in order.
func (h *harness) lobby(t *testing.T, quizID string, mode domain.Mode, users ...string) domain.Session {
	t.Helper()
	ctx := context.Background()
	session, err := h.svc.CreateSession(ctx, app.NewSession{
		QuizID:  quizID,
		OwnerID: "prof",
		Mode:    mode,
		Live:    domain.LiveConfig{TimePerQuestion: 20, ShowRanking: true},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, u := range users {
		if _, err := h.svc.Join(ctx, session.Pin, u, "name-"+u); err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
	}
	return session
}

// started is lobby followed by Start.
func (h *harness) started(t *testing.T, quizID string, mode domain.Mode, users ...string) domain.Session {
	t.Helper()
	session := h.lobby(t, quizID, mode, users...)
	started, err := h.svc.Start(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return started
}

func (h *harness) answer(t *testing.T, sessionID, userID, questionID string, timeSpent float64, selected ...int) domain.AnswerResult {
	t.Helper()
	res, err := h.svc.SubmitAnswer(context.Background(), app.Submission{
		SessionID:  sessionID,
		UserID:     userID,
		QuestionID: questionID,
		Selected:   selected,
		TimeSpent:  timeSpent,
	})
	if err != nil {
		t.Fatalf("submit %s/%s: %v", userID, questionID, err)
	}
	return res
}

func (h *harness) session(t *testing.T, id string) domain.Session {
	t.Helper()
	s, err := h.svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

func twoQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Basics",
		Questions: []domain.Question{
			{
				ID:       "q1",
				Position: 1,
				Text:     "2 + 2?",
				Type:     domain.QuestionSingle,
				Options:  []domain.Option{{Text: "3"}, {Text: "4", Correct: true}, {Text: "5"}},
			},
			{
				ID:        "q2",
				Position:  2,
				Text:      "Even numbers",
				Type:      domain.QuestionMultiple,
				MaxPoints: 500,
				Options:   []domain.Option{{Text: "2", Correct: true}, {Text: "3"}, {Text: "4", Correct: true}},
			},
		},
	}
}

func soloQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-solo",
		Questions: []domain.Question{
			{ID: "only", Position: 1, Text: "Capital of France?", Options: []domain.Option{{Text: "Paris", Correct: true}, {Text: "Rome"}}},
		},
	}
}
