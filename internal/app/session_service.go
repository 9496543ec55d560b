package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/logger"
	"live-quiz-service/internal/metrics"
	"live-quiz-service/internal/schedule"
)

// Settings are the orchestrator constants.
type Settings struct {
	// DefaultTimeLimit applies when neither session nor question sets one.
	DefaultTimeLimit time.Duration
	// ResultPause is how long results stay on screen before the next question.
	ResultPause time.Duration
	// RankingSize caps the partial and final rankings broadcast to rooms.
	RankingSize int
	PinAttempts int
}

func DefaultSettings() Settings {
	return Settings{
		DefaultTimeLimit: 20 * time.Second,
		ResultPause:      8 * time.Second,
		RankingSize:      5,
		PinAttempts:      10,
	}
}

// Dependencies are the collaborators of SessionService. Broadcaster,
// Reports, Pins, Clock, Metrics, Logger and Now are optional.
type Dependencies struct {
	Sessions       SessionRepository
	Participations ParticipationRepository
	Quizzes        QuizRepository
	Broadcaster    Broadcaster
	Reports        ReportSink
	Pins           PinGenerator
	Clock          schedule.Clock
	Metrics        *metrics.Metrics
	Logger         logrus.FieldLogger
	Now            func() time.Time
}

// SessionService runs the live session lifecycle. Every mutation of a
// session and its participations happens under that session's lock.
type SessionService struct {
	sessions       SessionRepository
	participations ParticipationRepository
	quizzes        QuizRepository
	room           Broadcaster
	reports        ReportSink
	pins           PinGenerator
	timers         *schedule.Table
	locks          *keyedMutex
	metrics        *metrics.Metrics
	log            logrus.FieldLogger
	now            func() time.Time
	settings       Settings

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewSessionService(deps Dependencies, settings Settings) *SessionService {
	defaults := DefaultSettings()
	if settings.DefaultTimeLimit <= 0 {
		settings.DefaultTimeLimit = defaults.DefaultTimeLimit
	}
	if settings.ResultPause <= 0 {
		settings.ResultPause = defaults.ResultPause
	}
	if settings.RankingSize <= 0 {
		settings.RankingSize = defaults.RankingSize
	}
	if settings.PinAttempts <= 0 {
		settings.PinAttempts = defaults.PinAttempts
	}

	s := &SessionService{
		sessions:       deps.Sessions,
		participations: deps.Participations,
		quizzes:        deps.Quizzes,
		room:           deps.Broadcaster,
		reports:        deps.Reports,
		pins:           deps.Pins,
		timers:         schedule.NewTable(deps.Clock),
		locks:          newKeyedMutex(),
		metrics:        deps.Metrics,
		log:            deps.Logger,
		now:            deps.Now,
		settings:       settings,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if s.room == nil {
		s.room = nopBroadcaster{}
	}
	if s.pins == nil {
		s.pins = NewRandomPins()
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// NewSession describes a session to create.
type NewSession struct {
	QuizID    string
	OwnerID   string
	Mode      domain.Mode
	Access    domain.AccessMode
	Live      domain.LiveConfig
	Scheduled domain.ScheduledConfig
}

// CreateSession opens a session in the waiting phase under a fresh pin.
func (s *SessionService) CreateSession(ctx context.Context, req NewSession) (domain.Session, error) {
	if req.QuizID == "" || req.OwnerID == "" {
		return domain.Session{}, domain.Invalid("quizId and ownerId are required")
	}
	if req.Mode == "" {
		req.Mode = domain.ModeLive
	}
	if req.Mode != domain.ModeLive && req.Mode != domain.ModeScheduled {
		return domain.Session{}, domain.Invalid("unknown mode %q", req.Mode)
	}
	if req.Access == "" {
		req.Access = domain.AccessPublic
	}
	if err := validateLive(&req.Live); err != nil {
		return domain.Session{}, err
	}

	// Users cannot open sessions for unknown quizzes.
	if _, err := s.quizzes.GetQuiz(ctx, req.QuizID); err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		ID:              uuid.NewString(),
		QuizID:          req.QuizID,
		OwnerID:         req.OwnerID,
		Mode:            req.Mode,
		Access:          req.Access,
		Phase:           domain.PhaseWaiting,
		Live:            req.Live,
		Scheduled:       req.Scheduled,
		CurrentQuestion: -1,
		Participants:    []domain.Participant{},
		CreatedAt:       s.now(),
	}
	session, err := s.createWithPin(ctx, session)
	if err != nil {
		return domain.Session{}, err
	}
	s.log.WithFields(logrus.Fields{"session_id": session.ID, "pin": session.Pin, "mode": session.Mode}).Info("session created")
	return session, nil
}

func validateLive(cfg *domain.LiveConfig) error {
	if cfg.TimePerQuestion < 0 {
		return domain.Invalid("timePerQuestion must not be negative")
	}
	switch cfg.Grading {
	case "":
		cfg.Grading = domain.GradingSpeedAccuracy
	case domain.GradingSpeedAccuracy, domain.GradingAccuracyOnly:
	default:
		return domain.Invalid("unknown grading %q", cfg.Grading)
	}
	return nil
}

func (s *SessionService) Get(ctx context.Context, id string) (domain.Session, error) {
	return s.sessions.Get(ctx, id)
}

// GetByPin resolves an open session by join code.
func (s *SessionService) GetByPin(ctx context.Context, pin string) (domain.Session, error) {
	return s.sessions.GetByPin(ctx, pin)
}

func (s *SessionService) List(ctx context.Context, filter SessionFilter) ([]domain.Session, error) {
	return s.sessions.List(ctx, filter)
}

// SettingsUpdate changes configuration of a waiting session. Nil fields
// are left untouched.
type SettingsUpdate struct {
	Access    *domain.AccessMode
	Live      *domain.LiveConfig
	Scheduled *domain.ScheduledConfig
}

// UpdateSettings is only legal before the session starts.
func (s *SessionService) UpdateSettings(ctx context.Context, id string, update SettingsUpdate) (domain.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Phase != domain.PhaseWaiting {
		return domain.Session{}, fmt.Errorf("%w: settings are frozen once the session is %s", domain.ErrInvalidTransition, session.Phase)
	}
	if update.Access != nil {
		session.Access = *update.Access
	}
	if update.Live != nil {
		live := *update.Live
		if err := validateLive(&live); err != nil {
			return domain.Session{}, err
		}
		session.Live = live
	}
	if update.Scheduled != nil {
		session.Scheduled = *update.Scheduled
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// Delete removes a session with its ledgers and cancels its timers.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	s.timers.Release(id)
	if session.Phase == domain.PhaseActive {
		s.metrics.SessionClosed(true)
	}
	if err := s.participations.DeleteBySession(ctx, id); err != nil {
		return fmt.Errorf("delete participations: %w", err)
	}
	return s.sessions.Delete(ctx, id)
}

// JoinResult is what a participant learns on joining.
type JoinResult struct {
	SessionID string                 `json:"sessionId"`
	Pin       string                 `json:"pin"`
	Mode      domain.Mode            `json:"mode"`
	Phase     domain.Phase           `json:"phase"`
	Live      domain.LiveConfig      `json:"live"`
	Scheduled domain.ScheduledConfig `json:"scheduled"`
	Total     int                    `json:"total"`
}

// Join adds a participant to the open session behind pin. Joining twice
// returns the current state without duplicating anything.
func (s *SessionService) Join(ctx context.Context, pin, userID, displayName string) (JoinResult, error) {
	if pin == "" || userID == "" {
		return JoinResult{}, domain.Invalid("pin and userId are required")
	}
	found, err := s.sessions.GetByPin(ctx, pin)
	if err != nil {
		return JoinResult{}, err
	}

	unlock := s.locks.Lock(found.ID)
	defer unlock()

	session, err := s.sessions.Get(ctx, found.ID)
	if err != nil {
		return JoinResult{}, err
	}
	if session.Phase == domain.PhaseFinished {
		return JoinResult{}, domain.ErrSessionNotFound
	}

	if idx := session.Participant(userID); idx >= 0 {
		if session.Participants[idx].Status == domain.StatusAbandoned {
			session.Participants[idx].Status = domain.StatusActive
			if err := s.sessions.Update(ctx, session); err != nil {
				return JoinResult{}, err
			}
			s.log.WithFields(logrus.Fields{"session_id": session.ID, "user_id": userID}).Info("participant reconnected")
			s.emit(session.Pin, domain.EventParticipantJoined, domain.ParticipantJoined{
				Name:   session.Participants[idx].DisplayName,
				UserID: userID,
				Total:  len(session.Participants),
			})
		}
		return joinResult(session), nil
	}

	now := s.now()
	if displayName == "" {
		displayName = userID
	}
	session.Participants = append(session.Participants, domain.Participant{
		UserID:      userID,
		DisplayName: displayName,
		Status:      domain.StatusActive,
		JoinedAt:    now,
	})
	participation := domain.Participation{
		SessionID: session.ID,
		UserID:    userID,
		Mode:      session.Mode,
		State:     domain.ParticipationActive,
		StartedAt: now,
		Answers:   []domain.Answer{},
	}
	if err := s.participations.Create(ctx, participation); err != nil {
		return JoinResult{}, fmt.Errorf("create participation: %w", err)
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		if derr := s.participations.Delete(ctx, session.ID, userID); derr != nil {
			s.log.WithError(derr).WithFields(logrus.Fields{"session_id": session.ID, "user_id": userID}).Warn("join rollback failed, orphan participation left behind")
		}
		return JoinResult{}, err
	}

	s.emit(session.Pin, domain.EventParticipantJoined, domain.ParticipantJoined{
		Name:   displayName,
		UserID: userID,
		Total:  len(session.Participants),
	})
	return joinResult(session), nil
}

func joinResult(session domain.Session) JoinResult {
	return JoinResult{
		SessionID: session.ID,
		Pin:       session.Pin,
		Mode:      session.Mode,
		Phase:     session.Phase,
		Live:      session.Live,
		Scheduled: session.Scheduled,
		Total:     len(session.Participants),
	}
}

// Start moves a waiting session to active. Live sessions begin the
// question cycle immediately; scheduled sessions are self-paced.
func (s *SessionService) Start(ctx context.Context, id string) (domain.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Phase != domain.PhaseWaiting {
		return domain.Session{}, fmt.Errorf("%w: cannot start a %s session", domain.ErrInvalidTransition, session.Phase)
	}

	now := s.now()
	session.Phase = domain.PhaseActive
	session.StartedAt = &now
	session.CurrentQuestion = -1

	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		s.log.WithError(err).WithField("session_id", id).Error("quiz unavailable at start, closing session")
		s.metrics.SessionStarted()
		if cerr := s.closeLocked(ctx, &session, nil); cerr != nil {
			return domain.Session{}, cerr
		}
		return session, fmt.Errorf("start session: %w", err)
	}
	if session.Mode == domain.ModeLive && session.Live.ShuffleQuestions {
		session.QuestionOrder = s.permutation(len(quiz.Questions))
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		return domain.Session{}, err
	}
	s.metrics.SessionStarted()
	s.log.WithFields(logrus.Fields{"session_id": id, "pin": session.Pin, "participants": len(session.Participants)}).Info("session started")

	if session.Mode == domain.ModeLive {
		if err := s.advanceLocked(ctx, &session, &quiz, 0); err != nil {
			return session, err
		}
	}
	return session, nil
}

// Finalize closes the session on the moderator's request. Finalizing a
// finished session is a no-op.
func (s *SessionService) Finalize(ctx context.Context, id string) (domain.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.closeLocked(ctx, &session, nil); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// ExamQuestions lists the quiz questions without correctness flags.
func (s *SessionService) ExamQuestions(ctx context.Context, id string) ([]domain.PublicQuestion, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PublicQuestion, len(quiz.Questions))
	for i, q := range quiz.Questions {
		out[i] = domain.NewPublicQuestion(q)
	}
	return out, nil
}

// Progress returns a participant's ledger.
func (s *SessionService) Progress(ctx context.Context, sessionID, userID string) (domain.Participation, error) {
	if sessionID == "" || userID == "" {
		return domain.Participation{}, domain.Invalid("sessionId and userId are required")
	}
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return domain.Participation{}, err
	}
	return s.participations.Get(ctx, sessionID, userID)
}

// TimerState exposes the scheduler slot of a session.
func (s *SessionService) TimerState(sessionID string) (schedule.State, int) {
	return s.timers.State(sessionID)
}

func (s *SessionService) emit(room, event string, payload any) {
	if err := s.room.Emit(room, event, payload); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"pin": room, "event": event}).Warn("broadcast failed")
	}
}

func (s *SessionService) permutation(n int) []int {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return s.rnd.Perm(n)
}

func (s *SessionService) shuffleOptions(options []domain.PublicOption) {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	s.rnd.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })
}
