package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"live-quiz-service/internal/domain"
)

// Conclude triggers, used as metric labels.
const (
	triggerTimeout = "timeout"
	triggerEarly   = "early"
	triggerManual  = "manual"
)

// ConcludeQuestion ends the open question on the moderator's request. It
// reports false when index is not the open question or it is already
// being concluded.
func (s *SessionService) ConcludeQuestion(ctx context.Context, id string, index int) (bool, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if session.Phase != domain.PhaseActive || session.Mode != domain.ModeLive {
		return false, fmt.Errorf("%w: no question cycle for a %s %s session", domain.ErrInvalidTransition, session.Phase, session.Mode)
	}
	return s.conclude(ctx, id, index, triggerManual), nil
}

// timeLimit is the countdown for q: session override, then the question's
// own limit, then the service default.
func (s *SessionService) timeLimit(session domain.Session, q domain.Question) time.Duration {
	if session.Live.TimePerQuestion > 0 {
		return time.Duration(session.Live.TimePerQuestion) * time.Second
	}
	if q.TimeLimit > 0 {
		return time.Duration(q.TimeLimit) * time.Second
	}
	return s.settings.DefaultTimeLimit
}

// advance runs after the post-result pause.
func (s *SessionService) advance(ctx context.Context, id string, next int) {
	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		s.log.WithError(err).WithField("session_id", id).Error("advance: load session")
		s.timers.Release(id)
		return
	}
	if session.Phase != domain.PhaseActive || session.CurrentQuestion != next-1 {
		return
	}
	if err := s.advanceLocked(ctx, &session, nil, next); err != nil {
		s.log.WithError(err).WithField("session_id", id).Error("advance failed")
	}
}

// advanceLocked opens question next, or closes the session when the quiz
// is exhausted. A missing quiz closes the session.
func (s *SessionService) advanceLocked(ctx context.Context, session *domain.Session, quiz *domain.Quiz, next int) error {
	if quiz == nil {
		loaded, err := s.quizzes.GetQuiz(ctx, session.QuizID)
		if err != nil {
			s.log.WithError(err).WithField("session_id", session.ID).Error("quiz unavailable, closing session")
			if cerr := s.closeLocked(ctx, session, nil); cerr != nil {
				return cerr
			}
			return fmt.Errorf("load quiz: %w", err)
		}
		quiz = &loaded
	}
	if next >= len(quiz.Questions) {
		return s.closeLocked(ctx, session, quiz)
	}

	prev := session.CurrentQuestion
	session.CurrentQuestion = next
	if err := s.sessions.Update(ctx, *session); err != nil {
		// No timer is armed past this point, so the session would sit in
		// the active phase forever. Close it instead.
		log := s.log.WithFields(logrus.Fields{"session_id": session.ID, "phase": session.Phase, "question": next})
		log.WithError(err).Error("persist question index failed, closing session")
		session.CurrentQuestion = prev
		if cerr := s.closeLocked(ctx, session, quiz); cerr != nil {
			log.WithError(cerr).Error("close after failed advance, finalize manually")
		}
		return fmt.Errorf("persist question index: %w", err)
	}

	q := quiz.Questions[session.QuestionAt(next)]
	limit := s.timeLimit(*session, q)
	public := domain.NewPublicQuestion(q)
	public.TimeLimit = int(limit / time.Second)
	if session.Live.ShuffleOptions {
		s.shuffleOptions(public.Options)
	}

	id := session.ID
	s.timers.Arm(id, next, limit, func(round int) {
		s.conclude(context.Background(), id, round, triggerTimeout)
	})
	s.emit(session.Pin, domain.EventQuestionStarted, domain.QuestionStarted{
		PublicQuestion: public,
		Position:       next + 1,
		Total:          len(quiz.Questions),
	})
	s.log.WithFields(logrus.Fields{"session_id": id, "question": next, "limit": limit}).Debug("question started")
	return nil
}

// conclude computes and broadcasts the results of question index, then
// schedules the next advance. Only the caller that wins the scheduler
// token does any work; everyone else gets false.
func (s *SessionService) conclude(ctx context.Context, id string, index int, trigger string) bool {
	if !s.timers.Take(id, index) {
		return false
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	log := s.log.WithFields(logrus.Fields{"session_id": id, "question": index, "trigger": trigger})
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		log.WithError(err).Error("conclude: load session")
		s.timers.Release(id)
		return false
	}
	if session.Phase != domain.PhaseActive || session.CurrentQuestion != index {
		s.timers.Release(id)
		return false
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		log.WithError(err).Error("quiz unavailable, closing session")
		if cerr := s.closeLocked(ctx, &session, nil); cerr != nil {
			log.WithError(cerr).Error("close after quiz failure")
		}
		return true
	}
	q := quiz.Questions[session.QuestionAt(index)]

	parts, err := s.participations.ListBySession(ctx, id)
	if err != nil {
		log.WithError(err).Warn("conclude: list participations")
	}
	report := questionReport(q, parts)
	results := domain.QuestionResults{
		QuestionID:     q.ID,
		Position:       index + 1,
		Histogram:      report.Histogram,
		CorrectIndex:   report.CorrectIndex,
		CorrectIndices: report.CorrectIndices,
	}
	if session.Live.ShowRanking {
		results.PartialRanking = rank(session.Participants, s.settings.RankingSize)
	}
	s.emit(session.Pin, domain.EventQuestionResults, results)
	s.metrics.Concluded(trigger)
	log.Debug("question concluded")

	s.timers.Defer(id, index, s.settings.ResultPause, func() {
		s.advance(context.Background(), id, index+1)
	})
	return true
}

// closeLocked finishes the session. It is idempotent and never fails on
// best-effort side effects (broadcast, report sinks).
func (s *SessionService) closeLocked(ctx context.Context, session *domain.Session, quiz *domain.Quiz) error {
	s.timers.Release(session.ID)
	if session.Phase == domain.PhaseFinished {
		return nil
	}
	log := s.log.WithField("session_id", session.ID)
	wasActive := session.Phase == domain.PhaseActive

	if quiz == nil {
		if loaded, err := s.quizzes.GetQuiz(ctx, session.QuizID); err == nil {
			quiz = &loaded
		} else {
			log.WithError(err).Warn("close: quiz unavailable, report will be empty")
		}
	}
	parts, err := s.participations.ListBySession(ctx, session.ID)
	if err != nil {
		log.WithError(err).Warn("close: list participations")
	}

	now := s.now()
	session.Phase = domain.PhaseFinished
	session.FinishedAt = &now
	if quiz != nil {
		for i := range parts {
			unanswered := len(quiz.Questions) - len(parts[i].Answers)
			if unanswered < 0 {
				unanswered = 0
			}
			parts[i].Unanswered = unanswered
			if idx := session.Participant(parts[i].UserID); idx >= 0 {
				session.Participants[idx].Unanswered = unanswered
			}
		}
	}
	if err := s.sessions.Update(ctx, *session); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	for i := range parts {
		parts[i].State = domain.ParticipationFinished
		parts[i].FinishedAt = &now
		if err := s.participations.Update(ctx, parts[i]); err != nil {
			log.WithError(err).WithField("user_id", parts[i].UserID).Warn("close: finalize participation")
		}
	}

	ranking := rank(session.Participants, len(session.Participants))
	var questions []domain.QuestionReport
	if quiz != nil {
		questions = buildReport(*quiz, parts)
	}
	top := ranking
	if len(top) > s.settings.RankingSize {
		top = top[:s.settings.RankingSize]
	}
	s.emit(session.Pin, domain.EventSessionFinished, domain.SessionFinished{Ranking: top, Report: questions})

	if s.reports != nil {
		summary := domain.SessionSummary{
			SessionID:  session.ID,
			QuizID:     session.QuizID,
			Pin:        session.Pin,
			Mode:       session.Mode,
			FinishedAt: now,
			Ranking:    ranking,
			Questions:  questions,
		}
		if err := s.reports.SessionFinished(ctx, summary); err != nil {
			log.WithError(err).Warn("report sink failed")
		}
	}
	s.metrics.SessionClosed(wasActive)
	log.WithField("participants", len(session.Participants)).Info("session finished")
	return nil
}
