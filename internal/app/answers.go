package app

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/schedule"
	"live-quiz-service/internal/scoring"
)

// Submission is one answer as sent by a participant. TimeSpent is in seconds.
type Submission struct {
	SessionID  string
	UserID     string
	QuestionID string
	Selected   []int
	TimeSpent  float64
}

// SubmitAnswer records an answer and updates the participant's totals.
// A live duplicate is reported through AnswerResult.Duplicate, not as an
// error.
func (s *SessionService) SubmitAnswer(ctx context.Context, sub Submission) (domain.AnswerResult, error) {
	if sub.SessionID == "" || sub.UserID == "" || sub.QuestionID == "" {
		return domain.AnswerResult{}, domain.Invalid("sessionId, userId and questionId are required")
	}
	if math.IsNaN(sub.TimeSpent) || math.IsInf(sub.TimeSpent, 0) {
		return domain.AnswerResult{}, domain.Invalid("timeSpent must be a finite number")
	}

	result, early, round, err := s.recordAnswer(ctx, sub)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	switch {
	case result.Duplicate:
		s.metrics.Answer("duplicate")
	case result.Correct:
		s.metrics.Answer("correct")
	default:
		s.metrics.Answer("incorrect")
	}
	if early {
		s.conclude(ctx, sub.SessionID, round, triggerEarly)
	}
	return result, nil
}

// recordAnswer applies the submission under the session lock and reports
// whether every active participant has now answered the open question.
func (s *SessionService) recordAnswer(ctx context.Context, sub Submission) (domain.AnswerResult, bool, int, error) {
	unlock := s.locks.Lock(sub.SessionID)
	defer unlock()

	session, err := s.sessions.Get(ctx, sub.SessionID)
	if err != nil {
		return domain.AnswerResult{}, false, 0, err
	}
	rosterIdx := session.Participant(sub.UserID)
	if rosterIdx < 0 {
		return domain.AnswerResult{}, false, 0, domain.ErrNotAParticipant
	}
	participation, err := s.participations.Get(ctx, sub.SessionID, sub.UserID)
	if err != nil {
		return domain.AnswerResult{}, false, 0, err
	}
	if session.Phase != domain.PhaseActive {
		return domain.AnswerResult{}, false, 0, domain.ErrSessionNotActive
	}

	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.AnswerResult{}, false, 0, fmt.Errorf("load quiz: %w", err)
	}
	qIdx := -1
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == sub.QuestionID {
			qIdx = i
			break
		}
	}
	if qIdx < 0 {
		return domain.AnswerResult{}, false, 0, domain.ErrQuestionNotFound
	}
	q := quiz.Questions[qIdx]
	for _, opt := range sub.Selected {
		if opt < 0 || opt >= len(q.Options) {
			return domain.AnswerResult{}, false, 0, domain.Invalid("option %d out of range", opt)
		}
	}

	live := session.Mode == domain.ModeLive
	round := session.CurrentQuestion
	if live {
		if session.QuestionAt(round) != qIdx {
			return domain.AnswerResult{}, false, 0, domain.ErrQuestionClosed
		}
		if state, armed := s.timers.State(session.ID); state != schedule.Armed || armed != round {
			return domain.AnswerResult{}, false, 0, domain.ErrQuestionClosed
		}
	}

	if prev := participation.AnswerFor(q.ID); prev >= 0 {
		if live {
			return domain.AnswerResult{
				QuestionID: q.ID,
				Duplicate:  true,
				TotalScore: participation.Score,
			}, false, round, nil
		}
		revert(&participation, prev)
	}

	outcome := scoring.Score(q, sub.Selected, scoring.RuleFor(session), sub.TimeSpent, s.timeLimit(session, q))
	participation.Answers = append(participation.Answers, domain.Answer{
		QuestionID: q.ID,
		Selected:   outcome.Selected,
		Correct:    outcome.Correct,
		TimeSpent:  sub.TimeSpent,
		Points:     outcome.Points,
		AnsweredAt: s.now(),
	})
	participation.Score += outcome.Points
	participation.TotalTime += sub.TimeSpent
	if outcome.Correct {
		participation.Correct++
	} else {
		participation.Incorrect++
	}
	if err := s.participations.Update(ctx, participation); err != nil {
		return domain.AnswerResult{}, false, 0, fmt.Errorf("store answer: %w", err)
	}

	entry := &session.Participants[rosterIdx]
	entry.Score = participation.Score
	entry.Correct = participation.Correct
	entry.Incorrect = participation.Incorrect
	if err := s.sessions.Update(ctx, session); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"session_id": session.ID, "user_id": sub.UserID}).Warn("roster score not mirrored")
	}

	result := domain.AnswerResult{
		QuestionID: q.ID,
		Correct:    outcome.Correct,
		Points:     outcome.Points,
		TotalScore: participation.Score,
	}
	if !live {
		return result, false, round, nil
	}
	s.emit(session.Pin, domain.EventAnswerReceived, domain.AnswerReceived{})
	return result, s.allAnswered(ctx, session, q.ID), round, nil
}

// revert takes answer i out of the ledger along with its contribution to
// the totals.
func revert(p *domain.Participation, i int) {
	old := p.Answers[i]
	p.Score -= old.Points
	p.TotalTime -= old.TimeSpent
	if old.Correct {
		p.Correct--
	} else {
		p.Incorrect--
	}
	p.Answers = append(p.Answers[:i], p.Answers[i+1:]...)
}

// allAnswered reports whether every Active roster entry has an answer for
// questionID. Abandoned participants are not waited for.
func (s *SessionService) allAnswered(ctx context.Context, session domain.Session, questionID string) bool {
	active := session.ActiveCount()
	if active == 0 {
		return false
	}
	parts, err := s.participations.ListBySession(ctx, session.ID)
	if err != nil {
		s.log.WithError(err).WithField("session_id", session.ID).Warn("early conclude check skipped")
		return false
	}
	answered := 0
	for _, p := range parts {
		idx := session.Participant(p.UserID)
		if idx < 0 || session.Participants[idx].Status != domain.StatusActive {
			continue
		}
		if p.AnswerFor(questionID) >= 0 {
			answered++
		}
	}
	return answered >= active
}
