package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/schedule"
)

// Disconnect reconciles a dropped connection with the session phase. In
// the lobby the participant is removed; during a game they are marked
// abandoned and keep their answers; after the game nothing changes.
func (s *SessionService) Disconnect(ctx context.Context, sessionID, userID string) error {
	early, round, err := s.disconnect(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if early {
		s.conclude(ctx, sessionID, round, triggerEarly)
	}
	return nil
}

func (s *SessionService) disconnect(ctx context.Context, sessionID, userID string) (bool, int, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return false, 0, err
	}
	idx := session.Participant(userID)
	if idx < 0 {
		return false, 0, domain.ErrNotAParticipant
	}
	log := s.log.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID, "phase": session.Phase})

	switch session.Phase {
	case domain.PhaseWaiting:
		session.Participants = append(session.Participants[:idx], session.Participants[idx+1:]...)
		if err := s.sessions.Update(ctx, session); err != nil {
			return false, 0, err
		}
		if err := s.participations.Delete(ctx, sessionID, userID); err != nil {
			return false, 0, fmt.Errorf("delete participation: %w", err)
		}
		log.Info("participant left lobby")
		s.emit(session.Pin, domain.EventParticipantDisconnected, domain.ParticipantDisconnected{
			Mode:   domain.DisconnectLobby,
			UserID: userID,
			Total:  len(session.Participants),
		})
		return false, 0, nil

	case domain.PhaseActive:
		if session.Participants[idx].Status == domain.StatusAbandoned {
			return false, 0, nil
		}
		session.Participants[idx].Status = domain.StatusAbandoned
		if err := s.sessions.Update(ctx, session); err != nil {
			return false, 0, err
		}
		log.Info("participant abandoned game")
		s.emit(session.Pin, domain.EventParticipantDisconnected, domain.ParticipantDisconnected{
			Mode:   domain.DisconnectGame,
			UserID: userID,
			Total:  session.ActiveCount(),
		})

		// The leaver may have been the last one the open question waited for.
		if session.Mode != domain.ModeLive {
			return false, 0, nil
		}
		round := session.CurrentQuestion
		if state, armed := s.timers.State(sessionID); state != schedule.Armed || armed != round {
			return false, 0, nil
		}
		quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
		if err != nil {
			log.WithError(err).Warn("early conclude check skipped")
			return false, 0, nil
		}
		q := quiz.Questions[session.QuestionAt(round)]
		return s.allAnswered(ctx, session, q.ID), round, nil
	}
	return false, 0, nil
}
