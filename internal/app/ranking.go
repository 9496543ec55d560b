package app

import (
	"context"
	"sort"

	"live-quiz-service/internal/domain"
)

// Ranking returns the leaderboard of a session, truncated to limit when
// limit is positive.
func (s *SessionService) Ranking(ctx context.Context, id string, limit int) ([]domain.RankingEntry, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = len(session.Participants)
	}
	return rank(session.Participants, limit), nil
}

// FinalReport tallies every question of the session's quiz.
func (s *SessionService) FinalReport(ctx context.Context, id string) ([]domain.QuestionReport, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return nil, err
	}
	parts, err := s.participations.ListBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	return buildReport(quiz, parts), nil
}

// rank sorts by score descending; ties keep roster (join) order.
func rank(participants []domain.Participant, limit int) []domain.RankingEntry {
	ordered := make([]domain.Participant, len(participants))
	copy(ordered, participants)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})
	if limit >= 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}
	out := make([]domain.RankingEntry, len(ordered))
	for i, p := range ordered {
		out[i] = domain.RankingEntry{
			Rank:        i + 1,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
		}
	}
	return out
}

func buildReport(quiz domain.Quiz, parts []domain.Participation) []domain.QuestionReport {
	out := make([]domain.QuestionReport, len(quiz.Questions))
	for i, q := range quiz.Questions {
		out[i] = questionReport(q, parts)
	}
	return out
}

// questionReport counts how often each option was selected for q. A
// multi-select answer counts once per option it selected.
func questionReport(q domain.Question, parts []domain.Participation) domain.QuestionReport {
	histogram := make([]int, len(q.Options))
	for _, p := range parts {
		idx := p.AnswerFor(q.ID)
		if idx < 0 {
			continue
		}
		for _, opt := range p.Answers[idx].Selected {
			if opt >= 0 && opt < len(histogram) {
				histogram[opt]++
			}
		}
	}
	correct := q.CorrectIndices()
	first := -1
	if len(correct) > 0 {
		first = correct[0]
	}
	options := make([]domain.Option, len(q.Options))
	copy(options, q.Options)
	return domain.QuestionReport{
		QuestionID:     q.ID,
		Text:           q.Text,
		Options:        options,
		Histogram:      histogram,
		CorrectIndex:   first,
		CorrectIndices: correct,
	}
}
