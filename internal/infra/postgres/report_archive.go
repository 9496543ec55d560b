package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"live-quiz-service/internal/domain"
)

// SessionReport is the archived end-of-session summary.
type SessionReport struct {
	bun.BaseModel `bun:"table:session_reports"`

	SessionID  string                  `bun:"session_id,pk"`
	QuizID     string                  `bun:"quiz_id,notnull"`
	Pin        string                  `bun:"pin,notnull"`
	Mode       string                  `bun:"mode,notnull"`
	FinishedAt time.Time               `bun:"finished_at,notnull"`
	Ranking    []domain.RankingEntry   `bun:"ranking,type:jsonb"`
	Questions  []domain.QuestionReport `bun:"questions,type:jsonb"`
}

// ReportArchive stores summaries of closed sessions. It is an
// app.ReportSink.
type ReportArchive struct {
	db *bun.DB
}

func NewReportArchive(db *bun.DB) *ReportArchive {
	return &ReportArchive{db: db}
}

func (a *ReportArchive) SessionFinished(ctx context.Context, summary domain.SessionSummary) error {
	row := SessionReport{
		SessionID:  summary.SessionID,
		QuizID:     summary.QuizID,
		Pin:        summary.Pin,
		Mode:       string(summary.Mode),
		FinishedAt: summary.FinishedAt,
		Ranking:    summary.Ranking,
		Questions:  summary.Questions,
	}
	_, err := a.db.NewInsert().
		Model(&row).
		On("CONFLICT (session_id) DO UPDATE").
		Set("finished_at = EXCLUDED.finished_at").
		Set("ranking = EXCLUDED.ranking").
		Set("questions = EXCLUDED.questions").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("archive report %s: %w", summary.SessionID, err)
	}
	return nil
}

// Get loads an archived summary.
func (a *ReportArchive) Get(ctx context.Context, sessionID string) (domain.SessionSummary, error) {
	var row SessionReport
	err := a.db.NewSelect().Model(&row).Where("session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionSummary{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionSummary{}, fmt.Errorf("load report %s: %w", sessionID, err)
	}
	return domain.SessionSummary{
		SessionID:  row.SessionID,
		QuizID:     row.QuizID,
		Pin:        row.Pin,
		Mode:       domain.Mode(row.Mode),
		FinishedAt: row.FinishedAt,
		Ranking:    row.Ranking,
		Questions:  row.Questions,
	}, nil
}
