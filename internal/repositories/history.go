package repositories

import (
	"context"
	"database/sql"

	"github.com/desertthunder/onair/internal/models"
)

// History is the long-lived record of the engine: the transition log and one summary per day.
type History struct {
	Transitions *TransitionRepository
	Summaries   *SummaryRepository
}

// NewHistory builds both repositories over db.
func NewHistory(db *sql.DB) *History {
	return &History{
		Transitions: NewTransitionRepository(db),
		Summaries:   NewSummaryRepository(db),
	}
}

func (h *History) AppendTransitions(ctx context.Context, ts []models.StateTransition) error {
	_, err := h.Transitions.CreateBatch(ctx, ts)
	return err
}

func (h *History) LastTransitionSeq(ctx context.Context) (int64, error) {
	return h.Transitions.LastSeq(ctx)
}

func (h *History) SaveSummary(ctx context.Context, s *models.DailySummary) error {
	return h.Summaries.Create(ctx, s)
}
