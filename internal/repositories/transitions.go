package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
)

// TransitionRepository stores the append-only service transition log.
//
// Rows are keyed by the engine's sequence number, so appending the same transition twice is a no-op.
type TransitionRepository struct {
	db *sql.DB
}

// NewTransitionRepository creates a new TransitionRepository with the given database connection
func NewTransitionRepository(db *sql.DB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

const insertTransition = `
	INSERT OR IGNORE INTO state_transitions (id, seq, occurred_at, from_state, to_state, reason, source)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

// Create inserts a single transition, generating an ID when it has none
func (r *TransitionRepository) Create(ctx context.Context, t *models.StateTransition) error {
	if t.Seq <= 0 {
		return fmt.Errorf("%w: transition sequence must be positive", shared.ErrInvalidInput)
	}
	if t.ID == "" {
		t.ID = shared.GenerateID()
	}

	_, err := r.db.ExecContext(ctx, insertTransition,
		t.ID, t.Seq, t.Timestamp, t.From, t.To, t.Reason, t.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}
	return nil
}

// CreateBatch inserts transitions in one transaction and returns how many were new
func (r *TransitionRepository) CreateBatch(ctx context.Context, ts []models.StateTransition) (int, error) {
	if len(ts) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertTransition)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range ts {
		if t.Seq <= 0 {
			return 0, fmt.Errorf("%w: transition sequence must be positive", shared.ErrInvalidInput)
		}
		id := t.ID
		if id == "" {
			id = shared.GenerateID()
		}

		result, err := stmt.ExecContext(ctx, id, t.Seq, t.Timestamp, t.From, t.To, t.Reason, t.Source)
		if err != nil {
			return 0, fmt.Errorf("failed to insert transition %d: %w", t.Seq, err)
		}
		if n, err := result.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transitions: %w", err)
	}
	return inserted, nil
}

// LastSeq returns the highest stored sequence, or zero for an empty log
func (r *TransitionRepository) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM state_transitions").Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read last transition sequence: %w", err)
	}
	return seq.Int64, nil
}

// List returns the most recent transitions, oldest first. A limit of zero or less returns all of them.
func (r *TransitionRepository) List(ctx context.Context, limit int) ([]models.StateTransition, error) {
	query := `
		SELECT id, seq, occurred_at, from_state, to_state, reason, source
		FROM state_transitions
		ORDER BY seq DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []models.StateTransition
	for rows.Next() {
		t, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	for i, j := 0, len(transitions)-1; i < j; i, j = i+1, j-1 {
		transitions[i], transitions[j] = transitions[j], transitions[i]
	}
	return transitions, nil
}

func (r *TransitionRepository) scanRow(rows *sql.Rows) (models.StateTransition, error) {
	var (
		t          models.StateTransition
		occurredAt time.Time
		from, to   string
		source     string
	)

	if err := rows.Scan(&t.ID, &t.Seq, &occurredAt, &from, &to, &t.Reason, &source); err != nil {
		return t, fmt.Errorf("failed to scan transition: %w", err)
	}

	t.Timestamp = occurredAt
	t.From = models.State(from)
	t.To = models.State(to)
	t.Source = models.TransitionSource(source)
	return t, nil
}
