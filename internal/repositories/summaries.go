package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
)

// ErrSummaryNotFound is returned by [SummaryRepository.Get] for an unknown date.
var ErrSummaryNotFound = errors.New("daily summary not found")

// SummaryRepository stores one [models.DailySummary] per date.
type SummaryRepository struct {
	db *sql.DB
}

// NewSummaryRepository creates a new SummaryRepository with the given database connection
func NewSummaryRepository(db *sql.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Create writes the summary for its date. Writing the same date again replaces the record lists
// and keeps the original ID and sequence.
func (r *SummaryRepository) Create(ctx context.Context, s *models.DailySummary) error {
	if s.Date == "" {
		return fmt.Errorf("%w: summary date", shared.ErrMissingArgument)
	}

	if existing, err := r.Get(ctx, s.Date); err == nil {
		s.ID = existing.ID
		s.Sequence = existing.Sequence
		s.CreatedAt = existing.CreatedAt
		return r.update(ctx, s)
	} else if !errors.Is(err, ErrSummaryNotFound) {
		return err
	}

	sequence, err := NextSequence(ctx, r.db, "daily_summaries")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	s.ID = shared.GenerateID()
	s.Sequence = sequence
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.AddedCount = len(s.Added)
	s.FailedCount = len(s.Failed)

	added, failed, err := encodeRecords(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO daily_summaries (id, sequence, date, added_count, failed_count, added_json, failed_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.Sequence, s.Date, s.AddedCount, s.FailedCount, added, failed, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

func (r *SummaryRepository) update(ctx context.Context, s *models.DailySummary) error {
	s.AddedCount = len(s.Added)
	s.FailedCount = len(s.Failed)

	added, failed, err := encodeRecords(s)
	if err != nil {
		return err
	}

	query := `
		UPDATE daily_summaries
		SET added_count = ?, failed_count = ?, added_json = ?, failed_json = ?
		WHERE date = ?
	`
	if _, err := r.db.ExecContext(ctx, query, s.AddedCount, s.FailedCount, added, failed, s.Date); err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	return nil
}

func encodeRecords(s *models.DailySummary) (string, string, error) {
	added, err := json.Marshal(nonNil(s.Added))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode added records: %w", err)
	}
	failed, err := json.Marshal(nonNil(s.Failed))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode failure records: %w", err)
	}
	return string(added), string(failed), nil
}

const selectSummary = `
	SELECT id, sequence, date, added_count, failed_count, added_json, failed_json, created_at
	FROM daily_summaries
`

// Get retrieves the summary for a YYYY-MM-DD date
func (r *SummaryRepository) Get(ctx context.Context, date string) (*models.DailySummary, error) {
	row := r.db.QueryRowContext(ctx, selectSummary+" WHERE date = ?", date)
	s, err := scanSummary(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSummaryNotFound, date)
	}
	return s, err
}

// List returns summaries newest first. A limit of zero or less returns all of them.
func (r *SummaryRepository) List(ctx context.Context, limit int) ([]*models.DailySummary, error) {
	query := selectSummary + " ORDER BY date DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*models.DailySummary
	for rows.Next() {
		s, err := scanSummary(rows.Scan)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return summaries, nil
}

// scanSummary decodes one row through either [sql.Row.Scan] or [sql.Rows.Scan]
func scanSummary(scan func(dest ...any) error) (*models.DailySummary, error) {
	var (
		s             models.DailySummary
		added, failed string
	)

	err := scan(&s.ID, &s.Sequence, &s.Date, &s.AddedCount, &s.FailedCount, &added, &failed, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan summary: %w", err)
	}

	if err := json.Unmarshal([]byte(added), &s.Added); err != nil {
		return nil, fmt.Errorf("failed to decode added records for %s: %w", s.Date, err)
	}
	if err := json.Unmarshal([]byte(failed), &s.Failed); err != nil {
		return nil, fmt.Errorf("failed to decode failure records for %s: %w", s.Date, err)
	}
	return &s, nil
}
