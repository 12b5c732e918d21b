package repositories

import (
	"context"
	"database/sql"
	"fmt"
)

// NextSequence bumps the counter row in <table>_sequence and returns the new value.
func NextSequence(ctx context.Context, db *sql.DB, table string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sequence %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	counter := table + "_sequence"
	if _, err := tx.ExecContext(ctx, "UPDATE "+counter+" SET value = value + 1 WHERE id = 1"); err != nil {
		return 0, fmt.Errorf("sequence %s: bump: %w", table, err)
	}

	var next int
	if err := tx.QueryRowContext(ctx, "SELECT value FROM "+counter+" WHERE id = 1").Scan(&next); err != nil {
		return 0, fmt.Errorf("sequence %s: read: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sequence %s: commit: %w", table, err)
	}
	return next, nil
}
