package database

import (
	"context"
	"fmt"
)

// NextInvoiceNumber allocates the next YYYY-NNNN number for year.
func (db *DB) NextInvoiceNumber(ctx context.Context, year int) (string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO invoice_sequences (year, last_number) VALUES (?, 1)
              ON CONFLICT(year) DO UPDATE SET last_number = last_number + 1`, year)
	if err != nil {
		return "", fmt.Errorf("failed to advance invoice sequence: %w", err)
	}

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT last_number FROM invoice_sequences WHERE year = ?`, year).Scan(&n); err != nil {
		return "", fmt.Errorf("failed to read invoice sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit invoice sequence: %w", err)
	}
	return fmt.Sprintf("%04d-%04d", year, n), nil
}
