package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"captaincrm/internal/models"

	"github.com/shopspring/decimal"
)

// RecordTipPayment adds amount to the booking's tip total. A repeated
// non-empty idempotency key is ignored; the returned flag reports whether
// the payment was applied.
func (db *DB) RecordTipPayment(ctx context.Context, bookingID int64, amount decimal.Decimal, idempotencyKey string) (decimal.Decimal, bool, error) {
	if !amount.IsPositive() {
		return decimal.Zero, false, models.NewValidationError("amount", "must be positive")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var total decimal.Decimal
	err = tx.QueryRowContext(ctx, `SELECT tip_amount FROM bookings WHERE id = ?`, bookingID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, &models.NotFoundError{Kind: models.KindBooking, ID: bookingID}
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read tip amount: %w", err)
	}

	var key any
	if idempotencyKey != "" {
		key = idempotencyKey
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tip_payments WHERE idempotency_key = ?`, idempotencyKey).Scan(&exists)
		if err == nil {
			return total, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, fmt.Errorf("failed to check tip idempotency key: %w", err)
		}
	}

	now := db.now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tip_payments (booking_id, amount, idempotency_key, created_at) VALUES (?, ?, ?, ?)`,
		bookingID, amount.String(), key, now); err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to record tip payment: %w", err)
	}

	total = total.Add(amount)
	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET tip_amount = ?, tip_paid = 1, updated_at = ? WHERE id = ?`,
		total.String(), now, bookingID); err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to update tip amount: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to commit tip payment: %w", err)
	}

	db.afterWrite(ctx, models.KindBooking, bookingID, false)
	return total, true, nil
}
