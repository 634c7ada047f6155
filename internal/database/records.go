package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"captaincrm/internal/models"
)

// Create inserts a record built from named attributes and returns its id.
func (db *DB) Create(ctx context.Context, kind models.EntityKind, fields models.Fields) (int64, error) {
	cols, err := normalizeFields(kind, fields)
	if err != nil {
		return 0, err
	}

	id, err := db.insert(ctx, kind, cols)
	if err != nil {
		return 0, err
	}

	db.afterWrite(ctx, kind, id, true)
	return id, nil
}

func (db *DB) insert(ctx context.Context, kind models.EntityKind, cols map[string]any) (int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	spec := writableFields[kind]
	for name, w := range spec {
		if _, ok := cols[name]; w.required && !ok {
			return 0, models.NewValidationError(name, "is required")
		}
	}

	switch kind {
	case models.KindClient:
		active, ok := cols["active"].(bool)
		if !ok || active {
			if err := db.checkEmailFree(ctx, cols["email"].(string), 0); err != nil {
				return 0, err
			}
		}
	case models.KindBooking:
		if err := db.checkClientExists(ctx, cols["client_id"].(int64)); err != nil {
			return 0, err
		}
		if released, _ := cols["payment_released"].(bool); released {
			status, _ := cols["payment_status"].(string)
			if err := db.checkRelease(status, cols["start_date"].(time.Time), optionalDate(cols["end_date"])); err != nil {
				return 0, err
			}
		}
		if title, _ := cols["title"].(string); title == "" {
			start := cols["start_date"].(time.Time)
			cols["title"] = fmt.Sprintf("%s - %s", models.ServiceLabel(cols["service_type"].(string)), start.Format(models.DateLayout))
		}
	}

	names := make([]string, 0, len(cols)+2)
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]any, 0, len(names)+2)
	for _, name := range names {
		arg, err := columnArg(spec[name].typ, cols[name])
		if err != nil {
			return 0, err
		}
		args = append(args, arg)
	}
	now := db.now()
	names = append(names, "created_at", "updated_at")
	args = append(args, now, now)

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		table, strings.Join(names, ", "), placeholders(len(names)))
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		if conflict := db.conflict(ctx, kind, err, cols); conflict != nil {
			return 0, conflict
		}
		return 0, fmt.Errorf("failed to create %s: %w", kind, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

// Update changes only the named attributes of an existing record.
func (db *DB) Update(ctx context.Context, kind models.EntityKind, id int64, fields models.Fields) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	cols, err := normalizeFields(kind, fields)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		_, err := db.Get(ctx, kind, id)
		return err
	}

	switch kind {
	case models.KindClient:
		if email, ok := cols["email"].(string); ok {
			if err := db.checkEmailFree(ctx, email, id); err != nil {
				return err
			}
		}
	case models.KindBooking:
		if clientID, ok := cols["client_id"].(int64); ok {
			if err := db.checkClientExists(ctx, clientID); err != nil {
				return err
			}
		}
		if released, _ := cols["payment_released"].(bool); released {
			if err := db.checkReleaseUpdate(ctx, id, cols); err != nil {
				return err
			}
		}
	}

	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+2)
	for _, name := range names {
		arg, err := columnArg(writableFields[kind][name].typ, cols[name])
		if err != nil {
			return err
		}
		sets = append(sets, name+" = ?")
		args = append(args, arg)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, db.now(), id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, table, strings.Join(sets, ", "))
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		if conflict := db.conflict(ctx, kind, err, cols); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to update %s %d: %w", kind, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &models.NotFoundError{Kind: kind, ID: id}
	}

	db.afterWrite(ctx, kind, id, false)
	return nil
}

func (db *DB) Get(ctx context.Context, kind models.EntityKind, id int64) (models.Record, error) {
	switch kind {
	case models.KindClient:
		return db.GetClient(ctx, id)
	case models.KindBooking:
		return db.GetBooking(ctx, id)
	}
	return nil, models.NewValidationError("kind", "unknown entity kind %q", kind)
}

// Delete removes a record. Deleting an unknown id is not an error.
func (db *DB) Delete(ctx context.Context, kind models.EntityKind, id int64) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", kind, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil
	}

	if err := db.markPending(ctx, kind, id, false); err != nil {
		db.logger.Warn().Err(err).Str("kind", string(kind)).Int64("id", id).Msg("Failed to mark mirror state")
	}
	if n := db.getNotifier(); n != nil {
		n.OnDelete(ctx, kind, id)
	}
	return nil
}

func (db *DB) Count(ctx context.Context, kind models.EntityKind) (int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// ListIDs pages through ids in ascending order.
func (db *DB) ListIDs(ctx context.Context, kind models.EntityKind, afterID int64, limit int) ([]int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE id > ? ORDER BY id LIMIT ?`, table), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListModifiedSince returns records whose updated_at is at or after since.
func (db *DB) ListModifiedSince(ctx context.Context, kind models.EntityKind, since time.Time) ([]models.Record, error) {
	q := models.Query{
		Where: []models.Predicate{models.Gte("updated_at", since.UTC())},
		Sort:  []models.Order{{Field: "updated_at"}},
	}

	var records []models.Record
	switch kind {
	case models.KindClient:
		clients, err := db.ListClients(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, c := range clients {
			records = append(records, c)
		}
	case models.KindBooking:
		bookings, err := db.ListBookings(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, b := range bookings {
			records = append(records, b)
		}
	default:
		return nil, models.NewValidationError("kind", "unknown entity kind %q", kind)
	}
	return records, nil
}

// afterWrite marks the mirror as pending and notifies synchronously.
func (db *DB) afterWrite(ctx context.Context, kind models.EntityKind, id int64, created bool) {
	if err := db.markPending(ctx, kind, id, created); err != nil {
		db.logger.Warn().Err(err).Str("kind", string(kind)).Int64("id", id).Msg("Failed to mark mirror state")
	}

	n := db.getNotifier()
	if n == nil {
		return
	}
	record, err := db.Get(ctx, kind, id)
	if err != nil {
		db.logger.Error().Err(err).Str("kind", string(kind)).Int64("id", id).Msg("Failed to reload record for sync")
		return
	}
	n.OnWrite(ctx, record)
}

func (db *DB) checkEmailFree(ctx context.Context, email string, excludeID int64) error {
	var existing int64
	err := db.QueryRowContext(ctx,
		`SELECT id FROM clients WHERE email = ? AND active = 1 AND id != ? LIMIT 1`, email, excludeID).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check client email: %w", err)
	}
	return &models.ConflictError{Kind: models.KindClient, Field: "email", Value: email, ExistingID: existing}
}

func (db *DB) checkClientExists(ctx context.Context, clientID int64) error {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM clients WHERE id = ?`, clientID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewValidationError("client_id", "references unknown client %d", clientID)
	}
	if err != nil {
		return fmt.Errorf("failed to check client: %w", err)
	}
	return nil
}

// conflict converts a unique violation, resolving the existing client id for email clashes.
func (db *DB) conflict(ctx context.Context, kind models.EntityKind, err error, cols map[string]any) error {
	var value string
	if email, ok := cols["email"].(string); ok {
		value = email
	}
	conflict := conflictFromError(kind, err, value)
	if conflict == nil {
		return nil
	}
	var cErr *models.ConflictError
	if errors.As(conflict, &cErr) && cErr.Field == "email" {
		if existing, lookupErr := db.FindClientByEmail(ctx, value); lookupErr == nil {
			cErr.ExistingID = existing.ID
		}
	}
	return conflict
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// checkReleaseUpdate applies the payout gate to the booking as it will look
// after cols are written.
func (db *DB) checkReleaseUpdate(ctx context.Context, id int64, cols map[string]any) error {
	current, err := db.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	status, start, end := current.PaymentStatus, current.StartDate, current.EndDate
	if v, ok := cols["payment_status"].(string); ok {
		status = v
	}
	if v, ok := cols["start_date"].(time.Time); ok {
		start = v
	}
	if v, ok := cols["end_date"]; ok {
		end = optionalDate(v)
	}
	return db.checkRelease(status, start, end)
}

// checkRelease rejects a payout unless the booking is fully paid and its last day has come.
func (db *DB) checkRelease(paymentStatus string, start time.Time, end *time.Time) error {
	b := models.Booking{PaymentStatus: paymentStatus, StartDate: start, EndDate: end}
	if b.PaymentStatus != models.PaymentPaid {
		return models.NewValidationError("payment_released", "requires payment_status %q", models.PaymentPaid)
	}
	if !b.ReleaseAvailable(db.now()) {
		return models.NewValidationError("payment_released", "not available before %s", b.LastDay().Format(models.DateLayout))
	}
	return nil
}

func optionalDate(v any) *time.Time {
	t, ok := v.(time.Time)
	if !ok || t.IsZero() {
		return nil
	}
	return &t
}
