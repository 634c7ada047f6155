package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"captaincrm/internal/models"
)

const bookingColumns = `id, client_id, employee_id, title, service_type, destination, start_date, end_date,
        crew_size, crew_services, price, status, notes, payment_status, deposit_amount, deposit_paid,
        payment_released, payment_release_date, tip_requested, tip_token, tip_paid, tip_amount,
        contract, contract_status, invoice_number, invoice_status, client_rating, client_rating_comment,
        attributes, created_at, updated_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b           models.Booking
		employeeID  sql.NullInt64
		startDate   string
		endDate     sql.NullString
		releaseDate sql.NullTime
		tipToken    sql.NullString
		invoiceNo   sql.NullString
		attrs       string
	)
	err := row.Scan(
		&b.ID, &b.ClientID, &employeeID, &b.Title, &b.ServiceType, &b.Destination, &startDate, &endDate,
		&b.CrewSize, &b.CrewServices, &b.Price, &b.Status, &b.Notes, &b.PaymentStatus, &b.DepositAmount, &b.DepositPaid,
		&b.PaymentReleased, &releaseDate, &b.TipRequested, &tipToken, &b.TipPaid, &b.TipAmount,
		&b.Contract, &b.ContractStatus, &invoiceNo, &b.InvoiceStatus, &b.ClientRating, &b.ClientRatingComment,
		&attrs, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if employeeID.Valid {
		id := employeeID.Int64
		b.EmployeeID = &id
	}
	if b.StartDate, err = time.Parse(models.DateLayout, startDate); err != nil {
		return nil, fmt.Errorf("failed to parse start_date %q: %w", startDate, err)
	}
	if endDate.Valid && endDate.String != "" {
		end, err := time.Parse(models.DateLayout, endDate.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse end_date %q: %w", endDate.String, err)
		}
		b.EndDate = &end
	}
	if releaseDate.Valid {
		t := releaseDate.Time
		b.PaymentReleaseDate = &t
	}
	b.TipToken = tipToken.String
	b.InvoiceNumber = invoiceNo.String
	b.Attributes = decodeAttributes(attrs)
	return &b, nil
}

func bookingFields(b *models.Booking) models.Fields {
	fields := models.Fields{
		"client_id":             b.ClientID,
		"employee_id":           b.EmployeeID,
		"title":                 b.Title,
		"service_type":          b.ServiceType,
		"destination":           b.Destination,
		"start_date":            b.StartDate,
		"end_date":              b.EndDate,
		"crew_size":             b.CrewSize,
		"crew_services":         b.CrewServices,
		"price":                 b.Price,
		"notes":                 b.Notes,
		"deposit_amount":        b.DepositAmount,
		"deposit_paid":          b.DepositPaid,
		"payment_released":      b.PaymentReleased,
		"payment_release_date":  b.PaymentReleaseDate,
		"tip_requested":         b.TipRequested,
		"tip_token":             b.TipToken,
		"tip_paid":              b.TipPaid,
		"tip_amount":            b.TipAmount,
		"contract":              b.Contract,
		"invoice_number":        b.InvoiceNumber,
		"client_rating":         b.ClientRating,
		"client_rating_comment": b.ClientRatingComment,
	}
	for name, v := range map[string]string{
		"status":          b.Status,
		"payment_status":  b.PaymentStatus,
		"contract_status": b.ContractStatus,
		"invoice_status":  b.InvoiceStatus,
	} {
		if v != "" {
			fields[name] = v
		}
	}
	if b.StartDate.IsZero() {
		delete(fields, "start_date")
	}
	if len(b.Attributes) > 0 {
		fields["attributes"] = b.Attributes
	}
	return fields
}

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	id, err := db.Create(ctx, models.KindBooking, bookingFields(booking))
	if err != nil {
		return err
	}
	created, err := db.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	*booking = *created
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: models.KindBooking, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (db *DB) FindBookingByTipToken(ctx context.Context, token string) (*models.Booking, error) {
	if token == "" {
		return nil, models.NewValidationError("token", "is required")
	}
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE tip_token = ?`, token)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: models.KindBooking, Key: "with this tip token"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find booking by tip token: %w", err)
	}
	return b, nil
}

func (db *DB) ListBookings(ctx context.Context, q models.Query) ([]*models.Booking, error) {
	tail, args, err := buildQuery(models.KindBooking, q)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
