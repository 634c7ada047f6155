package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Booking struct {
	ID           int64           `json:"id"`
	ClientID     int64           `json:"client_id"`
	EmployeeID   *int64          `json:"employee_id,omitempty"`
	Title        string          `json:"title"`
	ServiceType  string          `json:"service_type"`
	Destination  string          `json:"destination"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      *time.Time      `json:"end_date,omitempty"`
	CrewSize     int             `json:"crew_size"`
	CrewServices string          `json:"crew_services"`
	Price        decimal.Decimal `json:"price"`
	Status       string          `json:"status"`
	Notes        string          `json:"notes"`

	PaymentStatus      string          `json:"payment_status"`
	DepositAmount      decimal.Decimal `json:"deposit_amount"`
	DepositPaid        bool            `json:"deposit_paid"`
	PaymentReleased    bool            `json:"payment_released"`
	PaymentReleaseDate *time.Time      `json:"payment_release_date,omitempty"`

	TipRequested bool            `json:"tip_requested"`
	TipToken     string          `json:"-"`
	TipPaid      bool            `json:"tip_paid"`
	TipAmount    decimal.Decimal `json:"tip_amount"`

	Contract       string `json:"contract,omitempty"`
	ContractStatus string `json:"contract_status"`
	InvoiceNumber  string `json:"invoice_number,omitempty"`
	InvoiceStatus  string `json:"invoice_status"`

	ClientRating        int    `json:"client_rating,omitempty"`
	ClientRatingComment string `json:"client_rating_comment,omitempty"`

	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (b *Booking) Kind() EntityKind { return KindBooking }
func (b *Booking) RecordID() int64  { return b.ID }

// LastDay is the end date, or the start date for single-day bookings.
func (b *Booking) LastDay() time.Time {
	if b.EndDate == nil || b.EndDate.IsZero() {
		return b.StartDate
	}
	return *b.EndDate
}

// ReleaseAvailable reports whether the crew payout gate is open at now.
func (b *Booking) ReleaseAvailable(now time.Time) bool {
	if b.EndDate == nil || b.EndDate.IsZero() {
		return true
	}
	return !Day(now).Before(Day(*b.EndDate))
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts YYYY-MM-DD and full RFC3339 timestamps.
func ParseDate(field, s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Day(t), nil
	}
	return time.Time{}, NewValidationError(field, "invalid date %q, expected YYYY-MM-DD", s)
}
