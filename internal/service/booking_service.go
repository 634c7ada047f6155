package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"captaincrm/internal/domain"
	"captaincrm/internal/events"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	PaymentTypeDeposit = "deposit"
	PaymentTypeFull    = "full"
)

// DefaultDepositRate is applied when a deposit is paid without an amount set.
var DefaultDepositRate = decimal.NewFromFloat(0.3)

// ContractGenerator produces contract text for a booking.
type ContractGenerator interface {
	Generate(ctx context.Context, booking *models.Booking, client *models.Client) (string, error)
}

// BookingForm is a public booking inquiry.
type BookingForm struct {
	ClientName   string `json:"client_name"`
	ClientEmail  string `json:"client_email"`
	ClientPhone  string `json:"client_phone"`
	Nationality  string `json:"client_nationality"`
	Experience   string `json:"experience"`
	ServiceType  string `json:"service_type"`
	Destination  string `json:"destination"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	CrewSize     int    `json:"crew_size"`
	CrewServices string `json:"crew_services"`
	Message      string `json:"message"`
}

// Validate checks the required inquiry fields.
func (f *BookingForm) Validate() error {
	f.ClientName = strings.TrimSpace(f.ClientName)
	f.ClientEmail = strings.ToLower(strings.TrimSpace(f.ClientEmail))
	f.ClientPhone = strings.TrimSpace(f.ClientPhone)

	required := map[string]string{
		"client_name":  f.ClientName,
		"client_email": f.ClientEmail,
		"client_phone": f.ClientPhone,
		"service_type": f.ServiceType,
		"destination":  f.Destination,
		"start_date":   f.StartDate,
	}
	for _, field := range []string{"client_name", "client_email", "client_phone", "service_type", "destination", "start_date"} {
		if required[field] == "" {
			return models.NewValidationError(field, "is required")
		}
	}
	if _, err := mail.ParseAddress(f.ClientEmail); err != nil {
		return models.NewValidationError("client_email", "invalid email %q", f.ClientEmail)
	}
	if f.CrewSize < 0 {
		return models.NewValidationError("crew_size", "must not be negative")
	}
	return nil
}

type BookingService struct {
	store     domain.BusinessStore
	eventBus  domain.EventPublisher
	generator ContractGenerator
	logger    *zerolog.Logger
	now       func() time.Time

	// mu serializes the check-then-write workflows on a booking.
	mu sync.Mutex
}

func NewBookingService(store domain.BusinessStore, eventBus domain.EventPublisher, generator ContractGenerator, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		store:     store,
		eventBus:  eventBus,
		generator: generator,
		logger:    logger,
		now:       time.Now,
	}
}

// SubmitForm records an inquiry. A known email reuses the existing client.
func (s *BookingService) SubmitForm(ctx context.Context, form BookingForm) (*models.Booking, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	start, err := models.ParseDate("start_date", form.StartDate)
	if err != nil {
		return nil, err
	}
	var end *time.Time
	if form.EndDate != "" {
		e, err := models.ParseDate("end_date", form.EndDate)
		if err != nil {
			return nil, err
		}
		if e.Before(start) {
			return nil, models.NewValidationError("end_date", "end date is before start date")
		}
		end = &e
	}

	client, err := s.findOrCreateClient(ctx, form)
	if err != nil {
		return nil, err
	}

	booking := &models.Booking{
		ClientID:     client.ID,
		Title:        fmt.Sprintf("%s - %s (%s)", form.ClientName, form.ServiceType, form.StartDate),
		ServiceType:  form.ServiceType,
		Destination:  form.Destination,
		StartDate:    start,
		EndDate:      end,
		CrewSize:     form.CrewSize,
		CrewServices: form.CrewServices,
		Notes:        form.Message,
		Status:       models.StatusInquiry,
	}
	if err := s.store.CreateBooking(ctx, booking); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("client_id", client.ID).
		Str("service_type", booking.ServiceType).
		Msg("Booking inquiry received")
	s.publishEvent(events.EventBookingCreated, booking, "", "", "")
	return booking, nil
}

func (s *BookingService) findOrCreateClient(ctx context.Context, form BookingForm) (*models.Client, error) {
	existing, err := s.store.FindClientByEmail(ctx, form.ClientEmail)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	client := &models.Client{
		Name:              form.ClientName,
		Email:             form.ClientEmail,
		Phone:             form.ClientPhone,
		Nationality:       form.Nationality,
		SailingExperience: form.Experience,
		Rating:            models.DefaultClientRating,
		Active:            true,
	}
	err = s.store.CreateClient(ctx, client)
	if errors.Is(err, models.ErrConflict) {
		// A concurrent submission created the client first.
		return s.store.FindClientByEmail(ctx, form.ClientEmail)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

// ChangeStatus moves a booking along the workflow. Cancelling counts against
// the client.
func (s *BookingService) ChangeStatus(ctx context.Context, id int64, status string) (*models.Booking, error) {
	if !models.IsValidBookingStatus(status) {
		return nil, models.NewValidationError("status", "unknown status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := booking.Status
	if !models.CanTransition(prev, status) {
		return nil, fmt.Errorf("%w: %s to %s", models.ErrInvalidTransition, prev, status)
	}

	if err := s.store.Update(ctx, models.KindBooking, id, models.Fields{"status": status}); err != nil {
		return nil, err
	}
	if status == models.StatusCancelled {
		if err := s.countCancellation(ctx, booking.ClientID); err != nil {
			s.logger.Error().Err(err).Int64("client_id", booking.ClientID).Msg("Failed to count cancellation")
		}
	}

	updated, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	eventType := events.EventBookingStatusChanged
	if status == models.StatusCancelled {
		eventType = events.EventBookingCancelled
	}
	s.publishEvent(eventType, updated, prev, "", "")
	return updated, nil
}

// CancelBooking cancels a booking and increments the client's cancellations.
func (s *BookingService) CancelBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.ChangeStatus(ctx, id, models.StatusCancelled)
}

func (s *BookingService) countCancellation(ctx context.Context, clientID int64) error {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	return s.store.Update(ctx, models.KindClient, clientID, models.Fields{"cancellations": client.Cancellations + 1})
}

// AssignEmployee sets the crew member responsible for a booking.
func (s *BookingService) AssignEmployee(ctx context.Context, id, employeeID int64) (*models.Booking, error) {
	if _, err := s.store.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, models.KindBooking, id, models.Fields{"employee_id": employeeID}); err != nil {
		return nil, err
	}
	return s.store.GetBooking(ctx, id)
}

// RecordPayment marks a deposit (payment becomes partial) or the full amount
// (payment becomes paid) as received.
func (s *BookingService) RecordPayment(ctx context.Context, id int64, paymentType string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := models.Fields{"deposit_paid": true}
	switch paymentType {
	case PaymentTypeDeposit:
		if booking.PaymentStatus == models.PaymentPaid {
			return nil, models.NewValidationError("payment_type", "booking is already fully paid")
		}
		fields["payment_status"] = models.PaymentPartial
		if booking.DepositAmount.IsZero() && booking.Price.IsPositive() {
			fields["deposit_amount"] = booking.Price.Mul(DefaultDepositRate).Round(2)
		}
	case PaymentTypeFull:
		fields["payment_status"] = models.PaymentPaid
	default:
		return nil, models.NewValidationError("payment_type", "must be %q or %q", PaymentTypeDeposit, PaymentTypeFull)
	}

	if err := s.store.Update(ctx, models.KindBooking, id, fields); err != nil {
		return nil, err
	}
	updated, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	amount := updated.Price
	if paymentType == PaymentTypeDeposit {
		amount = updated.DepositAmount
	}
	s.publishEvent(events.EventPaymentRecorded, updated, "", amount.StringFixed(2), paymentType)
	return updated, nil
}

// ReleasePayment opens the crew payout once the booking is fully paid and over.
func (s *BookingService) ReleasePayment(ctx context.Context, id int64) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	switch {
	case booking.PaymentReleased:
		return nil, models.ErrPaymentAlreadyReleased
	case booking.PaymentStatus != models.PaymentPaid:
		return nil, models.ErrPaymentNotPaid
	case !booking.ReleaseAvailable(now):
		return nil, fmt.Errorf("%w: available from %s", models.ErrPaymentNotYetAvailable, booking.LastDay().Format(models.DateLayout))
	}

	fields := models.Fields{
		"payment_released":     true,
		"payment_release_date": now,
	}
	if err := s.store.Update(ctx, models.KindBooking, id, fields); err != nil {
		return nil, err
	}
	updated, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("booking_id", id).Msg("Crew payment released")
	s.publishEvent(events.EventPaymentReleased, updated, "", updated.Price.StringFixed(2), "")
	return updated, nil
}

// IssueInvoice assigns the next YYYY-NNNN invoice number once; later calls
// return the booking unchanged.
func (s *BookingService) IssueInvoice(ctx context.Context, id int64) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.InvoiceNumber != "" {
		return booking, nil
	}

	number, err := s.store.NextInvoiceNumber(ctx, s.now().Year())
	if err != nil {
		return nil, err
	}
	fields := models.Fields{
		"invoice_number": number,
		"invoice_status": models.InvoiceIssued,
	}
	if err := s.store.Update(ctx, models.KindBooking, id, fields); err != nil {
		return nil, err
	}
	updated, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publishEvent(events.EventInvoiceIssued, updated, "", updated.Price.StringFixed(2), number)
	return updated, nil
}

// MarkInvoicePaid settles an issued invoice.
func (s *BookingService) MarkInvoicePaid(ctx context.Context, id int64) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.InvoiceNumber == "" {
		return nil, models.NewValidationError("invoice_status", "no invoice has been issued")
	}
	if err := s.store.Update(ctx, models.KindBooking, id, models.Fields{"invoice_status": models.InvoicePaid}); err != nil {
		return nil, err
	}
	return s.store.GetBooking(ctx, id)
}

// SaveContract stores contract text as a draft. Empty text is produced by the
// configured generator.
func (s *BookingService) SaveContract(ctx context.Context, id int64, text string) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		if s.generator == nil {
			return nil, models.NewValidationError("contract", "contract text is required")
		}
		client, err := s.store.GetClient(ctx, booking.ClientID)
		if err != nil {
			return nil, err
		}
		text, err = s.generator.Generate(ctx, booking, client)
		if err != nil {
			return nil, fmt.Errorf("generate contract: %w", err)
		}
	}

	fields := models.Fields{
		"contract":        text,
		"contract_status": models.ContractDraft,
	}
	if err := s.store.Update(ctx, models.KindBooking, id, fields); err != nil {
		return nil, err
	}
	updated, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishEvent(events.EventContractSaved, updated, "", "", models.ContractDraft)
	return updated, nil
}

func (s *BookingService) SetContractStatus(ctx context.Context, id int64, status string) (*models.Booking, error) {
	if !models.IsValidContractStatus(status) {
		return nil, models.NewValidationError("contract_status", "unknown contract status %q", status)
	}
	if err := s.store.Update(ctx, models.KindBooking, id, models.Fields{"contract_status": status}); err != nil {
		return nil, err
	}
	return s.store.GetBooking(ctx, id)
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, prevStatus, amount, reference string) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:     booking.ID,
		ClientID:      booking.ClientID,
		Title:         booking.Title,
		ServiceType:   booking.ServiceType,
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
		StartDate:     booking.StartDate,
		PrevStatus:    prevStatus,
		Amount:        amount,
		Reference:     reference,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}
