package service

import (
	"context"
	"strings"
	"sync"

	"captaincrm/internal/domain"
	"captaincrm/internal/events"
	"captaincrm/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const tipPaymentPath = "/tip-payment/?token="

// TipRequest is the link sent to a client after a completed booking.
type TipRequest struct {
	BookingID int64  `json:"booking_id"`
	Token     string `json:"token"`
	URL       string `json:"url"`
}

// TipReceipt is the outcome of a tip submission.
type TipReceipt struct {
	BookingID int64           `json:"booking_id"`
	Total     decimal.Decimal `json:"total"`
	Applied   bool            `json:"applied"`
}

type TipService struct {
	store    domain.BusinessStore
	eventBus domain.EventPublisher
	baseURL  string
	logger   *zerolog.Logger

	mu sync.Mutex
}

func NewTipService(store domain.BusinessStore, eventBus domain.EventPublisher, baseURL string, logger *zerolog.Logger) *TipService {
	return &TipService{
		store:    store,
		eventBus: eventBus,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

// RequestTip returns the booking's tip link, creating its token on first use.
// Repeated requests return the same token.
func (s *TipService) RequestTip(ctx context.Context, bookingID int64) (*TipRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == models.StatusCancelled {
		return nil, models.NewValidationError("status", "cannot request a tip for a cancelled booking")
	}

	token := booking.TipToken
	if token == "" {
		token = uuid.NewString()
		fields := models.Fields{
			"tip_requested": true,
			"tip_token":     token,
		}
		if err := s.store.Update(ctx, models.KindBooking, bookingID, fields); err != nil {
			return nil, err
		}
		s.logger.Info().Int64("booking_id", bookingID).Msg("Tip requested")
		s.publish(events.EventTipRequested, booking, "", "")
	}

	return &TipRequest{
		BookingID: bookingID,
		Token:     token,
		URL:       s.baseURL + tipPaymentPath + token,
	}, nil
}

// BookingByToken resolves a tip link to its booking.
func (s *TipService) BookingByToken(ctx context.Context, token string) (*models.Booking, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, models.NewValidationError("token", "is required")
	}
	return s.store.FindBookingByTipToken(ctx, token)
}

// SubmitTip adds amount to the booking's tip total. Replaying the same
// idempotency key leaves the total unchanged.
func (s *TipService) SubmitTip(ctx context.Context, token string, amount decimal.Decimal, idempotencyKey string) (*TipReceipt, error) {
	if !amount.IsPositive() {
		return nil, models.NewValidationError("amount", "must be positive")
	}
	booking, err := s.BookingByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	total, applied, err := s.store.RecordTipPayment(ctx, booking.ID, amount.Round(2), strings.TrimSpace(idempotencyKey))
	if err != nil {
		return nil, err
	}

	if applied {
		s.logger.Info().
			Int64("booking_id", booking.ID).
			Str("amount", amount.StringFixed(2)).
			Str("total", total.StringFixed(2)).
			Msg("Tip received")
		s.publish(events.EventTipReceived, booking, amount.StringFixed(2), idempotencyKey)
	}

	return &TipReceipt{BookingID: booking.ID, Total: total, Applied: applied}, nil
}

func (s *TipService) publish(eventType string, booking *models.Booking, amount, reference string) {
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
		Amount:        amount,
		Reference:     reference,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}
