package service

import (
	"context"
	"strconv"
	"strings"

	"captaincrm/internal/domain"
	"captaincrm/internal/events"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
)

const (
	MinClientRating = 1
	MaxClientRating = 5
)

// RankSummary is a derived rank together with the inputs it was computed from.
type RankSummary struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	Rank          models.Rank `json:"rank"`
	Rating        float64     `json:"rating"`
	Cancellations int         `json:"cancellations,omitempty"`
	CompletedJobs int         `json:"completed_jobs,omitempty"`
	ReviewScore   float64     `json:"review_score,omitempty"`
}

type RatingService struct {
	store    domain.BusinessStore
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewRatingService(store domain.BusinessStore, eventBus domain.EventPublisher, logger *zerolog.Logger) *RatingService {
	return &RatingService{store: store, eventBus: eventBus, logger: logger}
}

// SubmitClientRating stores the client's 1-5 rating of a booking and refreshes
// the assigned employee's review score and completed job count.
func (s *RatingService) SubmitClientRating(ctx context.Context, bookingID int64, rating int, comment string) (*models.Booking, error) {
	if rating < MinClientRating || rating > MaxClientRating {
		return nil, models.NewValidationError("rating", "must be between %d and %d", MinClientRating, MaxClientRating)
	}

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == models.StatusCancelled {
		return nil, models.NewValidationError("status", "cannot rate a cancelled booking")
	}

	fields := models.Fields{
		"client_rating":         rating,
		"client_rating_comment": strings.TrimSpace(comment),
	}
	if err := s.store.Update(ctx, models.KindBooking, bookingID, fields); err != nil {
		return nil, err
	}

	if booking.EmployeeID != nil {
		if err := s.refreshEmployee(ctx, *booking.EmployeeID); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if s.eventBus != nil {
		payload := events.BookingEventPayload{
			BookingID:   updated.ID,
			ClientID:    updated.ClientID,
			Title:       updated.Title,
			ServiceType: updated.ServiceType,
			Status:      updated.Status,
			StartDate:   updated.StartDate,
			Reference:   strconv.Itoa(rating),
		}
		if err := s.eventBus.PublishJSON(events.EventClientRated, payload); err != nil {
			s.logger.Error().Err(err).Int64("booking_id", bookingID).Msg("publish event error")
		}
	}
	return updated, nil
}

// refreshEmployee recomputes the review score, clamped to 1-5, and the number
// of completed bookings.
func (s *RatingService) refreshEmployee(ctx context.Context, employeeID int64) error {
	avg, rated, err := s.store.EmployeeRatingAverage(ctx, employeeID)
	if err != nil {
		return err
	}
	if rated > 0 {
		avg = clamp(avg, MinClientRating, MaxClientRating)
	}

	completed, err := s.store.ListBookings(ctx, models.Query{
		Where: []models.Predicate{
			models.Eq("employee_id", employeeID),
			models.Eq("status", models.StatusCompleted),
		},
		Limit: models.MaxPageSize,
	})
	if err != nil {
		return err
	}

	if err := s.store.UpdateEmployeeStats(ctx, employeeID, len(completed), avg); err != nil {
		return err
	}
	s.logger.Debug().
		Int64("employee_id", employeeID).
		Float64("review_score", avg).
		Int("completed_jobs", len(completed)).
		Msg("Employee stats refreshed")
	return nil
}

// SetClientRating records the admin's 1-10 rating of a client.
func (s *RatingService) SetClientRating(ctx context.Context, clientID int64, rating int) (*models.Client, error) {
	if rating < 1 || rating > 10 {
		return nil, models.NewValidationError("rating", "must be between 1 and 10")
	}
	if err := s.store.Update(ctx, models.KindClient, clientID, models.Fields{"rating": rating}); err != nil {
		return nil, err
	}
	return s.store.GetClient(ctx, clientID)
}

func (s *RatingService) ClientRank(ctx context.Context, clientID int64) (*RankSummary, error) {
	c, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return &RankSummary{
		ID:            c.ID,
		Name:          c.Name,
		Rank:          c.Rank(),
		Rating:        float64(c.Rating),
		Cancellations: c.Cancellations,
	}, nil
}

func (s *RatingService) EmployeeRank(ctx context.Context, employeeID int64) (*RankSummary, error) {
	e, err := s.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return &RankSummary{
		ID:            e.ID,
		Name:          e.Name,
		Rank:          e.Rank(),
		Rating:        e.AdminRating,
		CompletedJobs: e.CompletedJobs,
		ReviewScore:   e.ReviewScore,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
