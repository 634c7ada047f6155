package router

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"captaincrm/internal/metrics"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
)

const (
	QueryClientBookings = "client_bookings"
	QueryCalendar       = "calendar"
	QueryReport         = "report"
	QueryBooking        = "booking"
	QueryFind           = "find"
)

// DefaultRecovery is how long the mirror is skipped after a failed read.
const DefaultRecovery = time.Minute

// Router serves reads from the mirror when it is healthy and from the primary
// store otherwise. Both paths return identical shapes.
type Router struct {
	primary  Backend
	mirror   Backend
	logger   *zerolog.Logger
	recovery time.Duration
	now      func() time.Time

	isDown    atomic.Bool
	downSince atomic.Int64
}

// New creates a router. mirror may be nil when no secondary store is configured.
func New(primary, mirror Backend, logger *zerolog.Logger) *Router {
	return &Router{
		primary:  primary,
		mirror:   mirror,
		logger:   logger,
		recovery: DefaultRecovery,
		now:      time.Now,
	}
}

// MirrorDown reports whether the mirror is currently being skipped.
func (r *Router) MirrorDown() bool {
	return r.isDown.Load() && r.now().Sub(time.Unix(0, r.downSince.Load())) <= r.recovery
}

func (r *Router) useMirror() bool {
	if r.mirror == nil || !r.mirror.Available() {
		return false
	}
	return !r.MirrorDown()
}

func (r *Router) markDown(query string, err error) {
	if !r.isDown.Load() {
		r.logger.Error().Err(err).Str("query", query).Msg("Mirror read failed, falling back to primary")
	}
	r.downSince.Store(r.now().UnixNano())
	r.isDown.Store(true)
	metrics.IncRouterFallback(query)
}

func (r *Router) markUp() {
	if r.isDown.CompareAndSwap(true, false) {
		r.logger.Info().Msg("Mirror reads recovered")
	}
}

// callerError reports errors the primary would return just the same.
func callerError(err error) bool {
	return errors.Is(err, models.ErrValidation) ||
		errors.Is(err, models.ErrUnsupportedQuery) ||
		errors.Is(err, context.Canceled)
}

func route[T any](ctx context.Context, r *Router, query string, fn func(Backend) (T, error)) (T, error) {
	if r.useMirror() {
		res, err := fn(r.mirror)
		switch {
		case err == nil:
			r.markUp()
			metrics.IncRouterRead(query, r.mirror.Name())
			return res, nil
		case callerError(err):
			return res, err
		case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrMirrorDisabled):
			// The mirror may lag behind; the primary decides.
		default:
			r.markDown(query, err)
		}
	}

	res, err := fn(r.primary)
	if err == nil {
		metrics.IncRouterRead(query, r.primary.Name())
	}
	return res, err
}

func (r *Router) today() time.Time {
	return models.Day(r.now().UTC())
}

// GetClientBookings lists a client's bookings, newest start first. status is
// "all" (or empty), "upcoming", "past" or a booking status.
func (r *Router) GetClientBookings(ctx context.Context, clientID int64, status string, limit, offset int) ([]models.BookingView, error) {
	if limit == 0 {
		limit = models.DefaultPageSize
	}
	if limit > models.MaxPageSize {
		limit = models.MaxPageSize
	}

	q, err := ClientBookingsQuery(clientID, status, limit, offset, r.today())
	if err != nil {
		return nil, err
	}

	return route(ctx, r, QueryClientBookings, func(b Backend) ([]models.BookingView, error) {
		return b.Bookings(ctx, q)
	})
}

// GetCalendarEvents returns bookings overlapping [start, end] as calendar events.
// A booking overlaps when it starts on or before end and ends on or after start.
func (r *Router) GetCalendarEvents(ctx context.Context, start, end string, filters map[string]string) ([]models.CalendarEvent, error) {
	q, err := CalendarQuery(start, end, filters)
	if err != nil {
		return nil, err
	}

	views, err := route(ctx, r, QueryCalendar, func(b Backend) ([]models.BookingView, error) {
		return b.Bookings(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	events := make([]models.CalendarEvent, 0, len(views))
	for _, v := range views {
		events = append(events, models.NewCalendarEvent(v))
	}
	return events, nil
}

// GenerateReport aggregates bookings starting in year, or in one month of it
// when month is 1-12. service and destination narrow the set when non-empty.
func (r *Router) GenerateReport(ctx context.Context, year, month int, service, destination string) (*models.ReportData, error) {
	q, err := ReportQuery(year, month, service, destination)
	if err != nil {
		return nil, err
	}

	set, err := route(ctx, r, QueryReport, func(b Backend) (*ReportSet, error) {
		return b.ReportBookings(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return BuildReport(year, month, service, destination, set), nil
}

// GetBooking returns one booking. A miss on the mirror is confirmed against
// the primary store.
func (r *Router) GetBooking(ctx context.Context, id int64) (*models.BookingView, error) {
	if id <= 0 {
		return nil, models.NewValidationError("id", "booking id must be positive")
	}
	q := models.Query{Where: []models.Predicate{models.Eq("id", id)}, Limit: 1}
	views, err := route(ctx, r, QueryBooking, func(b Backend) ([]models.BookingView, error) {
		views, err := b.Bookings(ctx, q)
		if err == nil && len(views) == 0 {
			return nil, &models.NotFoundError{Kind: models.KindBooking, ID: id}
		}
		return views, err
	})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// FindBookings runs a general filtered booking query.
func (r *Router) FindBookings(ctx context.Context, q models.Query) ([]models.BookingView, error) {
	if _, err := q.Normalize(models.KindBooking); err != nil {
		return nil, err
	}
	return route(ctx, r, QueryFind, func(b Backend) ([]models.BookingView, error) {
		return b.Bookings(ctx, q)
	})
}
