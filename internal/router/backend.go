package router

import (
	"context"

	"captaincrm/internal/domain"
	"captaincrm/internal/models"

	"github.com/shopspring/decimal"
)

const (
	BackendPrimary = "primary"
	BackendMirror  = "mirror"
)

// Backend answers routed booking reads from one store, already normalized.
type Backend interface {
	Name() string
	Available() bool
	Bookings(ctx context.Context, q models.Query) ([]models.BookingView, error)
	ReportBookings(ctx context.Context, q models.Query) (*ReportSet, error)
}

// ReportSet is the matched bookings of a report, ordered by start date, and
// the revenue the backend computed for them.
type ReportSet struct {
	Bookings []models.BookingView
	Revenue  decimal.Decimal
}

type PrimaryBackend struct {
	store domain.RecordStore
}

func NewPrimaryBackend(store domain.RecordStore) *PrimaryBackend {
	return &PrimaryBackend{store: store}
}

func (b *PrimaryBackend) Name() string    { return BackendPrimary }
func (b *PrimaryBackend) Available() bool { return true }

func (b *PrimaryBackend) Bookings(ctx context.Context, q models.Query) ([]models.BookingView, error) {
	bookings, err := b.store.ListBookings(ctx, q)
	if err != nil {
		return nil, err
	}
	views := make([]models.BookingView, 0, len(bookings))
	for _, bk := range bookings {
		views = append(views, bk.View())
	}
	return views, nil
}

func (b *PrimaryBackend) ReportBookings(ctx context.Context, q models.Query) (*ReportSet, error) {
	bookings, err := b.store.ListBookings(ctx, q)
	if err != nil {
		return nil, err
	}
	set := &ReportSet{Bookings: make([]models.BookingView, 0, len(bookings)), Revenue: decimal.Zero}
	for _, bk := range bookings {
		set.Bookings = append(set.Bookings, bk.View())
		set.Revenue = set.Revenue.Add(bk.Price)
	}
	set.Revenue = set.Revenue.Round(2)
	return set, nil
}

type MirrorBackend struct {
	mirror domain.MirrorStore
}

func NewMirrorBackend(mirror domain.MirrorStore) *MirrorBackend {
	return &MirrorBackend{mirror: mirror}
}

func (b *MirrorBackend) Name() string { return BackendMirror }

func (b *MirrorBackend) Available() bool {
	return b.mirror != nil && b.mirror.Enabled()
}

func (b *MirrorBackend) Bookings(ctx context.Context, q models.Query) ([]models.BookingView, error) {
	if !b.Available() {
		return nil, models.ErrMirrorDisabled
	}
	docs, err := b.mirror.FindBookings(ctx, q)
	if err != nil {
		return nil, err
	}
	views := make([]models.BookingView, 0, len(docs))
	for i := range docs {
		views = append(views, docs[i].View())
	}
	return views, nil
}

// ReportBookings runs the aggregation pipeline. Revenue arrives as a float sum
// and is rounded to cents.
func (b *MirrorBackend) ReportBookings(ctx context.Context, q models.Query) (*ReportSet, error) {
	if !b.Available() {
		return nil, models.ErrMirrorDisabled
	}
	agg, err := b.mirror.AggregateBookings(ctx, q)
	if err != nil {
		return nil, err
	}
	set := &ReportSet{
		Bookings: make([]models.BookingView, 0, len(agg.Bookings)),
		Revenue:  decimal.NewFromFloat(agg.Revenue).Round(2),
	}
	for i := range agg.Bookings {
		set.Bookings = append(set.Bookings, agg.Bookings[i].View())
	}
	return set, nil
}
