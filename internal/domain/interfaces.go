package domain

import (
	"context"
	"time"

	"captaincrm/internal/models"

	"github.com/shopspring/decimal"
)

// RecordStore is the authoritative store for clients and bookings.
type RecordStore interface {
	Create(ctx context.Context, kind models.EntityKind, fields models.Fields) (int64, error)
	Update(ctx context.Context, kind models.EntityKind, id int64, fields models.Fields) error
	Get(ctx context.Context, kind models.EntityKind, id int64) (models.Record, error)
	Delete(ctx context.Context, kind models.EntityKind, id int64) error
	Count(ctx context.Context, kind models.EntityKind) (int64, error)
	ListIDs(ctx context.Context, kind models.EntityKind, afterID int64, limit int) ([]int64, error)
	ListModifiedSince(ctx context.Context, kind models.EntityKind, since time.Time) ([]models.Record, error)

	CreateClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, id int64) (*models.Client, error)
	FindClientByEmail(ctx context.Context, email string) (*models.Client, error)
	ListClients(ctx context.Context, q models.Query) ([]*models.Client, error)

	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	FindBookingByTipToken(ctx context.Context, token string) (*models.Booking, error)
	ListBookings(ctx context.Context, q models.Query) ([]*models.Booking, error)
}

// BusinessStore extends the record store with the workflow helpers the
// booking, tip and rating services need.
type BusinessStore interface {
	RecordStore
	NextInvoiceNumber(ctx context.Context, year int) (string, error)
	RecordTipPayment(ctx context.Context, bookingID int64, amount decimal.Decimal, idempotencyKey string) (decimal.Decimal, bool, error)
	CreateEmployee(ctx context.Context, employee *models.Employee) error
	GetEmployee(ctx context.Context, id int64) (*models.Employee, error)
	UpdateEmployeeStats(ctx context.Context, id int64, completedJobs int, reviewScore float64) error
	EmployeeRatingAverage(ctx context.Context, employeeID int64) (float64, int, error)
}

// MirrorStateTracker records the per-entity synchronization state.
type MirrorStateTracker interface {
	MarkMirrorState(ctx context.Context, kind models.EntityKind, id int64, state models.MirrorState, lastErr string) error
	GetMirrorState(ctx context.Context, kind models.EntityKind, id int64) (*models.MirrorStatus, error)
	ListMirrorStates(ctx context.Context, kind models.EntityKind, states ...models.MirrorState) ([]models.MirrorStatus, error)
	MirrorStateCounts(ctx context.Context) (map[models.EntityKind]map[models.MirrorState]int64, error)
}

// MirrorStore is the secondary document store. Every method converts driver
// failures into models.TransportError; callers fall back or log.
type MirrorStore interface {
	Enabled() bool
	UpsertClient(ctx context.Context, doc models.ClientDocument) error
	UpsertBooking(ctx context.Context, doc models.BookingDocument) error
	DeleteBySourceID(ctx context.Context, kind models.EntityKind, id int64) error
	FindClients(ctx context.Context, q models.Query) ([]models.ClientDocument, error)
	FindBookings(ctx context.Context, q models.Query) ([]models.BookingDocument, error)
	AggregateBookings(ctx context.Context, match models.Query) (*BookingAggregate, error)
	Count(ctx context.Context, kind models.EntityKind) (int64, error)
}

// BookingAggregate is the result of the reporting pipeline: one group holding
// the count, the price sum and every matched document.
type BookingAggregate struct {
	Count    int
	Revenue  float64
	Bookings []models.BookingDocument
}

// ChangeNotifier is told about every committed record store write.
type ChangeNotifier interface {
	OnWrite(ctx context.Context, record models.Record)
	OnDelete(ctx context.Context, kind models.EntityKind, id int64)
}

// ProgressRepository persists migration progress, verification reports and run locks.
type ProgressRepository interface {
	GetProgress(ctx context.Context, kind models.EntityKind) (*models.ProgressRecord, error)
	SaveProgress(ctx context.Context, progress *models.ProgressRecord) error
	GetVerifyReport(ctx context.Context, kind models.EntityKind) (*models.VerifyReport, error)
	SaveVerifyReport(ctx context.Context, report *models.VerifyReport) error
	AcquireRunLock(ctx context.Context, kind models.EntityKind, ttl time.Duration) (bool, error)
	RefreshRunLock(ctx context.Context, kind models.EntityKind, ttl time.Duration) error
	ReleaseRunLock(ctx context.Context, kind models.EntityKind) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
