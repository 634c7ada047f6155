// Package mirrortest provides an in-memory secondary store for tests. It
// evaluates the same backend-neutral queries as the MongoDB adapter and can
// be told to fail on demand.
package mirrortest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"captaincrm/internal/domain"
	"captaincrm/internal/models"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Operation names accepted by FailOn and Calls.
const (
	OpUpsert    = "upsert"
	OpDelete    = "delete"
	OpFind      = "find"
	OpAggregate = "aggregate"
	OpCount     = "count"
)

var ErrInjected = errors.New("injected failure")

type Store struct {
	mu       sync.RWMutex
	enabled  bool
	clients  map[int64]models.ClientDocument
	bookings map[int64]models.BookingDocument
	failures map[string]error
	calls    map[string]int
	delay    time.Duration
}

var _ domain.MirrorStore = (*Store)(nil)

func New() *Store {
	return &Store{
		enabled:  true,
		clients:  make(map[int64]models.ClientDocument),
		bookings: make(map[int64]models.BookingDocument),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// FailOn makes every subsequent op fail with err; a nil err clears it.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// FailAll makes every operation fail with err; a nil err clears all failures.
func (s *Store) FailAll(err error) {
	for _, op := range []string{OpUpsert, OpDelete, OpFind, OpAggregate, OpCount} {
		s.FailOn(op, err)
	}
}

// SetDelay slows every operation down, honouring context cancellation.
func (s *Store) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

func (s *Store) Client(id int64) (models.ClientDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.clients[id]
	return d, ok
}

func (s *Store) Booking(id int64) (models.BookingDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.bookings[id]
	return d, ok
}

func (s *Store) begin(ctx context.Context, op string, kind models.EntityKind) error {
	s.mu.Lock()
	s.calls[op]++
	err := s.failures[op]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &models.TransportError{Op: op, Kind: kind, Err: ctx.Err()}
		}
	}
	if err != nil {
		return &models.TransportError{Op: op, Kind: kind, Err: err}
	}
	return nil
}

func (s *Store) UpsertClient(ctx context.Context, doc models.ClientDocument) error {
	if err := s.begin(ctx, OpUpsert, models.KindClient); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.clients[doc.SourceID]; ok {
		doc.ID = prev.ID
	} else {
		doc.ID = bson.NewObjectID()
	}
	s.clients[doc.SourceID] = doc
	return nil
}

func (s *Store) UpsertBooking(ctx context.Context, doc models.BookingDocument) error {
	if err := s.begin(ctx, OpUpsert, models.KindBooking); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.bookings[doc.SourceID]; ok {
		doc.ID = prev.ID
	} else {
		doc.ID = bson.NewObjectID()
	}
	s.bookings[doc.SourceID] = doc
	return nil
}

func (s *Store) DeleteBySourceID(ctx context.Context, kind models.EntityKind, id int64) error {
	if err := s.begin(ctx, OpDelete, kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case models.KindClient:
		delete(s.clients, id)
	case models.KindBooking:
		delete(s.bookings, id)
	default:
		return models.NewValidationError("kind", "unknown entity kind %q", kind)
	}
	return nil
}

func (s *Store) FindClients(ctx context.Context, q models.Query) ([]models.ClientDocument, error) {
	q, err := q.Normalize(models.KindClient)
	if err != nil {
		return nil, err
	}
	if err := s.begin(ctx, OpFind, models.KindClient); err != nil {
		return nil, err
	}

	s.mu.RLock()
	all := make([]models.ClientDocument, 0, len(s.clients))
	for _, d := range s.clients {
		all = append(all, d)
	}
	s.mu.RUnlock()

	return apply(all, q, clientValue), nil
}

func (s *Store) FindBookings(ctx context.Context, q models.Query) ([]models.BookingDocument, error) {
	q, err := q.Normalize(models.KindBooking)
	if err != nil {
		return nil, err
	}
	if err := s.begin(ctx, OpFind, models.KindBooking); err != nil {
		return nil, err
	}
	return s.bookingsMatching(q), nil
}

func (s *Store) AggregateBookings(ctx context.Context, match models.Query) (*domain.BookingAggregate, error) {
	q, err := match.Normalize(models.KindBooking)
	if err != nil {
		return nil, err
	}
	if err := s.begin(ctx, OpAggregate, models.KindBooking); err != nil {
		return nil, err
	}

	docs := s.bookingsMatching(models.Query{Where: q.Where, Sort: q.Sort})
	agg := &domain.BookingAggregate{Count: len(docs), Bookings: docs}
	for _, d := range docs {
		agg.Revenue += d.Price
	}
	return agg, nil
}

func (s *Store) Count(ctx context.Context, kind models.EntityKind) (int64, error) {
	if err := s.begin(ctx, OpCount, kind); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case models.KindClient:
		return int64(len(s.clients)), nil
	case models.KindBooking:
		return int64(len(s.bookings)), nil
	}
	return 0, models.NewValidationError("kind", "unknown entity kind %q", kind)
}

func (s *Store) bookingsMatching(q models.Query) []models.BookingDocument {
	s.mu.RLock()
	all := make([]models.BookingDocument, 0, len(s.bookings))
	for _, d := range s.bookings {
		all = append(all, d)
	}
	s.mu.RUnlock()
	return apply(all, q, bookingValue)
}

// apply filters, sorts (source_id tiebreaker) and pages docs.
func apply[T any](docs []T, q models.Query, value func(*T, string) any) []T {
	out := make([]T, 0, len(docs))
	for i := range docs {
		if matches(&docs[i], q.Where, value) {
			out = append(out, docs[i])
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range q.Sort {
			c := compare(value(&out[i], o.Field), value(&out[j], o.Field))
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return compare(value(&out[i], "id"), value(&out[j], "id")) < 0
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []T{}
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}

func matches[T any](doc *T, where []models.Predicate, value func(*T, string) any) bool {
	for _, p := range where {
		v := value(doc, p.Field)
		if v == nil {
			return false
		}
		c := compare(v, p.Value)
		ok := false
		switch p.Op {
		case models.OpEq:
			ok = c == 0
		case models.OpLt:
			ok = c < 0
		case models.OpLte:
			ok = c <= 0
		case models.OpGt:
			ok = c > 0
		case models.OpGte:
			ok = c >= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

func compare(a, b any) int {
	switch x := a.(type) {
	case int64:
		y, _ := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		y, _ := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case bool:
		y, _ := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case time.Time:
		y, _ := b.(time.Time)
		return x.Compare(y)
	case decimal.Decimal:
		y, _ := b.(decimal.Decimal)
		return x.Cmp(y)
	}
	return 0
}

func clientValue(d *models.ClientDocument, field string) any {
	switch field {
	case "id":
		return d.SourceID
	case "name":
		return d.Name
	case "email":
		return d.Email
	case "nationality":
		return d.Nationality
	case "sailing_experience":
		return d.SailingExperience
	case "rating":
		return int64(d.Rating)
	case "cancellations":
		return int64(d.Cancellations)
	case "active":
		return d.Active
	case "created_at":
		return d.CreatedAt
	case "updated_at":
		return d.UpdatedAt
	}
	return nil
}

func bookingValue(d *models.BookingDocument, field string) any {
	switch field {
	case "id":
		return d.SourceID
	case "client_id":
		return d.ClientID
	case "employee_id":
		if d.EmployeeID == nil {
			return nil
		}
		return *d.EmployeeID
	case "title":
		return d.Title
	case "service_type":
		return d.ServiceType
	case "destination":
		return d.Destination
	case "status":
		return d.Status
	case "payment_status":
		return d.PaymentStatus
	case "crew_services":
		return d.CrewServices
	case "start_date":
		return models.Day(d.StartDate)
	case "end_date":
		return models.Day(d.EndDate)
	case "price":
		return decimal.NewFromFloat(d.Price)
	case "created_at":
		return d.CreatedAt
	case "updated_at":
		return d.UpdatedAt
	}
	return nil
}
