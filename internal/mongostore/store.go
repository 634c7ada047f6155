package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"captaincrm/internal/config"
	"captaincrm/internal/domain"
	"captaincrm/internal/logging"
	"captaincrm/internal/metrics"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Store mirrors clients and bookings into MongoDB. It is usable only when
// configured and after a successful Connect.
type Store struct {
	cfg    config.SecondaryStoreConfig
	logger *zerolog.Logger

	mu        sync.RWMutex
	client    *mongo.Client
	db        *mongo.Database
	connected bool
}

var _ domain.MirrorStore = (*Store)(nil)

func New(cfg config.SecondaryStoreConfig, logger *zerolog.Logger) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Store{cfg: cfg, logger: logging.Component(logger, "mongostore")}
}

// Configured reports whether the secondary store is switched on in config.
func (s *Store) Configured() bool {
	return s.cfg.Enabled && s.cfg.URI != ""
}

// Enabled reports whether the store is configured and the last connection attempt succeeded.
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Configured() && s.connected
}

// Connect opens the client and pings the primary. Repeated calls reuse a healthy connection.
func (s *Store) Connect(ctx context.Context) error {
	if !s.Configured() {
		return models.ErrMirrorDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	if s.client == nil {
		client, err := mongo.Connect(options.Client().
			ApplyURI(s.cfg.URI).
			SetServerSelectionTimeout(s.cfg.Timeout).
			SetConnectTimeout(s.cfg.Timeout))
		if err != nil {
			return s.transport("connect", "", err)
		}
		s.client = client
		s.db = client.Database(s.cfg.Name)
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.client.Ping(pingCtx, readpref.Primary()); err != nil {
		return s.transport("ping", "", err)
	}

	s.connected = true
	s.logger.Info().Str("database", s.cfg.Name).Msg("Secondary store connected")
	return nil
}

// Ping checks the live connection and flags the store disconnected on failure.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return models.ErrMirrorDisabled
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		return s.transport("ping", "", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client = nil
	s.db = nil
	s.connected = false
	return err
}

// CreateIndexes creates the source_id unique indexes and the query indexes.
func (s *Store) CreateIndexes(ctx context.Context) error {
	indexes := map[models.EntityKind][]mongo.IndexModel{
		models.KindClient: {
			{Keys: bson.D{{Key: "source_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}},
		},
		models.KindBooking: {
			{Keys: bson.D{{Key: "source_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "start_date", Value: -1}}},
			{Keys: bson.D{{Key: "start_date", Value: 1}}},
			{Keys: bson.D{{Key: "end_date", Value: 1}}},
			{Keys: bson.D{{Key: "service_type", Value: 1}}},
			{Keys: bson.D{{Key: "destination", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
	}

	for kind, idx := range indexes {
		coll, err := s.collection(kind)
		if err != nil {
			return err
		}
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		_, err = coll.Indexes().CreateMany(opCtx, idx)
		cancel()
		if err != nil {
			return s.fail("create_indexes", kind, err)
		}
	}
	return nil
}

func (s *Store) UpsertClient(ctx context.Context, doc models.ClientDocument) error {
	return s.upsert(ctx, models.KindClient, doc.SourceID, doc)
}

func (s *Store) UpsertBooking(ctx context.Context, doc models.BookingDocument) error {
	return s.upsert(ctx, models.KindBooking, doc.SourceID, doc)
}

// upsert replaces the document keyed by source_id, inserting it when absent.
func (s *Store) upsert(ctx context.Context, kind models.EntityKind, sourceID int64, doc any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveMirrorOp(string(kind), "upsert", err, time.Since(start)) }()

	coll, err := s.collection(kind)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	_, err = coll.ReplaceOne(opCtx, bson.D{{Key: "source_id", Value: sourceID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return s.fail("upsert", kind, err)
	}
	return nil
}

// DeleteBySourceID removes the mirror of an entity. Missing documents are not an error.
func (s *Store) DeleteBySourceID(ctx context.Context, kind models.EntityKind, id int64) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveMirrorOp(string(kind), "delete", err, time.Since(start)) }()

	coll, err := s.collection(kind)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if _, err = coll.DeleteOne(opCtx, bson.D{{Key: "source_id", Value: id}}); err != nil {
		return s.fail("delete", kind, err)
	}
	return nil
}

func (s *Store) FindClients(ctx context.Context, q models.Query) ([]models.ClientDocument, error) {
	var docs []models.ClientDocument
	if err := s.find(ctx, models.KindClient, q, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) FindBookings(ctx context.Context, q models.Query) ([]models.BookingDocument, error) {
	var docs []models.BookingDocument
	if err := s.find(ctx, models.KindBooking, q, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) find(ctx context.Context, kind models.EntityKind, q models.Query, out any) (err error) {
	filter, opts, err := FindArgs(kind, q)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() { metrics.ObserveMirrorOp(string(kind), "find", err, time.Since(start)) }()

	coll, err := s.collection(kind)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	cursor, err := coll.Find(opCtx, filter, opts)
	if err != nil {
		return s.fail("find", kind, err)
	}
	if err = cursor.All(opCtx, out); err != nil {
		return s.fail("find", kind, err)
	}
	return nil
}

type aggregateResult struct {
	Count    int                      `bson:"count"`
	Revenue  float64                  `bson:"revenue"`
	Bookings []models.BookingDocument `bson:"bookings"`
}

// AggregateBookings groups all bookings matching the query into one bucket
// holding the count, the price sum and the documents themselves.
func (s *Store) AggregateBookings(ctx context.Context, match models.Query) (agg *domain.BookingAggregate, err error) {
	pipeline, err := ReportPipeline(match)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { metrics.ObserveMirrorOp(string(models.KindBooking), "aggregate", err, time.Since(start)) }()

	coll, err := s.collection(models.KindBooking)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	cursor, err := coll.Aggregate(opCtx, pipeline)
	if err != nil {
		return nil, s.fail("aggregate", models.KindBooking, err)
	}
	var results []aggregateResult
	if err = cursor.All(opCtx, &results); err != nil {
		return nil, s.fail("aggregate", models.KindBooking, err)
	}

	agg = &domain.BookingAggregate{}
	if len(results) > 0 {
		agg.Count = results[0].Count
		agg.Revenue = results[0].Revenue
		agg.Bookings = results[0].Bookings
	}
	return agg, nil
}

func (s *Store) Count(ctx context.Context, kind models.EntityKind) (int64, error) {
	coll, err := s.collection(kind)
	if err != nil {
		return 0, err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	n, err := coll.CountDocuments(opCtx, bson.D{})
	if err != nil {
		return 0, s.fail("count", kind, err)
	}
	return n, nil
}

// FindBySourceID loads one mirrored document into out.
func (s *Store) FindBySourceID(ctx context.Context, kind models.EntityKind, id int64, out any) error {
	coll, err := s.collection(kind)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	err = coll.FindOne(opCtx, bson.D{{Key: "source_id", Value: id}}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &models.NotFoundError{Kind: kind, ID: id}
	}
	if err != nil {
		return s.fail("find_one", kind, err)
	}
	return nil
}

func (s *Store) collection(kind models.EntityKind) (*mongo.Collection, error) {
	name := kind.Collection()
	if name == "" {
		return nil, models.NewValidationError("kind", "unknown entity kind %q", kind)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.Configured() {
		return nil, models.ErrMirrorDisabled
	}
	if s.db == nil || !s.connected {
		return nil, &models.TransportError{Op: "collection", Kind: kind, Err: errors.New("secondary store not connected")}
	}
	return s.db.Collection(name), nil
}

// fail converts err and flags the store disconnected when the server is
// unreachable, so writers stop waiting on it until the next Connect.
func (s *Store) fail(op string, kind models.EntityKind, err error) error {
	if unreachable(err) {
		s.mu.Lock()
		if s.connected {
			s.connected = false
			s.logger.Warn().Str("op", op).Msg("Secondary store unreachable, marked disconnected")
		}
		s.mu.Unlock()
	}
	return s.transport(op, kind, err)
}

func unreachable(err error) bool {
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mongo.ErrClientDisconnected)
}

func (s *Store) transport(op string, kind models.EntityKind, err error) error {
	s.logger.Error().Err(err).Str("op", op).Str("kind", string(kind)).Msg("Secondary store operation failed")
	return &models.TransportError{Op: op, Kind: kind, Err: fmt.Errorf("mongodb %s: %w", op, err)}
}
