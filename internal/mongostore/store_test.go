package mongostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"captaincrm/internal/config"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestFilter(t *testing.T) {
	q, err := models.Query{Where: []models.Predicate{
		models.Eq("client_id", 7),
		models.Gte("start_date", "2024-06-01"),
		models.Lte("start_date", "2024-06-30"),
		models.Eq("id", int64(3)),
	}}.Normalize(models.KindBooking)
	require.NoError(t, err)

	filter := Filter(models.KindBooking, q.Where)
	want := bson.D{
		{Key: "client_id", Value: int64(7)},
		{Key: "start_date", Value: bson.D{
			{Key: "$gte", Value: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
			{Key: "$lte", Value: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)},
		}},
		{Key: "source_id", Value: int64(3)},
	}
	assert.Equal(t, want, filter)
}

func TestFilter_DecimalBecomesFloat(t *testing.T) {
	q, err := models.Query{Where: []models.Predicate{models.Gt("price", "99.50")}}.Normalize(models.KindBooking)
	require.NoError(t, err)

	filter := Filter(models.KindBooking, q.Where)
	require.Len(t, filter, 1)
	assert.Equal(t, bson.D{{Key: "$gt", Value: 99.5}}, filter[0].Value)
}

func TestSort(t *testing.T) {
	assert.Equal(t,
		bson.D{{Key: "start_date", Value: -1}, {Key: "source_id", Value: 1}},
		Sort([]models.Order{{Field: "start_date", Desc: true}}))

	assert.Equal(t,
		bson.D{{Key: "source_id", Value: -1}},
		Sort([]models.Order{{Field: "id", Desc: true}}))
}

func TestFindArgs_RejectsUnsupportedQuery(t *testing.T) {
	_, _, err := FindArgs(models.KindBooking, models.Query{Where: []models.Predicate{models.Eq("contract", "x")}})
	assert.ErrorIs(t, err, models.ErrUnsupportedQuery)

	_, _, err = FindArgs(models.KindClient, models.Query{Sort: []models.Order{{Field: "email"}}})
	assert.ErrorIs(t, err, models.ErrUnsupportedQuery)
}

func TestReportPipeline(t *testing.T) {
	p, err := ReportPipeline(models.Query{Where: []models.Predicate{models.Eq("service_type", models.ServiceCharter)}})
	require.NoError(t, err)
	require.Len(t, p, 3)
	assert.Equal(t, "$match", p[0][0].Key)
	assert.Equal(t, "$sort", p[1][0].Key)
	assert.Equal(t, "$group", p[2][0].Key)

	group := p[2][0].Value.(bson.D)
	assert.Equal(t, "_id", group[0].Key)
	assert.Nil(t, group[0].Value)
	assert.Equal(t, bson.D{{Key: "$push", Value: "$$ROOT"}}, group[3].Value)
}

func TestStore_Disabled(t *testing.T) {
	s := New(config.SecondaryStoreConfig{Enabled: false}, testLogger())
	ctx := context.Background()

	assert.False(t, s.Configured())
	assert.False(t, s.Enabled())
	assert.ErrorIs(t, s.Connect(ctx), models.ErrMirrorDisabled)
	assert.ErrorIs(t, s.UpsertClient(ctx, models.ClientDocument{SourceID: 1}), models.ErrMirrorDisabled)
	assert.NoError(t, s.Close(ctx))
}

func TestStore_NotConnected(t *testing.T) {
	s := New(config.SecondaryStoreConfig{Enabled: true, URI: "mongodb://127.0.0.1:1", Name: "crm"}, testLogger())
	ctx := context.Background()

	assert.True(t, s.Configured())
	assert.False(t, s.Enabled())

	_, err := s.FindBookings(ctx, models.Query{})
	assert.ErrorIs(t, err, models.ErrTransport)

	_, err = s.Count(ctx, models.KindClient)
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestStore_ConnectFailure(t *testing.T) {
	s := New(config.SecondaryStoreConfig{
		Enabled: true,
		URI:     "mongodb://127.0.0.1:1",
		Name:    "crm",
		Timeout: 200 * time.Millisecond,
	}, testLogger())
	defer s.Close(context.Background())

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.False(t, s.Enabled())
}

func TestStore_UnreachableMarksDisconnected(t *testing.T) {
	s := New(config.SecondaryStoreConfig{Enabled: true, URI: "mongodb://127.0.0.1:1", Name: "crm"}, testLogger())
	s.connected = true
	require.True(t, s.Enabled())

	err := s.fail("upsert", models.KindClient, errors.New("E11000 duplicate key"))
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.True(t, s.Enabled(), "server-side errors keep the connection")

	err = s.fail("upsert", models.KindClient, context.DeadlineExceeded)
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.False(t, s.Enabled())
}

func TestUnreachable(t *testing.T) {
	assert.True(t, unreachable(context.DeadlineExceeded))
	assert.True(t, unreachable(fmt.Errorf("wrapped: %w", mongo.ErrClientDisconnected)))
	assert.False(t, unreachable(errors.New("bad filter")))
	assert.False(t, unreachable(mongo.ErrNoDocuments))
}
