package mirrortest

import (
	"context"
	"testing"
	"time"

	"captaincrm/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, _ := time.Parse(models.DateLayout, s)
	return t
}

func TestStore_QueryEvaluation(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertBooking(ctx, models.BookingDocument{SourceID: 1, ClientID: 10, StartDate: day("2024-06-01"), EndDate: day("2024-06-03"), Price: 100}))
	require.NoError(t, s.UpsertBooking(ctx, models.BookingDocument{SourceID: 2, ClientID: 10, StartDate: day("2024-06-05"), EndDate: day("2024-06-05"), Price: 250.5}))
	require.NoError(t, s.UpsertBooking(ctx, models.BookingDocument{SourceID: 3, ClientID: 11, StartDate: day("2024-07-01"), EndDate: day("2024-07-02"), Price: 50}))

	docs, err := s.FindBookings(ctx, models.Query{
		Where: []models.Predicate{models.Eq("client_id", 10)},
		Sort:  []models.Order{{Field: "start_date", Desc: true}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.EqualValues(t, 2, docs[0].SourceID)

	docs, err = s.FindBookings(ctx, models.Query{Where: []models.Predicate{models.Gte("end_date", "2024-06-03"), models.Lte("start_date", "2024-06-30")}})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = s.FindBookings(ctx, models.Query{Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.EqualValues(t, 3, docs[0].SourceID)

	agg, err := s.AggregateBookings(ctx, models.Query{Where: []models.Predicate{models.Eq("client_id", 10)}})
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Count)
	assert.InDelta(t, 350.5, agg.Revenue, 0.001)

	_, err = s.FindBookings(ctx, models.Query{Where: []models.Predicate{models.Eq("notes", "x")}})
	assert.ErrorIs(t, err, models.ErrUnsupportedQuery)
}

func TestStore_UpsertKeepsObjectID(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertClient(ctx, models.ClientDocument{SourceID: 1, Name: "A"}))
	first, _ := s.Client(1)
	require.NoError(t, s.UpsertClient(ctx, models.ClientDocument{SourceID: 1, Name: "B"}))
	second, _ := s.Client(1)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "B", second.Name)

	n, err := s.Count(ctx, models.KindClient)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestStore_FailureInjection(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.FailOn(OpUpsert, ErrInjected)
	err := s.UpsertClient(ctx, models.ClientDocument{SourceID: 1})
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 1, s.Calls(OpUpsert))

	s.FailAll(nil)
	assert.NoError(t, s.UpsertClient(ctx, models.ClientDocument{SourceID: 1}))

	s.SetDelay(time.Second)
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = s.Count(cctx, models.KindClient)
	assert.ErrorIs(t, err, models.ErrTransport)
}
