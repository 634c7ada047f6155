package perf

import (
	"context"
	"io"
	"testing"
	"time"

	"captaincrm/internal/database"
	"captaincrm/internal/mirrorsync"
	"captaincrm/internal/mirrortest"
	"captaincrm/internal/models"
	"captaincrm/internal/router"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Harness, *mirrortest.Store, int64) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mirror := mirrortest.New()
	db.SetNotifier(mirrorsync.NewEngine(db, mirror, &logger))

	ctx := context.Background()
	c := &models.Client{Name: "Nikos", Email: "nikos@example.com"}
	require.NoError(t, db.CreateClient(ctx, c))
	for i, svc := range []string{models.ServiceCharter, models.ServiceCharter, models.ServiceDelivery} {
		start := time.Date(2024, 5, 1+i*7, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 0, 3)
		require.NoError(t, db.CreateBooking(ctx, &models.Booking{
			ClientID:    c.ID,
			ServiceType: svc,
			Destination: "turkey",
			StartDate:   start,
			EndDate:     &end,
			Price:       decimal.NewFromInt(100),
		}))
	}

	h := NewHarness(router.NewPrimaryBackend(db), router.NewMirrorBackend(mirror), &logger)
	return h, mirror, c.ID
}

func TestRunTest_AllTests(t *testing.T) {
	h, _, clientID := setup(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params map[string]string
		want   int
	}{
		{TestClientBookings, map[string]string{"client_id": "1"}, 3},
		{TestCalendarEvents, map[string]string{"start": "2024-05-01", "end": "2024-05-09"}, 2},
		{TestReport, map[string]string{"year": "2024", "month": "5"}, 3},
		{TestGeneralQuery, map[string]string{"field": "service_type", "value": models.ServiceCharter}, 2},
	}
	require.Equal(t, int64(1), clientID)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := h.RunTest(ctx, tc.name, tc.params)
			require.NoError(t, err)
			assert.Equal(t, tc.name, res.Test)
			assert.Empty(t, res.Primary.Error)
			assert.Empty(t, res.Secondary.Error)
			assert.Equal(t, tc.want, res.Primary.RecordCount)
			assert.Equal(t, tc.want, res.Secondary.RecordCount)
			assert.GreaterOrEqual(t, res.Primary.TimeMS, 0.0)
			assert.GreaterOrEqual(t, res.Secondary.MemoryKB, 0.0)
		})
	}
}

func TestRunTest_LegsAreIndependent(t *testing.T) {
	h, mirror, _ := setup(t)
	ctx := context.Background()

	mirror.FailAll(mirrortest.ErrInjected)
	res, err := h.RunTest(ctx, TestGeneralQuery, map[string]string{"field": "destination", "value": "turkey"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Primary.RecordCount)
	assert.Empty(t, res.Primary.Error)
	assert.Contains(t, res.Secondary.Error, "injected failure")
	assert.Zero(t, res.Secondary.RecordCount)

	mirror.FailAll(nil)
	mirror.SetEnabled(false)
	res, err = h.RunTest(ctx, TestClientBookings, map[string]string{"client_id": "1"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Primary.RecordCount)
	assert.Equal(t, models.ErrMirrorDisabled.Error(), res.Secondary.Error)
}

func TestRunTest_InvalidParameters(t *testing.T) {
	h, _, _ := setup(t)
	ctx := context.Background()

	_, err := h.RunTest(ctx, "bogus", nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.RunTest(ctx, TestClientBookings, map[string]string{})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.RunTest(ctx, TestCalendarEvents, map[string]string{"start": "2024-05-09", "end": "2024-05-01"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.RunTest(ctx, TestReport, map[string]string{"year": "2024", "month": "13"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.RunTest(ctx, TestGeneralQuery, map[string]string{"field": "notes", "value": "x"})
	assert.ErrorIs(t, err, models.ErrUnsupportedQuery)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.23, round2(1.2345))
	assert.Equal(t, 0.0, round2(0))
}
