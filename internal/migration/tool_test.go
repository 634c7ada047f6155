package migration

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"captaincrm/internal/config"
	"captaincrm/internal/database"
	"captaincrm/internal/events"
	"captaincrm/internal/mirrorsync"
	"captaincrm/internal/mirrortest"
	"captaincrm/internal/models"
	"captaincrm/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	*repository.MemoryProgressRepository
	saves atomic.Int32
}

func (r *countingRepo) SaveProgress(ctx context.Context, p *models.ProgressRecord) error {
	r.saves.Add(1)
	return r.MemoryProgressRepository.SaveProgress(ctx, p)
}

type fixture struct {
	db       *database.DB
	mirror   *mirrortest.Store
	progress *countingRepo
	bus      *events.EventBus
	tool     *Tool
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mirror := mirrortest.New()
	engine := mirrorsync.NewEngine(db, mirror, &logger)
	db.SetNotifier(engine)

	f := &fixture{
		db:       db,
		mirror:   mirror,
		progress: &countingRepo{MemoryProgressRepository: repository.NewMemoryProgressRepository()},
		bus:      events.NewEventBus(),
	}
	f.tool = NewTool(db, mirror, engine, f.progress, f.bus, config.MigrationConfig{PageSize: 7}, &logger)
	return f
}

// seedClients creates n clients while the mirror is switched off.
func (f *fixture) seedClients(t *testing.T, n int) {
	t.Helper()
	f.mirror.SetEnabled(false)
	for i := 0; i < n; i++ {
		c := &models.Client{Name: fmt.Sprintf("Client %02d", i), Email: fmt.Sprintf("c%02d@example.com", i)}
		require.NoError(t, f.db.CreateClient(context.Background(), c))
	}
	f.mirror.SetEnabled(true)
}

func TestRun_CopiesEverything(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedClients(t, 25)

	var completed []*events.Event
	f.bus.Subscribe(events.EventMigrationCompleted, func(e *events.Event) error {
		completed = append(completed, e)
		return nil
	})

	p, err := f.tool.Run(ctx, models.KindClient)
	require.NoError(t, err)
	assert.True(t, p.Completed)
	assert.NotNil(t, p.EndTime)
	assert.Equal(t, int64(25), p.Total)
	assert.Equal(t, int64(25), p.Processed)
	assert.Empty(t, p.Errors)
	require.Len(t, completed, 1)
	assert.JSONEq(t, `{"kind":"client","total":25,"processed":25,"errors":0}`, string(completed[0].Payload))

	// initial save, every 10 entities, final save
	assert.Equal(t, int32(4), f.progress.saves.Load())

	n, err := f.mirror.Count(ctx, models.KindClient)
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)

	counts, err := f.db.MirrorStateCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), counts[models.KindClient][models.MirrorSynced])

	stored, err := f.tool.Progress(ctx, models.KindClient)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.Percent())
}

func TestRun_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedClients(t, 3)

	_, err := f.tool.Run(ctx, models.KindClient)
	require.NoError(t, err)
	_, err = f.tool.Run(ctx, models.KindClient)
	require.NoError(t, err)

	n, err := f.mirror.Count(ctx, models.KindClient)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRun_AccumulatesErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedClients(t, 4)

	f.mirror.FailOn(mirrortest.OpUpsert, mirrortest.ErrInjected)
	p, err := f.tool.Run(ctx, models.KindClient)
	require.NoError(t, err)
	assert.True(t, p.Completed)
	assert.Equal(t, int64(4), p.Processed)
	assert.Len(t, p.Errors, 4)
	assert.Contains(t, p.Errors[0], "injected failure")

	// The lock is released after a run with failures.
	f.mirror.FailOn(mirrortest.OpUpsert, nil)
	p, err = f.tool.Run(ctx, models.KindClient)
	require.NoError(t, err)
	assert.Empty(t, p.Errors)
}

func TestStart_RejectsConcurrentRun(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedClients(t, 2)

	ok, err := f.progress.AcquireRunLock(ctx, models.KindClient, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.tool.Start(ctx, models.KindClient)
	assert.ErrorIs(t, err, models.ErrMigrationInProgress)

	require.NoError(t, f.progress.ReleaseRunLock(ctx, models.KindClient))
	p, err := f.tool.Start(ctx, models.KindClient)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Total)
	assert.False(t, p.Completed)

	f.tool.Wait()
	stored, err := f.tool.Progress(ctx, models.KindClient)
	require.NoError(t, err)
	assert.True(t, stored.Completed)
	assert.Equal(t, int64(2), stored.Processed)
}

func TestStart_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.tool.Progress(ctx, models.KindBooking)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.tool.Start(ctx, models.EntityKind("yacht"))
	assert.ErrorIs(t, err, models.ErrValidation)

	f.mirror.SetEnabled(false)
	_, err = f.tool.Start(ctx, models.KindClient)
	assert.ErrorIs(t, err, models.ErrMirrorDisabled)
	_, err = f.tool.Verify(ctx, models.KindClient)
	assert.ErrorIs(t, err, models.ErrMirrorDisabled)
}

func TestVerify(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedClients(t, 8)

	_, err := f.tool.Run(ctx, models.KindClient)
	require.NoError(t, err)

	rep, err := f.tool.Verify(ctx, models.KindClient)
	require.NoError(t, err)
	assert.True(t, rep.CountMatch)
	assert.Len(t, rep.Samples, 5)
	assert.Empty(t, rep.Discrepancies)
	for _, s := range rep.Samples {
		assert.True(t, s.Match, "sample %d", s.ID)
		assert.Equal(t, "name", s.Field)
	}

	// Tamper with one mirror document and drop another.
	f.tool.rand = func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	first, ok := f.mirror.Client(1)
	require.True(t, ok)
	first.Name = "Someone Else"
	require.NoError(t, f.mirror.UpsertClient(ctx, first))
	require.NoError(t, f.mirror.DeleteBySourceID(ctx, models.KindClient, 2))

	rep, err = f.tool.Verify(ctx, models.KindClient)
	require.NoError(t, err)
	assert.False(t, rep.CountMatch)
	assert.Equal(t, int64(8), rep.PrimaryCount)
	assert.Equal(t, int64(7), rep.SecondaryCount)
	assert.False(t, rep.Samples[0].Match)
	assert.Equal(t, "Someone Else", rep.Samples[0].SecondaryValue)
	assert.False(t, rep.Samples[1].InSecondary)
	assert.Len(t, rep.Discrepancies, 3)

	stored, err := f.tool.LastVerifyReport(ctx, models.KindClient)
	require.NoError(t, err)
	assert.Equal(t, rep.Discrepancies, stored.Discrepancies)
}

func TestVerify_Bookings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedClients(t, 1)

	b := &models.Booking{ClientID: 1, Title: "Ionian week", ServiceType: models.ServiceCharter, Destination: "greece", StartDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, f.db.CreateBooking(ctx, b))

	rep, err := f.tool.Verify(ctx, models.KindBooking)
	require.NoError(t, err)
	require.Len(t, rep.Samples, 1)
	assert.Equal(t, "title", rep.Samples[0].Field)
	assert.True(t, rep.Samples[0].Match)
}
