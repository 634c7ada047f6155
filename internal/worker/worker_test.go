package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"captaincrm/internal/database"
	"captaincrm/internal/mirrorsync"
	"captaincrm/internal/mirrortest"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls  atomic.Int32
	err    error
	window time.Duration
}

func (f *fakeRunner) SweepRecent(_ context.Context, window time.Duration) (mirrorsync.SweepResult, error) {
	f.calls.Add(1)
	f.window = window
	return mirrorsync.SweepResult{Scanned: 2, Synced: 2}, f.err
}

type fakeConn struct {
	configured bool
	enabled    bool
	connectErr error
	pingErr    error
	connects   int
	pings      int
}

func (f *fakeConn) Configured() bool { return f.configured }
func (f *fakeConn) Enabled() bool    { return f.enabled }
func (f *fakeConn) Connect(context.Context) error {
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.enabled = true
	return nil
}

func (f *fakeConn) Ping(context.Context) error {
	f.pings++
	if f.pingErr != nil {
		f.enabled = false
	}
	return f.pingErr
}

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}

	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 5*time.Second, p.NextDelay(4))
	assert.Equal(t, 5*time.Second, p.NextDelay(200))

	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(1))

	uncapped := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 10}
	assert.Equal(t, 100*time.Second, uncapped.NextDelay(3))
	assert.Positive(t, uncapped.NextDelay(500))
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	assert.False(t, RetryPolicy{}.Exhausted(100))
	assert.False(t, RetryPolicy{MaxRetries: 3}.Exhausted(3))
	assert.True(t, RetryPolicy{MaxRetries: 3}.Exhausted(4))
}

func TestSweeper_RunOnce(t *testing.T) {
	runner := &fakeRunner{}
	conn := &fakeConn{configured: true, enabled: true}
	s := NewSweeper(runner, conn, time.Minute, 15*time.Minute, RetryPolicy{}, testLogger())

	require.NoError(t, s.RunOnce(context.Background()))
	assert.EqualValues(t, 1, runner.calls.Load())
	assert.Equal(t, 15*time.Minute, runner.window)

	last, at := s.LastResult()
	require.NotNil(t, last)
	assert.Equal(t, 2, last.Synced)
	assert.False(t, at.IsZero())
}

func TestSweeper_ReconnectsBeforeSweeping(t *testing.T) {
	runner := &fakeRunner{}
	conn := &fakeConn{configured: true, connectErr: errors.New("refused")}
	s := NewSweeper(runner, conn, time.Minute, time.Minute, RetryPolicy{InitialDelay: time.Second, MaxDelay: 10 * time.Second}, testLogger())

	assert.Error(t, s.RunOnce(context.Background()))
	assert.Error(t, s.RunOnce(context.Background()))
	assert.Zero(t, runner.calls.Load())
	assert.Equal(t, 2*time.Second, s.backoff())

	conn.connectErr = nil
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 3, conn.connects)
	assert.EqualValues(t, 1, runner.calls.Load())
	assert.Equal(t, time.Minute, s.backoff())
}

func TestSweeper_NotConfigured(t *testing.T) {
	runner := &fakeRunner{}
	s := NewSweeper(runner, &fakeConn{}, time.Millisecond, time.Minute, RetryPolicy{}, testLogger())

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper should return immediately when the secondary store is not configured")
	}
	assert.Zero(t, runner.calls.Load())
}

func TestSweeper_StartStopsOnCancel(t *testing.T) {
	runner := &fakeRunner{}
	s := NewSweeper(runner, &fakeConn{configured: true, enabled: true}, 5*time.Millisecond, time.Minute, RetryPolicy{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeper_HealthCheckFailureSkipsSweep(t *testing.T) {
	runner := &fakeRunner{}
	conn := &fakeConn{configured: true, enabled: true, pingErr: errors.New("no reachable servers")}
	s := NewSweeper(runner, conn, time.Minute, time.Minute, RetryPolicy{InitialDelay: time.Second}, testLogger())

	assert.Error(t, s.RunOnce(context.Background()))
	assert.Zero(t, runner.calls.Load())
	assert.Equal(t, time.Second, s.backoff())

	conn.pingErr = nil
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, conn.connects)
	assert.EqualValues(t, 1, runner.calls.Load())
}

func TestSweeper_OutageAfterConnect(t *testing.T) {
	logger := testLogger()
	db, err := database.NewDB(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mirror := mirrortest.New()
	engine := mirrorsync.NewEngine(db, mirror, logger)
	db.SetNotifier(engine)

	ctx := context.Background()
	for i := range 3 {
		c := &models.Client{Name: fmt.Sprintf("Guest %d", i), Email: fmt.Sprintf("guest%d@example.com", i)}
		require.NoError(t, db.CreateClient(ctx, c))
	}

	mirror.FailAll(&models.TransportError{Op: "upsert", Err: errors.New("connection reset")})
	conn := &fakeConn{configured: true, enabled: true}
	s := NewSweeper(engine, conn, time.Minute, time.Hour, RetryPolicy{InitialDelay: time.Second, MaxDelay: 30 * time.Second}, logger)

	err = s.RunOnce(ctx)
	assert.ErrorIs(t, err, models.ErrTransport)
	last, _ := s.LastResult()
	assert.Nil(t, last)
	assert.Equal(t, time.Second, s.backoff())

	assert.Error(t, s.RunOnce(ctx))
	assert.Equal(t, 2*time.Second, s.backoff())

	mirror.FailAll(nil)
	require.NoError(t, s.RunOnce(ctx))
	last, _ = s.LastResult()
	require.NotNil(t, last)
	assert.Equal(t, 3, last.Synced)
	assert.Equal(t, time.Minute, s.backoff())
}
