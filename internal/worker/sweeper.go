package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"captaincrm/internal/logging"
	"captaincrm/internal/mirrorsync"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
)

// SweepRunner heals mirror drift for entities modified within a window.
type SweepRunner interface {
	SweepRecent(ctx context.Context, window time.Duration) (mirrorsync.SweepResult, error)
}

// Connector is the secondary store lifecycle the sweeper manages.
type Connector interface {
	Configured() bool
	Enabled() bool
	Connect(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Sweeper runs mirror sweeps on a fixed interval. While the secondary store
// is unreachable it reconnects with exponential backoff instead of sweeping.
type Sweeper struct {
	runner   SweepRunner
	conn     Connector
	interval time.Duration
	window   time.Duration
	retry    RetryPolicy
	logger   *zerolog.Logger

	mu       sync.Mutex
	failures int
	last     *mirrorsync.SweepResult
	lastAt   time.Time
}

func NewSweeper(runner SweepRunner, conn Connector, interval, window time.Duration, retry RetryPolicy, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 5 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = interval
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	return &Sweeper{
		runner:   runner,
		conn:     conn,
		interval: interval,
		window:   window,
		retry:    retry,
		logger:   logging.Component(logger, "sweeper"),
	}
}

// Start blocks until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	if s.conn != nil && !s.conn.Configured() {
		s.logger.Info().Msg("Secondary store disabled, sweeper not started")
		return
	}
	s.logger.Info().Dur("interval", s.interval).Dur("window", s.window).Msg("Sweeper started")
	defer s.logger.Info().Msg("Sweeper stopped")

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := s.interval
		if err := s.RunOnce(ctx); err != nil {
			next = s.backoff()
		}
		timer.Reset(next)
	}
}

// RunOnce checks the connection, reconnecting if needed, and performs a
// single sweep. A failed health check counts as a failure and skips the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if s.conn != nil {
		if s.conn.Enabled() {
			if err := s.conn.Ping(ctx); err != nil {
				s.recordFailure(err, "Secondary store health check failed")
				return err
			}
		} else if err := s.conn.Connect(ctx); err != nil {
			s.recordFailure(err, "Secondary store reconnect failed")
			return err
		}
	}

	res, err := s.runner.SweepRecent(ctx, s.window)
	if err != nil {
		if !errors.Is(err, models.ErrMirrorDisabled) {
			s.recordFailure(err, "Sweep failed")
		}
		return err
	}

	s.mu.Lock()
	s.failures = 0
	s.last = &res
	s.lastAt = time.Now()
	s.mu.Unlock()
	return nil
}

// LastResult returns the most recent successful sweep, if any.
func (s *Sweeper) LastResult() (*mirrorsync.SweepResult, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastAt
}

func (s *Sweeper) recordFailure(err error, msg string) {
	s.mu.Lock()
	s.failures++
	attempt := s.failures
	s.mu.Unlock()

	event := s.logger.Warn()
	if s.retry.Exhausted(attempt) {
		event = s.logger.Error()
	}
	event.Err(err).Int("attempt", attempt).Msg(msg)
}

func (s *Sweeper) backoff() time.Duration {
	s.mu.Lock()
	attempt := s.failures
	s.mu.Unlock()
	if attempt == 0 {
		return s.interval
	}
	return s.retry.NextDelay(attempt)
}
