package repository

import (
	"context"
	"sync/atomic"
	"time"

	"captaincrm/internal/domain"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
)

var _ domain.ProgressRepository = (*FailoverProgressRepository)(nil)

// FailoverProgressRepository uses the primary repository until it fails, then
// the fallback. The primary is retried once a minute.
type FailoverProgressRepository struct {
	primary   domain.ProgressRepository
	fallback  domain.ProgressRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverProgressRepository(primary, fallback domain.ProgressRepository, logger *zerolog.Logger) *FailoverProgressRepository {
	return &FailoverProgressRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverProgressRepository) markDown(err error) {
	if !r.isDown.Load() {
		r.logger.Error().Err(err).Msg("Primary progress repository failed, falling back to memory")
	}
	r.isDown.Store(true)
	r.lastCheck.Store(r.now().UnixNano())
}

// usePrimary reports whether the primary should be tried, allowing one probe
// per minute while it is down.
func (r *FailoverProgressRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	last := r.lastCheck.Load()
	if r.now().Sub(time.Unix(0, last)) <= time.Minute {
		return false
	}
	return r.lastCheck.CompareAndSwap(last, r.now().UnixNano())
}

func (r *FailoverProgressRepository) recovered() {
	if r.isDown.CompareAndSwap(true, false) {
		r.logger.Info().Msg("Primary progress repository recovered")
	}
}

func (r *FailoverProgressRepository) GetProgress(ctx context.Context, kind models.EntityKind) (*models.ProgressRecord, error) {
	if r.usePrimary() {
		p, err := r.primary.GetProgress(ctx, kind)
		if err == nil {
			r.recovered()
			return p, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetProgress(ctx, kind)
}

// SaveProgress always writes the fallback too, so a later outage still finds
// the latest record.
func (r *FailoverProgressRepository) SaveProgress(ctx context.Context, progress *models.ProgressRecord) error {
	if err := r.fallback.SaveProgress(ctx, progress); err != nil {
		return err
	}
	if r.usePrimary() {
		if err := r.primary.SaveProgress(ctx, progress); err != nil {
			r.markDown(err)
			return nil
		}
		r.recovered()
	}
	return nil
}

func (r *FailoverProgressRepository) GetVerifyReport(ctx context.Context, kind models.EntityKind) (*models.VerifyReport, error) {
	if r.usePrimary() {
		rep, err := r.primary.GetVerifyReport(ctx, kind)
		if err == nil {
			r.recovered()
			return rep, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetVerifyReport(ctx, kind)
}

func (r *FailoverProgressRepository) SaveVerifyReport(ctx context.Context, report *models.VerifyReport) error {
	if err := r.fallback.SaveVerifyReport(ctx, report); err != nil {
		return err
	}
	if r.usePrimary() {
		if err := r.primary.SaveVerifyReport(ctx, report); err != nil {
			r.markDown(err)
			return nil
		}
		r.recovered()
	}
	return nil
}

func (r *FailoverProgressRepository) AcquireRunLock(ctx context.Context, kind models.EntityKind, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.AcquireRunLock(ctx, kind, ttl)
		if err == nil {
			r.recovered()
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.AcquireRunLock(ctx, kind, ttl)
}

func (r *FailoverProgressRepository) RefreshRunLock(ctx context.Context, kind models.EntityKind, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.RefreshRunLock(ctx, kind, ttl)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.RefreshRunLock(ctx, kind, ttl)
}

// ReleaseRunLock releases both locks; a lock taken during an outage lives in
// the fallback.
func (r *FailoverProgressRepository) ReleaseRunLock(ctx context.Context, kind models.EntityKind) error {
	_ = r.fallback.ReleaseRunLock(ctx, kind)
	if r.usePrimary() {
		if err := r.primary.ReleaseRunLock(ctx, kind); err != nil {
			r.markDown(err)
			return nil
		}
		r.recovered()
	}
	return nil
}
