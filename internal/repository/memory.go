package repository

import (
	"context"
	"sync"
	"time"

	"captaincrm/internal/models"
)

// MemoryProgressRepository is the in-process fallback. Values are copied in
// and out so callers never share a record.
type MemoryProgressRepository struct {
	progress sync.Map
	reports  sync.Map

	mu    sync.Mutex
	locks map[models.EntityKind]time.Time
	now   func() time.Time
}

func NewMemoryProgressRepository() *MemoryProgressRepository {
	return &MemoryProgressRepository{
		locks: make(map[models.EntityKind]time.Time),
		now:   time.Now,
	}
}

func (r *MemoryProgressRepository) GetProgress(ctx context.Context, kind models.EntityKind) (*models.ProgressRecord, error) {
	val, ok := r.progress.Load(kind)
	if !ok {
		return nil, nil
	}
	p := val.(models.ProgressRecord)
	p.Errors = append([]string(nil), p.Errors...)
	return &p, nil
}

func (r *MemoryProgressRepository) SaveProgress(ctx context.Context, progress *models.ProgressRecord) error {
	p := *progress
	p.Errors = append([]string(nil), progress.Errors...)
	r.progress.Store(progress.Kind, p)
	return nil
}

func (r *MemoryProgressRepository) GetVerifyReport(ctx context.Context, kind models.EntityKind) (*models.VerifyReport, error) {
	val, ok := r.reports.Load(kind)
	if !ok {
		return nil, nil
	}
	rep := val.(models.VerifyReport)
	return &rep, nil
}

func (r *MemoryProgressRepository) SaveVerifyReport(ctx context.Context, report *models.VerifyReport) error {
	r.reports.Store(report.Kind, *report)
	return nil
}

func (r *MemoryProgressRepository) AcquireRunLock(ctx context.Context, kind models.EntityKind, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiresAt, ok := r.locks[kind]; ok && now.Before(expiresAt) {
		return false, nil
	}
	r.locks[kind] = now.Add(ttl)
	return true, nil
}

func (r *MemoryProgressRepository) RefreshRunLock(ctx context.Context, kind models.EntityKind, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.locks[kind]; ok {
		r.locks[kind] = r.now().Add(ttl)
	}
	return nil
}

func (r *MemoryProgressRepository) ReleaseRunLock(ctx context.Context, kind models.EntityKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, kind)
	return nil
}
