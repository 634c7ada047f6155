// Package migration backfills the secondary store from the record store and
// verifies the copy.
package migration

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"captaincrm/internal/config"
	"captaincrm/internal/domain"
	"captaincrm/internal/events"
	"captaincrm/internal/logging"
	"captaincrm/internal/metrics"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
)

// Source is the read side of the record store used by a backfill.
type Source interface {
	Count(ctx context.Context, kind models.EntityKind) (int64, error)
	ListIDs(ctx context.Context, kind models.EntityKind, afterID int64, limit int) ([]int64, error)
	Get(ctx context.Context, kind models.EntityKind, id int64) (models.Record, error)
}

// Mirrorer copies one record into the secondary store and records its state.
type Mirrorer interface {
	Mirror(ctx context.Context, record models.Record) error
}

type Tool struct {
	source   Source
	mirror   domain.MirrorStore
	syncer   Mirrorer
	progress domain.ProgressRepository
	events   domain.EventPublisher
	cfg      config.MigrationConfig
	logger   *zerolog.Logger
	now      func() time.Time
	rand     func(n int) []int

	wg sync.WaitGroup
}

func NewTool(
	source Source,
	mirror domain.MirrorStore,
	syncer Mirrorer,
	progress domain.ProgressRepository,
	eventBus domain.EventPublisher,
	cfg config.MigrationConfig,
	logger *zerolog.Logger,
) *Tool {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 10
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 5
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Tool{
		source:   source,
		mirror:   mirror,
		syncer:   syncer,
		progress: progress,
		events:   eventBus,
		cfg:      cfg,
		logger:   logging.Component(logger, "migration"),
		now:      time.Now,
		rand:     rand.Perm,
	}
}

// Start begins a background backfill of kind and returns the initial progress.
func (t *Tool) Start(ctx context.Context, kind models.EntityKind) (*models.ProgressRecord, error) {
	p, err := t.begin(ctx, kind)
	if err != nil {
		return nil, err
	}
	snapshot := *p

	runCtx := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.copyAll(runCtx, p); err != nil {
			t.logger.Error().Err(err).Str("kind", string(kind)).Msg("Migration run failed")
		}
	}()
	return &snapshot, nil
}

// Run performs a backfill of kind synchronously.
func (t *Tool) Run(ctx context.Context, kind models.EntityKind) (*models.ProgressRecord, error) {
	p, err := t.begin(ctx, kind)
	if err != nil {
		return nil, err
	}
	err = t.copyAll(ctx, p)
	return p, err
}

// Wait blocks until every background run has finished.
func (t *Tool) Wait() {
	t.wg.Wait()
}

func (t *Tool) begin(ctx context.Context, kind models.EntityKind) (*models.ProgressRecord, error) {
	if kind.Collection() == "" {
		return nil, models.NewValidationError("kind", "unknown entity kind %q", kind)
	}
	if !t.mirror.Enabled() {
		return nil, models.ErrMirrorDisabled
	}

	ok, err := t.progress.AcquireRunLock(ctx, kind, t.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, models.ErrMigrationInProgress
	}

	total, err := t.source.Count(ctx, kind)
	if err != nil {
		t.release(ctx, kind)
		return nil, fmt.Errorf("count %s: %w", kind, err)
	}

	now := t.now().UTC()
	p := &models.ProgressRecord{
		Kind:      kind,
		Total:     total,
		Errors:    []string{},
		StartTime: now,
		UpdatedAt: now,
	}
	if err := t.progress.SaveProgress(ctx, p); err != nil {
		t.release(ctx, kind)
		return nil, fmt.Errorf("save progress: %w", err)
	}

	t.logger.Info().Str("kind", string(kind)).Int64("total", total).Msg("Migration started")
	return p, nil
}

func (t *Tool) release(ctx context.Context, kind models.EntityKind) {
	if err := t.progress.ReleaseRunLock(context.WithoutCancel(ctx), kind); err != nil {
		t.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to release run lock")
	}
}

func (t *Tool) save(ctx context.Context, p *models.ProgressRecord) {
	p.UpdatedAt = t.now().UTC()
	if err := t.progress.SaveProgress(ctx, p); err != nil {
		t.logger.Warn().Err(err).Str("kind", string(p.Kind)).Msg("Failed to save migration progress")
	}
	if err := t.progress.RefreshRunLock(ctx, p.Kind, t.cfg.LockTTL); err != nil {
		t.logger.Warn().Err(err).Str("kind", string(p.Kind)).Msg("Failed to refresh run lock")
	}
}

// copyAll pages through the record store in id order and mirrors every
// entity. Per-entity failures are collected, never fatal.
func (t *Tool) copyAll(ctx context.Context, p *models.ProgressRecord) error {
	defer t.release(ctx, p.Kind)

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			p.Errors = append(p.Errors, "interrupted: "+err.Error())
			t.save(context.WithoutCancel(ctx), p)
			return err
		}

		ids, err := t.source.ListIDs(ctx, p.Kind, afterID, t.cfg.PageSize)
		if err != nil {
			p.Errors = append(p.Errors, "list ids: "+err.Error())
			t.save(context.WithoutCancel(ctx), p)
			return err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			afterID = id
			err := t.copyOne(ctx, p.Kind, id)
			metrics.IncMigration(string(p.Kind), err)
			if err != nil {
				p.Errors = append(p.Errors, fmt.Sprintf("%s %d: %v", p.Kind, id, err))
			}
			p.Processed++
			if p.Processed%int64(t.cfg.ProgressEvery) == 0 {
				t.save(ctx, p)
			}
		}
	}

	end := t.now().UTC()
	p.Completed = true
	p.EndTime = &end
	t.save(ctx, p)

	t.logger.Info().
		Str("kind", string(p.Kind)).
		Int64("processed", p.Processed).
		Int("errors", len(p.Errors)).
		Dur("took", end.Sub(p.StartTime)).
		Msg("Migration completed")

	if t.events != nil {
		_ = t.events.PublishJSON(events.EventMigrationCompleted, events.MigrationEventPayload{
			Kind:      string(p.Kind),
			Total:     p.Total,
			Processed: p.Processed,
			Errors:    len(p.Errors),
		})
	}
	return nil
}

func (t *Tool) copyOne(ctx context.Context, kind models.EntityKind, id int64) error {
	rec, err := t.source.Get(ctx, kind, id)
	if errors.Is(err, models.ErrNotFound) {
		// Deleted since it was listed.
		return nil
	}
	if err != nil {
		return err
	}
	return t.syncer.Mirror(ctx, rec)
}

// Progress returns the last recorded progress of kind.
func (t *Tool) Progress(ctx context.Context, kind models.EntityKind) (*models.ProgressRecord, error) {
	p, err := t.progress.GetProgress(ctx, kind)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &models.NotFoundError{Kind: kind, Key: "migration progress"}
	}
	return p, nil
}

// Verify compares counts of both stores and checks a random sample of
// entities for presence and a representative field. Differences end up in
// the report, not in the error.
func (t *Tool) Verify(ctx context.Context, kind models.EntityKind) (*models.VerifyReport, error) {
	if kind.Collection() == "" {
		return nil, models.NewValidationError("kind", "unknown entity kind %q", kind)
	}
	if !t.mirror.Enabled() {
		return nil, models.ErrMirrorDisabled
	}

	primaryCount, err := t.source.Count(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("count primary %s: %w", kind, err)
	}
	secondaryCount, err := t.mirror.Count(ctx, kind)
	if err != nil {
		return nil, err
	}

	rep := &models.VerifyReport{
		Kind:           kind,
		PrimaryCount:   primaryCount,
		SecondaryCount: secondaryCount,
		CountMatch:     primaryCount == secondaryCount,
		Samples:        []models.VerifySample{},
		Discrepancies:  []string{},
		CheckedAt:      t.now().UTC(),
	}
	if !rep.CountMatch {
		rep.Discrepancies = append(rep.Discrepancies,
			fmt.Sprintf("count mismatch: primary %d, secondary %d", primaryCount, secondaryCount))
	}

	ids, err := t.sampleIDs(ctx, kind)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		sample, err := t.checkSample(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		rep.Samples = append(rep.Samples, sample)
		switch {
		case !sample.InSecondary:
			rep.Discrepancies = append(rep.Discrepancies, fmt.Sprintf("%s %d missing from secondary", kind, id))
		case !sample.Match:
			rep.Discrepancies = append(rep.Discrepancies,
				fmt.Sprintf("%s %d %s differs: %q vs %q", kind, id, sample.Field, sample.PrimaryValue, sample.SecondaryValue))
		}
	}

	if err := t.progress.SaveVerifyReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("save verify report: %w", err)
	}

	t.logger.Info().
		Str("kind", string(kind)).
		Bool("count_match", rep.CountMatch).
		Int("discrepancies", len(rep.Discrepancies)).
		Msg("Verification finished")

	if t.events != nil {
		match := rep.CountMatch
		_ = t.events.PublishJSON(events.EventVerifyCompleted, events.MigrationEventPayload{
			Kind:       string(kind),
			Total:      primaryCount,
			Processed:  int64(len(rep.Samples)),
			Errors:     len(rep.Discrepancies),
			CountMatch: &match,
		})
	}
	return rep, nil
}

// LastVerifyReport returns the persisted report of the latest verification.
func (t *Tool) LastVerifyReport(ctx context.Context, kind models.EntityKind) (*models.VerifyReport, error) {
	rep, err := t.progress.GetVerifyReport(ctx, kind)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, &models.NotFoundError{Kind: kind, Key: "verification report"}
	}
	return rep, nil
}

func (t *Tool) sampleIDs(ctx context.Context, kind models.EntityKind) ([]int64, error) {
	var (
		all     []int64
		afterID int64
	)
	for {
		ids, err := t.source.ListIDs(ctx, kind, afterID, t.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("list %s ids: %w", kind, err)
		}
		if len(ids) == 0 {
			break
		}
		all = append(all, ids...)
		afterID = ids[len(ids)-1]
	}

	n := min(t.cfg.SampleSize, len(all))
	out := make([]int64, 0, n)
	for _, i := range t.rand(len(all))[:n] {
		out = append(out, all[i])
	}
	return out, nil
}

func (t *Tool) checkSample(ctx context.Context, kind models.EntityKind, id int64) (models.VerifySample, error) {
	sample := models.VerifySample{ID: id, InPrimary: true}

	rec, err := t.source.Get(ctx, kind, id)
	if errors.Is(err, models.ErrNotFound) {
		sample.InPrimary = false
		return sample, nil
	}
	if err != nil {
		return sample, err
	}

	q := models.Query{Where: []models.Predicate{models.Eq("id", id)}, Limit: 1}
	switch r := rec.(type) {
	case *models.Client:
		sample.Field, sample.PrimaryValue = "name", r.Name
		docs, err := t.mirror.FindClients(ctx, q)
		if err != nil {
			return sample, err
		}
		if len(docs) > 0 {
			sample.InSecondary, sample.SecondaryValue = true, docs[0].Name
		}
	case *models.Booking:
		sample.Field, sample.PrimaryValue = "title", r.Title
		docs, err := t.mirror.FindBookings(ctx, q)
		if err != nil {
			return sample, err
		}
		if len(docs) > 0 {
			sample.InSecondary, sample.SecondaryValue = true, docs[0].Title
		}
	}
	sample.Match = sample.InSecondary && sample.PrimaryValue == sample.SecondaryValue
	return sample, nil
}
