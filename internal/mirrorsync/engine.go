// Package mirrorsync propagates record store writes into the secondary store
// and heals drift with periodic sweeps.
package mirrorsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"captaincrm/internal/domain"
	"captaincrm/internal/logging"
	"captaincrm/internal/metrics"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
)

// Store is what the engine needs from the record store.
type Store interface {
	domain.MirrorStateTracker
	Get(ctx context.Context, kind models.EntityKind, id int64) (models.Record, error)
	ListModifiedSince(ctx context.Context, kind models.EntityKind, since time.Time) ([]models.Record, error)
}

// Engine is a best-effort, synchronous mirror writer. Failures are logged
// and recorded in the mirror state, never returned to the writer.
type Engine struct {
	store  Store
	mirror domain.MirrorStore
	logger *zerolog.Logger
	now    func() time.Time
}

var _ domain.ChangeNotifier = (*Engine)(nil)

func NewEngine(store Store, mirror domain.MirrorStore, logger *zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		mirror: mirror,
		logger: logging.Component(logger, "mirror_sync"),
		now:    time.Now,
	}
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Synced  int `json:"synced"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// OnWrite mirrors a freshly written record when the secondary store is enabled.
func (e *Engine) OnWrite(ctx context.Context, record models.Record) {
	if !e.mirror.Enabled() {
		return
	}
	if err := e.Mirror(ctx, record); err != nil {
		logging.Entity(e.logger.Warn().Err(err), "upsert", string(record.Kind()), record.RecordID()).
			Msg("Mirror write failed, left for sweep")
	}
}

// OnDelete removes the mirror of a deleted record when the secondary store is enabled.
func (e *Engine) OnDelete(ctx context.Context, kind models.EntityKind, id int64) {
	if !e.mirror.Enabled() {
		return
	}
	if err := e.removeMirror(ctx, kind, id); err != nil {
		logging.Entity(e.logger.Warn().Err(err), "delete", string(kind), id).
			Msg("Mirror delete failed, left for sweep")
	}
}

// Mirror upserts the projection of record and records the outcome.
func (e *Engine) Mirror(ctx context.Context, record models.Record) error {
	if !e.mirror.Enabled() {
		return models.ErrMirrorDisabled
	}

	var err error
	switch r := record.(type) {
	case *models.Client:
		err = e.mirror.UpsertClient(ctx, models.NewClientDocument(r))
	case *models.Booking:
		err = e.mirror.UpsertBooking(ctx, models.NewBookingDocument(r))
	default:
		return models.NewValidationError("kind", "cannot mirror %T", record)
	}

	kind, id := record.Kind(), record.RecordID()
	if err != nil {
		e.markFailed(ctx, kind, id, err)
		return err
	}
	e.mark(ctx, kind, id, models.MirrorSynced, "")
	return nil
}

func (e *Engine) removeMirror(ctx context.Context, kind models.EntityKind, id int64) error {
	if err := e.mirror.DeleteBySourceID(ctx, kind, id); err != nil {
		e.mark(ctx, kind, id, models.MirrorStale, err.Error())
		return err
	}
	e.mark(ctx, kind, id, models.MirrorDeleted, "")
	return nil
}

// markFailed keeps never-mirrored entities unsynced and turns the rest stale.
func (e *Engine) markFailed(ctx context.Context, kind models.EntityKind, id int64, cause error) {
	state := models.MirrorStale
	if st, err := e.store.GetMirrorState(ctx, kind, id); err == nil && st.State == models.MirrorUnsynced {
		state = models.MirrorUnsynced
	}
	e.mark(ctx, kind, id, state, cause.Error())
}

func (e *Engine) mark(ctx context.Context, kind models.EntityKind, id int64, state models.MirrorState, lastErr string) {
	if err := e.store.MarkMirrorState(ctx, kind, id, state, lastErr); err != nil {
		logging.Entity(e.logger.Error().Err(err), "mark_state", string(kind), id).
			Str("state", string(state)).Msg("Failed to record mirror state")
	}
}

// SweepRecent re-mirrors every entity modified within window, then retries
// entities still pending from earlier failures, including deletions. It
// stops early when the secondary store drops out mid-sweep, and reports a
// TransportError when nothing could be written.
func (e *Engine) SweepRecent(ctx context.Context, window time.Duration) (SweepResult, error) {
	if !e.mirror.Enabled() {
		return SweepResult{}, models.ErrMirrorDisabled
	}

	res, err := e.sweep(ctx, window)
	if err != nil {
		return res, err
	}

	e.publishCounts(ctx)
	e.logger.Info().
		Int("scanned", res.Scanned).
		Int("synced", res.Synced).
		Int("deleted", res.Deleted).
		Int("failed", res.Failed).
		Dur("window", window).
		Msg("Mirror sweep finished")

	if res.Failed > 0 && res.Synced == 0 && res.Deleted == 0 {
		return res, &models.TransportError{Op: "sweep", Err: fmt.Errorf("all %d mirror writes failed", res.Failed)}
	}
	return res, nil
}

func (e *Engine) sweep(ctx context.Context, window time.Duration) (SweepResult, error) {
	var res SweepResult

	since := e.now().UTC().Add(-window)
	for _, kind := range models.Kinds {
		done := make(map[int64]bool)

		records, err := e.store.ListModifiedSince(ctx, kind, since)
		if err != nil {
			return res, fmt.Errorf("failed to list recent %s records: %w", kind, err)
		}
		for _, r := range records {
			if err := e.stillUp(); err != nil {
				return res, err
			}
			res.Scanned++
			done[r.RecordID()] = true
			if err := e.Mirror(ctx, r); err != nil {
				res.Failed++
				continue
			}
			res.Synced++
		}

		pending, err := e.store.ListMirrorStates(ctx, kind, models.MirrorUnsynced, models.MirrorStale)
		if err != nil {
			return res, fmt.Errorf("failed to list pending %s mirrors: %w", kind, err)
		}
		for _, st := range pending {
			if done[st.EntityID] {
				continue
			}
			if err := e.stillUp(); err != nil {
				return res, err
			}
			res.Scanned++
			e.retry(ctx, kind, st.EntityID, &res)
		}
	}
	return res, nil
}

func (e *Engine) stillUp() error {
	if e.mirror.Enabled() {
		return nil
	}
	return &models.TransportError{Op: "sweep", Err: errors.New("secondary store went away during sweep")}
}

func (e *Engine) retry(ctx context.Context, kind models.EntityKind, id int64, res *SweepResult) {
	record, err := e.store.Get(ctx, kind, id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		if err := e.removeMirror(ctx, kind, id); err != nil {
			res.Failed++
			return
		}
		res.Deleted++
	case err != nil:
		logging.Entity(e.logger.Error().Err(err), "load", string(kind), id).Msg("Failed to load pending record")
		res.Failed++
	default:
		if err := e.Mirror(ctx, record); err != nil {
			res.Failed++
			return
		}
		res.Synced++
	}
}

func (e *Engine) publishCounts(ctx context.Context) {
	counts, err := e.store.MirrorStateCounts(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to read mirror state counts")
		return
	}
	for kind, states := range counts {
		for state, n := range states {
			metrics.SetMirrorState(string(kind), string(state), n)
		}
	}
}
