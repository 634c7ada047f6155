// Package app assembles the record store, the secondary store and the
// services on top of them from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"captaincrm/internal/config"
	"captaincrm/internal/database"
	"captaincrm/internal/domain"
	"captaincrm/internal/events"
	"captaincrm/internal/export"
	"captaincrm/internal/migration"
	"captaincrm/internal/mirrorsync"
	"captaincrm/internal/mongostore"
	"captaincrm/internal/perf"
	"captaincrm/internal/repository"
	"captaincrm/internal/router"
	"captaincrm/internal/service"
	"captaincrm/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type App struct {
	Config *config.Config
	Logger *zerolog.Logger

	DB        *database.DB
	Redis     *redis.Client
	Mongo     *mongostore.Store
	Engine    *mirrorsync.Engine
	Router    *router.Router
	Events    *events.EventBus
	Progress  domain.ProgressRepository
	Migration *migration.Tool
	Bookings  *service.BookingService
	Tips      *service.TipService
	Ratings   *service.RatingService
	Perf      *perf.Harness
	Sweeper   *worker.Sweeper
	Backup    *database.BackupService
	Exporter  *export.Exporter

	wg sync.WaitGroup
}

// New opens the stores and builds every service. A missing or unreachable
// Redis falls back to in-memory progress; an unreachable secondary store
// leaves the record store serving every read until the sweeper reconnects.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	a.DB = db

	a.Redis = initRedis(ctx, cfg, logger)
	a.Progress = progressRepository(a.Redis, logger)

	a.Mongo = mongostore.New(cfg.SecondaryStore, logger)
	if a.Mongo.Configured() {
		if err := a.Mongo.Connect(ctx); err != nil {
			logger.Warn().Err(err).Msg("secondary store connection failed, serving reads from the record store")
		} else if err := a.Mongo.CreateIndexes(ctx); err != nil {
			logger.Warn().Err(err).Msg("secondary store index creation failed")
		}
	}

	a.Engine = mirrorsync.NewEngine(db, a.Mongo, logger)
	db.SetNotifier(a.Engine)

	a.Events = events.NewEventBus()
	events.SubscribeAudit(a.Events, logger)

	primary := router.NewPrimaryBackend(db)
	secondary := router.NewMirrorBackend(a.Mongo)
	a.Router = router.New(primary, secondary, logger)
	a.Perf = perf.NewHarness(primary, secondary, logger)

	a.Migration = migration.NewTool(db, a.Mongo, a.Engine, a.Progress, a.Events, cfg.Migration, logger)

	generator, err := service.NewTemplateContractGenerator("")
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.Bookings = service.NewBookingService(db, a.Events, generator, logger)
	a.Tips = service.NewTipService(db, a.Events, cfg.Tips.BaseURL, logger)
	a.Ratings = service.NewRatingService(db, a.Events, logger)

	a.Sweeper = worker.NewSweeper(a.Engine, a.Mongo, cfg.Sync.SweepInterval, cfg.Sync.SweepWindow,
		worker.RetryPolicy{MaxRetries: cfg.Sync.MaxRetries}, logger)
	a.Backup = database.NewBackupService(db, cfg.Backup, logger)
	a.Exporter = export.NewExporter(cfg.Exports.Path, logger)

	return a, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		// The failover repository probes it again later.
		logger.Warn().Err(err).Msg("redis connection failed, keeping migration progress in memory until it recovers")
		return client
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func progressRepository(client *redis.Client, logger *zerolog.Logger) domain.ProgressRepository {
	memory := repository.NewMemoryProgressRepository()
	if client == nil {
		return memory
	}
	return repository.NewFailoverProgressRepository(repository.NewRedisProgressRepository(client), memory, logger)
}

// StartBackground runs the mirror sweeper and the backup scheduler until ctx
// is done. Close waits for both.
func (a *App) StartBackground(ctx context.Context) {
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.Sweeper.Start(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.Backup.Start(ctx)
	}()
}

// Close waits for background work and releases every connection.
func (a *App) Close(ctx context.Context) error {
	a.wg.Wait()
	if a.Migration != nil {
		a.Migration.Wait()
	}

	var errs []error
	if a.Mongo != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.Mongo.Close(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("close secondary store: %w", err))
		}
		cancel()
	}
	if a.Redis != nil {
		if err := repository.Close(a.Redis); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
