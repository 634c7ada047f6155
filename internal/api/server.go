package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"captaincrm/internal/config"
	"captaincrm/internal/domain"
	"captaincrm/internal/export"
	"captaincrm/internal/logging"
	"captaincrm/internal/migration"
	"captaincrm/internal/mirrorsync"
	"captaincrm/internal/perf"
	"captaincrm/internal/router"
	"captaincrm/internal/service"

	"github.com/rs/zerolog"
)

// Sweeper runs an on-demand mirror sweep.
type Sweeper interface {
	RunOnce(ctx context.Context) error
	LastResult() (*mirrorsync.SweepResult, time.Time)
}

// Services are the collaborators the HTTP surface dispatches to. Optional
// ones may be nil; their endpoints then answer 503.
type Services struct {
	Router    *router.Router
	Bookings  *service.BookingService
	Tips      *service.TipService
	Ratings   *service.RatingService
	Migration *migration.Tool
	Perf      *perf.Harness
	Sweeper   Sweeper
	States    domain.MirrorStateTracker
	Exporter  *export.Exporter
	Mirror    domain.MirrorStore
}

// HTTPServer exposes the admin and public JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	auth   *HTTPAuth
	logger *zerolog.Logger
	mux    *http.ServeMux
	server *http.Server
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:    cfg,
		svc:    svc,
		auth:   NewHTTPAuth(cfg),
		logger: logging.Component(logger, "http"),
		mux:    http.NewServeMux(),
	}
	s.routes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	return s
}

func (s *HTTPServer) routes() {
	s.handle("GET /healthz", permPublic, s.handleHealth)

	s.handle("GET /api/v1/clients/{id}/bookings", permRead, s.handleClientBookings)
	s.handle("GET /api/v1/clients/{id}/rank", permRead, s.handleClientRank)
	s.handle("PUT /api/v1/clients/{id}/rating", permWrite, s.handleSetClientRating)
	s.handle("GET /api/v1/employees/{id}/rank", permRead, s.handleEmployeeRank)

	s.handle("GET /api/v1/calendar", permRead, s.handleCalendar)
	s.handle("GET /api/v1/reports", permRead, s.handleReport)
	s.handle("GET /api/v1/reports/export", permRead, s.handleReportExport)
	s.handle("POST /api/v1/reports/export", permWrite, s.handleReportSave)

	s.handle("GET /api/v1/bookings", permRead, s.handleFindBookings)
	s.handle("GET /api/v1/bookings/{id}", permRead, s.handleGetBooking)
	s.handle("POST /api/v1/bookings", permPublic, s.handleSubmitBooking)
	s.handle("POST /api/v1/bookings/{id}/status", permWrite, s.handleChangeStatus)
	s.handle("POST /api/v1/bookings/{id}/employee", permWrite, s.handleAssignEmployee)
	s.handle("POST /api/v1/bookings/{id}/payments", permWrite, s.handleRecordPayment)
	s.handle("POST /api/v1/bookings/{id}/release", permWrite, s.handleReleasePayment)
	s.handle("POST /api/v1/bookings/{id}/invoice", permWrite, s.handleIssueInvoice)
	s.handle("POST /api/v1/bookings/{id}/invoice/paid", permWrite, s.handleInvoicePaid)
	s.handle("PUT /api/v1/bookings/{id}/contract", permWrite, s.handleSaveContract)
	s.handle("PUT /api/v1/bookings/{id}/contract/status", permWrite, s.handleContractStatus)
	s.handle("POST /api/v1/bookings/{id}/rating", permWrite, s.handleClientRating)
	s.handle("POST /api/v1/bookings/{id}/tip-request", permWrite, s.handleTipRequest)

	s.handle("GET /api/v1/tips/{token}", permPublic, s.handleTipLookup)
	s.handle("POST /api/v1/tips/{token}", permPublic, s.handleTipSubmit)

	s.handle("POST /api/v1/migrations/{kind}", permMigrate, s.handleMigrationStart)
	s.handle("GET /api/v1/migrations/{kind}", permMigrate, s.handleMigrationProgress)
	s.handle("POST /api/v1/migrations/{kind}/verify", permMigrate, s.handleMigrationVerify)
	s.handle("GET /api/v1/migrations/{kind}/verify", permMigrate, s.handleMigrationLastVerify)

	s.handle("POST /api/v1/perf/{test}", permMigrate, s.handlePerfTest)
	s.handle("POST /api/v1/sync/sweep", permMigrate, s.handleSweep)
	s.handle("GET /api/v1/sync/state", permRead, s.handleSyncState)
}

func (s *HTTPServer) handle(pattern, perm string, fn http.HandlerFunc) {
	s.mux.Handle(pattern, instrument(pattern, s.logger, s.auth.Require(perm, fn)))
}

// Handler returns the routed handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
