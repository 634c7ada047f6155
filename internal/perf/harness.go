// Package perf times the same read against the record store and the
// secondary store.
package perf

import (
	"context"
	"math"
	"runtime"
	"strconv"
	"time"

	"captaincrm/internal/logging"
	"captaincrm/internal/models"
	"captaincrm/internal/router"

	"github.com/rs/zerolog"
)

const (
	TestClientBookings = "client-bookings-by-id"
	TestCalendarEvents = "calendar-events-by-range"
	TestReport         = "report-by-year-month"
	TestGeneralQuery   = "general-filtered-query"
)

// Tests lists the available test names.
var Tests = []string{TestClientBookings, TestCalendarEvents, TestReport, TestGeneralQuery}

var generalQueryFields = map[string]bool{
	"service_type": true,
	"destination":  true,
	"status":       true,
}

// Metrics describes one leg of a test run.
type Metrics struct {
	TimeMS      float64 `json:"time_ms"`
	MemoryKB    float64 `json:"memory_kb"`
	RecordCount int     `json:"record_count"`
	Error       string  `json:"error,omitempty"`
}

// Result pairs the primary leg (reported as "wordpress") with the
// secondary leg (reported as "mongodb").
type Result struct {
	Test       string            `json:"test_name"`
	Parameters map[string]string `json:"parameters"`
	Primary    Metrics           `json:"wordpress"`
	Secondary  Metrics           `json:"mongodb"`
}

type Harness struct {
	primary   router.Backend
	secondary router.Backend
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewHarness(primary, secondary router.Backend, logger *zerolog.Logger) *Harness {
	return &Harness{
		primary:   primary,
		secondary: secondary,
		logger:    logging.Component(logger, "perf"),
		now:       time.Now,
	}
}

// leg runs one read and returns the number of records it produced.
type leg func(ctx context.Context, b router.Backend) (int, error)

// RunTest executes the named test against each backend in turn. Invalid
// parameters fail the whole run; a failing backend only fails its own leg.
func (h *Harness) RunTest(ctx context.Context, name string, params map[string]string) (*Result, error) {
	run, err := h.build(name, params)
	if err != nil {
		return nil, err
	}

	res := &Result{Test: name, Parameters: params}
	res.Primary = h.measure(ctx, h.primary, run)
	res.Secondary = h.measure(ctx, h.secondary, run)

	h.logger.Info().
		Str("test", name).
		Float64("primary_ms", res.Primary.TimeMS).
		Float64("secondary_ms", res.Secondary.TimeMS).
		Int("primary_records", res.Primary.RecordCount).
		Int("secondary_records", res.Secondary.RecordCount).
		Msg("Performance test finished")
	return res, nil
}

func (h *Harness) build(name string, params map[string]string) (leg, error) {
	switch name {
	case TestClientBookings:
		clientID, err := strconv.ParseInt(params["client_id"], 10, 64)
		if err != nil {
			return nil, models.NewValidationError("client_id", "client_id is required")
		}
		q, err := router.ClientBookingsQuery(clientID, "all", 0, 0, h.now())
		if err != nil {
			return nil, err
		}
		return bookingsLeg(q), nil

	case TestCalendarEvents:
		q, err := router.CalendarQuery(params["start"], params["end"], nil)
		if err != nil {
			return nil, err
		}
		return bookingsLeg(q), nil

	case TestReport:
		year := h.now().Year()
		if v := params["year"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, models.NewValidationError("year", "invalid year %q", v)
			}
			year = n
		}
		month := 0
		if v := params["month"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, models.NewValidationError("month", "invalid month %q", v)
			}
			month = n
		}
		q, err := router.ReportQuery(year, month, "", "")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, b router.Backend) (int, error) {
			set, err := b.ReportBookings(ctx, q)
			if err != nil {
				return 0, err
			}
			return router.BuildReport(year, month, "", "", set).TotalBookings, nil
		}, nil

	case TestGeneralQuery:
		field := params["field"]
		if field == "" {
			field = "service_type"
		}
		if !generalQueryFields[field] {
			return nil, models.NewUnsupportedQuery("general query cannot filter on %q", field)
		}
		q := models.Query{Where: []models.Predicate{models.Eq(field, params["value"])}}
		return bookingsLeg(q), nil
	}
	return nil, models.NewValidationError("test", "unknown performance test %q", name)
}

func bookingsLeg(q models.Query) leg {
	return func(ctx context.Context, b router.Backend) (int, error) {
		views, err := b.Bookings(ctx, q)
		return len(views), err
	}
}

// measure times run on b. Memory is the bytes allocated while it ran.
func (h *Harness) measure(ctx context.Context, b router.Backend, run leg) Metrics {
	if b == nil || !b.Available() {
		return Metrics{Error: models.ErrMirrorDisabled.Error()}
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	start := h.now()

	n, err := run(ctx, b)

	elapsed := h.now().Sub(start)
	runtime.ReadMemStats(&after)

	m := Metrics{
		TimeMS:      round2(float64(elapsed) / float64(time.Millisecond)),
		MemoryKB:    round2(float64(after.TotalAlloc-before.TotalAlloc) / 1024),
		RecordCount: n,
	}
	if err != nil {
		m.Error = err.Error()
		m.RecordCount = 0
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
