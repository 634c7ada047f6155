package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"captaincrm/internal/database"
	"captaincrm/internal/mirrorsync"
	"captaincrm/internal/mirrortest"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *database.DB
	mirror *mirrortest.Store
	router *Router
	client *models.Client
	clock  time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mirror := mirrortest.New()
	db.SetNotifier(mirrorsync.NewEngine(db, mirror, &logger))

	f := &fixture{
		db:     db,
		mirror: mirror,
		router: New(NewPrimaryBackend(db), NewMirrorBackend(mirror), &logger),
		clock:  time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	f.router.now = func() time.Time { return f.clock }

	f.client = &models.Client{Name: "Eleni", Email: "eleni@example.com"}
	require.NoError(t, db.CreateClient(context.Background(), f.client))
	return f
}

func date(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func (f *fixture) book(t *testing.T, title, start, end, service, price string) *models.Booking {
	t.Helper()
	b := &models.Booking{
		ClientID:    f.client.ID,
		Title:       title,
		ServiceType: service,
		Destination: "greece",
		StartDate:   date(start),
		Price:       decimal.RequireFromString(price),
	}
	if end != "" {
		e := date(end)
		b.EndDate = &e
	}
	require.NoError(t, f.db.CreateBooking(context.Background(), b))
	return b
}

func titles(views []models.BookingView) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.Title)
	}
	return out
}

func eventTitles(events []models.CalendarEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Title)
	}
	return out
}

func TestGetClientBookings_StatusFilters(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.book(t, "old", "2024-01-10", "2024-01-12", models.ServiceCharter, "100")
	f.book(t, "today", "2024-06-15", "", models.ServiceCharter, "200")
	f.book(t, "next", "2024-08-01", "2024-08-07", models.ServiceFlotilla, "300")

	all, err := f.router.GetClientBookings(ctx, f.client.ID, "all", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"next", "today", "old"}, titles(all))

	upcoming, err := f.router.GetClientBookings(ctx, f.client.ID, "upcoming", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"next", "today"}, titles(upcoming))

	past, err := f.router.GetClientBookings(ctx, f.client.ID, "past", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, titles(past))

	inquiries, err := f.router.GetClientBookings(ctx, f.client.ID, models.StatusInquiry, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"today", "old"}, titles(inquiries))

	none, err := f.router.GetClientBookings(ctx, f.client.ID, models.StatusConfirmed, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Positive(t, f.mirror.Calls(mirrortest.OpFind))
}

func TestGetClientBookings_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.router.GetClientBookings(ctx, 0, "all", 0, 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.router.GetClientBookings(ctx, f.client.ID, "someday", 0, 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.router.GetClientBookings(ctx, f.client.ID, "all", -1, 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestFallback_SameResultAsPrimary(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.book(t, "a", "2024-03-01", "2024-03-05", models.ServiceCharter, "1000")
	f.book(t, "b", "2024-07-01", "2024-07-03", models.ServiceDelivery, "500.50")

	fromMirror, err := f.router.GetClientBookings(ctx, f.client.ID, "all", 0, 0)
	require.NoError(t, err)

	f.mirror.FailAll(mirrortest.ErrInjected)
	fromPrimary, err := f.router.GetClientBookings(ctx, f.client.ID, "all", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, fromMirror, fromPrimary)
	assert.True(t, f.router.MirrorDown())

	// While down the mirror is not consulted.
	finds := f.mirror.Calls(mirrortest.OpFind)
	_, err = f.router.GetClientBookings(ctx, f.client.ID, "all", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, finds, f.mirror.Calls(mirrortest.OpFind))

	// After the recovery window the mirror is retried.
	f.mirror.FailAll(nil)
	f.clock = f.clock.Add(DefaultRecovery + time.Second)
	again, err := f.router.GetClientBookings(ctx, f.client.ID, "all", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, fromMirror, again)
	assert.Equal(t, finds+1, f.mirror.Calls(mirrortest.OpFind))
	assert.False(t, f.router.MirrorDown())
}

func TestDisabledMirror_ServesPrimary(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.book(t, "a", "2024-03-01", "", models.ServiceCharter, "1000")

	f.mirror.SetEnabled(false)
	views, err := f.router.GetClientBookings(ctx, f.client.ID, "all", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, titles(views))
	assert.Zero(t, f.mirror.Calls(mirrortest.OpFind))
	assert.False(t, f.router.MirrorDown())
}

func TestGetCalendarEvents_Overlap(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.book(t, "starts inside", "2024-06-15", "2024-06-25", models.ServiceCharter, "1")
	f.book(t, "ends inside", "2024-06-05", "2024-06-12", models.ServiceCharter, "1")
	f.book(t, "spans", "2024-06-01", "2024-06-30", models.ServiceFlotilla, "1")
	f.book(t, "before", "2024-05-01", "2024-05-05", models.ServiceCharter, "1")
	f.book(t, "single day", "2024-06-12", "", models.ServiceInstruction, "1")
	f.book(t, "after", "2024-06-21", "2024-06-22", models.ServiceCharter, "1")

	want := []string{"spans", "ends inside", "single day", "starts inside"}

	events, err := f.router.GetCalendarEvents(ctx, "2024-06-10", "2024-06-20", nil)
	require.NoError(t, err)
	assert.Equal(t, want, eventTitles(events))

	f.mirror.SetEnabled(false)
	primary, err := f.router.GetCalendarEvents(ctx, "2024-06-10", "2024-06-20", nil)
	require.NoError(t, err)
	assert.Equal(t, events, primary)

	for _, e := range events {
		if e.Title == "single day" {
			assert.Equal(t, e.Start, e.End)
			assert.Equal(t, "event-instruction", e.ClassName)
		}
	}
}

func TestGetCalendarEvents_Filters(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.book(t, "charter", "2024-06-11", "2024-06-12", models.ServiceCharter, "1")
	f.book(t, "flotilla", "2024-06-11", "2024-06-12", models.ServiceFlotilla, "1")

	events, err := f.router.GetCalendarEvents(ctx, "2024-06-01", "2024-06-30", map[string]string{"service": models.ServiceFlotilla, "crew": ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"flotilla"}, eventTitles(events))

	_, err = f.router.GetCalendarEvents(ctx, "2024-06-01", "2024-06-30", map[string]string{"colour": "red"})
	assert.ErrorIs(t, err, models.ErrUnsupportedQuery)

	_, err = f.router.GetCalendarEvents(ctx, "2024-06-01", "2024-06-30", map[string]string{"employee": "x"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.router.GetCalendarEvents(ctx, "June", "2024-06-30", nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.router.GetCalendarEvents(ctx, "2024-06-30", "2024-06-01", nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	assert.False(t, f.router.MirrorDown())
}

func TestGenerateReport(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.book(t, "a", "2024-06-10", "2024-06-12", models.ServiceCharter, "1000.50")
	f.book(t, "b", "2024-06-11", "2024-06-13", models.ServiceFlotilla, "500")
	f.book(t, "c", "2024-06-29", "2024-07-02", models.ServiceCharter, "250.25")
	f.book(t, "d", "2023-12-30", "2024-01-02", models.ServiceCharter, "999")

	report, err := f.router.GenerateReport(ctx, 2024, 0, "", "")
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalBookings)
	assert.Equal(t, "1750.75", report.TotalRevenue.StringFixed(2))
	assert.Equal(t, 2, report.ServiceStats[models.ServiceCharter].Count)
	assert.Equal(t, "1250.75", report.ServiceStats[models.ServiceCharter].Revenue.StringFixed(2))
	assert.Equal(t, 3, report.DestinationStats["greece"].Count)

	june := report.MonthlyStats["2024-06"]
	assert.Equal(t, 3, june.Count)
	// 10-13 June deduplicated plus 29-30 June.
	assert.Equal(t, 6, june.Days)
	_, hasJuly := report.MonthlyStats["2024-07"]
	assert.False(t, hasJuly)
	assert.Equal(t, 8, report.ActiveDays)

	f.mirror.SetEnabled(false)
	primary, err := f.router.GenerateReport(ctx, 2024, 0, "", "")
	require.NoError(t, err)
	mirrored, err := json.Marshal(report)
	require.NoError(t, err)
	direct, err := json.Marshal(primary)
	require.NoError(t, err)
	assert.JSONEq(t, string(direct), string(mirrored))
}

func TestGenerateReport_MonthAndFilters(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.book(t, "a", "2024-06-10", "2024-06-12", models.ServiceCharter, "100")
	f.book(t, "b", "2024-07-11", "2024-07-13", models.ServiceFlotilla, "200")

	report, err := f.router.GenerateReport(ctx, 2024, 7, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalBookings)
	assert.Equal(t, 3, report.MonthlyStats["2024-07"].Days)

	filtered, err := f.router.GenerateReport(ctx, 2024, 0, models.ServiceCharter, "croatia")
	require.NoError(t, err)
	assert.Zero(t, filtered.TotalBookings)
	assert.True(t, filtered.TotalRevenue.IsZero())
	assert.Empty(t, filtered.MonthlyStats)
	assert.Equal(t, models.ServiceCharter, filtered.ServiceFilter)

	_, err = f.router.GenerateReport(ctx, 2024, 13, "", "")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.router.GenerateReport(ctx, 0, 1, "", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestBuildReport_ActiveDaysIdempotent(t *testing.T) {
	set := &ReportSet{
		Bookings: []models.BookingView{
			{ServiceType: models.ServiceCharter, Destination: "bvi", StartDate: "2024-02-01", EndDate: "2024-02-03", Price: "10.00"},
			{ServiceType: models.ServiceCharter, Destination: "bvi", StartDate: "2024-02-01", EndDate: "2024-02-03", Price: "10.00"},
		},
		Revenue: decimal.RequireFromString("20"),
	}
	report := BuildReport(2024, 2, "", "", set)
	assert.Equal(t, 3, report.ActiveDays)
	assert.Equal(t, 3, report.MonthlyStats["2024-02"].Days)
	assert.Equal(t, 2, report.MonthlyStats["2024-02"].Count)

	empty := BuildReport(2024, 0, "", "", nil)
	assert.Zero(t, empty.TotalBookings)
	assert.NotNil(t, empty.ServiceStats)
	assert.NotNil(t, empty.MonthlyStats)
}

func TestGetBooking(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.mirror.SetEnabled(false)
	b := f.book(t, "unmirrored", "2024-06-10", "", models.ServiceCharter, "100")
	f.mirror.SetEnabled(true)

	// Missing from the mirror, found on the primary.
	view, err := f.router.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "unmirrored", view.Title)
	assert.False(t, f.router.MirrorDown())

	require.NoError(t, f.db.Delete(ctx, models.KindBooking, b.ID))
	_, err = f.router.GetBooking(ctx, b.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFindBookings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.book(t, "a", "2024-06-10", "", models.ServiceCharter, "100")
	f.book(t, "b", "2024-06-11", "", models.ServiceDelivery, "200")

	views, err := f.router.FindBookings(ctx, models.Query{Where: []models.Predicate{models.Eq("service_type", models.ServiceDelivery)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, titles(views))

	_, err = f.router.FindBookings(ctx, models.Query{Where: []models.Predicate{models.Eq("notes", "x")}})
	assert.True(t, errors.Is(err, models.ErrUnsupportedQuery))
	assert.False(t, f.router.MirrorDown())
}
