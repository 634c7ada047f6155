package router

import (
	"strconv"
	"time"

	"captaincrm/internal/models"
)

// calendarFilters maps calendar filter keys onto booking fields.
var calendarFilters = map[string]string{
	"service":  "service_type",
	"crew":     "crew_services",
	"employee": "employee_id",
}

// ClientBookingsQuery selects a client's bookings newest start first. status
// is "all" (or empty), "upcoming", "past" or a booking status; upcoming and
// past are relative to today. A zero limit means no limit.
func ClientBookingsQuery(clientID int64, status string, limit, offset int, today time.Time) (models.Query, error) {
	if clientID <= 0 {
		return models.Query{}, models.NewValidationError("client_id", "client id must be positive")
	}
	if limit < 0 || offset < 0 {
		return models.Query{}, models.NewValidationError("limit", "limit and offset must not be negative")
	}

	q := models.Query{
		Where:  []models.Predicate{models.Eq("client_id", clientID)},
		Sort:   []models.Order{{Field: "start_date", Desc: true}},
		Limit:  limit,
		Offset: offset,
	}
	switch status {
	case "", "all":
	case "upcoming":
		q.Where = append(q.Where, models.Gte("start_date", models.Day(today)))
	case "past":
		q.Where = append(q.Where, models.Lt("start_date", models.Day(today)))
	default:
		if !models.IsValidBookingStatus(status) {
			return models.Query{}, models.NewValidationError("status", "unknown status %q", status)
		}
		q.Where = append(q.Where, models.Eq("status", status))
	}
	return q, nil
}

// CalendarQuery selects bookings overlapping [start, end]: those starting on
// or before end and ending on or after start.
func CalendarQuery(start, end string, filters map[string]string) (models.Query, error) {
	from, err := models.ParseDate("start", start)
	if err != nil {
		return models.Query{}, err
	}
	to, err := models.ParseDate("end", end)
	if err != nil {
		return models.Query{}, err
	}
	if to.Before(from) {
		return models.Query{}, models.NewValidationError("end", "end %s is before start %s", end, start)
	}

	q := models.Query{
		Where: []models.Predicate{
			models.Lte("start_date", to),
			models.Gte("end_date", from),
		},
		Sort: []models.Order{{Field: "start_date"}},
	}
	for key, value := range filters {
		field, ok := calendarFilters[key]
		if !ok {
			return models.Query{}, models.NewUnsupportedQuery("unknown calendar filter %q", key)
		}
		if value == "" {
			continue
		}
		if field == "employee_id" {
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return models.Query{}, models.NewValidationError(key, "invalid employee id %q", value)
			}
			q.Where = append(q.Where, models.Eq(field, id))
			continue
		}
		q.Where = append(q.Where, models.Eq(field, value))
	}
	return q, nil
}

// ReportQuery selects bookings starting in year, or in one month of it when
// month is 1-12, ordered by start date.
func ReportQuery(year, month int, service, destination string) (models.Query, error) {
	if year < 1 || year > 9999 {
		return models.Query{}, models.NewValidationError("year", "invalid year %d", year)
	}
	if month < 0 || month > 12 {
		return models.Query{}, models.NewValidationError("month", "invalid month %d", month)
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	if month > 0 {
		from = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		to = from.AddDate(0, 1, -1)
	}

	q := models.Query{
		Where: []models.Predicate{
			models.Gte("start_date", from),
			models.Lte("start_date", to),
		},
		Sort: []models.Order{{Field: "start_date"}},
	}
	if service != "" {
		q.Where = append(q.Where, models.Eq("service_type", service))
	}
	if destination != "" {
		q.Where = append(q.Where, models.Eq("destination", destination))
	}
	return q, nil
}
