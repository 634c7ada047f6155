package api

import (
	"net/http"
	"strings"
	"time"

	"captaincrm/internal/export"
	"captaincrm/internal/models"
)

func (s *HTTPServer) unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" is not configured")
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.svc.Mirror != nil {
		resp["mirror_enabled"] = s.svc.Mirror.Enabled()
	}
	if s.svc.Router != nil {
		resp["mirror_down"] = s.svc.Router.MirrorDown()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleClientBookings(w http.ResponseWriter, r *http.Request) {
	clientID, err := pathID(r, "id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	bookings, err := s.svc.Router.GetClientBookings(r.Context(), clientID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := make(map[string]string)
	for key, values := range q {
		if key == "start" || key == "end" || len(values) == 0 {
			continue
		}
		filters[key] = values[0]
	}

	events, err := s.svc.Router.GetCalendarEvents(r.Context(), q.Get("start"), q.Get("end"), filters)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *HTTPServer) report(r *http.Request) (*models.ReportData, error) {
	year, err := queryInt(r, "year", time.Now().Year())
	if err != nil {
		return nil, err
	}
	month, err := queryInt(r, "month", 0)
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	return s.svc.Router.GenerateReport(r.Context(), year, month, q.Get("service"), q.Get("destination"))
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.report(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleReportExport(w http.ResponseWriter, r *http.Request) {
	if s.svc.Exporter == nil {
		s.unavailable(w, "export")
		return
	}
	report, err := s.report(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	name := "report.xlsx"
	if report.Month > 0 {
		name = "report_" + time.Date(report.Year, time.Month(report.Month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01") + ".xlsx"
	}
	attachment(w, export.ContentType, name)
	if err := s.svc.Exporter.WriteReport(w, report); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write report export")
	}
}

// handleReportSave writes the report workbook into the exports directory.
func (s *HTTPServer) handleReportSave(w http.ResponseWriter, r *http.Request) {
	if s.svc.Exporter == nil {
		s.unavailable(w, "export")
		return
	}
	report, err := s.report(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	path, err := s.svc.Exporter.SaveReport(report)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *HTTPServer) handleFindBookings(w http.ResponseWriter, r *http.Request) {
	q, err := parseBookingQuery(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	bookings, err := s.svc.Router.FindBookings(r.Context(), q)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		if s.svc.Exporter == nil {
			s.unavailable(w, "export")
			return
		}
		attachment(w, export.ContentType, "bookings.xlsx")
		if err := s.svc.Exporter.WriteBookings(w, bookings); err != nil {
			s.logger.Error().Err(err).Msg("Failed to write bookings export")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	booking, err := s.svc.Router.GetBooking(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) migrationKind(w http.ResponseWriter, r *http.Request) (models.EntityKind, bool) {
	if s.svc.Migration == nil {
		s.unavailable(w, "migration")
		return "", false
	}
	kind, err := models.ParseKind(r.PathValue("kind"))
	if err != nil {
		s.writeErr(w, r, err)
		return "", false
	}
	return kind, true
}

func (s *HTTPServer) handleMigrationStart(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.migrationKind(w, r)
	if !ok {
		return
	}
	progress, err := s.svc.Migration.Start(r.Context(), kind)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, progress)
}

func (s *HTTPServer) handleMigrationProgress(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.migrationKind(w, r)
	if !ok {
		return
	}
	progress, err := s.svc.Migration.Progress(r.Context(), kind)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"progress": progress,
		"percent":  progress.Percent(),
	})
}

func (s *HTTPServer) handleMigrationVerify(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.migrationKind(w, r)
	if !ok {
		return
	}
	report, err := s.svc.Migration.Verify(r.Context(), kind)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleMigrationLastVerify(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.migrationKind(w, r)
	if !ok {
		return
	}
	report, err := s.svc.Migration.LastVerifyReport(r.Context(), kind)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handlePerfTest(w http.ResponseWriter, r *http.Request) {
	if s.svc.Perf == nil {
		s.unavailable(w, "performance testing")
		return
	}

	params := make(map[string]string)
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &params); err != nil {
			s.writeErr(w, r, err)
			return
		}
	}
	for key, values := range r.URL.Query() {
		if _, set := params[key]; !set && len(values) > 0 {
			params[key] = values[0]
		}
	}

	res, err := s.svc.Perf.RunTest(r.Context(), r.PathValue("test"), params)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.svc.Sweeper == nil {
		s.unavailable(w, "sync sweeper")
		return
	}
	if err := s.svc.Sweeper.RunOnce(r.Context()); err != nil {
		s.writeErr(w, r, err)
		return
	}
	res, at := s.svc.Sweeper.LastResult()
	writeJSON(w, http.StatusOK, map[string]any{"result": res, "at": at})
}

func (s *HTTPServer) handleSyncState(w http.ResponseWriter, r *http.Request) {
	if s.svc.States == nil {
		s.unavailable(w, "sync state")
		return
	}
	counts, err := s.svc.States.MirrorStateCounts(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	resp := map[string]any{"counts": counts}
	if s.svc.Sweeper != nil {
		if res, at := s.svc.Sweeper.LastResult(); res != nil {
			resp["last_sweep"] = res
			resp["last_sweep_at"] = at
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
