// Package export renders reports and booking lists as XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"captaincrm/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	SheetSummary      = "Summary"
	SheetServices     = "By service"
	SheetDestinations = "By destination"
	SheetMonths       = "By month"
	SheetBookings     = "Bookings"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var bookingHeaders = []string{
	"ID", "Title", "Client ID", "Service", "Destination", "Start", "End",
	"Crew", "Price", "Status", "Payment", "Tip requested", "Tip paid",
}

type Exporter struct {
	dir    string
	logger *zerolog.Logger
	now    func() time.Time
}

// NewExporter writes saved workbooks under dir.
func NewExporter(dir string, logger *zerolog.Logger) *Exporter {
	return &Exporter{dir: dir, logger: logger, now: time.Now}
}

// WriteReport streams a report workbook to w.
func (e *Exporter) WriteReport(w io.Writer, report *models.ReportData) error {
	f, err := reportWorkbook(report)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// WriteBookings streams a booking list workbook to w.
func (e *Exporter) WriteBookings(w io.Writer, views []models.BookingView) error {
	f, err := bookingsWorkbook(views)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// SaveReport writes the report workbook to the export directory and returns its path.
func (e *Exporter) SaveReport(report *models.ReportData) (string, error) {
	f, err := reportWorkbook(report)
	if err != nil {
		return "", err
	}
	defer f.Close()

	period := fmt.Sprintf("%04d", report.Year)
	if report.Month > 0 {
		period = fmt.Sprintf("%04d-%02d", report.Year, report.Month)
	}
	return e.save(f, fmt.Sprintf("report_%s_%s.xlsx", period, e.now().Format("20060102_150405")))
}

// SaveBookings writes a booking list workbook to the export directory.
func (e *Exporter) SaveBookings(views []models.BookingView) (string, error) {
	f, err := bookingsWorkbook(views)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return e.save(f, fmt.Sprintf("bookings_%s.xlsx", e.now().Format("20060102_150405")))
}

func (e *Exporter) save(f *excelize.File, name string) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	path := filepath.Join(e.dir, name)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	e.logger.Info().Str("file_path", path).Msg("Excel file created")
	return path, nil
}

func reportWorkbook(report *models.ReportData) (*excelize.File, error) {
	if report == nil {
		return nil, models.NewValidationError("report", "is required")
	}

	f := excelize.NewFile()
	header, err := headerStyle(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		f.Close()
		return nil, fmt.Errorf("error renaming sheet: %w", err)
	}

	period := fmt.Sprintf("%d", report.Year)
	if report.Month > 0 {
		period = fmt.Sprintf("%04d-%02d", report.Year, report.Month)
	}
	summary := [][]any{
		{"Period", period},
		{"Service filter", orAll(report.ServiceFilter)},
		{"Destination filter", orAll(report.DestinationFilter)},
		{"Total bookings", report.TotalBookings},
		{"Total revenue", money(report.TotalRevenue)},
		{"Active days", report.ActiveDays},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing summary: %w", err)
		}
	}
	_ = f.SetCellStyle(SheetSummary, "A1", fmt.Sprintf("A%d", len(summary)), header)
	_ = f.SetColWidth(SheetSummary, "A", "A", 22)
	_ = f.SetColWidth(SheetSummary, "B", "B", 18)

	groups := []struct {
		sheet string
		label string
		stats map[string]models.GroupStat
		name  func(string) string
	}{
		{SheetServices, "Service", report.ServiceStats, models.ServiceLabel},
		{SheetDestinations, "Destination", report.DestinationStats, models.DestinationLabel},
	}
	for _, g := range groups {
		rows := make([][]any, 0, len(g.stats))
		for _, key := range slices.Sorted(maps.Keys(g.stats)) {
			s := g.stats[key]
			rows = append(rows, []any{g.name(key), s.Count, money(s.Revenue)})
		}
		if err := writeTable(f, g.sheet, []string{g.label, "Bookings", "Revenue"}, rows, header); err != nil {
			f.Close()
			return nil, err
		}
	}

	months := make([][]any, 0, len(report.MonthlyStats))
	for _, key := range slices.Sorted(maps.Keys(report.MonthlyStats)) {
		s := report.MonthlyStats[key]
		months = append(months, []any{key, s.Count, money(s.Revenue), s.Days})
	}
	if err := writeTable(f, SheetMonths, []string{"Month", "Bookings", "Revenue", "Days"}, months, header); err != nil {
		f.Close()
		return nil, err
	}

	f.SetActiveSheet(0)
	return f, nil
}

func bookingsWorkbook(views []models.BookingView) (*excelize.File, error) {
	f := excelize.NewFile()
	header, err := headerStyle(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetSheetName("Sheet1", SheetBookings); err != nil {
		f.Close()
		return nil, fmt.Errorf("error renaming sheet: %w", err)
	}

	rows := make([][]any, 0, len(views))
	for _, v := range views {
		price, _ := decimal.NewFromString(v.Price)
		rows = append(rows, []any{
			v.ID, v.Title, v.ClientID, v.ServiceLabel, v.DestinationLabel, v.StartDate, v.EndDate,
			v.CrewSize, money(price), v.Status, v.PaymentStatus, yesNo(v.TipRequested), yesNo(v.TipPaid),
		})
	}
	if err := writeTable(f, SheetBookings, bookingHeaders, rows, header); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.SetColWidth(SheetBookings, "B", "B", 40)
	_ = f.SetColWidth(SheetBookings, "D", "E", 22)
	return f, nil
}

// writeTable creates sheet when missing and writes a header row followed by rows.
func writeTable(f *excelize.File, sheet string, headers []string, rows [][]any, headerStyleID int) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("error creating sheet: %w", err)
		}
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheet, "A1", last, headerStyleID)

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("error writing row %d: %w", i+2, err)
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(sheet, "A", lastCol, 16)
	return nil
}

func headerStyle(f *excelize.File) (int, error) {
	style, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return 0, fmt.Errorf("error creating style: %w", err)
	}
	return style, nil
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func orAll(v string) string {
	if v == "" {
		return "all"
	}
	return v
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
