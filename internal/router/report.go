package router

import (
	"time"

	"captaincrm/internal/models"

	"github.com/shopspring/decimal"
)

const monthKeyLayout = "2006-01"

// BuildReport folds a report set into totals and per service, destination and
// month statistics. Bookings must be ordered by start date: a day of a booking
// only counts towards its month when that month already holds a booking.
func BuildReport(year, month int, service, destination string, set *ReportSet) *models.ReportData {
	data := &models.ReportData{
		Year:              year,
		Month:             month,
		ServiceFilter:     service,
		DestinationFilter: destination,
		TotalRevenue:      decimal.Zero,
		ServiceStats:      make(map[string]models.GroupStat),
		DestinationStats:  make(map[string]models.GroupStat),
		MonthlyStats:      make(map[string]models.MonthStat),
	}
	if set == nil {
		return data
	}
	data.TotalBookings = len(set.Bookings)
	data.TotalRevenue = set.Revenue

	active := make(map[string]struct{})
	for _, v := range set.Bookings {
		price, err := decimal.NewFromString(v.Price)
		if err != nil {
			price = decimal.Zero
		}
		addGroup(data.ServiceStats, v.ServiceType, price)
		addGroup(data.DestinationStats, v.Destination, price)

		start, err := time.Parse(models.DateLayout, v.StartDate)
		if err != nil {
			continue
		}
		key := start.Format(monthKeyLayout)
		ms := data.MonthlyStats[key]
		ms.Count++
		ms.Revenue = ms.Revenue.Add(price)
		data.MonthlyStats[key] = ms

		end, err := time.Parse(models.DateLayout, v.EndDate)
		if err != nil || end.Before(start) {
			end = start
		}
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			day := d.Format(models.DateLayout)
			if _, seen := active[day]; seen {
				continue
			}
			active[day] = struct{}{}
			if m, ok := data.MonthlyStats[d.Format(monthKeyLayout)]; ok {
				m.Days++
				data.MonthlyStats[d.Format(monthKeyLayout)] = m
			}
		}
	}
	data.ActiveDays = len(active)
	return data
}

func addGroup(stats map[string]models.GroupStat, key string, price decimal.Decimal) {
	s := stats[key]
	s.Count++
	s.Revenue = s.Revenue.Add(price)
	stats[key] = s
}
