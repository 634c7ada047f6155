package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BookingView is the normalized booking shape returned by every read path,
// whichever backend served it.
type BookingView struct {
	ID               int64  `json:"id"`
	ClientID         int64  `json:"client_id"`
	EmployeeID       *int64 `json:"employee_id,omitempty"`
	Title            string `json:"title"`
	ServiceType      string `json:"service_type"`
	ServiceLabel     string `json:"service_label"`
	Destination      string `json:"destination"`
	DestinationLabel string `json:"destination_label"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	CrewSize         int    `json:"crew_size"`
	CrewServices     string `json:"crew_services,omitempty"`
	Price            string `json:"price"`
	Status           string `json:"status"`
	PaymentStatus    string `json:"payment_status"`
	TipRequested     bool   `json:"tip_requested"`
	TipPaid          bool   `json:"tip_paid"`
}

// View projects a primary record the same way BookingDocument.View does.
func (b *Booking) View() BookingView {
	doc := NewBookingDocument(b)
	v := doc.View()
	v.Price = b.Price.StringFixed(2)
	return v
}

type ClientView struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Phone             string `json:"phone,omitempty"`
	Nationality       string `json:"nationality,omitempty"`
	SailingExperience string `json:"sailing_experience,omitempty"`
	Rating            int    `json:"rating"`
	Cancellations     int    `json:"cancellations"`
	Rank              Rank   `json:"rank"`
	Active            bool   `json:"active"`
}

func (c *Client) View() ClientView {
	doc := NewClientDocument(c)
	return doc.View()
}

// CalendarEvent is a booking rendered for a calendar widget.
type CalendarEvent struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Start     string `json:"start"`
	End       string `json:"end"`
	URL       string `json:"url"`
	ClassName string `json:"className"`
}

func NewCalendarEvent(v BookingView) CalendarEvent {
	return CalendarEvent{
		ID:        v.ID,
		Title:     v.Title,
		Start:     v.StartDate,
		End:       v.EndDate,
		URL:       fmt.Sprintf("/admin/bookings/%d", v.ID),
		ClassName: "event-" + v.ServiceType,
	}
}

type GroupStat struct {
	Count   int             `json:"count"`
	Revenue decimal.Decimal `json:"revenue"`
}

type MonthStat struct {
	Count   int             `json:"count"`
	Revenue decimal.Decimal `json:"revenue"`
	Days    int             `json:"days"`
}

// ReportData aggregates bookings starting within a year (and optionally a month).
type ReportData struct {
	Year              int                  `json:"year"`
	Month             int                  `json:"month"`
	ServiceFilter     string               `json:"service_filter,omitempty"`
	DestinationFilter string               `json:"destination_filter,omitempty"`
	TotalBookings     int                  `json:"total_bookings"`
	TotalRevenue      decimal.Decimal      `json:"total_revenue"`
	ServiceStats      map[string]GroupStat `json:"service_stats"`
	DestinationStats  map[string]GroupStat `json:"destination_stats"`
	MonthlyStats      map[string]MonthStat `json:"monthly_stats"`
	ActiveDays        int                  `json:"active_days"`
}
