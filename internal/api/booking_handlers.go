package api

import (
	"context"
	"net/http"
	"strings"

	"captaincrm/internal/models"
	"captaincrm/internal/service"

	"github.com/shopspring/decimal"
)

// bookingAction decodes an optional JSON body into req and applies fn to the
// booking named by the {id} path segment.
func bookingAction[T any](s *HTTPServer, w http.ResponseWriter, r *http.Request, req *T, fn func(ctx context.Context, id int64) (any, error)) {
	if s.svc.Bookings == nil {
		s.unavailable(w, "booking service")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if req != nil {
		if err := decodeJSON(r, req); err != nil {
			s.writeErr(w, r, err)
			return
		}
	}
	out, err := fn(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleSubmitBooking(w http.ResponseWriter, r *http.Request) {
	if s.svc.Bookings == nil {
		s.unavailable(w, "booking service")
		return
	}
	var form service.BookingForm
	if err := decodeJSON(r, &form); err != nil {
		s.writeErr(w, r, err)
		return
	}
	booking, err := s.svc.Bookings.SubmitForm(r.Context(), form)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"booking_id": booking.ID,
		"message":    "Thank you for your booking request. We will contact you shortly.",
	})
}

func (s *HTTPServer) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	bookingAction(s, w, r, &req, func(ctx context.Context, id int64) (any, error) {
		return s.svc.Bookings.ChangeStatus(ctx, id, strings.TrimSpace(req.Status))
	})
}

func (s *HTTPServer) handleAssignEmployee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmployeeID int64 `json:"employee_id"`
	}
	bookingAction(s, w, r, &req, func(ctx context.Context, id int64) (any, error) {
		if req.EmployeeID <= 0 {
			return nil, models.NewValidationError("employee_id", "is required")
		}
		return s.svc.Bookings.AssignEmployee(ctx, id, req.EmployeeID)
	})
}

func (s *HTTPServer) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	bookingAction(s, w, r, &req, func(ctx context.Context, id int64) (any, error) {
		return s.svc.Bookings.RecordPayment(ctx, id, req.Type)
	})
}

func (s *HTTPServer) handleReleasePayment(w http.ResponseWriter, r *http.Request) {
	bookingAction[struct{}](s, w, r, nil, func(ctx context.Context, id int64) (any, error) {
		return s.svc.Bookings.ReleasePayment(ctx, id)
	})
}

func (s *HTTPServer) handleIssueInvoice(w http.ResponseWriter, r *http.Request) {
	bookingAction[struct{}](s, w, r, nil, func(ctx context.Context, id int64) (any, error) {
		return s.svc.Bookings.IssueInvoice(ctx, id)
	})
}

func (s *HTTPServer) handleInvoicePaid(w http.ResponseWriter, r *http.Request) {
	bookingAction[struct{}](s, w, r, nil, func(ctx context.Context, id int64) (any, error) {
		return s.svc.Bookings.MarkInvoicePaid(ctx, id)
	})
}

func (s *HTTPServer) handleSaveContract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	bookingAction(s, w, r, &req, func(ctx context.Context, id int64) (any, error) {
		return s.svc.Bookings.SaveContract(ctx, id, req.Text)
	})
}

func (s *HTTPServer) handleContractStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	bookingAction(s, w, r, &req, func(ctx context.Context, id int64) (any, error) {
		return s.svc.Bookings.SetContractStatus(ctx, id, req.Status)
	})
}

func (s *HTTPServer) handleClientRating(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ratings == nil {
		s.unavailable(w, "rating service")
		return
	}
	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	bookingAction(s, w, r, &req, func(ctx context.Context, id int64) (any, error) {
		return s.svc.Ratings.SubmitClientRating(ctx, id, req.Rating, req.Comment)
	})
}

func (s *HTTPServer) handleTipRequest(w http.ResponseWriter, r *http.Request) {
	if s.svc.Tips == nil {
		s.unavailable(w, "tip service")
		return
	}
	bookingAction[struct{}](s, w, r, nil, func(ctx context.Context, id int64) (any, error) {
		return s.svc.Tips.RequestTip(ctx, id)
	})
}

func (s *HTTPServer) handleSetClientRating(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ratings == nil {
		s.unavailable(w, "rating service")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var req struct {
		Rating int `json:"rating"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	client, err := s.svc.Ratings.SetClientRating(r.Context(), id, req.Rating)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client.View())
}

func (s *HTTPServer) handleClientRank(w http.ResponseWriter, r *http.Request) {
	s.rank(w, r, func(ctx context.Context, id int64) (*service.RankSummary, error) {
		return s.svc.Ratings.ClientRank(ctx, id)
	})
}

func (s *HTTPServer) handleEmployeeRank(w http.ResponseWriter, r *http.Request) {
	s.rank(w, r, func(ctx context.Context, id int64) (*service.RankSummary, error) {
		return s.svc.Ratings.EmployeeRank(ctx, id)
	})
}

func (s *HTTPServer) rank(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) (*service.RankSummary, error)) {
	if s.svc.Ratings == nil {
		s.unavailable(w, "rating service")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	summary, err := fn(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// tipView is the public projection of a booking shown on the tip page.
type tipView struct {
	Title       string          `json:"title"`
	ServiceType string          `json:"service_type"`
	StartDate   string          `json:"start_date"`
	TipPaid     bool            `json:"tip_paid"`
	TipAmount   decimal.Decimal `json:"tip_amount"`
}

func (s *HTTPServer) handleTipLookup(w http.ResponseWriter, r *http.Request) {
	if s.svc.Tips == nil {
		s.unavailable(w, "tip service")
		return
	}
	booking, err := s.svc.Tips.BookingByToken(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tipView{
		Title:       booking.Title,
		ServiceType: booking.ServiceType,
		StartDate:   booking.StartDate.Format(models.DateLayout),
		TipPaid:     booking.TipPaid,
		TipAmount:   booking.TipAmount,
	})
}

func (s *HTTPServer) handleTipSubmit(w http.ResponseWriter, r *http.Request) {
	if s.svc.Tips == nil {
		s.unavailable(w, "tip service")
		return
	}
	var req struct {
		Amount         decimal.Decimal `json:"amount"`
		IdempotencyKey string          `json:"idempotency_key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	receipt, err := s.svc.Tips.SubmitTip(r.Context(), r.PathValue("token"), req.Amount, key)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
