package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ClientDocument is the secondary store projection of a Client.
type ClientDocument struct {
	ID                bson.ObjectID `json:"-" bson:"_id,omitempty"`
	SourceID          int64         `json:"source_id" bson:"source_id"`
	Name              string        `json:"name" bson:"name"`
	Email             string        `json:"email" bson:"email"`
	Phone             string        `json:"phone,omitempty" bson:"phone,omitempty"`
	Nationality       string        `json:"nationality,omitempty" bson:"nationality,omitempty"`
	SailingExperience string        `json:"sailing_experience,omitempty" bson:"sailing_experience,omitempty"`
	Address           string        `json:"address,omitempty" bson:"address,omitempty"`
	Certifications    string        `json:"certifications,omitempty" bson:"certifications,omitempty"`
	Notes             string        `json:"notes,omitempty" bson:"notes,omitempty"`
	Rating            int           `json:"rating" bson:"rating"`
	Cancellations     int           `json:"cancellations" bson:"cancellations"`
	Active            bool          `json:"active" bson:"active"`
	CreatedAt         time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" bson:"updated_at"`
}

// BookingDocument is the secondary store projection of a Booking. EndDate is
// always set; single-day bookings carry their start date. Deposit, release
// date, tip token, notes, contract text and the rating comment stay in the
// record store only.
type BookingDocument struct {
	ID              bson.ObjectID `json:"-" bson:"_id,omitempty"`
	SourceID        int64         `json:"source_id" bson:"source_id"`
	ClientID        int64         `json:"client_id" bson:"client_id"`
	EmployeeID      *int64        `json:"employee_id,omitempty" bson:"employee_id,omitempty"`
	Title           string        `json:"title" bson:"title"`
	ServiceType     string        `json:"service_type" bson:"service_type"`
	Destination     string        `json:"destination" bson:"destination"`
	StartDate       time.Time     `json:"start_date" bson:"start_date"`
	EndDate         time.Time     `json:"end_date" bson:"end_date"`
	CrewSize        int           `json:"crew_size" bson:"crew_size"`
	CrewServices    string        `json:"crew_services,omitempty" bson:"crew_services,omitempty"`
	Price           float64       `json:"price" bson:"price"`
	Status          string        `json:"status" bson:"status"`
	PaymentStatus   string        `json:"payment_status" bson:"payment_status"`
	DepositPaid     bool          `json:"deposit_paid" bson:"deposit_paid"`
	PaymentReleased bool          `json:"payment_released" bson:"payment_released"`
	TipRequested    bool          `json:"tip_requested" bson:"tip_requested"`
	TipPaid         bool          `json:"tip_paid" bson:"tip_paid"`
	TipAmount       float64       `json:"tip_amount" bson:"tip_amount"`
	ContractStatus  string        `json:"contract_status,omitempty" bson:"contract_status,omitempty"`
	InvoiceNumber   string        `json:"invoice_number,omitempty" bson:"invoice_number,omitempty"`
	InvoiceStatus   string        `json:"invoice_status,omitempty" bson:"invoice_status,omitempty"`
	ClientRating    int           `json:"client_rating,omitempty" bson:"client_rating,omitempty"`
	CreatedAt       time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" bson:"updated_at"`
}

func NewClientDocument(c *Client) ClientDocument {
	rating := c.Rating
	if rating == 0 {
		rating = DefaultClientRating
	}
	return ClientDocument{
		SourceID:          c.ID,
		Name:              c.Name,
		Email:             c.Email,
		Phone:             c.Phone,
		Nationality:       c.Nationality,
		SailingExperience: c.SailingExperience,
		Address:           c.Address,
		Certifications:    c.Certifications,
		Notes:             c.Notes,
		Rating:            rating,
		Cancellations:     c.Cancellations,
		Active:            c.Active,
		CreatedAt:         c.CreatedAt.UTC(),
		UpdatedAt:         c.UpdatedAt.UTC(),
	}
}

func NewBookingDocument(b *Booking) BookingDocument {
	status := b.Status
	if status == "" {
		status = StatusInquiry
	}
	paymentStatus := b.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = PaymentPending
	}
	return BookingDocument{
		SourceID:        b.ID,
		ClientID:        b.ClientID,
		EmployeeID:      b.EmployeeID,
		Title:           b.Title,
		ServiceType:     b.ServiceType,
		Destination:     b.Destination,
		StartDate:       Day(b.StartDate),
		EndDate:         Day(b.LastDay()),
		CrewSize:        b.CrewSize,
		CrewServices:    b.CrewServices,
		Price:           b.Price.InexactFloat64(),
		Status:          status,
		PaymentStatus:   paymentStatus,
		DepositPaid:     b.DepositPaid,
		PaymentReleased: b.PaymentReleased,
		TipRequested:    b.TipRequested,
		TipPaid:         b.TipPaid,
		TipAmount:       b.TipAmount.InexactFloat64(),
		ContractStatus:  b.ContractStatus,
		InvoiceNumber:   b.InvoiceNumber,
		InvoiceStatus:   b.InvoiceStatus,
		ClientRating:    b.ClientRating,
		CreatedAt:       b.CreatedAt.UTC(),
		UpdatedAt:       b.UpdatedAt.UTC(),
	}
}

// View converts the mirror into the storage-agnostic booking shape.
func (d *BookingDocument) View() BookingView {
	return BookingView{
		ID:               d.SourceID,
		ClientID:         d.ClientID,
		EmployeeID:       d.EmployeeID,
		Title:            d.Title,
		ServiceType:      d.ServiceType,
		ServiceLabel:     ServiceLabel(d.ServiceType),
		Destination:      d.Destination,
		DestinationLabel: DestinationLabel(d.Destination),
		StartDate:        Day(d.StartDate).Format(DateLayout),
		EndDate:          Day(d.EndDate).Format(DateLayout),
		CrewSize:         d.CrewSize,
		CrewServices:     d.CrewServices,
		Price:            decimal.NewFromFloat(d.Price).StringFixed(2),
		Status:           d.Status,
		PaymentStatus:    d.PaymentStatus,
		TipRequested:     d.TipRequested,
		TipPaid:          d.TipPaid,
	}
}

// View converts the mirror into the storage-agnostic client shape.
func (d *ClientDocument) View() ClientView {
	return ClientView{
		ID:                d.SourceID,
		Name:              d.Name,
		Email:             d.Email,
		Phone:             d.Phone,
		Nationality:       d.Nationality,
		SailingExperience: d.SailingExperience,
		Rating:            d.Rating,
		Cancellations:     d.Cancellations,
		Rank:              ClientRank(d.Rating, d.Cancellations),
		Active:            d.Active,
	}
}
