package models

const (
	StatusInquiry   = "inquiry"
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	PaymentPending = "pending"
	PaymentPartial = "partial"
	PaymentPaid    = "paid"
)

const (
	ServiceCharter     = "charter"
	ServiceFlotilla    = "flotilla"
	ServiceInstruction = "instruction"
	ServiceDelivery    = "delivery"
)

const (
	CrewCaptain = "captain"
	CrewChef    = "chef"
	CrewBoth    = "both"
	CrewNone    = "none"
)

const (
	ExperienceNone         = "none"
	ExperienceBeginner     = "beginner"
	ExperienceIntermediate = "intermediate"
	ExperienceAdvanced     = "advanced"
	ExperienceExpert       = "expert"
)

const (
	ContractNone   = "none"
	ContractDraft  = "draft"
	ContractSent   = "sent"
	ContractSigned = "signed"
)

const (
	InvoiceNone   = "none"
	InvoiceIssued = "issued"
	InvoicePaid   = "paid"
)

const DestinationOther = "other"

const (
	// DefaultClientRating is assigned to clients created without an explicit rating.
	DefaultClientRating = 5

	// DefaultPageSize is used by listing endpoints when no limit is supplied.
	DefaultPageSize = 10

	// MaxPageSize caps a single listing request.
	MaxPageSize = 500

	// DateLayout is the wire and storage format of calendar dates.
	DateLayout = "2006-01-02"
)

var ServiceTypeLabels = map[string]string{
	ServiceCharter:     "Private Charter",
	ServiceFlotilla:    "Flotilla Leading",
	ServiceInstruction: "Sailing Instruction",
	ServiceDelivery:    "Yacht Delivery",
}

var DestinationLabels = map[string]string{
	"greece":         "Greece",
	"bvi":            "British Virgin Islands",
	"croatia":        "Croatia",
	"italy":          "Italy",
	"spain":          "Spain",
	"turkey":         "Turkey",
	DestinationOther: "Other",
}

// ServiceLabel returns the display name of a service type, or the raw value when unknown.
func ServiceLabel(serviceType string) string {
	if label, ok := ServiceTypeLabels[serviceType]; ok {
		return label
	}
	return serviceType
}

// DestinationLabel returns the display name of a destination, or the raw value when unknown.
func DestinationLabel(destination string) string {
	if label, ok := DestinationLabels[destination]; ok {
		return label
	}
	return destination
}

func IsValidServiceType(v string) bool {
	_, ok := ServiceTypeLabels[v]
	return ok
}

func IsValidCrewServices(v string) bool {
	switch v {
	case CrewCaptain, CrewChef, CrewBoth, CrewNone:
		return true
	}
	return false
}

func IsValidExperience(v string) bool {
	switch v {
	case ExperienceNone, ExperienceBeginner, ExperienceIntermediate, ExperienceAdvanced, ExperienceExpert:
		return true
	}
	return false
}

func IsValidBookingStatus(v string) bool {
	switch v {
	case StatusInquiry, StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func IsValidPaymentStatus(v string) bool {
	switch v {
	case PaymentPending, PaymentPartial, PaymentPaid:
		return true
	}
	return false
}

func IsValidContractStatus(v string) bool {
	switch v {
	case ContractNone, ContractDraft, ContractSent, ContractSigned:
		return true
	}
	return false
}

func IsValidInvoiceStatus(v string) bool {
	switch v {
	case InvoiceNone, InvoiceIssued, InvoicePaid:
		return true
	}
	return false
}

// Destinations are open-ended, any non-empty lowercase slug is accepted.
func IsValidDestination(v string) bool {
	return v != ""
}

var statusTransitions = map[string][]string{
	StatusInquiry:   {StatusPending, StatusConfirmed, StatusCancelled},
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusCompleted: nil,
	StatusCancelled: nil,
}

// CanTransition reports whether a booking may move from one workflow status to another.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
