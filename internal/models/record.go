package models

// EntityKind names one of the two mirrored record kinds.
type EntityKind string

const (
	KindClient  EntityKind = "client"
	KindBooking EntityKind = "booking"
)

// Kinds lists every mirrored entity kind in migration order.
var Kinds = []EntityKind{KindClient, KindBooking}

// ParseKind accepts singular and plural spellings.
func ParseKind(s string) (EntityKind, error) {
	switch s {
	case "client", "clients":
		return KindClient, nil
	case "booking", "bookings":
		return KindBooking, nil
	}
	return "", NewValidationError("kind", "unknown entity kind %q", s)
}

// Collection names the secondary store collection for k, empty for unknown kinds.
func (k EntityKind) Collection() string {
	switch k {
	case KindClient:
		return "clients"
	case KindBooking:
		return "bookings"
	}
	return ""
}

// Record is implemented by every entity the record store notifies about.
type Record interface {
	Kind() EntityKind
	RecordID() int64
}

// Fields carries named attribute values for generic create and partial update.
type Fields map[string]any
