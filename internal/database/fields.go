package database

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"captaincrm/internal/models"

	"github.com/shopspring/decimal"
)

type attrType int

const (
	attrText attrType = iota
	attrInt
	attrDecimal
	attrDate
	attrTime
	attrBool
	attrMap
)

// writable describes one attribute accepted by Create and Update.
type writable struct {
	typ      attrType
	nullable bool
	required bool
	check    func(v any) error
}

func oneOf(field string, valid func(string) bool) func(v any) error {
	return func(v any) error {
		s, _ := v.(string)
		if s == "" || valid(s) {
			return nil
		}
		return models.NewValidationError(field, "unsupported value %q", s)
	}
}

func intRange(field string, lo, hi int64) func(v any) error {
	return func(v any) error {
		n, _ := v.(int64)
		if n < lo || n > hi {
			return models.NewValidationError(field, "must be between %d and %d", lo, hi)
		}
		return nil
	}
}

func nonNegative(field string) func(v any) error {
	return func(v any) error {
		if d, ok := v.(decimal.Decimal); ok && d.IsNegative() {
			return models.NewValidationError(field, "must not be negative")
		}
		return nil
	}
}

var writableFields = map[models.EntityKind]map[string]writable{
	models.KindClient: {
		"name":               {typ: attrText},
		"email":              {typ: attrText, required: true},
		"phone":              {typ: attrText},
		"nationality":        {typ: attrText},
		"sailing_experience": {typ: attrText, check: oneOf("sailing_experience", models.IsValidExperience)},
		"address":            {typ: attrText},
		"certifications":     {typ: attrText},
		"notes":              {typ: attrText},
		"rating":             {typ: attrInt, check: intRange("rating", 1, 10)},
		"cancellations":      {typ: attrInt, check: intRange("cancellations", 0, 1<<31)},
		"active":             {typ: attrBool},
		"attributes":         {typ: attrMap},
	},
	models.KindBooking: {
		"client_id":             {typ: attrInt, required: true, check: intRange("client_id", 1, 1<<62)},
		"employee_id":           {typ: attrInt, nullable: true},
		"title":                 {typ: attrText},
		"service_type":          {typ: attrText, required: true, check: oneOf("service_type", models.IsValidServiceType)},
		"destination":           {typ: attrText, required: true},
		"start_date":            {typ: attrDate, required: true},
		"end_date":              {typ: attrDate, nullable: true},
		"crew_size":             {typ: attrInt, check: intRange("crew_size", 0, 1000)},
		"crew_services":         {typ: attrText, check: oneOf("crew_services", models.IsValidCrewServices)},
		"price":                 {typ: attrDecimal, check: nonNegative("price")},
		"status":                {typ: attrText, check: oneOf("status", models.IsValidBookingStatus)},
		"notes":                 {typ: attrText},
		"payment_status":        {typ: attrText, check: oneOf("payment_status", models.IsValidPaymentStatus)},
		"deposit_amount":        {typ: attrDecimal, check: nonNegative("deposit_amount")},
		"deposit_paid":          {typ: attrBool},
		"payment_released":      {typ: attrBool},
		"payment_release_date":  {typ: attrTime, nullable: true},
		"tip_requested":         {typ: attrBool},
		"tip_token":             {typ: attrText, nullable: true},
		"tip_paid":              {typ: attrBool},
		"tip_amount":            {typ: attrDecimal, check: nonNegative("tip_amount")},
		"contract":              {typ: attrText},
		"contract_status":       {typ: attrText, check: oneOf("contract_status", models.IsValidContractStatus)},
		"invoice_number":        {typ: attrText, nullable: true},
		"invoice_status":        {typ: attrText, check: oneOf("invoice_status", models.IsValidInvoiceStatus)},
		"client_rating":         {typ: attrInt, check: intRange("client_rating", 0, 5)},
		"client_rating_comment": {typ: attrText},
		"attributes":            {typ: attrMap},
	},
}

// normalizeFields validates the named attributes and converts them to column values.
func normalizeFields(kind models.EntityKind, fields models.Fields) (map[string]any, error) {
	spec, ok := writableFields[kind]
	if !ok {
		return nil, models.NewValidationError("kind", "unknown entity kind %q", kind)
	}

	out := make(map[string]any, len(fields))
	for name, raw := range fields {
		w, ok := spec[name]
		if !ok {
			return nil, models.NewValidationError(name, "unknown attribute for %s", kind)
		}
		v, err := toColumnValue(name, w, raw)
		if err != nil {
			return nil, err
		}
		if v == nil && w.required {
			return nil, models.NewValidationError(name, "is required")
		}
		out[name] = v
	}
	return out, nil
}

func toColumnValue(name string, w writable, raw any) (any, error) {
	if isNil(raw) {
		if w.nullable {
			return nil, nil
		}
		if w.required {
			return nil, models.NewValidationError(name, "is required")
		}
		return nil, models.NewValidationError(name, "must not be null")
	}
	if p, ok := raw.(*time.Time); ok {
		raw = *p
	}
	if p, ok := raw.(*int64); ok {
		raw = *p
	}

	var (
		v   any
		err error
	)
	switch w.typ {
	case attrText:
		s, ok := raw.(string)
		if !ok {
			return nil, models.NewValidationError(name, "must be a string")
		}
		s = strings.TrimSpace(s)
		if name == "email" {
			s = strings.ToLower(s)
		}
		if s == "" && (w.nullable || w.required) {
			if w.required {
				return nil, models.NewValidationError(name, "is required")
			}
			return nil, nil
		}
		v = s
	case attrInt:
		n, ok := models.Coerce(models.FieldInt, raw)
		if !ok {
			return nil, models.NewValidationError(name, "must be an integer")
		}
		if w.nullable && n.(int64) == 0 {
			return nil, nil
		}
		v = n
	case attrDecimal:
		d, ok := models.Coerce(models.FieldDecimal, raw)
		if !ok {
			return nil, models.NewValidationError(name, "must be a decimal amount")
		}
		v = d
	case attrDate:
		d, ok := models.Coerce(models.FieldDate, raw)
		if !ok {
			return nil, models.NewValidationError(name, "invalid date, expected YYYY-MM-DD")
		}
		if d.(time.Time).IsZero() {
			if w.nullable {
				return nil, nil
			}
			return nil, models.NewValidationError(name, "is required")
		}
		v = d
	case attrTime:
		t, ok := raw.(time.Time)
		if !ok {
			return nil, models.NewValidationError(name, "must be a timestamp")
		}
		if t.IsZero() && w.nullable {
			return nil, nil
		}
		v = t.UTC()
	case attrBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, models.NewValidationError(name, "must be a boolean")
		}
		v = b
	case attrMap:
		m, ok := raw.(map[string]string)
		if !ok {
			return nil, models.NewValidationError(name, "must be a string map")
		}
		v = m
	}

	if w.check != nil {
		if err = w.check(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func isNil(v any) bool {
	switch p := v.(type) {
	case nil:
		return true
	case *time.Time:
		return p == nil
	case *int64:
		return p == nil
	}
	return false
}

// columnArg renders a normalized attribute for the sqlite driver.
func columnArg(typ attrType, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		return val.String(), nil
	case time.Time:
		if typ == attrDate {
			return val.Format(models.DateLayout), nil
		}
		return val.UTC(), nil
	case map[string]string:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attributes: %w", err)
		}
		return string(raw), nil
	}
	return v, nil
}

func decodeAttributes(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
