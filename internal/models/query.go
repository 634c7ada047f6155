package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Op string

const (
	OpEq  Op = "eq"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
)

func (o Op) isRange() bool {
	return o == OpLt || o == OpLte || o == OpGt || o == OpGte
}

type FieldType int

const (
	FieldText FieldType = iota
	FieldInt
	FieldDecimal
	FieldDate
	FieldTime
	FieldBool
)

// FieldSpec describes how a named attribute may be queried.
type FieldSpec struct {
	Type     FieldType
	Sortable bool
}

func (f FieldSpec) rangeable() bool {
	return f.Type != FieldText && f.Type != FieldBool
}

// Queryable attributes per kind. Both backends implement exactly this catalogue.
var queryFields = map[EntityKind]map[string]FieldSpec{
	KindClient: {
		"id":                 {Type: FieldInt, Sortable: true},
		"name":               {Type: FieldText, Sortable: true},
		"email":              {Type: FieldText},
		"nationality":        {Type: FieldText},
		"sailing_experience": {Type: FieldText},
		"rating":             {Type: FieldInt, Sortable: true},
		"cancellations":      {Type: FieldInt, Sortable: true},
		"active":             {Type: FieldBool},
		"created_at":         {Type: FieldTime, Sortable: true},
		"updated_at":         {Type: FieldTime, Sortable: true},
	},
	KindBooking: {
		"id":             {Type: FieldInt, Sortable: true},
		"client_id":      {Type: FieldInt},
		"employee_id":    {Type: FieldInt},
		"title":          {Type: FieldText, Sortable: true},
		"service_type":   {Type: FieldText},
		"destination":    {Type: FieldText},
		"status":         {Type: FieldText},
		"payment_status": {Type: FieldText},
		"crew_services":  {Type: FieldText},
		"start_date":     {Type: FieldDate, Sortable: true},
		"end_date":       {Type: FieldDate, Sortable: true},
		"price":          {Type: FieldDecimal, Sortable: true},
		"created_at":     {Type: FieldTime, Sortable: true},
		"updated_at":     {Type: FieldTime, Sortable: true},
	},
}

// QueryField looks up the catalogue entry for a field of kind.
func QueryField(kind EntityKind, field string) (FieldSpec, bool) {
	spec, ok := queryFields[kind][field]
	return spec, ok
}

type Predicate struct {
	Field string
	Op    Op
	Value any
}

type Order struct {
	Field string
	Desc  bool
}

// Query is a backend-neutral conjunction of predicates with ordering and pagination.
type Query struct {
	Where  []Predicate
	Sort   []Order
	Limit  int
	Offset int
}

func Eq(field string, value any) Predicate  { return Predicate{Field: field, Op: OpEq, Value: value} }
func Gte(field string, value any) Predicate { return Predicate{Field: field, Op: OpGte, Value: value} }
func Lte(field string, value any) Predicate { return Predicate{Field: field, Op: OpLte, Value: value} }
func Lt(field string, value any) Predicate  { return Predicate{Field: field, Op: OpLt, Value: value} }
func Gt(field string, value any) Predicate  { return Predicate{Field: field, Op: OpGt, Value: value} }

// Normalize validates q against the catalogue of kind and coerces predicate values
// to their canonical Go types (int64, decimal.Decimal, time.Time, string, bool).
func (q Query) Normalize(kind EntityKind) (Query, error) {
	fields, ok := queryFields[kind]
	if !ok {
		return Query{}, NewUnsupportedQuery("unknown entity kind %q", kind)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return Query{}, NewValidationError("limit", "limit and offset must not be negative")
	}

	out := Query{Limit: q.Limit, Offset: q.Offset}
	seen := make(map[string][]Op)
	for _, p := range q.Where {
		spec, ok := fields[p.Field]
		if !ok {
			return Query{}, NewUnsupportedQuery("%s has no filterable field %q", kind, p.Field)
		}
		switch {
		case p.Op == OpEq:
		case p.Op.isRange():
			if !spec.rangeable() {
				return Query{}, NewUnsupportedQuery("range operator %s on %s field %q", p.Op, kind, p.Field)
			}
		default:
			return Query{}, NewUnsupportedQuery("unknown operator %q", p.Op)
		}

		for _, prev := range seen[p.Field] {
			if prev == OpEq || p.Op == OpEq || prev == p.Op {
				return Query{}, NewUnsupportedQuery("conflicting predicates on %q", p.Field)
			}
		}
		seen[p.Field] = append(seen[p.Field], p.Op)

		v, ok := Coerce(spec.Type, p.Value)
		if !ok {
			return Query{}, NewValidationError(p.Field, "value %v has wrong type", p.Value)
		}
		out.Where = append(out.Where, Predicate{Field: p.Field, Op: p.Op, Value: v})
	}

	for _, o := range q.Sort {
		spec, ok := fields[o.Field]
		if !ok || !spec.Sortable {
			return Query{}, NewUnsupportedQuery("%s cannot be sorted by %q", kind, o.Field)
		}
		out.Sort = append(out.Sort, o)
	}
	return out, nil
}

// Coerce converts v to the canonical Go type of t.
func Coerce(t FieldType, v any) (any, bool) {
	switch t {
	case FieldText:
		s, ok := v.(string)
		return s, ok
	case FieldBool:
		b, ok := v.(bool)
		return b, ok
	case FieldInt:
		switch n := v.(type) {
		case int:
			return int64(n), true
		case int64:
			return n, true
		case int32:
			return int64(n), true
		case float64:
			if n == float64(int64(n)) {
				return int64(n), true
			}
		}
		return nil, false
	case FieldDecimal:
		switch n := v.(type) {
		case decimal.Decimal:
			return n, true
		case float64:
			return decimal.NewFromFloat(n), true
		case int:
			return decimal.NewFromInt(int64(n)), true
		case int64:
			return decimal.NewFromInt(n), true
		case string:
			d, err := decimal.NewFromString(n)
			return d, err == nil
		}
		return nil, false
	case FieldDate:
		switch d := v.(type) {
		case time.Time:
			return Day(d), true
		case string:
			parsed, err := ParseDate("", d)
			return parsed, err == nil
		}
		return nil, false
	case FieldTime:
		tm, ok := v.(time.Time)
		return tm, ok
	}
	return nil, false
}
