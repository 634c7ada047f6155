package database

import (
	"fmt"
	"strings"
	"time"

	"captaincrm/internal/models"

	"github.com/shopspring/decimal"
)

var sqlOps = map[models.Op]string{
	models.OpEq:  "=",
	models.OpLt:  "<",
	models.OpLte: "<=",
	models.OpGt:  ">",
	models.OpGte: ">=",
}

// columnExpr maps a query field onto its SQL expression. A missing end date
// behaves as the start date so single-day bookings take part in range filters.
func columnExpr(kind models.EntityKind, field string) string {
	if kind == models.KindBooking {
		switch field {
		case "end_date":
			return "COALESCE(end_date, start_date)"
		case "price":
			return "CAST(price AS REAL)"
		}
	}
	return field
}

// buildQuery renders the WHERE/ORDER BY/LIMIT tail for a normalized query.
func buildQuery(kind models.EntityKind, q models.Query) (string, []any, error) {
	q, err := q.Normalize(kind)
	if err != nil {
		return "", nil, err
	}

	var (
		sb   strings.Builder
		args []any
	)
	for i, p := range q.Where {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		spec, _ := models.QueryField(kind, p.Field)
		fmt.Fprintf(&sb, "%s %s ?", columnExpr(kind, p.Field), sqlOps[p.Op])
		args = append(args, queryArg(spec.Type, p.Value))
	}

	sb.WriteString(" ORDER BY ")
	sortedByID := false
	for _, o := range q.Sort {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, "%s %s, ", columnExpr(kind, o.Field), dir)
		if o.Field == "id" {
			sortedByID = true
		}
	}
	if sortedByID {
		s := strings.TrimSuffix(sb.String(), ", ")
		sb.Reset()
		sb.WriteString(s)
	} else {
		sb.WriteString("id ASC")
	}

	switch {
	case q.Limit > 0:
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, q.Limit, q.Offset)
	case q.Offset > 0:
		sb.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, q.Offset)
	}
	return sb.String(), args, nil
}

func queryArg(t models.FieldType, v any) any {
	switch val := v.(type) {
	case time.Time:
		if t == models.FieldDate {
			return val.Format(models.DateLayout)
		}
		return val.UTC()
	case decimal.Decimal:
		return val.InexactFloat64()
	}
	return v
}
