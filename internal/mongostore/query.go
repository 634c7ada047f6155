package mongostore

import (
	"time"

	"captaincrm/internal/models"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var mongoOps = map[models.Op]string{
	models.OpEq:  "$eq",
	models.OpLt:  "$lt",
	models.OpLte: "$lte",
	models.OpGt:  "$gt",
	models.OpGte: "$gte",
}

func docField(field string) string {
	if field == "id" {
		return "source_id"
	}
	return field
}

func docValue(t models.FieldType, v any) any {
	switch val := v.(type) {
	case decimal.Decimal:
		return val.InexactFloat64()
	case time.Time:
		if t == models.FieldDate {
			return models.Day(val)
		}
		return val.UTC()
	}
	return v
}

// Filter translates a normalized predicate list into a bson filter. Predicates
// on the same field are merged into one operator document.
func Filter(kind models.EntityKind, where []models.Predicate) bson.D {
	filter := bson.D{}
	index := make(map[string]int)
	for _, p := range where {
		spec, _ := models.QueryField(kind, p.Field)
		field := docField(p.Field)
		value := docValue(spec.Type, p.Value)

		if p.Op == models.OpEq {
			filter = append(filter, bson.E{Key: field, Value: value})
			continue
		}
		cond := bson.E{Key: mongoOps[p.Op], Value: value}
		if i, ok := index[field]; ok {
			filter[i].Value = append(filter[i].Value.(bson.D), cond)
			continue
		}
		index[field] = len(filter)
		filter = append(filter, bson.E{Key: field, Value: bson.D{cond}})
	}
	return filter
}

// Sort renders the ordering with a source_id tiebreaker so paging is stable.
func Sort(order []models.Order) bson.D {
	sort := bson.D{}
	byID := false
	for _, o := range order {
		dir := 1
		if o.Desc {
			dir = -1
		}
		field := docField(o.Field)
		if field == "source_id" {
			byID = true
		}
		sort = append(sort, bson.E{Key: field, Value: dir})
	}
	if !byID {
		sort = append(sort, bson.E{Key: "source_id", Value: 1})
	}
	return sort
}

// FindArgs validates q and returns the filter and find options for it.
func FindArgs(kind models.EntityKind, q models.Query) (bson.D, *options.FindOptionsBuilder, error) {
	q, err := q.Normalize(kind)
	if err != nil {
		return nil, nil, err
	}

	opts := options.Find().SetSort(Sort(q.Sort))
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return Filter(kind, q.Where), opts, nil
}

// ReportPipeline matches bookings and folds them into a single group with
// count, revenue and the matched documents ordered by start date.
func ReportPipeline(match models.Query) (mongo.Pipeline, error) {
	q, err := match.Normalize(models.KindBooking)
	if err != nil {
		return nil, err
	}

	return mongo.Pipeline{
		{{Key: "$match", Value: Filter(models.KindBooking, q.Where)}},
		{{Key: "$sort", Value: Sort(q.Sort)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "revenue", Value: bson.D{{Key: "$sum", Value: "$price"}}},
			{Key: "bookings", Value: bson.D{{Key: "$push", Value: "$$ROOT"}}},
		}}},
	}, nil
}
