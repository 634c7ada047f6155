package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"captaincrm/internal/models"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrUnsupportedQuery):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrMigrationInProgress),
		errors.Is(err, models.ErrPaymentAlreadyReleased),
		errors.Is(err, models.ErrPaymentNotPaid),
		errors.Is(err, models.ErrPaymentNotYetAvailable):
		return http.StatusConflict
	case errors.Is(err, models.ErrMirrorDisabled), errors.Is(err, models.ErrTransport):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeErr renders err with its mapped status. Internal errors are logged and
// hidden from the caller.
func (s *HTTPServer) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Str("request_id", requestID(r.Context())).Msg("Request failed")
		writeError(w, code, "internal error")
		return
	}

	resp := errorResponse{Error: err.Error()}
	var vErr *models.ValidationError
	if errors.As(err, &vErr) {
		resp.Field = vErr.Field
	}
	writeJSON(w, code, resp)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return models.NewValidationError("body", "invalid JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, models.NewValidationError(name, "invalid id %q", raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError(name, "invalid integer %q", raw)
	}
	return n, nil
}

var reservedParams = map[string]bool{
	"limit":  true,
	"offset": true,
	"sort":   true,
	"format": true,
}

// parseBookingQuery turns query parameters into a booking query. A filter is
// either "field=value" or "field.op=value" with op one of lt, lte, gt, gte;
// "sort=-field" orders descending.
func parseBookingQuery(r *http.Request) (models.Query, error) {
	params := r.URL.Query()
	var q models.Query

	for key, values := range params {
		if reservedParams[key] || len(values) == 0 {
			continue
		}
		field, op := key, models.OpEq
		if i := strings.LastIndexByte(key, '.'); i > 0 {
			field, op = key[:i], models.Op(key[i+1:])
		}
		spec, ok := models.QueryField(models.KindBooking, field)
		if !ok {
			return models.Query{}, models.NewUnsupportedQuery("booking has no filterable field %q", field)
		}
		value, err := parseParam(field, spec.Type, values[0])
		if err != nil {
			return models.Query{}, err
		}
		q.Where = append(q.Where, models.Predicate{Field: field, Op: op, Value: value})
	}

	for _, raw := range params["sort"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			desc := strings.HasPrefix(part, "-")
			q.Sort = append(q.Sort, models.Order{Field: strings.TrimPrefix(part, "-"), Desc: desc})
		}
	}

	var err error
	if q.Limit, err = queryInt(r, "limit", models.DefaultPageSize); err != nil {
		return models.Query{}, err
	}
	if q.Offset, err = queryInt(r, "offset", 0); err != nil {
		return models.Query{}, err
	}
	if q.Limit > models.MaxPageSize {
		q.Limit = models.MaxPageSize
	}
	return q, nil
}

func parseParam(field string, typ models.FieldType, raw string) (any, error) {
	switch typ {
	case models.FieldInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, models.NewValidationError(field, "invalid integer %q", raw)
		}
		return n, nil
	case models.FieldBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, models.NewValidationError(field, "invalid boolean %q", raw)
		}
		return b, nil
	case models.FieldTime:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, models.NewValidationError(field, "invalid timestamp %q", raw)
		}
		return t, nil
	}
	return raw, nil
}

func attachment(w http.ResponseWriter, contentType, name string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}
