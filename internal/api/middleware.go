package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"captaincrm/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

type ctxKey struct{}

// requestInfo is attached to every request; auth fills in the caller.
type requestInfo struct {
	id     string
	caller string
}

func infoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(ctxKey{}).(*requestInfo)
	return info
}

func requestID(ctx context.Context) string {
	if info := infoFrom(ctx); info != nil {
		return info.id
	}
	return ""
}

func setCaller(ctx context.Context, name string) {
	if info := infoFrom(ctx); info != nil {
		info.caller = name
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument assigns a request id, recovers panics, and logs and counts every
// request under its route pattern.
func instrument(pattern string, logger *zerolog.Logger, next http.Handler) http.Handler {
	endpoint := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		endpoint = pattern[i+1:]
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		info := &requestInfo{id: id}
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, info))

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				logger.Error().Interface("panic", p).Str("request_id", id).Str("path", r.URL.Path).Msg("Handler panic")
				recorder.status = http.StatusInternalServerError
				writeError(recorder, http.StatusInternalServerError, "internal error")
			}

			metrics.IncHTTP(endpoint, recorder.status)
			logger.Info().
				Str("request_id", id).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("caller", info.caller).
				Int("status", recorder.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()

		next.ServeHTTP(recorder, r)
	})
}
