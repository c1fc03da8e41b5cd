package api

import (
	"net/http"
	"strconv"

	"github.com/cuemby/cord/pkg/metrics"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// instrument records every HTTP request. httpsnoop keeps the Hijacker
// interface intact so websocket upgrades pass through.
func instrument(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(m.Code)).Inc()
			logger.Debug().
				Str("method", r.Method).
				Str("url", r.URL.String()).
				Int("status", m.Code).
				Dur("duration", m.Duration).
				Int64("bytes", m.Written).
				Msg("handled")
		})
	}
}
