package api

import (
	"net/http"
	"time"

	"tokenledger/infrastructure/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// requestLogger logs each request and records it under its route pattern
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		observability.GetMetrics().RecordHTTPRequest(route, status)

		log.WithFields(log.Fields{
			"method":    r.Method,
			"route":     route,
			"status":    status,
			"duration":  time.Since(start),
			"requestID": middleware.GetReqID(r.Context()),
		}).Debug("Handled request")
	})
}
