package handler

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"english-tutor/internal/observability"
)

const correlationHeader = "X-Correlation-Id"

// correlationID reuses the caller's X-Correlation-Id or generates one, stores
// it in the request context and echoes it on the response.
func (h *Handler) correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.WithCorrelationID(r.Context(), id)))
	})
}

// instrument logs every request and records it in the metrics, labelled by
// the matched chi route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		elapsed := time.Since(start)
		h.metrics.ObserveRequest(route, r.Method, strconv.Itoa(status), elapsed)
		observability.LoggerFromContext(r.Context(), h.logger).Info("request completed",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// cors applies the configured origin allow-list and answers preflight
// requests with 204.
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := h.allowedOrigin(origin); allowed != "" {
			hdr := w.Header()
			hdr.Set("Access-Control-Allow-Origin", allowed)
			if allowed != "*" {
				hdr.Add("Vary", "Origin")
			}
			hdr.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			hdr.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+correlationHeader)
			hdr.Set("Access-Control-Expose-Headers", correlationHeader)
			hdr.Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOrigin(origin string) string {
	if slices.Contains(h.corsOrigins, "*") {
		return "*"
	}
	if origin == "" {
		return ""
	}
	for _, o := range h.corsOrigins {
		if strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return origin
		}
	}
	return ""
}
