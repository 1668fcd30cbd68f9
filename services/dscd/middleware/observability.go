package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stablevault/observability"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type ObservabilityConfig struct {
	LogRequests bool
	Metrics     bool
}

type Observability struct {
	cfg    ObservabilityConfig
	logger *slog.Logger
}

func NewObservability(cfg ObservabilityConfig, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observability{
		cfg:    cfg,
		logger: logger.With("component", "http"),
	}
}

// Middleware assigns a request id, annotates the server span opened by the
// transport and records the request in the API metrics once the route
// pattern is known.
func (o *Observability) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		span := trace.SpanFromContext(r.Context())
		span.SetAttributes(attribute.String("request.id", requestID))

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", recorder.status),
		)
		duration := time.Since(start)
		if o.cfg.Metrics {
			observability.API().Observe(route, r.Method, recorder.status, duration)
		}
		if o.cfg.LogRequests {
			o.logger.Info("request served",
				"request_id", requestID,
				"method", r.Method,
				"route", route,
				"status", recorder.status,
				"duration_ms", float64(duration.Microseconds())/1000,
			)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
