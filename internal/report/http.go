package report

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cam3ron2/org-pulse/internal/leaderboard"
	"github.com/cam3ron2/org-pulse/internal/telemetry"
)

// LeaderboardSource produces ranked entries over the cached date range.
type LeaderboardSource interface {
	Leaderboard(dates []string) []leaderboard.Entry
	CachedDates() []string
}

// leaderboardResponse is the /leaderboard JSON body.
type leaderboardResponse struct {
	Dates   []string            `json:"dates"`
	Entries []leaderboard.Entry `json:"entries"`
}

// NewHTTPHandler wires the leaderboard, health, and metrics endpoints on a
// single mux.
func NewHTTPHandler(source LeaderboardSource, metricsHandler, healthHandler http.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := chi.NewRouter()
	traceMode := telemetry.TraceMode()
	router.Handle("/leaderboard", wrapHTTPHandler(traceMode, "leaderboard", leaderboardHandler(source, logger)))
	router.Handle("/metrics", wrapHTTPHandler(traceMode, "metrics", metricsHandler))
	router.Handle("/livez", wrapHTTPHandler(traceMode, "livez", healthHandler))
	router.Handle("/readyz", wrapHTTPHandler(traceMode, "readyz", healthHandler))
	router.Handle("/healthz", wrapHTTPHandler(traceMode, "healthz", healthHandler))
	return router
}

// leaderboardHandler serves the ranked leaderboard over the cached range.
// Dates may be narrowed with start/end query parameters; dates with no cached
// record read as zero activity rather than an error.
func leaderboardHandler(source LeaderboardSource, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dates := source.CachedDates()
		if start := r.URL.Query().Get("start"); start != "" {
			dates = filterDates(dates, func(date string) bool { return date >= start })
		}
		if end := r.URL.Query().Get("end"); end != "" {
			dates = filterDates(dates, func(date string) bool { return date <= end })
		}

		response := leaderboardResponse{
			Dates:   dates,
			Entries: source.Leaderboard(dates),
		}
		if response.Entries == nil {
			response.Entries = []leaderboard.Entry{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Warn("encode leaderboard response", zap.Error(err))
		}
	})
}

func filterDates(dates []string, keep func(string) bool) []string {
	filtered := dates[:0:0]
	for _, date := range dates {
		if keep(date) {
			filtered = append(filtered, date)
		}
	}
	return filtered
}

func wrapHTTPHandler(traceMode, route string, handler http.Handler) http.Handler {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	if strings.EqualFold(strings.TrimSpace(traceMode), "off") {
		return handler
	}

	operation := strings.TrimSpace(route)
	if operation == "" {
		operation = "handler"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("org-pulse/internal/report").Start(
			r.Context(),
			"http.server."+operation,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		recorder := &statusCapturingResponseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}
		handler.ServeHTTP(recorder, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		if recorder.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
			return
		}
		span.SetStatus(codes.Ok, "request completed")
	})
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingResponseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
