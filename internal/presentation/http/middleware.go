package httppresentation

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/schooleats/orderflow/internal/pkg/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type routeCtxKey struct{}

func contextWithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeCtxKey{}, route)
}

// routeFromContext returns the stable route template so metric labels stay
// low-cardinality (no raw order ids in label values).
func routeFromContext(ctx context.Context) string {
	if route, ok := ctx.Value(routeCtxKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}

// wrap runs: Trace → Request Logger → Metrics → Access Log → Handler.
func (h *Handler) wrap(route string, handler http.HandlerFunc) http.Handler {
	chain := h.withTrace(
		h.withRequestLogger(
			h.withHTTPMetrics(
				h.withAccessLog(handler),
			),
		),
	)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chain.ServeHTTP(w, r.WithContext(contextWithRoute(r.Context(), route)))
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("orderflow.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := route
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}
		template := route
		if idx := strings.Index(template, " "); idx >= 0 {
			template = template[idx+1:]
		}
		if template == "unknown" || template == "" {
			template = r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

// withRequestLogger injects a request-scoped logger carrying the request id
// and trace/span ids so every downstream log line correlates.
func (h *Handler) withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := h.log
		if requestID := r.Header.Get(headerRequestID); requestID != "" {
			logger = logger.With(zap.String("request_id", requestID))
		}
		traceID, spanID := logging.SystemTraceID, logging.SystemSpanID
		if spanCtx := trace.SpanContextFromContext(r.Context()); spanCtx.IsValid() {
			traceID = spanCtx.TraceID().String()
			spanID = spanCtx.SpanID().String()
		}
		logger = logging.WithTrace(logger, traceID, spanID)

		next.ServeHTTP(w, r.WithContext(logging.ContextWithLogger(r.Context(), logger)))
	})
}

// withHTTPMetrics records RED-ish HTTP metrics using injected vectors.
// DO NOT new metrics inside the middleware.
func (h *Handler) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		route := routeFromContext(r.Context())
		if h.httpRequests != nil {
			h.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(lrw.status)).Inc()
		}
		if h.httpDuration != nil {
			h.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by withRequestLogger.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logging.FromContext(r.Context()).Info("http_access",
			zap.String("method", r.Method),
			zap.String("route", routeFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Int("status", lrw.status),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
