package middleware

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iruldev/apigatewaycore/internal/observability"
)

// Standard middleware priorities, grounded in the original's priority
// constants (higher runs first).
const (
	PriorityMetrics   = 99
	PriorityError     = 95
	PriorityLogging   = 100
	PriorityAuth      = 90
	PriorityRateLimit = 80
)

// LoggingMiddleware logs each request/response pair and stamps a
// request id into Context.Data for downstream correlation.
type LoggingMiddleware struct {
	logger       *slog.Logger
	excludePaths map[string]struct{}
}

// NewLoggingMiddleware builds the standard logging middleware,
// excluding the given paths from log output (defaults to /health).
func NewLoggingMiddleware(logger *slog.Logger, excludePaths ...string) *LoggingMiddleware {
	if len(excludePaths) == 0 {
		excludePaths = []string{"/health"}
	}
	set := make(map[string]struct{}, len(excludePaths))
	for _, p := range excludePaths {
		set[p] = struct{}{}
	}
	return &LoggingMiddleware{logger: logger, excludePaths: set}
}

func (m *LoggingMiddleware) Name() string  { return "logging" }
func (m *LoggingMiddleware) Priority() int { return PriorityLogging }

func (m *LoggingMiddleware) Process(ctx *Context, next NextHandler) (Response, *AbortError) {
	requestID := uuid.NewString()[:8]
	ctx.Data["request_id"] = requestID

	_, excluded := m.excludePaths[ctx.Path]
	if !excluded {
		m.logger.Info("request", "request_id", requestID, "method", ctx.Method, "path", ctx.Path)
	}

	start := time.Now()
	resp, abort := next(ctx)
	durationMs := float64(time.Since(start).Microseconds()) / 1000.0

	if !excluded {
		status := resp.Status
		if abort != nil {
			status = abort.Status
		}
		m.logger.Info("response", "request_id", requestID, "status", status, "duration_ms", durationMs)
	}
	return resp, abort
}

// AuthMiddleware verifies a principal is present on Context.User and
// optionally that it carries required permissions. It assumes the
// principal has already been authenticated upstream; it does not
// itself verify credentials.
type AuthMiddleware struct {
	requiredPermissions []string
	skipPaths           map[string]struct{}
}

// NewAuthMiddleware builds the standard auth middleware.
func NewAuthMiddleware(requiredPermissions []string, skipPaths ...string) *AuthMiddleware {
	if len(skipPaths) == 0 {
		skipPaths = []string{"/health"}
	}
	set := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		set[p] = struct{}{}
	}
	return &AuthMiddleware{requiredPermissions: requiredPermissions, skipPaths: set}
}

func (m *AuthMiddleware) Name() string  { return "auth" }
func (m *AuthMiddleware) Priority() int { return PriorityAuth }

func (m *AuthMiddleware) Process(ctx *Context, next NextHandler) (Response, *AbortError) {
	if _, skip := m.skipPaths[ctx.Path]; skip {
		return next(ctx)
	}
	if !ctx.IsAuthenticated() {
		return Response{}, ctx.Abort(401, "authentication required", nil)
	}
	for _, perm := range m.requiredPermissions {
		if !ctx.HasPermission(perm) {
			return Response{}, ctx.Abort(403, "permission denied: "+perm+" required", nil)
		}
	}
	return next(ctx)
}

// RateLimitMiddleware enforces a sliding one-minute window plus a
// five-second burst cap, keyed by user id (falling back to "anonymous"
// when unauthenticated), grounded in the original's sliding-window
// `RateLimitMiddleware`.
type RateLimitMiddleware struct {
	requestsPerMinute int
	burstSize         int

	mu    sync.Mutex
	stamp map[string][]time.Time
}

// NewRateLimitMiddleware builds the standard rate limit middleware.
func NewRateLimitMiddleware(requestsPerMinute, burstSize int) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
		stamp:             make(map[string][]time.Time),
	}
}

func (m *RateLimitMiddleware) Name() string  { return "rate_limit" }
func (m *RateLimitMiddleware) Priority() int { return PriorityRateLimit }

func (m *RateLimitMiddleware) keyFor(ctx *Context) string {
	if ctx.User != nil {
		if id, ok := ctx.User["id"]; ok {
			return toString(id)
		}
	}
	return "anonymous"
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "anonymous"
}

func (m *RateLimitMiddleware) Process(ctx *Context, next NextHandler) (Response, *AbortError) {
	key := m.keyFor(ctx)
	now := time.Now()

	m.mu.Lock()
	cutoff := now.Add(-time.Minute)
	timestamps := m.stamp[key][:0]
	for _, t := range m.stamp[key] {
		if t.After(cutoff) {
			timestamps = append(timestamps, t)
		}
	}

	minuteCount := len(timestamps)
	burstCutoff := now.Add(-5 * time.Second)
	burstCount := 0
	for _, t := range timestamps {
		if t.After(burstCutoff) {
			burstCount++
		}
	}

	ctx.Data["rate_limit"] = map[string]any{
		"limit":     m.requestsPerMinute,
		"remaining": max(0, m.requestsPerMinute-minuteCount),
		"reset":     now.Add(time.Minute).Unix(),
	}

	if minuteCount >= m.requestsPerMinute {
		m.mu.Unlock()
		return Response{}, ctx.Abort(429, "rate limit exceeded", map[string]any{"retry_after": 60, "limit": m.requestsPerMinute})
	}
	if burstCount >= m.burstSize {
		m.mu.Unlock()
		return Response{}, ctx.Abort(429, "burst limit exceeded", map[string]any{"retry_after": 5, "limit": m.burstSize})
	}

	timestamps = append(timestamps, now)
	m.stamp[key] = timestamps
	m.mu.Unlock()

	return next(ctx)
}

// ErrorMiddleware passes aborts through unchanged and hides unhandled
// panics behind a generic 500, grounded in the original's
// `ErrorMiddleware`.
type ErrorMiddleware struct {
	debug  bool
	logger *slog.Logger
}

// NewErrorMiddleware builds the standard error middleware. With debug
// true, panic messages are included in the response body.
func NewErrorMiddleware(debug bool, logger *slog.Logger) *ErrorMiddleware {
	return &ErrorMiddleware{debug: debug, logger: logger}
}

func (m *ErrorMiddleware) Name() string  { return "error" }
func (m *ErrorMiddleware) Priority() int { return PriorityError }

func (m *ErrorMiddleware) Process(ctx *Context, next NextHandler) (resp Response, abort *AbortError) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("unhandled panic in pipeline", "panic", r)
			if m.debug {
				resp = ErrorResponse(500, "internal server error", map[string]any{"panic": r})
			} else {
				resp = ErrorResponse(500, "internal server error", nil)
			}
			abort = nil
		}
	}()
	return next(ctx)
}

// MetricsMiddleware records request counts and durations into the
// shared gateway metrics registry, grounded in the original's
// `MetricsMiddleware`.
type MetricsMiddleware struct {
	metrics *observability.GatewayMetrics
}

// NewMetricsMiddleware builds the standard metrics middleware.
func NewMetricsMiddleware(metrics *observability.GatewayMetrics) *MetricsMiddleware {
	return &MetricsMiddleware{metrics: metrics}
}

func (m *MetricsMiddleware) Name() string  { return "metrics" }
func (m *MetricsMiddleware) Priority() int { return PriorityMetrics }

func (m *MetricsMiddleware) Process(ctx *Context, next NextHandler) (Response, *AbortError) {
	start := time.Now()
	resp, abort := next(ctx)
	duration := time.Since(start).Seconds()

	status := resp.Status
	if abort != nil {
		status = abort.Status
	}
	ctx.Data["duration_ms"] = duration * 1000
	ctx.Data["response_status"] = status

	if m.metrics != nil {
		m.metrics.Requests.WithLabelValues("", ctx.Method, strconv.Itoa(status)).Inc()
		m.metrics.RequestDuration.WithLabelValues("", ctx.Method).Observe(duration)
	}
	return resp, abort
}

// StandardPipeline builds a pipeline carrying the five standard
// middleware at their canonical priorities, grounded in the original's
// `create_standard_pipeline`.
func StandardPipeline(logger *slog.Logger, metrics *observability.GatewayMetrics, debug bool, requestsPerMinute, burstSize int, requiredPermissions []string) *Pipeline {
	p := NewPipeline(logger)
	p.Add(NewMetricsMiddleware(metrics))
	p.Add(NewErrorMiddleware(debug, logger))
	p.Add(NewLoggingMiddleware(logger))
	p.Add(NewAuthMiddleware(requiredPermissions))
	p.Add(NewRateLimitMiddleware(requestsPerMinute, burstSize))
	return p
}
