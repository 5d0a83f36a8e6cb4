// Package gateway implements the API Gateway orchestrator: it composes
// the breaker registry, multi-level cache, load balancer, middleware
// pipeline, and event bus into a single `Request` entrypoint, grounded
// in the original core/api_proxy/gateway.py.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iruldev/apigatewaycore/internal/apierrors"
	"github.com/iruldev/apigatewaycore/internal/balancer"
	"github.com/iruldev/apigatewaycore/internal/breaker"
	"github.com/iruldev/apigatewaycore/internal/cache"
	"github.com/iruldev/apigatewaycore/internal/events"
	"github.com/iruldev/apigatewaycore/internal/middleware"
)

// Options configures one call to Request, mirroring the keyword
// arguments on the original's `request()`.
type Options struct {
	ProviderName string
	Params       map[string]string
	Body         any
	Headers      map[string]string
	CacheTTL     time.Duration
	SkipCache    bool
	UserID       string
	Metadata     map[string]any
}

// Result is what Request returns on success, grounded in the original's
// response envelope.
type Result struct {
	Status    int
	Data      any
	Headers   map[string]string
	Cached    bool
	RequestID string
	Provider  string
	Attempts  int
}

// Stats aggregates gateway-wide counters, grounded in the original
// `GatewayStats` dataclass.
type Stats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	CacheHits          int64
	CacheMisses        int64
	CircuitBreaks      int64
	TotalLatencyMs     float64
	RequestsByProvider map[string]int64
	ErrorsByKind       map[string]int64
}

// SuccessRate returns SuccessfulRequests / TotalRequests, or 1 with no
// traffic yet.
func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 1
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests)
}

// AvgLatencyMs returns TotalLatencyMs / TotalRequests, or 0 with no
// traffic yet.
func (s Stats) AvgLatencyMs() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return s.TotalLatencyMs / float64(s.TotalRequests)
}

// Gateway composes every component into the unified request path,
// grounded in the original `APIGateway`.
type Gateway struct {
	breakers  *breaker.Registry
	cache     *cache.MultiLevelCache
	balancer  *balancer.Balancer
	pipeline  *middleware.Pipeline
	bus       *events.Bus
	validator *validator.Validate
	logger    *slog.Logger
	tracer    trace.Tracer
	client    *http.Client

	providersMu sync.RWMutex
	providers   map[string]ProviderSpec

	started atomic.Bool

	statsMu            sync.Mutex
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	cacheHits          int64
	cacheMisses        int64
	circuitBreaks      int64
	totalLatencyMs     float64
	requestsByProvider map[string]int64
	errorsByKind       map[string]int64
}

// New builds a Gateway. pipeline may be nil when no outbound middleware
// is desired.
func New(breakers *breaker.Registry, mlc *cache.MultiLevelCache, lb *balancer.Balancer, pipeline *middleware.Pipeline, bus *events.Bus, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		breakers:           breakers,
		cache:              mlc,
		balancer:           lb,
		pipeline:           pipeline,
		bus:                bus,
		validator:          validator.New(),
		logger:             logger,
		tracer:             otel.Tracer("internal/gateway"),
		providers:          make(map[string]ProviderSpec),
		requestsByProvider: make(map[string]int64),
		errorsByKind:       make(map[string]int64),
	}
}

// Start initializes the outbound HTTP client. Grounded in the
// original's `start()`.
func (g *Gateway) Start(context.Context) error {
	g.client = &http.Client{}
	g.started.Store(true)
	g.logger.Info("gateway started")
	if g.bus != nil {
		g.bus.Emit(events.TypeSystemStartup, nil, "gateway", events.PriorityNormal)
	}
	return nil
}

// Stop marks the gateway stopped, so later Request calls fail with
// KindNotStarted, and closes the HTTP client's idle connections. It
// does not wait for requests already in flight; ctx is not used.
func (g *Gateway) Stop(ctx context.Context) error {
	g.started.Store(false)
	if g.client != nil {
		g.client.CloseIdleConnections()
	}
	if g.bus != nil {
		g.bus.Emit(events.TypeSystemShutdown, nil, "gateway", events.PriorityNormal)
	}
	g.logger.Info("gateway stopped")
	return nil
}

// RegisterProvider validates and registers an upstream provider,
// wiring it into the breaker registry and balancer. Grounded in the
// original's `register_provider`.
func (g *Gateway) RegisterProvider(spec ProviderSpec) error {
	spec = spec.withDefaults()
	if err := g.validator.Struct(spec); err != nil {
		return apierrors.Wrap(apierrors.KindInvalidConfig, "invalid provider spec", err)
	}

	g.providersMu.Lock()
	g.providers[spec.Name] = spec
	g.providersMu.Unlock()

	g.breakers.GetOrCreate(spec.Name)
	g.balancer.AddProvider(balancer.ProviderConfig{
		Name:     spec.Name,
		Weight:   spec.Weight,
		Priority: spec.Priority,
	})
	g.logger.Info("provider registered", "provider", spec.Name, "base_url", spec.BaseURL)
	return nil
}

// UnregisterProvider removes a provider from every component.
func (g *Gateway) UnregisterProvider(name string) {
	g.providersMu.Lock()
	delete(g.providers, name)
	g.providersMu.Unlock()
	g.breakers.Remove(name)
	g.balancer.RemoveProvider(name)
	g.logger.Info("provider unregistered", "provider", name)
}

// Provider returns a registered provider's spec.
func (g *Gateway) Provider(name string) (ProviderSpec, bool) {
	g.providersMu.RLock()
	defer g.providersMu.RUnlock()
	p, ok := g.providers[name]
	return p, ok
}

// ProviderStatus reports a provider's externally-observable status,
// grounded in the original's `get_provider_status`.
func (g *Gateway) ProviderStatus(name string) Status {
	spec, ok := g.Provider(name)
	if !ok {
		return StatusDisabled
	}
	if spec.Disabled {
		return StatusDisabled
	}
	health, ok := g.balancer.Snapshot(name)
	if !ok || !health.IsHealthy {
		return StatusUnhealthy
	}
	if health.Score() < 70 {
		return StatusDegraded
	}
	return StatusHealthy
}

var errNotStarted = apierrors.New(apierrors.KindNotStarted, "gateway not started")

// Request proxies one call to an upstream provider, implementing the
// cache lookup / provider selection / admission / retry algorithm
// described by the orchestrator component. Grounded in the original's
// `request()`/`_execute_with_retry()`.
func (g *Gateway) Request(ctx context.Context, method, path string, opts Options) (*Result, error) {
	if !g.started.Load() {
		return nil, errNotStarted
	}

	requestID := uuid.NewString()
	start := time.Now()
	g.statsMu.Lock()
	g.totalRequests++
	g.statsMu.Unlock()

	result, err := g.doRequest(ctx, requestID, method, path, opts)

	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	g.statsMu.Lock()
	g.totalLatencyMs += elapsed
	if err != nil {
		g.failedRequests++
		var gerr *apierrors.GatewayError
		if errors.As(err, &gerr) {
			if gerr.Kind == apierrors.KindCircuitOpen {
				g.circuitBreaks++
			}
			g.errorsByKind[string(gerr.Kind)]++
		} else {
			g.errorsByKind["unknown"]++
		}
	} else {
		g.successfulRequests++
	}
	g.statsMu.Unlock()

	if g.bus != nil {
		status := 0
		var errMsg any
		if result != nil {
			status = result.Status
		}
		if err != nil {
			errMsg = err.Error()
			g.bus.Emit(events.TypeErrorOccurred, map[string]any{
				"endpoint": path, "method": method, "request_id": requestID, "error": errMsg,
			}, "gateway", events.PriorityHigh)
		}
		g.bus.Emit(events.TypeAPICallCompleted, map[string]any{
			"endpoint": path, "method": method, "request_id": requestID,
			"status_code": status, "duration_ms": elapsed, "error": errMsg,
		}, "gateway", events.PriorityNormal)
	}

	return result, err
}

func (g *Gateway) doRequest(ctx context.Context, requestID, method, path string, opts Options) (*Result, error) {
	var cacheKey string
	isGet := method == http.MethodGet

	if isGet && !opts.SkipCache {
		cacheKey = cache.MakeKey(method, path, opts.Params, opts.Body)
		if value, ok := g.cache.Get(ctx, cacheKey, "gateway"); ok {
			g.statsMu.Lock()
			g.cacheHits++
			g.statsMu.Unlock()
			if g.bus != nil {
				g.bus.Emit(events.TypeCacheHit, map[string]any{"path": path}, "gateway", events.PriorityLow)
			}
			return &Result{Status: 200, Data: value, Cached: true, RequestID: requestID}, nil
		}
		g.statsMu.Lock()
		g.cacheMisses++
		g.statsMu.Unlock()
		if g.bus != nil {
			g.bus.Emit(events.TypeCacheMiss, map[string]any{"path": path}, "gateway", events.PriorityLow)
		}
	}

	spec, err := g.selectProvider(opts.ProviderName)
	if err != nil {
		return nil, err
	}
	if g.bus != nil {
		g.bus.Emit(events.TypeProviderSelected, map[string]any{"provider": spec.Name}, "gateway", events.PriorityNormal)
		g.bus.Emit(events.TypeAPICallStarted, map[string]any{
			"endpoint": path, "method": method, "request_id": requestID, "provider": spec.Name,
		}, "gateway", events.PriorityNormal)
	}

	headers := mergeHeaders(spec, opts.Headers)
	if g.pipeline != nil {
		mctx := middleware.NewContext(ctx, method, path, headers, opts.Body)
		mctx.Data["request_id"] = requestID
		resp := g.pipeline.Execute(mctx, func(*middleware.Context) (middleware.Response, *middleware.AbortError) {
			return middleware.OK(nil), nil
		})
		if resp.Status >= 400 {
			return nil, apierrors.NewAborted(resp.Status, resp.Message, resp.Body)
		}
	}

	result, err := g.executeWithRetry(ctx, requestID, spec, method, path, opts, headers)
	if err != nil {
		return nil, err
	}

	if isGet && !opts.SkipCache && result.Status >= 200 && result.Status < 300 {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = spec.CacheTTL
		}
		if err := g.cache.Set(ctx, cacheKey, "gateway", result.Data, ttl, nil); err != nil {
			g.logger.Warn("cache fill failed", "error", err)
		}
	}

	g.statsMu.Lock()
	g.requestsByProvider[spec.Name]++
	g.statsMu.Unlock()
	return result, nil
}

func (g *Gateway) selectProvider(name string) (ProviderSpec, error) {
	if name != "" {
		spec, ok := g.Provider(name)
		if !ok {
			return ProviderSpec{}, apierrors.New(apierrors.KindUnknownProvider, fmt.Sprintf("unknown provider %q", name))
		}
		if spec.Disabled {
			return ProviderSpec{}, apierrors.New(apierrors.KindUnknownProvider, fmt.Sprintf("provider %q is disabled", name))
		}
		return spec, nil
	}

	selected, err := g.balancer.Select()
	if err != nil {
		return ProviderSpec{}, apierrors.Wrap(apierrors.KindNoHealthyProvider, "no healthy provider available", err)
	}
	spec, ok := g.Provider(selected)
	if !ok {
		return ProviderSpec{}, apierrors.New(apierrors.KindInternal, fmt.Sprintf("balancer selected unknown provider %q", selected))
	}
	return spec, nil
}

func mergeHeaders(spec ProviderSpec, callerHeaders map[string]string) map[string]string {
	headers := make(map[string]string, len(spec.Headers)+len(callerHeaders)+1)
	for k, v := range spec.Headers {
		headers[k] = v
	}
	for k, v := range callerHeaders {
		headers[k] = v
	}
	if spec.APIKey != "" {
		headers[spec.APIKeyHeader] = spec.APIKeyPrefix + spec.APIKey
	}
	return headers
}

// executeWithRetry runs the breaker-admitted, retried HTTP call against
// a single provider, reporting every attempt's outcome to both the
// breaker and the balancer. Grounded in the original's
// `_execute_with_retry`.
func (g *Gateway) executeWithRetry(ctx context.Context, requestID string, spec ProviderSpec, method, path string, opts Options, headers map[string]string) (*Result, error) {
	b := g.breakers.GetOrCreate(spec.Name)

	backoff, err := retry.NewExponential(spec.RetryBaseDelay)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "build retry backoff", err)
	}
	backoff = retry.WithMaxRetries(uint64(spec.RetryAttempts-1), backoff)

	var result *Result
	attempt := 0

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		g.balancer.OnRequestStart(spec.Name)
		attemptStart := time.Now()

		// Status >= 400 is surfaced as an error from inside fn, not
		// checked afterward, so the single b.Execute call below is the
		// only place that records success/failure against the breaker -
		// an upstream error response counts as a provider failure the
		// same as a transport error (§7 UpstreamStatus).
		raw, execErr := b.Execute(ctx, func() (any, error) {
			res, err := g.doHTTP(ctx, spec, method, path, opts, headers)
			if err != nil {
				return nil, err
			}
			if res.Status >= 400 {
				return res, apierrors.New(apierrors.KindUpstreamStatus, fmt.Sprintf("upstream responded %d", res.Status))
			}
			return res, nil
		})

		latency := time.Since(attemptStart)

		if execErr != nil {
			g.balancer.OnRequestFailure(spec.Name)
			var gerr *apierrors.GatewayError
			if errors.As(execErr, &gerr) && gerr.Kind == apierrors.KindCircuitOpen {
				return execErr // not retryable: the breaker itself is rejecting
			}
			if res, ok := raw.(*Result); ok && res != nil {
				g.logger.Warn("upstream error response", "provider", spec.Name, "attempt", attempt, "status", res.Status)
			} else {
				g.logger.Warn("request attempt failed", "provider", spec.Name, "attempt", attempt, "error", execErr)
			}
			return retry.RetryableError(execErr)
		}

		res := raw.(*Result)
		g.balancer.OnRequestSuccess(spec.Name, latency)
		res.Attempts = attempt
		res.RequestID = requestID
		res.Provider = spec.Name
		result = res
		return nil
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

// classifyTransportErr distinguishes a request that ran out of its
// per-provider timeout (§7 Timeout) from every other transport failure
// — DNS, connection refused, connection reset (§7 Transport).
func classifyTransportErr(err error) apierrors.Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierrors.KindTimeout
	}
	return apierrors.KindTransport
}

// doHTTP performs a single HTTP attempt, wrapped in a tracing span.
// Grounded in the original's `_make_request`.
func (g *Gateway) doHTTP(ctx context.Context, spec ProviderSpec, method, path string, opts Options, headers map[string]string) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.request",
		trace.WithAttributes(
			attribute.String("provider", spec.Name),
			attribute.String("http.method", method),
		),
	)
	defer span.End()

	reqCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	url := spec.BaseURL + path
	var bodyReader io.Reader
	if opts.Body != nil {
		raw, err := json.Marshal(opts.Body)
		if err != nil {
			span.RecordError(err)
			return nil, apierrors.Wrap(apierrors.KindValidation, "encode request body", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		span.RecordError(err)
		return nil, apierrors.Wrap(apierrors.KindInternal, "build request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(opts.Params) > 0 {
		q := req.URL.Query()
		for k, v := range opts.Params {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := g.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, apierrors.Wrap(classifyTransportErr(err), "outbound request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, apierrors.Wrap(apierrors.KindTransport, "read response body", err)
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		data = string(raw)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return &Result{Status: resp.StatusCode, Data: data, Headers: respHeaders}, nil
}

// Get issues a GET request.
func (g *Gateway) Get(ctx context.Context, path string, opts Options) (*Result, error) {
	return g.Request(ctx, http.MethodGet, path, opts)
}

// Post issues a POST request with body.
func (g *Gateway) Post(ctx context.Context, path string, body any, opts Options) (*Result, error) {
	opts.Body = body
	return g.Request(ctx, http.MethodPost, path, opts)
}

// Put issues a PUT request with body.
func (g *Gateway) Put(ctx context.Context, path string, body any, opts Options) (*Result, error) {
	opts.Body = body
	return g.Request(ctx, http.MethodPut, path, opts)
}

// Delete issues a DELETE request.
func (g *Gateway) Delete(ctx context.Context, path string, opts Options) (*Result, error) {
	return g.Request(ctx, http.MethodDelete, path, opts)
}

// HealthCheck reports aggregate and per-provider health, grounded in
// the original's `health_check()`.
func (g *Gateway) HealthCheck() map[string]any {
	g.providersMu.RLock()
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	g.providersMu.RUnlock()

	providers := make(map[string]bool, len(names))
	healthy := 0
	for _, name := range names {
		ok := g.ProviderStatus(name) == StatusHealthy
		providers[name] = ok
		if ok {
			healthy++
		}
	}
	return map[string]any{
		"healthy_providers": healthy,
		"total_providers":   len(names),
		"providers":         providers,
	}
}

// Stats returns a snapshot of aggregate gateway counters, grounded in
// the original's `get_stats()`.
func (g *Gateway) Stats() Stats {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	byProvider := make(map[string]int64, len(g.requestsByProvider))
	for k, v := range g.requestsByProvider {
		byProvider[k] = v
	}
	byKind := make(map[string]int64, len(g.errorsByKind))
	for k, v := range g.errorsByKind {
		byKind[k] = v
	}
	return Stats{
		TotalRequests:      g.totalRequests,
		SuccessfulRequests: g.successfulRequests,
		FailedRequests:     g.failedRequests,
		CacheHits:          g.cacheHits,
		CacheMisses:        g.cacheMisses,
		CircuitBreaks:      g.circuitBreaks,
		TotalLatencyMs:     g.totalLatencyMs,
		RequestsByProvider: byProvider,
		ErrorsByKind:       byKind,
	}
}
