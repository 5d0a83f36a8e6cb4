// Package apierrors defines the stable error vocabulary shared by every
// gateway component and the mapping of that vocabulary onto RFC 7807
// problem details for the admin HTTP surface.
package apierrors

import (
	"fmt"
	"net/http"
	"time"
)

// Kind identifies a class of gateway error. Kinds are stable and must
// not be renumbered once published; add new ones at the end.
type Kind string

// The nine Kinds below are the §6/§7 "Error kinds surfaced at the
// boundary" verbatim; their string values are what `errors_by_type`
// records (§7 "Statistics counters errors_by_type record the kind
// name"). KindValidation, KindRateLimited, and KindInternal extend the
// vocabulary for cases the spec's nine boundary kinds don't name
// (request-body encoding, admin-surface-local rate limiting, and truly
// unexpected internal failures) without displacing any of the nine.
const (
	// KindCircuitOpen is returned when a provider's circuit breaker is
	// open and rejecting requests. §7 CircuitOpen.
	KindCircuitOpen Kind = "circuit_open"
	// KindNoHealthyProvider is returned when the load balancer has no
	// healthy provider to select. §7 NoHealthyProvider.
	KindNoHealthyProvider Kind = "no_healthy_provider"
	// KindUpstreamStatus is returned when an upstream provider responds
	// with status >= 400 after all retries are exhausted. §7
	// UpstreamStatus.
	KindUpstreamStatus Kind = "upstream_status"
	// KindTimeout is returned when the HTTP client's own deadline
	// elapses before a response arrives. §7 Timeout.
	KindTimeout Kind = "timeout"
	// KindTransport is returned for non-timeout transport failures (DNS,
	// connection refused, connection reset, truncated response body).
	// §7 Transport.
	KindTransport Kind = "transport"
	// KindAbortedByMiddleware is returned when a pipeline middleware
	// aborts before the handler runs. §7 AbortedByMiddleware.
	KindAbortedByMiddleware Kind = "aborted_by_middleware"
	// KindUnknownProvider is returned when a caller names a provider
	// that was never registered, or a registered provider is disabled.
	// §7 UnknownProvider.
	KindUnknownProvider Kind = "unknown_provider"
	// KindInvalidConfig is returned when a provider registration or
	// other configuration fails validation. §7 InvalidConfig.
	KindInvalidConfig Kind = "invalid_config"
	// KindNotStarted is returned when a gateway method is called before
	// Start or after Stop. §7 NotStarted.
	KindNotStarted Kind = "not_started"

	// KindValidation covers request-level validation failures outside
	// the nine boundary kinds above (e.g. a request body that cannot be
	// marshaled).
	KindValidation Kind = "validation"
	// KindRateLimited is returned by the admin HTTP surface's own
	// inbound rate limiting (distinct from the §4.4 RateLimit pipeline
	// middleware, which aborts with KindAbortedByMiddleware).
	KindRateLimited Kind = "rate_limited"
	// KindInternal is returned for unexpected internal failures that
	// are not classified by any Kind above.
	KindInternal Kind = "internal"
)

// httpStatus maps a Kind to the HTTP status code used when rendering it
// as a problem detail on the admin surface.
var httpStatus = map[Kind]int{
	KindCircuitOpen:         http.StatusServiceUnavailable,
	KindNoHealthyProvider:   http.StatusServiceUnavailable,
	KindUpstreamStatus:      http.StatusBadGateway,
	KindTimeout:             http.StatusGatewayTimeout,
	KindTransport:           http.StatusBadGateway,
	KindAbortedByMiddleware: http.StatusForbidden,
	KindUnknownProvider:     http.StatusNotFound,
	KindInvalidConfig:       http.StatusBadRequest,
	KindNotStarted:          http.StatusServiceUnavailable,
	KindValidation:          http.StatusBadRequest,
	KindRateLimited:         http.StatusTooManyRequests,
	KindInternal:            http.StatusInternalServerError,
}

// GatewayError is the error type returned by every gateway component.
// It carries a stable Kind for programmatic dispatch plus an optional
// set of structured fields for rendering (e.g. remaining_ms, provider).
type GatewayError struct {
	Kind    Kind
	Message string
	Fields  map[string]any
	Err     error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is matches GatewayErrors by Kind, so callers can write
// errors.Is(err, apierrors.New(apierrors.KindCircuitOpen, "")).
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// HTTPStatus returns the status code this error should render as.
func (e *GatewayError) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds a GatewayError of the given kind.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// Wrap builds a GatewayError of the given kind wrapping an underlying
// error.
func Wrap(kind Kind, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Err: err}
}

// NewCircuitOpen builds the typed error returned when a request is
// rejected because a provider's breaker is open.
func NewCircuitOpen(provider string, remaining time.Duration) *GatewayError {
	return &GatewayError{
		Kind:    KindCircuitOpen,
		Message: fmt.Sprintf("circuit open for provider %q", provider),
		Fields: map[string]any{
			"provider":     provider,
			"remaining_ms": remaining.Milliseconds(),
		},
	}
}

// NewAborted builds the typed error returned when middleware aborts
// the pipeline before the handler runs.
func NewAborted(status int, message string, data map[string]any) *GatewayError {
	fields := map[string]any{"status": status}
	for k, v := range data {
		fields[k] = v
	}
	return &GatewayError{Kind: KindAbortedByMiddleware, Message: message, Fields: fields}
}
