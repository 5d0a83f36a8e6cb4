// Package breaker implements the gateway's Circuit Breaker Registry: a
// per-provider breaker, built on gobreaker, that admits or rejects
// requests based on recent failure history.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/iruldev/apigatewaycore/internal/apierrors"
)

// unboundedHalfOpenRequests is passed to gobreaker as MaxRequests so its
// own half-open admission/close bookkeeping never fires: gobreaker
// conflates "requests admitted while half-open" with "consecutive
// successes needed to close" into that single field. The Breaker
// tracks both independently (halfOpenInFlight against
// Config.HalfOpenProbeLimit, halfOpenSuccesses against
// Config.SuccessThreshold) so the two configured thresholds can differ.
const unboundedHalfOpenRequests = ^uint32(0)

// State mirrors gobreaker's three states under gateway-native names.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (s State) asInt() float64 {
	switch s {
	case StateOpen:
		return 1
	case StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Config configures a single provider's breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in
	// half-open required to close the breaker again.
	SuccessThreshold int
	// OpenDuration is how long the breaker stays open before allowing a
	// half-open probe.
	OpenDuration time.Duration
	// HalfOpenProbeLimit caps concurrent requests admitted while
	// half-open.
	HalfOpenProbeLimit int
	// Interval is the rolling window after which closed-state counts
	// reset to zero. Zero disables the reset.
	Interval time.Duration
}

// MetricsSink receives breaker state transitions for export. Gateway
// wires this to internal/observability.GatewayMetrics.
type MetricsSink interface {
	SetBreakerState(provider string, state float64)
	RecordBreakerTrip(provider, from, to string)
}

// Breaker wraps a gobreaker.CircuitBreaker with remaining-time tracking
// and force-open/reset overrides, grounded in the original's
// `force_open`/`reset` methods.
type Breaker struct {
	provider string
	cfg      Config
	cb       *gobreaker.CircuitBreaker
	logger   *slog.Logger
	metrics  MetricsSink

	mu                sync.Mutex
	lastOpenedAt      time.Time
	forcedOpen        bool
	halfOpenInFlight  int
	halfOpenSuccesses int
}

// New creates a Breaker for one provider.
func New(provider string, cfg Config, logger *slog.Logger, metrics MetricsSink) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{provider: provider, cfg: cfg, logger: logger, metrics: metrics}
	b.cb = b.buildCircuitBreaker()
	if metrics != nil {
		metrics.SetBreakerState(provider, StateClosed.asInt())
	}
	return b
}

// buildCircuitBreaker constructs the underlying gobreaker instance.
// MaxRequests is deliberately left unbounded: half-open admission and
// the close threshold are both tracked on Breaker itself (see Execute,
// recordHalfOpenResult), because gobreaker uses the same field for
// both and the two are independently configurable here.
func (b *Breaker) buildCircuitBreaker() *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        b.provider,
		MaxRequests: unboundedHalfOpenRequests,
		Interval:    b.cfg.Interval,
		Timeout:     b.cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(b.cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.onStateChange(from, to)
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

func (b *Breaker) halfOpenProbeLimit() int {
	if b.cfg.HalfOpenProbeLimit <= 0 {
		return 1
	}
	return b.cfg.HalfOpenProbeLimit
}

func (b *Breaker) successThreshold() int {
	if b.cfg.SuccessThreshold <= 0 {
		return 1
	}
	return b.cfg.SuccessThreshold
}

// Execute admits fn through the breaker. Exactly one call to this
// method per attempt is the single point where breaker state is
// recorded; callers (internal/gateway's retry loop) must never report
// success/failure directly.
func (b *Breaker) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	b.mu.Lock()
	forced := b.forcedOpen
	b.mu.Unlock()
	if forced {
		return nil, apierrors.NewCircuitOpen(b.provider, b.cfg.OpenDuration)
	}

	halfOpen := fromGobreaker(b.cb.State()) == StateHalfOpen
	if halfOpen {
		b.mu.Lock()
		if b.halfOpenInFlight >= b.halfOpenProbeLimit() {
			b.mu.Unlock()
			return nil, apierrors.NewCircuitOpen(b.provider, b.RemainingOpen())
		}
		b.halfOpenInFlight++
		b.mu.Unlock()
		defer func() {
			b.mu.Lock()
			b.halfOpenInFlight--
			b.mu.Unlock()
		}()
	}

	result, err := b.cb.Execute(func() (any, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apierrors.NewCircuitOpen(b.provider, b.RemainingOpen())
	}

	if halfOpen {
		b.recordHalfOpenResult(err == nil)
	}

	return result, err
}

// recordHalfOpenResult tracks consecutive half-open successes
// independently of gobreaker's own counters. A probe failure resets
// the counter (gobreaker itself reopens the breaker on failure, which
// also resets it via onStateChange, but this covers the race where the
// state already moved on). Reaching the configured success threshold
// forces the breaker closed.
func (b *Breaker) recordHalfOpenResult(success bool) {
	if !success {
		b.mu.Lock()
		b.halfOpenSuccesses = 0
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	b.halfOpenSuccesses++
	reached := b.halfOpenSuccesses >= b.successThreshold()
	b.mu.Unlock()

	if reached && fromGobreaker(b.cb.State()) == StateHalfOpen {
		b.forceClosed()
	}
}

// forceClosed rebuilds the underlying gobreaker instance in the closed
// state, the same rebuild-on-reset trick used by Reset, then reports
// the transition. gobreaker exposes no public "close" call.
func (b *Breaker) forceClosed() {
	b.mu.Lock()
	b.cb = b.buildCircuitBreaker()
	b.halfOpenSuccesses = 0
	b.halfOpenInFlight = 0
	b.mu.Unlock()
	b.onStateChange(gobreaker.StateHalfOpen, gobreaker.StateClosed)
}

// State returns the breaker's current admission state.
func (b *Breaker) State() State {
	b.mu.Lock()
	forced := b.forcedOpen
	b.mu.Unlock()
	if forced {
		return StateOpen
	}
	return fromGobreaker(b.cb.State())
}

// RemainingOpen returns how long the breaker has left in the open
// state, or zero if it is not open.
func (b *Breaker) RemainingOpen() time.Duration {
	if b.State() != StateOpen {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := time.Since(b.lastOpenedAt)
	remaining := b.cfg.OpenDuration - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ForceOpen manually trips the breaker regardless of recent history,
// until Reset is called. Grounded in the original's force_open().
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	b.forcedOpen = true
	b.lastOpenedAt = time.Now()
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.SetBreakerState(b.provider, StateOpen.asInt())
	}
}

// Reset clears a manual force-open and resets the underlying breaker
// to closed. Grounded in the original's reset().
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.forcedOpen = false
	b.halfOpenSuccesses = 0
	b.halfOpenInFlight = 0
	b.mu.Unlock()
	// gobreaker has no public reset; rebuilding with the same settings
	// achieves the same effect and keeps callers holding the same
	// *Breaker reference.
	b.cb = b.buildCircuitBreaker()
	if b.metrics != nil {
		b.metrics.SetBreakerState(b.provider, StateClosed.asInt())
	}
}

func (b *Breaker) onStateChange(from, to gobreaker.State) {
	toState := fromGobreaker(to)
	if toState == StateOpen {
		b.mu.Lock()
		b.lastOpenedAt = time.Now()
		b.halfOpenSuccesses = 0
		b.mu.Unlock()
	}
	if toState == StateHalfOpen {
		b.mu.Lock()
		b.halfOpenSuccesses = 0
		b.halfOpenInFlight = 0
		b.mu.Unlock()
	}
	if b.metrics != nil {
		b.metrics.SetBreakerState(b.provider, toState.asInt())
		b.metrics.RecordBreakerTrip(b.provider, string(fromGobreaker(from)), string(toState))
	}
	level := slog.LevelDebug
	if toState == StateOpen || toState == StateClosed {
		level = slog.LevelInfo
	}
	b.logger.Log(context.Background(), level, "circuit breaker state changed",
		"provider", b.provider,
		"from", string(fromGobreaker(from)),
		"to", string(toState),
	)
}
