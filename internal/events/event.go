// Package events implements the gateway's Event Bus: typed pub/sub
// over gateway-internal events, grounded in the original
// core/events/bus.py.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// Priority orders handler dispatch within one Publish call, highest
// first. Grounded in the original `EventPriority` enum.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// Type identifies what happened. The vocabulary is gateway-specific
// rather than the original's trading-specific event types.
type Type string

const (
	// TypeAPICallStarted and TypeAPICallCompleted are the §6 minimum-set
	// types the gateway itself emits around every outbound call.
	TypeAPICallStarted   Type = "api.call.started"
	TypeAPICallCompleted Type = "api.call.completed"
	// TypeErrorOccurred and TypeHealthCheckFailed are the remaining
	// gateway-originated members of the §6 minimum set.
	TypeErrorOccurred     Type = "error.occurred"
	TypeHealthCheckFailed Type = "health.check.failed"
	// TypeBotStarted, TypeBotStopped, TypeMessageReceived, and
	// TypeMessageSent complete the §6 minimum set. The gateway never
	// publishes these itself — they are the vocabulary reserved for the
	// Telegram bot collaborator (out of scope per §1) to publish onto
	// this same bus.
	TypeBotStarted      Type = "bot.started"
	TypeBotStopped      Type = "bot.stopped"
	TypeMessageReceived Type = "message.received"
	TypeMessageSent     Type = "message.sent"

	// The remainder is gateway-internal vocabulary beyond the spec's
	// minimum set, grounded in the original's finer-grained event types.
	// This module publishes provider.selected, cache.hit, cache.miss,
	// system.startup and system.shutdown; the request.*, breaker.* and
	// provider.unhealthy/recovered types are defined but not published.
	TypeProviderSelected  Type = "provider.selected"
	TypeRequestSucceeded  Type = "request.succeeded"
	TypeRequestFailed     Type = "request.failed"
	TypeBreakerOpened     Type = "breaker.opened"
	TypeBreakerClosed     Type = "breaker.closed"
	TypeBreakerHalfOpen   Type = "breaker.half_open"
	TypeCacheHit          Type = "cache.hit"
	TypeCacheMiss         Type = "cache.miss"
	TypeProviderUnhealthy Type = "provider.unhealthy"
	TypeProviderRecovered Type = "provider.recovered"
	TypeSystemStartup     Type = "system.startup"
	TypeSystemShutdown    Type = "system.shutdown"
)

// Event is one occurrence published on the bus. Grounded in the
// original `Event` dataclass, including its sha256-derived id.
type Event struct {
	ID            string
	Type          Type
	Data          map[string]any
	Priority      Priority
	Source        string
	CorrelationID string
	Timestamp     time.Time
}

var sequence atomic.Uint64

// New builds an Event, generating a stable id from its type, timestamp,
// and a monotonic sequence number (standing in for the original's use
// of Python object identity, which Go has no equivalent of).
func New(typ Type, data map[string]any, source string, priority Priority) Event {
	seq := sequence.Add(1)
	ts := time.Now()
	raw := fmt.Sprintf("%s:%s:%d", typ, ts.Format(time.RFC3339Nano), seq)
	sum := sha256.Sum256([]byte(raw))
	return Event{
		ID:        hex.EncodeToString(sum[:])[:16],
		Type:      typ,
		Data:      data,
		Priority:  priority,
		Source:    source,
		Timestamp: ts,
	}
}
