package events

import (
	"log/slog"
	"sort"
	"sync"
)

// Handler receives published events matching its subscription.
type Handler func(Event)

type subscription struct {
	name       string
	eventTypes map[Type]struct{}
	all        bool
	priority   Priority
	filter     func(Event) bool
	handler    Handler
}

// Bus is a typed, in-process publish/subscribe dispatcher, grounded in
// the original `EventBus`: subscriber priority ordering, serial-per-
// event dispatch, pause/resume with a bounded internal queue, and a
// bounded ring history. The bus is explicitly in-process; it never
// talks to a message broker.
type Bus struct {
	mu            sync.Mutex
	subscriptions []*subscription
	history       []Event
	maxHistory    int
	paused        bool
	queue         []Event
	maxQueue      int
	logger        *slog.Logger
	store         *Store // nil when replay persistence is disabled
}

// New creates a Bus retaining at most maxHistory events and queueing at
// most maxQueue events while paused.
func New(maxHistory, maxQueue int, logger *slog.Logger, store *Store) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{maxHistory: maxHistory, maxQueue: maxQueue, logger: logger, store: store}
}

// Subscribe registers handler for the given event types ("*" subscribes
// to everything), returning the subscription name for later
// Unsubscribe calls.
func Subscribe(b *Bus, name string, eventTypes []Type, priority Priority, filter func(Event) bool, handler Handler) string {
	sub := &subscription{name: name, priority: priority, filter: filter, handler: handler, eventTypes: make(map[Type]struct{}, len(eventTypes))}
	for _, t := range eventTypes {
		if t == "*" {
			sub.all = true
		}
		sub.eventTypes[t] = struct{}{}
	}
	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, sub)
	b.mu.Unlock()
	return name
}

// Unsubscribe removes the named subscription. Reports whether it was
// found.
func (b *Bus) Unsubscribe(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscriptions {
		if s.name == name {
			b.subscriptions = append(b.subscriptions[:i], b.subscriptions[i+1:]...)
			return true
		}
	}
	return false
}

// Publish dispatches event to every matching subscriber, highest
// priority first, serially within this call. While paused, the event
// is queued instead and Publish returns 0.
func (b *Bus) Publish(event Event) int {
	b.mu.Lock()
	if b.paused {
		if len(b.queue) < b.maxQueue {
			b.queue = append(b.queue, event)
		} else {
			b.logger.Warn("event queue full, dropping event", "type", event.Type)
		}
		b.mu.Unlock()
		return 0
	}

	b.addHistoryLocked(event)
	matching := b.matchingLocked(event)
	b.mu.Unlock()

	if b.store != nil {
		if err := b.store.Append(event); err != nil {
			b.logger.Warn("event store append failed", "error", err)
		}
	}

	delivered := 0
	for _, s := range matching {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "handler", s.name, "panic", r)
				}
			}()
			s.handler(event)
		}()
		delivered++
	}
	b.logger.Debug("event delivered", "type", event.Type, "handlers", delivered)
	return delivered
}

func (b *Bus) matchingLocked(event Event) []*subscription {
	var matched []*subscription
	for _, s := range b.subscriptions {
		_, ok := s.eventTypes[event.Type]
		if !ok && !s.all {
			continue
		}
		if s.filter != nil && !s.filter(event) {
			continue
		}
		matched = append(matched, s)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].priority > matched[j].priority })
	return matched
}

func (b *Bus) addHistoryLocked(event Event) {
	b.history = append(b.history, event)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
}

// Emit is a convenience wrapper building and publishing an Event in one
// call.
func (b *Bus) Emit(typ Type, data map[string]any, source string, priority Priority) int {
	return b.Publish(New(typ, data, source, priority))
}

// Pause stops immediate dispatch; published events are queued (up to
// maxQueue) until Resume is called.
func (b *Bus) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

// Resume resumes dispatch and drains the queue built up while paused,
// returning how many queued events were processed.
func (b *Bus) Resume() int {
	b.mu.Lock()
	b.paused = false
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, e := range pending {
		b.Publish(e)
	}
	return len(pending)
}

// History returns up to limit of the most recent events, optionally
// filtered by type.
func (b *Bus) History(types []Type, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var filtered []Event
	if len(types) == 0 {
		filtered = b.history
	} else {
		wanted := make(map[Type]struct{}, len(types))
		for _, t := range types {
			wanted[t] = struct{}{}
		}
		for _, e := range b.history {
			if _, ok := wanted[e.Type]; ok {
				filtered = append(filtered, e)
			}
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	out := make([]Event, len(filtered))
	copy(out, filtered)
	return out
}

// ClearHistory empties the retained history buffer.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}

// Stats is a status snapshot of the bus, grounded in the original's
// `get_stats`.
type Stats struct {
	TotalHandlers int
	HistorySize   int
	Paused        bool
	QueueSize     int
}

// Stats returns a point-in-time snapshot of bus status.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		TotalHandlers: len(b.subscriptions),
		HistorySize:   len(b.history),
		Paused:        b.paused,
		QueueSize:     len(b.queue),
	}
}
