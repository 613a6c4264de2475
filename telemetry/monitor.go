/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/prometheus/client_golang/prometheus"
)

// Subscriber receives every emitted event. It runs on the emitting goroutine
// and must not block.
type Subscriber func(ActionEvent)

// Monitor fans action events out to subscribers, Prometheus metrics and the log.
// A Monitor is safe for concurrent use.
type Monitor struct {
	logger   *slog.Logger
	registry *prometheus.Registry

	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
	failures *prometheus.CounterVec

	mu     sync.RWMutex
	nextID int
	subs   map[int]Subscriber
}

// NewMonitor creates a Monitor with its own metrics registry. A nil logger
// falls back to slog.Default().
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	buckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	labels := []string{"operation", "collection"}

	m := &Monitor{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "entityrepo_action_duration_seconds",
			Help:    "Duration of repository operations",
			Buckets: buckets,
		}, labels),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entityrepo_action_items_total",
			Help: "Items returned or affected by repository operations",
		}, labels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entityrepo_action_errors_total",
			Help: "Repository operations that returned an error",
		}, labels),
		subs: make(map[int]Subscriber),
	}
	m.registry.MustRegister(m.duration, m.items, m.failures)
	return m
}

// Registry exposes the metrics for scraping.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Logger returns the logger events are written to.
func (m *Monitor) Logger() *slog.Logger {
	return m.logger
}

// Subscribe registers fn for every later event and returns a func that removes it.
func (m *Monitor) Subscribe(fn Subscriber) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Record builds an event for a finished operation and emits it.
func (m *Monitor) Record(ctx context.Context, cd ContextData, action ActionData) ActionEvent {
	event := ActionEvent{
		Action:    action,
		Context:   cd,
		Timestamp: strfmt.DateTime(time.Now().UTC()),
	}
	m.Emit(ctx, event)
	return event
}

// Emit publishes an event to metrics, the log and all subscribers.
func (m *Monitor) Emit(ctx context.Context, event ActionEvent) {
	labels := prometheus.Labels{
		"operation":  event.Action.Operation,
		"collection": event.Context.Collection,
	}
	m.duration.With(labels).Observe(event.Action.Elapsed.Seconds())
	if event.Action.ItemCount > 0 {
		m.items.With(labels).Add(float64(event.Action.ItemCount))
	}

	attrs := []any{
		"operation", event.Action.Operation,
		"collection", event.Context.Collection,
		"database", event.Context.Database,
		"entityType", event.Context.EntityType,
		"elapsed", event.Action.Elapsed,
		"items", event.Action.ItemCount,
	}
	for k, v := range event.Action.Data {
		attrs = append(attrs, k, v)
	}

	if event.Failed() {
		m.failures.With(labels).Inc()
		m.logger.ErrorContext(ctx, "Repository operation failed", append(attrs, "error", event.Action.Err)...)
	} else {
		m.logger.DebugContext(ctx, "Repository operation completed", attrs...)
	}

	m.mu.RLock()
	subs := make([]Subscriber, 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}
