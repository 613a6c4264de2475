/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package collection

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/telemetry"
)

// Shared holds the process-wide state every collection instance binds to.
// Create one at startup and pass it to every collection.
type Shared struct {
	Initiation *registry.Initiation
	Types      *registry.Types
	Indexes    *registry.Indexes
	Buffers    *Buffers
	Monitor    *telemetry.Monitor
	Logger     *slog.Logger
}

// NewShared creates fresh registries, a buffer registry and a monitor.
// A nil logger falls back to slog.Default().
func NewShared(logger *slog.Logger) *Shared {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shared{
		Initiation: registry.NewInitiation(),
		Types:      registry.NewTypes(),
		Indexes:    registry.NewIndexes(),
		Buffers:    NewBuffers(),
		Monitor:    telemetry.NewMonitor(logger),
		Logger:     logger,
	}
}

// action collects what an operation reports in its event.
type action struct {
	items int
	data  map[string]any
}

func (a *action) add(n int) {
	a.items += n
}

func (a *action) incr(key string) {
	n, _ := a.data[key].(int)
	a.set(key, n+1)
}

func (a *action) set(key string, v any) {
	if a.data == nil {
		a.data = make(map[string]any)
	}
	a.data[key] = v
}

// base is the execution envelope shared by all collections: optional
// initialization first, then timing and exactly one event per operation.
type base struct {
	shared   *Shared
	logger   *slog.Logger
	describe func() telemetry.ContextData
	prepare  func(ctx context.Context) error
}

func (b *base) emit(ctx context.Context, op string, start time.Time, a *action, err error) {
	b.shared.Monitor.Record(ctx, b.describe(), telemetry.ActionData{
		Operation: op,
		Elapsed:   time.Since(start),
		ItemCount: a.items,
		Err:       err,
		Data:      a.data,
	})
}

// execute runs fn inside the envelope. Errors are returned unchanged.
func execute[R any](ctx context.Context, b *base, op string, assureInit bool, fn func(ctx context.Context, a *action) (R, error)) (R, error) {
	start := time.Now()
	a := &action{}

	if assureInit && b.prepare != nil {
		if err := b.prepare(ctx); err != nil {
			b.emit(ctx, op, start, a, err)
			var zero R
			return zero, err
		}
	}

	result, err := fn(ctx, a)
	b.emit(ctx, op, start, a, err)
	return result, err
}

// executeSeq wraps a lazy sequence. The event is emitted when iteration ends,
// whether it ran to completion, stopped early or failed.
func executeSeq[T any](ctx context.Context, b *base, op string, assureInit bool, fn func(ctx context.Context, a *action) iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		start := time.Now()
		a := &action{}
		var failure error
		defer func() { b.emit(ctx, op, start, a, failure) }()

		if assureInit && b.prepare != nil {
			if err := b.prepare(ctx); err != nil {
				failure = err
				var zero T
				yield(zero, err)
				return
			}
		}

		for item, err := range fn(ctx, a) {
			if err != nil {
				failure = err
				yield(item, err)
				return
			}
			a.add(1)
			if !yield(item, nil) {
				return
			}
		}
	}
}
