/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package collection

import (
	"context"
	"iter"
	"slices"
	"sort"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/storagemodels"
)

// Buffer serves reads from a process-wide in-memory copy of a collection and
// writes through to the underlying Disk collection.
type Buffer[T storagemodels.Entity[K], K comparable] struct {
	base
	disk  *Disk[T, K]
	cache *cache[T, K]
}

// NewBuffer creates a buffered collection over disk. Buffers over the same
// entity type, server and table share their cache.
func NewBuffer[T storagemodels.Entity[K], K comparable](disk *Disk[T, K]) *Buffer[T, K] {
	return &Buffer[T, K]{
		base: base{
			shared:   disk.shared,
			logger:   disk.logger.With("buffered", true),
			describe: disk.describe,
		},
		disk:  disk,
		cache: cacheFor[T, K](disk.shared.Buffers, disk.driver.Server(), disk.Table()),
	}
}

// NewBufferReader creates a buffered read-only view over disk.
func NewBufferReader[T storagemodels.Entity[K], K comparable](disk *Disk[T, K]) Reader[T, K] {
	return NewBuffer(disk)
}

// Disk returns the collection the buffer writes through to.
func (b *Buffer[T, K]) Disk() *Disk[T, K] {
	return b.disk
}

// Table is the physical table name.
func (b *Buffer[T, K]) Table() string {
	return b.disk.Table()
}

// Loaded reports whether a snapshot is held.
func (b *Buffer[T, K]) Loaded() bool {
	_, ok := b.cache.loaded()
	return ok
}

// InvalidateBuffer discards the snapshot. The next read loads it again.
func (b *Buffer[T, K]) InvalidateBuffer() {
	b.cache.mu.Lock()
	defer b.cache.mu.Unlock()
	b.cache.snapshot.Store(nil)
	b.logger.Debug("Buffer invalidated")
}

// Disconnect detaches the buffer from the store. Reads serve the current
// snapshot, or nothing if none was loaded; writes fail with ErrDisconnected.
func (b *Buffer[T, K]) Disconnect() {
	b.cache.disconnected.Store(true)
	b.logger.Info("Buffer disconnected")
}

// Reconnect attaches the buffer to the store again.
func (b *Buffer[T, K]) Reconnect() {
	b.cache.disconnected.Store(false)
	b.logger.Info("Buffer reconnected")
}

// Disconnected reports whether the buffer is detached from the store.
func (b *Buffer[T, K]) Disconnected() bool {
	return b.cache.disconnected.Load()
}

// Refresh replaces the cached copy of entity, if a snapshot is held.
func (b *Buffer[T, K]) Refresh(entity T) {
	b.cache.mu.Lock()
	defer b.cache.mu.Unlock()
	b.store(entity)
}

// load returns the snapshot, reading the whole collection on first use.
// Concurrent first callers share one read.
func (b *Buffer[T, K]) load(ctx context.Context) (map[K]entry[T], error) {
	if snap, ok := b.cache.loaded(); ok {
		return snap, nil
	}
	if b.cache.disconnected.Load() {
		return nil, nil
	}

	b.cache.mu.Lock()
	defer b.cache.mu.Unlock()
	if snap, ok := b.cache.loaded(); ok {
		return snap, nil
	}

	entities, err := b.disk.all(ctx)
	if err != nil {
		return nil, err
	}
	snap := make(map[K]entry[T], len(entities))
	for id, entity := range entities {
		e, err := b.entryOf(entity)
		if err != nil {
			return nil, err
		}
		snap[id] = e
	}
	b.cache.snapshot.Store(&snap)
	b.logger.DebugContext(ctx, "Buffer loaded", "count", len(snap))
	return snap, nil
}

func (b *Buffer[T, K]) entryOf(entity T) (entry[T], error) {
	item, err := b.disk.codec.encode(entity)
	if err != nil {
		return entry[T]{}, err
	}
	return entry[T]{entity: entity, item: item}, nil
}

// store puts entities into the snapshot. Callers hold the cache mutex.
func (b *Buffer[T, K]) store(entities ...T) {
	if len(entities) == 0 {
		return
	}
	entries := make([]entry[T], 0, len(entities))
	for _, entity := range entities {
		e, err := b.entryOf(entity)
		if err != nil {
			b.logger.Warn("Dropping buffer after encode failure", "error", err)
			b.cache.snapshot.Store(nil)
			return
		}
		entries = append(entries, e)
	}
	b.cache.modify(func(m map[K]entry[T]) {
		for _, e := range entries {
			m[e.entity.GetID()] = e
		}
	})
}

// evict removes ids from the snapshot. Callers hold the cache mutex.
func (b *Buffer[T, K]) evict(ids ...K) {
	if len(ids) == 0 {
		return
	}
	b.cache.modify(func(m map[K]entry[T]) {
		for _, id := range ids {
			delete(m, id)
		}
	})
}

// selectEntries returns the cached entries matching filter in query order.
// Without an explicit sort, entries are ordered by id.
func (b *Buffer[T, K]) selectEntries(snap map[K]entry[T], filter storagemodels.Filter, sortBy []storagemodels.SortField) ([]entry[T], error) {
	matches := make([]entry[T], 0, len(snap))
	for _, e := range snap {
		ok, err := filter.Match(e.item)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, e)
		}
	}
	fields := append(slices.Clone(sortBy), storagemodels.SortField{Field: storagemodels.IDAttribute})
	sort.SliceStable(matches, func(i, j int) bool {
		return storagemodels.CompareItems(matches[i].item, matches[j].item, fields) < 0
	})
	return matches, nil
}

// GetMany streams the cached entities matching filter.
func (b *Buffer[T, K]) GetMany(ctx context.Context, filter storagemodels.Filter, opts *storagemodels.Options) iter.Seq2[T, error] {
	return executeSeq(ctx, &b.base, "GetMany", false, func(ctx context.Context, a *action) iter.Seq2[T, error] {
		return b.query(ctx, filter, opts, a, true)
	})
}

func (b *Buffer[T, K]) query(ctx context.Context, filter storagemodels.Filter, opts *storagemodels.Options, a *action, enforceLimit bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if opts == nil {
			opts = &storagemodels.Options{}
		}
		snap, err := b.load(ctx)
		if err != nil {
			yield(zero, err)
			return
		}
		matches, err := b.selectEntries(snap, filter, opts.Sort)
		if err != nil {
			yield(zero, err)
			return
		}

		limit := b.disk.settings.ResultLimit
		if enforceLimit && limit > 0 && (opts.Limit <= 0 || opts.Limit > limit) && len(matches) > limit {
			a.set("resultLimit", limit)
			yield(zero, errors.NewResultLimitExceededError(b.Table(), limit))
			return
		}
		if opts.Limit > 0 && len(matches) > opts.Limit {
			matches = matches[:opts.Limit]
		}

		for _, e := range matches {
			entity := e.entity
			if len(opts.Projection) > 0 {
				if entity, err = b.disk.codec.decode(storagemodels.Project(e.item, opts.Projection)); err != nil {
					yield(zero, err)
					return
				}
			}
			if !yield(entity, nil) {
				return
			}
		}
	}
}

// GetOne returns the cached entity with the given id, or nil.
func (b *Buffer[T, K]) GetOne(ctx context.Context, id K) (*T, error) {
	return execute(ctx, &b.base, "GetOne", false, func(ctx context.Context, a *action) (*T, error) {
		snap, err := b.load(ctx)
		if err != nil {
			return nil, err
		}
		e, ok := snap[id]
		if !ok {
			return nil, nil
		}
		a.add(1)
		entity := e.entity
		return &entity, nil
	})
}

// GetOneWhere returns the first cached entity matching filter, or nil.
func (b *Buffer[T, K]) GetOneWhere(ctx context.Context, filter storagemodels.Filter, opt *storagemodels.OneOption) (*T, error) {
	return execute(ctx, &b.base, "GetOneWhere", false, func(ctx context.Context, a *action) (*T, error) {
		for entity, err := range b.query(ctx, filter, opt.AsOptions(), a, false) {
			if err != nil {
				return nil, err
			}
			a.add(1)
			return &entity, nil
		}
		return nil, nil
	})
}

// Count returns the number of cached entities matching filter.
func (b *Buffer[T, K]) Count(ctx context.Context, filter storagemodels.Filter) (int64, error) {
	return execute(ctx, &b.base, "Count", false, func(ctx context.Context, a *action) (int64, error) {
		snap, err := b.load(ctx)
		if err != nil {
			return 0, err
		}
		var n int64
		for _, e := range snap {
			ok, err := filter.Match(e.item)
			if err != nil {
				return 0, err
			}
			if ok {
				n++
			}
		}
		a.set("count", n)
		return n, nil
	})
}

// GetPages pages through the cached entities matching filter in id order.
func (b *Buffer[T, K]) GetPages(ctx context.Context, filter storagemodels.Filter, pageSize int, token string) (*storagemodels.ResultPage[T], error) {
	return execute(ctx, &b.base, "GetPages", false, func(ctx context.Context, a *action) (*storagemodels.ResultPage[T], error) {
		if pageSize <= 0 {
			return nil, errors.NewValidationError("pageSize", "must be positive")
		}
		snap, err := b.load(ctx)
		if err != nil {
			return nil, err
		}
		matches, err := b.selectEntries(snap, filter, nil)
		if err != nil {
			return nil, err
		}

		if token != "" {
			id, err := decodeToken[K](token)
			if err != nil {
				return nil, err
			}
			after, err := b.disk.codec.key(id)
			if err != nil {
				return nil, err
			}
			byID := []storagemodels.SortField{{Field: storagemodels.IDAttribute}}
			start := sort.Search(len(matches), func(i int) bool {
				return storagemodels.CompareItems(matches[i].item, after, byID) > 0
			})
			matches = matches[start:]
		}

		page := &storagemodels.ResultPage[T]{}
		for i, e := range matches {
			if i == pageSize {
				if page.Token, err = encodeToken(page.Items[pageSize-1].GetID()); err != nil {
					return nil, err
				}
				break
			}
			page.Items = append(page.Items, e.entity)
		}
		a.add(len(page.Items))
		return page, nil
	})
}

// writeThrough runs a disk write under the cache mutex. fn updates the
// snapshot only after the disk write succeeded.
func writeThrough[T storagemodels.Entity[K], K comparable, R any](ctx context.Context, b *Buffer[T, K], fn func() (R, error)) (R, error) {
	var zero R
	if b.cache.disconnected.Load() {
		return zero, errors.ErrDisconnected
	}
	if err := b.disk.prepare(ctx); err != nil {
		return zero, err
	}
	b.cache.mu.Lock()
	defer b.cache.mu.Unlock()
	return fn()
}

// Add inserts entity unless its id is already stored, reporting whether it did.
func (b *Buffer[T, K]) Add(ctx context.Context, entity T) (bool, error) {
	return execute(ctx, &b.base, "Add", false, func(ctx context.Context, a *action) (bool, error) {
		return writeThrough(ctx, b, func() (bool, error) {
			added, err := b.disk.add(ctx, entity, a)
			if added {
				b.store(entity)
			}
			return added, err
		})
	})
}

// AddOrReplace stores entity whether or not its id exists.
func (b *Buffer[T, K]) AddOrReplace(ctx context.Context, entity T) (*storagemodels.EntityChangeResult[T], error) {
	return execute(ctx, &b.base, "AddOrReplace", false, func(ctx context.Context, a *action) (*storagemodels.EntityChangeResult[T], error) {
		return writeThrough(ctx, b, func() (*storagemodels.EntityChangeResult[T], error) {
			result, err := b.disk.addOrReplace(ctx, entity, a)
			if err != nil {
				return nil, err
			}
			b.store(result.After)
			return result, nil
		})
	})
}

// UpdateOne applies update to the entity with the given id. It returns nil
// when no such entity exists.
func (b *Buffer[T, K]) UpdateOne(ctx context.Context, id K, update storagemodels.Update) (*storagemodels.EntityChangeResult[T], error) {
	return execute(ctx, &b.base, "UpdateOne", false, func(ctx context.Context, a *action) (*storagemodels.EntityChangeResult[T], error) {
		return writeThrough(ctx, b, func() (*storagemodels.EntityChangeResult[T], error) {
			result, err := b.disk.updateOne(ctx, id, update, a)
			if err != nil {
				return nil, err
			}
			if result == nil {
				b.evict(id)
				return nil, nil
			}
			b.store(result.After)
			return result, nil
		})
	})
}

// UpdateOneWhere applies update to the first entity matching filter.
func (b *Buffer[T, K]) UpdateOneWhere(ctx context.Context, filter storagemodels.Filter, update storagemodels.Update) (*storagemodels.EntityChangeResult[T], error) {
	return execute(ctx, &b.base, "UpdateOneWhere", false, func(ctx context.Context, a *action) (*storagemodels.EntityChangeResult[T], error) {
		return writeThrough(ctx, b, func() (*storagemodels.EntityChangeResult[T], error) {
			result, err := b.disk.updateWhere(ctx, filter, update, a)
			if err != nil || result == nil {
				return nil, err
			}
			b.store(result.After)
			return result, nil
		})
	})
}

// DeleteOne removes the entity with the given id and returns it, or nil.
func (b *Buffer[T, K]) DeleteOne(ctx context.Context, id K) (*T, error) {
	return execute(ctx, &b.base, "DeleteOne", false, func(ctx context.Context, a *action) (*T, error) {
		return writeThrough(ctx, b, func() (*T, error) {
			removed, err := b.disk.deleteOne(ctx, id, a)
			if err != nil {
				return nil, err
			}
			b.evict(id)
			return removed, nil
		})
	})
}

// DeleteOneWhere removes the first entity matching filter and returns it, or nil.
func (b *Buffer[T, K]) DeleteOneWhere(ctx context.Context, filter storagemodels.Filter) (*T, error) {
	return execute(ctx, &b.base, "DeleteOneWhere", false, func(ctx context.Context, a *action) (*T, error) {
		return writeThrough(ctx, b, func() (*T, error) {
			removed, err := b.disk.deleteWhere(ctx, filter, a)
			if err != nil || removed == nil {
				return nil, err
			}
			b.evict((*removed).GetID())
			return removed, nil
		})
	})
}

// DeleteMany removes every entity matching filter and returns how many were
// removed.
func (b *Buffer[T, K]) DeleteMany(ctx context.Context, filter storagemodels.Filter) (int, error) {
	return execute(ctx, &b.base, "DeleteMany", false, func(ctx context.Context, a *action) (int, error) {
		return writeThrough(ctx, b, func() (int, error) {
			removed, err := b.disk.deleteMany(ctx, filter, a)
			ids := make([]K, 0, len(removed))
			for _, entity := range removed {
				ids = append(ids, entity.GetID())
			}
			// Partial failures still removed these.
			b.evict(ids...)
			return len(removed), err
		})
	})
}

// DropCollection drops the table and empties the snapshot.
func (b *Buffer[T, K]) DropCollection(ctx context.Context) error {
	_, err := execute(ctx, &b.base, "DropCollection", false, func(ctx context.Context, _ *action) (struct{}, error) {
		if b.cache.disconnected.Load() {
			return struct{}{}, errors.ErrDisconnected
		}
		b.cache.mu.Lock()
		defer b.cache.mu.Unlock()
		if err := b.disk.drop(ctx); err != nil {
			return struct{}{}, err
		}
		b.cache.modify(func(m map[K]entry[T]) {
			clear(m)
		})
		return struct{}{}, nil
	})
	return err
}
