/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package collection

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
	"github.com/suparena/entityrepo/telemetry"
)

// deleteParallelism bounds concurrent deletes issued by DeleteMany.
const deleteParallelism = 8

// Cleaner rewrites an outdated entity into its current shape.
type Cleaner[T any] func(ctx context.Context, entity T) (T, error)

// DiskOption configures a Disk collection.
type DiskOption[T any] func(*diskOptions[T])

type diskOptions[T any] struct {
	cleaner  Cleaner[T]
	typeName string
}

// WithCleaner sets the hook outdated entities pass through. The default keeps
// the entity as decoded, which drops attributes it no longer declares.
func WithCleaner[T any](c Cleaner[T]) DiskOption[T] {
	return func(o *diskOptions[T]) {
		o.cleaner = c
	}
}

// WithTypeName overrides the EntityType recorded in stored documents.
func WithTypeName[T any](name string) DiskOption[T] {
	return func(o *diskOptions[T]) {
		o.typeName = name
	}
}

// Disk reads and writes one collection directly in the store.
type Disk[T storagemodels.Entity[K], K comparable] struct {
	base
	codec    codec[T, K]
	driver   datastore.Driver
	settings config.Settings
	readOnly bool
	cleaner  Cleaner[T]

	mu    sync.Mutex
	ready atomic.Bool
}

// NewDisk creates a read-write collection bound to the table settings name.
func NewDisk[T storagemodels.Entity[K], K comparable](shared *Shared, driver datastore.Driver, settings config.Settings, opts ...DiskOption[T]) *Disk[T, K] {
	o := diskOptions[T]{typeName: storagemodels.TypeName[T]()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cleaner == nil {
		o.cleaner = func(_ context.Context, entity T) (T, error) { return entity, nil }
	}

	d := &Disk[T, K]{
		codec:    codec[T, K]{typeName: o.typeName, types: shared.Types},
		driver:   driver,
		settings: settings,
		cleaner:  o.cleaner,
	}
	describe := func() telemetry.ContextData {
		return telemetry.ContextData{
			Server:     driver.Server(),
			Database:   settings.Database,
			Collection: settings.Collection,
			EntityType: o.typeName,
		}
	}
	d.base = base{
		shared:   shared,
		logger:   shared.Logger.With("collection", settings.Table(), "entityType", o.typeName),
		describe: describe,
		prepare:  d.prepare,
	}
	return d
}

// NewDiskReader creates a read-only view. Startup setup skips cleaning and
// empty-collection drops, and read-time cleaning never writes back.
func NewDiskReader[T storagemodels.Entity[K], K comparable](shared *Shared, driver datastore.Driver, settings config.Settings, opts ...DiskOption[T]) Reader[T, K] {
	d := NewDisk[T, K](shared, driver, settings, opts...)
	d.readOnly = true
	return d
}

// Table is the physical table name.
func (d *Disk[T, K]) Table() string {
	return d.settings.Table()
}

// Settings returns the resolved collection settings.
func (d *Disk[T, K]) Settings() config.Settings {
	return d.settings
}

// prepare runs first-time setup once per instance. Concurrent first callers
// wait for the one doing the work; a failed setup is retried by the next call.
func (d *Disk[T, K]) prepare(ctx context.Context) error {
	if d.ready.Load() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready.Load() {
		return nil
	}
	if err := d.initialize(ctx); err != nil {
		return err
	}
	d.ready.Store(true)
	return nil
}

func (d *Disk[T, K]) initialize(ctx context.Context) error {
	server, database, coll := d.driver.Server(), d.settings.Database, d.settings.Collection
	initiation := d.shared.Initiation

	if initiation.ShouldInitiate(server, database, coll) {
		if err := d.setup(ctx); err != nil {
			initiation.Forget(server, database, coll)
			d.logger.ErrorContext(ctx, "Collection setup failed", "error", err)
			return err
		}
	}

	if initiation.ShouldInitiateIndex(server, database, coll) {
		if err := d.reconcileIndexes(ctx); err != nil {
			initiation.ForgetIndex(server, database, coll)
			d.logger.ErrorContext(ctx, "Index reconciliation failed", "error", err)
			return errors.NewInitializationError(d.Table(), "indexes", err)
		}
	}
	return nil
}

func (d *Disk[T, K]) setup(ctx context.Context) error {
	registry.RegisterType[T](d.shared.Types, d.codec.typeName)

	if d.readOnly {
		return nil
	}

	if d.settings.CleanOnStartup {
		if err := d.cleanAll(ctx); err != nil {
			return errors.NewInitializationError(d.Table(), "clean", err)
		}
	}

	if d.settings.DropEmptyCollections {
		n, err := d.driver.Count(ctx, d.Table(), storagemodels.Filter{})
		if err != nil {
			return errors.NewInitializationError(d.Table(), "drop-empty", err)
		}
		if n == 0 {
			if err := d.driver.DropCollection(ctx, d.Table()); err != nil {
				return errors.NewInitializationError(d.Table(), "drop-empty", err)
			}
			d.logger.InfoContext(ctx, "Dropped empty collection")
		}
	}
	return nil
}

// cleanAll finds every outdated document. They are rewritten only when
// AutoClean is set; otherwise the finding is logged.
func (d *Disk[T, K]) cleanAll(ctx context.Context) error {
	var outdated []T
	for item, err := range d.driver.Find(ctx, d.Table(), datastore.FindQuery{}) {
		if err != nil {
			return err
		}
		entity, err := d.codec.decode(item)
		if err != nil {
			return err
		}
		if d.codec.needsCleaning(entity, item) {
			outdated = append(outdated, entity)
		}
	}
	if len(outdated) == 0 {
		return nil
	}

	if !d.settings.AutoClean {
		d.logger.WarnContext(ctx, "Collection holds entities that need cleaning; AutoClean is disabled", "count", len(outdated))
		return nil
	}

	for _, entity := range outdated {
		if _, err := d.rewrite(ctx, entity); err != nil {
			return err
		}
	}
	d.logger.InfoContext(ctx, "Cleaned collection on startup", "count", len(outdated))
	return nil
}

// rewrite passes an entity through the cleaner and stores the result unless
// the document is leased.
func (d *Disk[T, K]) rewrite(ctx context.Context, entity T) (T, error) {
	cleaned, err := d.cleaner(ctx, entity)
	if err != nil {
		return entity, fmt.Errorf("cleaner failed: %w", err)
	}
	item, err := d.codec.encode(cleaned)
	if err != nil {
		return entity, err
	}

	cond := storagemodels.And(storagemodels.Exists(storagemodels.IDAttribute), unlocked(time.Now()))
	if _, err := d.driver.Put(ctx, d.Table(), item, cond); err != nil {
		if errors.IsConditionFailed(err) {
			d.logger.DebugContext(ctx, "Skipped cleaning a leased or removed entity", "id", keyString(item))
			return cleaned, nil
		}
		return entity, err
	}
	return cleaned, nil
}

// reconcileIndexes makes the store's indexes match the declared set. Types
// without a declared set are left alone.
func (d *Disk[T, K]) reconcileIndexes(ctx context.Context) error {
	declared, ok := registry.IndexesFor[T](d.shared.Indexes)
	if !ok {
		d.logger.DebugContext(ctx, "No index set declared", "reason", errors.ErrNoIndexMap)
		return nil
	}

	existing, err := d.driver.ListIndexes(ctx, d.Table())
	if err != nil {
		return err
	}

	wanted := make(map[string]registry.IndexSpec, len(declared))
	for _, spec := range declared {
		wanted[spec.Name] = spec
	}

	present := make(map[string]bool, len(existing))
	for _, spec := range existing {
		if spec.Name == datastore.IdentityIndex {
			continue
		}
		if w, ok := wanted[spec.Name]; ok && w.Equal(spec) {
			present[spec.Name] = true
			continue
		}
		if err := d.driver.DropIndex(ctx, d.Table(), spec.Name); err != nil && !errors.IsNotFound(err) {
			return fmt.Errorf("drop index %s: %w", spec.Name, err)
		}
		d.logger.InfoContext(ctx, "Dropped index", "index", spec.Name)
	}

	for _, spec := range declared {
		if present[spec.Name] {
			continue
		}
		if err := d.driver.CreateIndex(ctx, d.Table(), spec); err != nil && !errors.IsAlreadyExists(err) {
			return fmt.Errorf("create index %s: %w", spec.Name, err)
		}
		d.logger.InfoContext(ctx, "Created index", "index", spec.Name)
	}
	return nil
}

// GetMany streams the entities matching filter. Ranging again issues a new query.
func (d *Disk[T, K]) GetMany(ctx context.Context, filter storagemodels.Filter, opts *storagemodels.Options) iter.Seq2[T, error] {
	return executeSeq(ctx, &d.base, "GetMany", true, func(ctx context.Context, a *action) iter.Seq2[T, error] {
		return d.query(ctx, filter, opts, a, true)
	})
}

// query runs a find. With a result limit K in force it reads at most K+1
// documents and fails before yielding anything when there are more than K.
func (d *Disk[T, K]) query(ctx context.Context, filter storagemodels.Filter, opts *storagemodels.Options, a *action, enforceLimit bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		q := datastore.FindQuery{Filter: filter}
		if opts != nil {
			q.Projection = opts.Projection
			q.Sort = opts.Sort
			q.Limit = opts.Limit
		}
		partial := len(q.Projection) > 0

		limit := d.settings.ResultLimit
		if !enforceLimit || limit <= 0 || (q.Limit > 0 && q.Limit <= limit) {
			for item, err := range d.driver.Find(ctx, d.Table(), q) {
				if err != nil {
					yield(zero, err)
					return
				}
				entity, err := d.materialize(ctx, item, partial, a)
				if !yield(entity, err) || err != nil {
					return
				}
			}
			return
		}

		capped := q
		capped.Limit = limit + 1
		var items []storagemodels.Item
		for item, err := range d.driver.Find(ctx, d.Table(), capped) {
			if err != nil {
				yield(zero, err)
				return
			}
			items = append(items, item)
		}
		if len(items) > limit {
			a.set("resultLimit", limit)
			yield(zero, errors.NewResultLimitExceededError(d.Table(), limit))
			return
		}
		for _, item := range items {
			entity, err := d.materialize(ctx, item, partial, a)
			if !yield(entity, err) || err != nil {
				return
			}
		}
	}
}

// materialize decodes a document and cleans it when it is outdated. Partial
// documents are never cleaned.
func (d *Disk[T, K]) materialize(ctx context.Context, item storagemodels.Item, partial bool, a *action) (T, error) {
	entity, err := d.codec.decode(item)
	if err != nil || partial || !d.codec.needsCleaning(entity, item) {
		return entity, err
	}

	a.incr("needsCleaning")
	if d.readOnly || !d.settings.AutoClean {
		cleaned, err := d.cleaner(ctx, entity)
		if err != nil {
			return entity, fmt.Errorf("cleaner failed: %w", err)
		}
		return cleaned, nil
	}
	return d.rewrite(ctx, entity)
}

// GetOne returns the entity with the given id, or nil.
func (d *Disk[T, K]) GetOne(ctx context.Context, id K) (*T, error) {
	return execute(ctx, &d.base, "GetOne", true, func(ctx context.Context, a *action) (*T, error) {
		key, err := d.codec.key(id)
		if err != nil {
			return nil, err
		}
		item, err := d.driver.Get(ctx, d.Table(), key)
		if err != nil || item == nil {
			return nil, err
		}
		entity, err := d.materialize(ctx, item, false, a)
		if err != nil {
			return nil, err
		}
		a.add(1)
		return &entity, nil
	})
}

// GetOneWhere returns the first entity matching filter, or nil.
func (d *Disk[T, K]) GetOneWhere(ctx context.Context, filter storagemodels.Filter, opt *storagemodels.OneOption) (*T, error) {
	return execute(ctx, &d.base, "GetOneWhere", true, func(ctx context.Context, a *action) (*T, error) {
		for entity, err := range d.query(ctx, filter, opt.AsOptions(), a, false) {
			if err != nil {
				return nil, err
			}
			a.add(1)
			return &entity, nil
		}
		return nil, nil
	})
}

// Count returns the number of entities matching filter.
func (d *Disk[T, K]) Count(ctx context.Context, filter storagemodels.Filter) (int64, error) {
	return execute(ctx, &d.base, "Count", true, func(ctx context.Context, a *action) (int64, error) {
		n, err := d.driver.Count(ctx, d.Table(), filter)
		a.set("count", n)
		return n, err
	})
}

// GetPages returns up to pageSize entities following the page that token
// ended. An empty token starts at the beginning; an empty result token marks
// the last page.
func (d *Disk[T, K]) GetPages(ctx context.Context, filter storagemodels.Filter, pageSize int, token string) (*storagemodels.ResultPage[T], error) {
	return execute(ctx, &d.base, "GetPages", true, func(ctx context.Context, a *action) (*storagemodels.ResultPage[T], error) {
		if pageSize <= 0 {
			return nil, errors.NewValidationError("pageSize", "must be positive")
		}

		q := datastore.FindQuery{Filter: filter, Limit: pageSize + 1}
		if token != "" {
			id, err := decodeToken[K](token)
			if err != nil {
				return nil, err
			}
			if q.StartAfter, err = d.codec.key(id); err != nil {
				return nil, err
			}
		}

		page := &storagemodels.ResultPage[T]{}
		for item, err := range d.driver.Find(ctx, d.Table(), q) {
			if err != nil {
				return nil, err
			}
			if len(page.Items) == pageSize {
				next, err := encodeToken(page.Items[pageSize-1].GetID())
				if err != nil {
					return nil, err
				}
				page.Token = next
				break
			}
			entity, err := d.materialize(ctx, item, false, a)
			if err != nil {
				return nil, err
			}
			page.Items = append(page.Items, entity)
		}
		a.add(len(page.Items))
		return page, nil
	})
}

func (d *Disk[T, K]) writable() error {
	if d.readOnly {
		return errors.NewValidationError("collection", d.Table()+" is read-only")
	}
	return nil
}

// Add inserts entity unless its id is already stored, reporting whether it did.
func (d *Disk[T, K]) Add(ctx context.Context, entity T) (bool, error) {
	return execute(ctx, &d.base, "Add", true, func(ctx context.Context, a *action) (bool, error) {
		return d.add(ctx, entity, a)
	})
}

func (d *Disk[T, K]) add(ctx context.Context, entity T, a *action) (bool, error) {
	if err := d.writable(); err != nil {
		return false, err
	}
	item, err := d.codec.encode(entity)
	if err != nil {
		return false, err
	}
	if _, err := d.driver.Put(ctx, d.Table(), item, storagemodels.NotExists(storagemodels.IDAttribute)); err != nil {
		if errors.IsConditionFailed(err) {
			a.set("duplicate", true)
			return false, nil
		}
		return false, err
	}
	a.add(1)
	return true, nil
}

// AddOrReplace stores entity whether or not its id exists. A document held
// under an unexpired lease is not replaced; one whose lease lapses while the
// write is in flight is retried once.
func (d *Disk[T, K]) AddOrReplace(ctx context.Context, entity T) (*storagemodels.EntityChangeResult[T], error) {
	return execute(ctx, &d.base, "AddOrReplace", true, func(ctx context.Context, a *action) (*storagemodels.EntityChangeResult[T], error) {
		return d.addOrReplace(ctx, entity, a)
	})
}

func (d *Disk[T, K]) addOrReplace(ctx context.Context, entity T, a *action) (*storagemodels.EntityChangeResult[T], error) {
	if err := d.writable(); err != nil {
		return nil, err
	}
	item, err := d.codec.encode(entity)
	if err != nil {
		return nil, err
	}

	// A lease that expires between the write and the conflict lookup gets
	// one more attempt.
	var old storagemodels.Item
	for attempt := 1; ; attempt++ {
		old, err = d.driver.Put(ctx, d.Table(), item, unlocked(time.Now()))
		if err == nil {
			break
		}
		if !errors.IsConditionFailed(err) {
			return nil, err
		}
		err = d.conflict(ctx, datastore.KeyOf(item), err)
		if !errors.IsConditionFailed(err) || attempt == 2 {
			return nil, err
		}
		a.set("attempts", attempt+1)
	}

	a.add(1)
	result := &storagemodels.EntityChangeResult[T]{After: entity, Inserted: old == nil}
	if old != nil {
		before, err := d.codec.decode(old)
		if err != nil {
			return nil, err
		}
		result.Before = &before
	}
	a.set("inserted", result.Inserted)
	return result, nil
}

// UpdateOne applies update to the entity with the given id. It returns nil
// when no such entity exists.
func (d *Disk[T, K]) UpdateOne(ctx context.Context, id K, update storagemodels.Update) (*storagemodels.EntityChangeResult[T], error) {
	return execute(ctx, &d.base, "UpdateOne", true, func(ctx context.Context, a *action) (*storagemodels.EntityChangeResult[T], error) {
		return d.updateOne(ctx, id, update, a)
	})
}

func (d *Disk[T, K]) updateOne(ctx context.Context, id K, update storagemodels.Update, a *action) (*storagemodels.EntityChangeResult[T], error) {
	key, err := d.codec.key(id)
	if err != nil {
		return nil, err
	}
	return d.updateKey(ctx, key, storagemodels.Filter{}, update, a)
}

// UpdateOneWhere applies update to the first entity matching filter. It
// returns nil when nothing matches.
func (d *Disk[T, K]) UpdateOneWhere(ctx context.Context, filter storagemodels.Filter, update storagemodels.Update) (*storagemodels.EntityChangeResult[T], error) {
	return execute(ctx, &d.base, "UpdateOneWhere", true, func(ctx context.Context, a *action) (*storagemodels.EntityChangeResult[T], error) {
		return d.updateWhere(ctx, filter, update, a)
	})
}

func (d *Disk[T, K]) updateWhere(ctx context.Context, filter storagemodels.Filter, update storagemodels.Update, a *action) (*storagemodels.EntityChangeResult[T], error) {
	key, err := d.firstKey(ctx, filter)
	if err != nil || key == nil {
		return nil, err
	}
	return d.updateKey(ctx, key, filter, update, a)
}

func (d *Disk[T, K]) updateKey(ctx context.Context, key storagemodels.Item, filter storagemodels.Filter, update storagemodels.Update, a *action) (*storagemodels.EntityChangeResult[T], error) {
	if err := d.writable(); err != nil {
		return nil, err
	}
	if err := checkUpdate(update); err != nil {
		return nil, err
	}

	cond := storagemodels.And(filter, storagemodels.Exists(storagemodels.IDAttribute), unlocked(time.Now()))
	old, err := d.driver.Update(ctx, d.Table(), key, update, cond)
	if err != nil {
		if errors.IsConditionFailed(err) {
			// Gone, no longer matching, or leased.
			return nil, d.conflict(ctx, key, nil)
		}
		return nil, err
	}

	before, err := d.codec.decode(old)
	if err != nil {
		return nil, err
	}
	newItem, err := update.Apply(old)
	if err != nil {
		return nil, err
	}
	after, err := d.codec.decode(newItem)
	if err != nil {
		return nil, err
	}
	a.add(1)
	return &storagemodels.EntityChangeResult[T]{Before: &before, After: after}, nil
}

// DeleteOne removes the entity with the given id and returns it, or nil.
func (d *Disk[T, K]) DeleteOne(ctx context.Context, id K) (*T, error) {
	return execute(ctx, &d.base, "DeleteOne", true, func(ctx context.Context, a *action) (*T, error) {
		return d.deleteOne(ctx, id, a)
	})
}

func (d *Disk[T, K]) deleteOne(ctx context.Context, id K, a *action) (*T, error) {
	key, err := d.codec.key(id)
	if err != nil {
		return nil, err
	}
	return d.deleteKey(ctx, key, storagemodels.Filter{}, a)
}

// DeleteOneWhere removes the first entity matching filter and returns it, or nil.
func (d *Disk[T, K]) DeleteOneWhere(ctx context.Context, filter storagemodels.Filter) (*T, error) {
	return execute(ctx, &d.base, "DeleteOneWhere", true, func(ctx context.Context, a *action) (*T, error) {
		return d.deleteWhere(ctx, filter, a)
	})
}

func (d *Disk[T, K]) deleteWhere(ctx context.Context, filter storagemodels.Filter, a *action) (*T, error) {
	key, err := d.firstKey(ctx, filter)
	if err != nil || key == nil {
		return nil, err
	}
	return d.deleteKey(ctx, key, filter, a)
}

func (d *Disk[T, K]) deleteKey(ctx context.Context, key storagemodels.Item, filter storagemodels.Filter, a *action) (*T, error) {
	if err := d.writable(); err != nil {
		return nil, err
	}

	old, err := d.driver.Delete(ctx, d.Table(), key, storagemodels.And(filter, unlocked(time.Now())))
	if err != nil {
		if errors.IsConditionFailed(err) {
			return nil, d.conflict(ctx, key, nil)
		}
		return nil, err
	}
	if old == nil {
		return nil, nil
	}
	removed, err := d.codec.decode(old)
	if err != nil {
		return nil, err
	}
	a.add(1)
	return &removed, nil
}

// DeleteMany removes every entity matching filter and returns how many were
// removed. Entities under an unexpired lease are skipped.
func (d *Disk[T, K]) DeleteMany(ctx context.Context, filter storagemodels.Filter) (int, error) {
	return execute(ctx, &d.base, "DeleteMany", true, func(ctx context.Context, a *action) (int, error) {
		removed, err := d.deleteMany(ctx, filter, a)
		return len(removed), err
	})
}

// deleteMany returns the entities it removed.
func (d *Disk[T, K]) deleteMany(ctx context.Context, filter storagemodels.Filter, a *action) ([]T, error) {
	if err := d.writable(); err != nil {
		return nil, err
	}

	var keys []storagemodels.Item
	q := datastore.FindQuery{Filter: filter, Projection: []string{storagemodels.IDAttribute}}
	for item, err := range d.driver.Find(ctx, d.Table(), q) {
		if err != nil {
			return nil, err
		}
		keys = append(keys, datastore.KeyOf(item))
	}

	var (
		mu      sync.Mutex
		removed []T
		skipped atomic.Int64
	)
	cond := storagemodels.And(filter, unlocked(time.Now()))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteParallelism)
	for _, key := range keys {
		g.Go(func() error {
			old, err := d.driver.Delete(gctx, d.Table(), key, cond)
			if err != nil {
				if errors.IsConditionFailed(err) {
					skipped.Add(1)
					return nil
				}
				return err
			}
			if old == nil {
				return nil
			}
			entity, err := d.codec.decode(old)
			if err != nil {
				return err
			}
			mu.Lock()
			removed = append(removed, entity)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	a.add(len(removed))
	if n := skipped.Load(); n > 0 {
		a.set("skipped", n)
		d.logger.WarnContext(ctx, "DeleteMany skipped leased or changed entities", "count", n)
	}
	return removed, err
}

// DropCollection drops the table. The next operation sets the collection up
// again and the next write recreates the table.
func (d *Disk[T, K]) DropCollection(ctx context.Context) error {
	_, err := execute(ctx, &d.base, "DropCollection", false, func(ctx context.Context, _ *action) (struct{}, error) {
		return struct{}{}, d.drop(ctx)
	})
	return err
}

func (d *Disk[T, K]) drop(ctx context.Context) error {
	if err := d.writable(); err != nil {
		return err
	}
	if err := d.driver.DropCollection(ctx, d.Table()); err != nil {
		return err
	}

	d.mu.Lock()
	d.ready.Store(false)
	d.mu.Unlock()
	server, database, coll := d.driver.Server(), d.settings.Database, d.settings.Collection
	d.shared.Initiation.Forget(server, database, coll)
	d.shared.Initiation.ForgetIndex(server, database, coll)
	return nil
}

// all reads every entity, bypassing the result limit. Buffers load through it.
func (d *Disk[T, K]) all(ctx context.Context) (map[K]T, error) {
	return execute(ctx, &d.base, "Load", true, func(ctx context.Context, a *action) (map[K]T, error) {
		out := make(map[K]T)
		for entity, err := range d.query(ctx, storagemodels.Filter{}, nil, a, false) {
			if err != nil {
				return nil, err
			}
			out[entity.GetID()] = entity
		}
		a.add(len(out))
		return out, nil
	})
}

// firstKey returns the key of the first document matching filter, or nil.
func (d *Disk[T, K]) firstKey(ctx context.Context, filter storagemodels.Filter) (storagemodels.Item, error) {
	q := datastore.FindQuery{Filter: filter, Projection: []string{storagemodels.IDAttribute}, Limit: 1}
	for item, err := range d.driver.Find(ctx, d.Table(), q) {
		if err != nil {
			return nil, err
		}
		return datastore.KeyOf(item), nil
	}
	return nil, nil
}

// conflict explains a failed conditional write. A live lease becomes a
// LockConflictError; a missing or no longer matching document is not an error.
// cause is returned when neither applies.
func (d *Disk[T, K]) conflict(ctx context.Context, key storagemodels.Item, cause error) error {
	current, err := d.driver.Get(ctx, d.Table(), key)
	if err != nil {
		return err
	}
	if current != nil {
		if lock, ok := lockOf(current); ok && !lock.Expired(time.Now()) {
			return errors.NewLockConflictError(d.Table(), keyString(key), lock.Holder, lock.ExpiresTime())
		}
	}
	return cause
}

// unlocked holds for documents without a live lease.
func unlocked(now time.Time) storagemodels.Filter {
	return storagemodels.Or(
		storagemodels.NotExists(storagemodels.LockAttribute),
		storagemodels.Le(storagemodels.LockAttribute+".expiresAt", now.UnixNano()),
	)
}

func checkUpdate(update storagemodels.Update) error {
	if update.IsZero() {
		return errors.NewValidationError("update", "no updates provided")
	}
	for _, attr := range []string{storagemodels.IDAttribute, storagemodels.LockAttribute, storagemodels.EntityTypeAttribute} {
		if update.Touches(attr) {
			return errors.NewValidationError(attr, "reserved attribute cannot be updated")
		}
	}
	return nil
}
