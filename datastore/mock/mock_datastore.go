/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package mock provides an in-memory implementation of datastore.Driver for testing
package mock

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
)

type collection struct {
	items   map[string]storagemodels.Item
	indexes []registry.IndexSpec
}

// DataStore is an in-memory datastore.Driver. It honours conditions, projections,
// sorting and limits the way the DynamoDB driver does, and counts calls so tests
// can assert how often the store was hit.
type DataStore struct {
	mu          sync.RWMutex
	server      string
	collections map[string]*collection

	findCalls  atomic.Int64
	countCalls atomic.Int64
	getCalls   atomic.Int64
	writeCalls atomic.Int64

	findDelay        time.Duration
	findError        error
	putError         error
	updateError      error
	deleteError      error
	createIndexError error
}

var _ datastore.Driver = (*DataStore)(nil)

// New creates a new in-memory store
func New() *DataStore {
	return &DataStore{
		server:      "memory",
		collections: make(map[string]*collection),
	}
}

// WithServer sets the name reported by Server
func (m *DataStore) WithServer(name string) *DataStore {
	m.server = name
	return m
}

// WithFindDelay makes every Find wait before reading, widening race windows in tests
func (m *DataStore) WithFindDelay(d time.Duration) *DataStore {
	m.findDelay = d
	return m
}

// WithFindError makes Find operations return an error
func (m *DataStore) WithFindError(err error) *DataStore {
	m.findError = err
	return m
}

// WithPutError makes Put operations return an error
func (m *DataStore) WithPutError(err error) *DataStore {
	m.putError = err
	return m
}

// WithUpdateError makes Update operations return an error
func (m *DataStore) WithUpdateError(err error) *DataStore {
	m.updateError = err
	return m
}

// WithDeleteError makes Delete operations return an error
func (m *DataStore) WithDeleteError(err error) *DataStore {
	m.deleteError = err
	return m
}

// WithCreateIndexError makes CreateIndex operations return an error
func (m *DataStore) WithCreateIndexError(err error) *DataStore {
	m.createIndexError = err
	return m
}

// Server returns the name set by WithServer, "memory" by default.
func (m *DataStore) Server() string {
	return m.server
}

// Get returns a copy of the document stored under key, or nil.
func (m *DataStore) Get(ctx context.Context, coll string, key storagemodels.Item) (storagemodels.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.getCalls.Add(1)

	k, err := canonicalKey(key)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[coll]
	if !ok {
		return nil, nil
	}
	return storagemodels.CloneItem(c.items[k]), nil
}

// Find yields matching documents in key order unless q sorts them. Each
// iteration counts as one find call.
func (m *DataStore) Find(ctx context.Context, coll string, q datastore.FindQuery) iter.Seq2[storagemodels.Item, error] {
	return func(yield func(storagemodels.Item, error) bool) {
		m.findCalls.Add(1)

		if m.findDelay > 0 {
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-time.After(m.findDelay):
			}
		}
		if m.findError != nil {
			yield(nil, m.findError)
			return
		}

		matched, err := m.snapshot(coll, q.Filter, q.StartAfter)
		if err != nil {
			yield(nil, err)
			return
		}
		storagemodels.SortItems(matched, q.Sort)
		if q.Limit > 0 && len(matched) > q.Limit {
			matched = matched[:q.Limit]
		}

		for _, item := range matched {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(storagemodels.Project(item, q.Projection), nil) {
				return
			}
		}
	}
}

// snapshot returns the matching items of a collection in key order.
func (m *DataStore) snapshot(coll string, filter storagemodels.Filter, startAfter storagemodels.Item) ([]storagemodels.Item, error) {
	var after string
	if startAfter != nil {
		k, err := canonicalKey(startAfter)
		if err != nil {
			return nil, err
		}
		after = k
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[coll]
	if !ok {
		return nil, nil
	}

	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		if after == "" || k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	matched := make([]storagemodels.Item, 0, len(keys))
	for _, k := range keys {
		ok, err := filter.Match(c.items[k])
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, storagemodels.CloneItem(c.items[k]))
		}
	}
	return matched, nil
}

// Count returns the number of documents matching filter.
func (m *DataStore) Count(ctx context.Context, coll string, filter storagemodels.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.countCalls.Add(1)

	matched, err := m.snapshot(coll, filter, nil)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Put stores item when cond holds for the current document and returns the
// document it replaced.
func (m *DataStore) Put(ctx context.Context, coll string, item storagemodels.Item, cond storagemodels.Filter) (storagemodels.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.putError != nil {
		return nil, m.putError
	}
	m.writeCalls.Add(1)

	k, err := canonicalKey(item)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collectionLocked(coll)
	old := c.items[k]
	if err := checkCondition("put", cond, old); err != nil {
		return nil, err
	}
	c.items[k] = storagemodels.CloneItem(item)
	return old, nil
}

// Update applies update when cond holds, creating the document from key if
// it is missing. It returns the previous document.
func (m *DataStore) Update(ctx context.Context, coll string, key storagemodels.Item, update storagemodels.Update, cond storagemodels.Filter) (storagemodels.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.updateError != nil {
		return nil, m.updateError
	}
	m.writeCalls.Add(1)

	k, err := canonicalKey(key)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collectionLocked(coll)
	old := c.items[k]
	if err := checkCondition("update", cond, old); err != nil {
		return nil, err
	}
	updated, err := update.Apply(old)
	if err != nil {
		return nil, err
	}
	updated[storagemodels.IDAttribute] = key[storagemodels.IDAttribute]
	c.items[k] = updated
	return old, nil
}

// Delete removes the document under key when cond holds and returns it.
func (m *DataStore) Delete(ctx context.Context, coll string, key storagemodels.Item, cond storagemodels.Filter) (storagemodels.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.deleteError != nil {
		return nil, m.deleteError
	}
	m.writeCalls.Add(1)

	k, err := canonicalKey(key)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[coll]
	if !ok {
		return nil, checkCondition("delete", cond, nil)
	}
	old := c.items[k]
	if err := checkCondition("delete", cond, old); err != nil {
		return nil, err
	}
	delete(c.items, k)
	return old, nil
}

// CollectionExists reports whether coll has been written to since its last drop.
func (m *DataStore) CollectionExists(ctx context.Context, coll string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[coll]
	return ok, nil
}

// DropCollection forgets coll along with its documents and indexes.
func (m *DataStore) DropCollection(ctx context.Context, coll string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, coll)
	return nil
}

// ListIndexes returns the indexes created on coll, in creation order.
func (m *DataStore) ListIndexes(ctx context.Context, coll string) ([]registry.IndexSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[coll]
	if !ok {
		return nil, nil
	}
	return append([]registry.IndexSpec(nil), c.indexes...), nil
}

// CreateIndex records spec for coll. A second index with the same name is an
// AlreadyExistsError.
func (m *DataStore) CreateIndex(ctx context.Context, coll string, spec registry.IndexSpec) error {
	if m.createIndexError != nil {
		return m.createIndexError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collectionLocked(coll)
	for _, existing := range c.indexes {
		if existing.Name == spec.Name {
			return errors.NewAlreadyExistsError("index", spec.Name)
		}
	}
	c.indexes = append(c.indexes, spec)
	return nil
}

// DropIndex removes the named index, or fails with NotFoundError.
func (m *DataStore) DropIndex(ctx context.Context, coll string, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[coll]
	if !ok {
		return errors.NewNotFoundError("index", name)
	}
	for i, existing := range c.indexes {
		if existing.Name == name {
			c.indexes = append(c.indexes[:i], c.indexes[i+1:]...)
			return nil
		}
	}
	return errors.NewNotFoundError("index", name)
}

// Helper methods for testing

// Seed writes items directly, bypassing conditions and counters
func (m *DataStore) Seed(coll string, items ...storagemodels.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collectionLocked(coll)
	for _, item := range items {
		k, err := canonicalKey(item)
		if err != nil {
			return err
		}
		c.items[k] = storagemodels.CloneItem(item)
	}
	return nil
}

// Items returns the documents of a collection in key order
func (m *DataStore) Items(coll string) []storagemodels.Item {
	items, _ := m.snapshot(coll, storagemodels.Filter{}, nil)
	return items
}

// FindCalls returns the number of Find queries issued
func (m *DataStore) FindCalls() int64 { return m.findCalls.Load() }

// CountCalls returns the number of Count queries issued
func (m *DataStore) CountCalls() int64 { return m.countCalls.Load() }

// GetCalls returns the number of Get calls issued
func (m *DataStore) GetCalls() int64 { return m.getCalls.Load() }

// WriteCalls returns the number of Put, Update and Delete calls issued
func (m *DataStore) WriteCalls() int64 { return m.writeCalls.Load() }

// Clear removes all collections and resets counters
func (m *DataStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = make(map[string]*collection)
	m.findCalls.Store(0)
	m.countCalls.Store(0)
	m.getCalls.Store(0)
	m.writeCalls.Store(0)
}

func (m *DataStore) collectionLocked(coll string) *collection {
	c, ok := m.collections[coll]
	if !ok {
		c = &collection{items: make(map[string]storagemodels.Item)}
		m.collections[coll] = c
	}
	return c
}

func checkCondition(op string, cond storagemodels.Filter, current storagemodels.Item) error {
	if cond.IsZero() {
		return nil
	}
	if current == nil {
		current = storagemodels.Item{}
	}
	ok, err := cond.Match(current)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewConditionFailedError(op, cond.String())
	}
	return nil
}

// canonicalKey renders the id attribute of a document as a sortable map key.
func canonicalKey(item storagemodels.Item) (string, error) {
	switch v := item[storagemodels.IDAttribute].(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value, nil
	case *types.AttributeValueMemberN:
		return "N:" + v.Value, nil
	case *types.AttributeValueMemberB:
		return "B:" + base64.StdEncoding.EncodeToString(v.Value), nil
	case nil:
		return "", errors.NewValidationError(storagemodels.IDAttribute, "document has no id")
	default:
		return "", errors.NewValidationError(storagemodels.IDAttribute, fmt.Sprintf("unsupported key type %T", v))
	}
}
