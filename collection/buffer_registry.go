/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package collection

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/suparena/entityrepo/storagemodels"
)

// entry is a cached entity together with its encoded document, which filters
// and sort orders are evaluated against.
type entry[T any] struct {
	entity T
	item   storagemodels.Item
}

// cache is the shared state behind every Buffer of one entity type and table.
// The snapshot is replaced, never mutated, and only while mu is held.
type cache[T storagemodels.Entity[K], K comparable] struct {
	mu           sync.Mutex
	snapshot     atomic.Pointer[map[K]entry[T]]
	disconnected atomic.Bool
}

func (c *cache[T, K]) loaded() (map[K]entry[T], bool) {
	snap := c.snapshot.Load()
	if snap == nil {
		return nil, false
	}
	return *snap, true
}

// modify applies fn to a copy of the snapshot and publishes it. Callers hold mu.
// Nothing happens while no snapshot is loaded; the next load reads the store.
func (c *cache[T, K]) modify(fn func(m map[K]entry[T])) {
	current, ok := c.loaded()
	if !ok {
		return
	}
	next := make(map[K]entry[T], len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	fn(next)
	c.snapshot.Store(&next)
}

type bufferKey struct {
	typ    reflect.Type
	server string
	table  string
}

func (k bufferKey) String() string {
	return fmt.Sprintf("%s@%s/%s", k.typ, k.server, k.table)
}

// Buffers holds the caches of all buffered collections in a process. Every
// Buffer over the same entity type, server and table shares one cache.
type Buffers struct {
	mu     sync.RWMutex
	caches map[bufferKey]any
}

// NewBuffers creates an empty buffer registry.
func NewBuffers() *Buffers {
	return &Buffers{
		caches: make(map[bufferKey]any),
	}
}

// cacheFor returns the cache for T in table on server, creating it if necessary.
func cacheFor[T storagemodels.Entity[K], K comparable](b *Buffers, server, table string) *cache[T, K] {
	key := bufferKey{typ: reflect.TypeOf((*T)(nil)).Elem(), server: server, table: table}

	b.mu.RLock()
	c, exists := b.caches[key]
	b.mu.RUnlock()
	if exists {
		return c.(*cache[T, K])
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, exists := b.caches[key]; exists {
		return c.(*cache[T, K])
	}
	created := &cache[T, K]{}
	b.caches[key] = created
	return created
}

// List returns the registered caches as "type@server/table", sorted.
func (b *Buffers) List() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.caches))
	for k := range b.caches {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return keys
}
