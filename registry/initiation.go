/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"sync"
)

// CollectionKey identifies one physical collection.
type CollectionKey struct {
	Server     string
	Database   string
	Collection string
}

// Initiation decides, once per process, which caller performs the first-time
// setup of a collection. It is created once at startup and shared by reference.
type Initiation struct {
	mu        sync.Mutex
	initiated map[CollectionKey]struct{}
	indexed   map[CollectionKey]struct{}
}

// NewInitiation creates an empty registry.
func NewInitiation() *Initiation {
	return &Initiation{
		initiated: make(map[CollectionKey]struct{}),
		indexed:   make(map[CollectionKey]struct{}),
	}
}

// ShouldInitiate returns true to exactly one caller per collection; every other
// caller, concurrent or later, gets false.
func (r *Initiation) ShouldInitiate(server, database, collection string) bool {
	return r.mark(r.initiated, CollectionKey{server, database, collection})
}

// ShouldInitiateIndex is ShouldInitiate for the index reconciliation step.
func (r *Initiation) ShouldInitiateIndex(server, database, collection string) bool {
	return r.mark(r.indexed, CollectionKey{server, database, collection})
}

// Forget unmarks a collection after a failed setup so a later call may retry.
func (r *Initiation) Forget(server, database, collection string) {
	r.unmark(r.initiated, CollectionKey{server, database, collection})
}

// ForgetIndex unmarks the index step after a failed reconciliation.
func (r *Initiation) ForgetIndex(server, database, collection string) {
	r.unmark(r.indexed, CollectionKey{server, database, collection})
}

// Initiated lists the collections whose setup has been claimed.
func (r *Initiation) Initiated() []CollectionKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]CollectionKey, 0, len(r.initiated))
	for k := range r.initiated {
		keys = append(keys, k)
	}
	return keys
}

func (r *Initiation) mark(set map[CollectionKey]struct{}, key CollectionKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := set[key]; exists {
		return false
	}
	set[key] = struct{}{}
	return true
}

func (r *Initiation) unmark(set map[CollectionKey]struct{}, key CollectionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(set, key)
}
