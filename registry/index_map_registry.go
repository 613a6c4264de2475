/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"reflect"
	"sync"
)

// IndexSpec declares one secondary index of a collection.
type IndexSpec struct {
	Name         string
	PartitionKey string
	SortKey      string
	// KeyType is the scalar type of the partition key: "S" (default), "N" or "B".
	KeyType string
	// SortKeyType is the scalar type of the sort key, "S" by default.
	SortKeyType string
}

// Equal compares two specs, treating empty key types as "S".
func (s IndexSpec) Equal(o IndexSpec) bool {
	return s.Name == o.Name &&
		s.PartitionKey == o.PartitionKey &&
		s.SortKey == o.SortKey &&
		s.keyType() == o.keyType() &&
		(s.SortKey == "" || s.sortKeyType() == o.sortKeyType())
}

func (s IndexSpec) keyType() string {
	if s.KeyType == "" {
		return "S"
	}
	return s.KeyType
}

func (s IndexSpec) sortKeyType() string {
	if s.SortKeyType == "" {
		return "S"
	}
	return s.SortKeyType
}

// Indexes associates Go entity types with their declared index sets.
type Indexes struct {
	mu    sync.RWMutex
	specs map[reflect.Type][]IndexSpec
}

// NewIndexes creates an empty index registry.
func NewIndexes() *Indexes {
	return &Indexes{specs: make(map[reflect.Type][]IndexSpec)}
}

// RegisterIndexes replaces the declared index set of type T.
func RegisterIndexes[T any](r *Indexes, specs ...IndexSpec) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[t] = append([]IndexSpec(nil), specs...)
}

// IndexesFor retrieves the declared index set of type T, if any.
func IndexesFor[T any](r *Indexes) ([]IndexSpec, bool) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	r.mu.RLock()
	defer r.mu.RUnlock()
	specs, ok := r.specs[t]
	return specs, ok
}
