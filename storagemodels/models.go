/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"reflect"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Reserved document attributes.
const (
	// IDAttribute holds the entity key in every stored document.
	IDAttribute = "id"
	// LockAttribute holds the lease of a locked entity.
	LockAttribute = "_lock"
	// EntityTypeAttribute is injected at persist time for polymorphic decoding.
	EntityTypeAttribute = "EntityType"
)

// Item is a stored document in its DynamoDB attribute form.
type Item = map[string]types.AttributeValue

// Entity is implemented by every type stored through a collection.
// The id field must be encoded under the "id" attribute (dynamodbav:"id").
type Entity[K comparable] interface {
	GetID() K
	// NeedsCleaning reports whether the stored shape is outdated and should be
	// rewritten through the collection's cleaner.
	NeedsCleaning() bool
}

// TimeSeriesEntity is an entity with an immutable timestamp.
type TimeSeriesEntity[K comparable] interface {
	Entity[K]
	GetTimestamp() time.Time
}

// DatabaseContext selects the configuration, database partition and collection a
// collection instance binds to. The zero value uses the defaults.
type DatabaseContext struct {
	ConfigurationName string
	CollectionName    string
	DatabasePart      string
}

// SortField orders results by a document attribute.
type SortField struct {
	Field      string
	Descending bool
}

// Options shapes a multi-result query.
type Options struct {
	Projection []string
	Sort       []SortField
	// Limit caps the number of items returned; 0 means no cap.
	Limit int
}

// OneOption shapes a single-result query.
type OneOption struct {
	Projection []string
	Sort       []SortField
}

// AsOptions converts a single-result option into a query option with limit 1.
func (o *OneOption) AsOptions() *Options {
	if o == nil {
		return &Options{Limit: 1}
	}
	return &Options{Projection: o.Projection, Sort: o.Sort, Limit: 1}
}

// EntityChangeResult is the before/after snapshot of a mutation.
type EntityChangeResult[T any] struct {
	// Before is nil when the mutation inserted a new document.
	Before   *T
	After    T
	Inserted bool
}

// ResultPage is one page of a paginated query. An empty Token marks the last page.
type ResultPage[T any] struct {
	Token string
	Items []T
}

// Lock is the lease stored inside a locked document.
type Lock struct {
	Holder     string `dynamodbav:"holder"`
	Key        string `dynamodbav:"key"`
	AcquiredAt int64  `dynamodbav:"acquiredAt"`
	ExpiresAt  int64  `dynamodbav:"expiresAt"`
}

// Expired reports whether the lease is free at the given time.
func (l Lock) Expired(now time.Time) bool {
	return now.UnixNano() >= l.ExpiresAt
}

// AcquiredTime returns AcquiredAt as a time.
func (l Lock) AcquiredTime() time.Time {
	return time.Unix(0, l.AcquiredAt)
}

// ExpiresTime returns ExpiresAt as a time.
func (l Lock) ExpiresTime() time.Time {
	return time.Unix(0, l.ExpiresAt)
}

// TypeName returns the bare name of T, used as the default collection name.
func TypeName[T any]() string {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	name := typ.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}
