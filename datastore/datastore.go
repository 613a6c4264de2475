/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"context"
	"iter"

	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
)

// IdentityIndex is the name under which drivers report the primary key index.
// Index reconciliation never drops it.
const IdentityIndex = "_id_"

// FindQuery describes a read against one collection.
type FindQuery struct {
	Filter     storagemodels.Filter
	Projection []string
	Sort       []storagemodels.SortField
	// Limit stops the read after this many matching items; 0 means no limit.
	Limit int
	// StartAfter resumes a read after the item with this key.
	StartAfter storagemodels.Item
}

// Driver is the document store boundary. Documents carry their key under
// storagemodels.IDAttribute. Reads of a missing collection return nothing;
// writes create the collection on demand.
//
// Conditional writes take a Filter evaluated against the current document
// (an absent document has no attributes) and fail with an error matching
// errors.ErrConditionFailed when it does not hold.
type Driver interface {
	// Server identifies the store endpoint.
	Server() string

	Get(ctx context.Context, collection string, key storagemodels.Item) (storagemodels.Item, error)
	Find(ctx context.Context, collection string, q FindQuery) iter.Seq2[storagemodels.Item, error]
	Count(ctx context.Context, collection string, filter storagemodels.Filter) (int64, error)

	// Put writes a whole document and returns the previous one, if any.
	Put(ctx context.Context, collection string, item storagemodels.Item, cond storagemodels.Filter) (storagemodels.Item, error)
	// Update changes a document in place and returns the previous one.
	Update(ctx context.Context, collection string, key storagemodels.Item, update storagemodels.Update, cond storagemodels.Filter) (storagemodels.Item, error)
	// Delete removes a document and returns it; nil when nothing was removed.
	Delete(ctx context.Context, collection string, key storagemodels.Item, cond storagemodels.Filter) (storagemodels.Item, error)

	CollectionExists(ctx context.Context, collection string) (bool, error)
	DropCollection(ctx context.Context, collection string) error

	ListIndexes(ctx context.Context, collection string) ([]registry.IndexSpec, error)
	CreateIndex(ctx context.Context, collection string, spec registry.IndexSpec) error
	DropIndex(ctx context.Context, collection string, name string) error
}

// KeyOf extracts the key part of a document.
func KeyOf(item storagemodels.Item) storagemodels.Item {
	return storagemodels.Item{storagemodels.IDAttribute: item[storagemodels.IDAttribute]}
}
