/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package collection

import (
	"context"
	"iter"

	"github.com/suparena/entityrepo/storagemodels"
)

// Reader is the read-only view of a collection.
type Reader[T storagemodels.Entity[K], K comparable] interface {
	GetMany(ctx context.Context, filter storagemodels.Filter, opts *storagemodels.Options) iter.Seq2[T, error]
	GetOne(ctx context.Context, id K) (*T, error)
	GetOneWhere(ctx context.Context, filter storagemodels.Filter, opt *storagemodels.OneOption) (*T, error)
	Count(ctx context.Context, filter storagemodels.Filter) (int64, error)
	GetPages(ctx context.Context, filter storagemodels.Filter, pageSize int, token string) (*storagemodels.ResultPage[T], error)
}

// Collection is the read-write view of a collection.
type Collection[T storagemodels.Entity[K], K comparable] interface {
	Reader[T, K]

	Add(ctx context.Context, entity T) (bool, error)
	AddOrReplace(ctx context.Context, entity T) (*storagemodels.EntityChangeResult[T], error)
	UpdateOne(ctx context.Context, id K, update storagemodels.Update) (*storagemodels.EntityChangeResult[T], error)
	UpdateOneWhere(ctx context.Context, filter storagemodels.Filter, update storagemodels.Update) (*storagemodels.EntityChangeResult[T], error)
	DeleteOne(ctx context.Context, id K) (*T, error)
	DeleteOneWhere(ctx context.Context, filter storagemodels.Filter) (*T, error)
	DeleteMany(ctx context.Context, filter storagemodels.Filter) (int, error)
	DropCollection(ctx context.Context) error
}
