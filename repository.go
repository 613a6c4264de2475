/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"context"

	"github.com/suparena/entityrepo/collection"
	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/storagemodels"
)

// RepositoryOption configures Open.
type RepositoryOption[T any] func(*repositoryOptions[T])

type repositoryOptions[T any] struct {
	buffered bool
	diskOpts []collection.DiskOption[T]
}

// Buffered serves the repository's reads from the process-wide buffer.
func Buffered[T any]() RepositoryOption[T] {
	return func(o *repositoryOptions[T]) {
		o.buffered = true
	}
}

// WithDiskOptions passes options to the underlying Disk collection.
func WithDiskOptions[T any](opts ...collection.DiskOption[T]) RepositoryOption[T] {
	return func(o *repositoryOptions[T]) {
		o.diskOpts = append(o.diskOpts, opts...)
	}
}

// Repository is the typed entry point to one collection. Reads and writes go
// through the buffer when the repository is buffered and straight to the
// store otherwise; leases always go to the store.
type Repository[T storagemodels.Entity[K], K comparable] struct {
	collection.Collection[T, K]

	disk   *collection.Disk[T, K]
	buffer *collection.Buffer[T, K]
	locks  *collection.Lockable[T, K]
}

// Open binds a repository for T to the collection dc selects.
func Open[T storagemodels.Entity[K], K comparable](ctx context.Context, rt *Runtime, dc storagemodels.DatabaseContext, opts ...RepositoryOption[T]) (*Repository[T, K], error) {
	var o repositoryOptions[T]
	for _, opt := range opts {
		opt(&o)
	}

	disk, err := OpenDisk[T, K](ctx, rt, dc, o.diskOpts...)
	if err != nil {
		return nil, err
	}

	r := &Repository[T, K]{disk: disk, Collection: disk}
	var hooks []collection.LockableOption[T, K]
	if o.buffered {
		r.buffer = collection.NewBuffer(disk)
		r.Collection = r.buffer
		hooks = append(hooks, collection.WithCommitHook[T, K](r.buffer.Refresh))
	}
	r.locks = collection.NewLockable(disk, hooks...)
	return r, nil
}

// OpenDisk creates a Disk collection for T bound through dc.
func OpenDisk[T storagemodels.Entity[K], K comparable](ctx context.Context, rt *Runtime, dc storagemodels.DatabaseContext, opts ...collection.DiskOption[T]) (*collection.Disk[T, K], error) {
	settings, driver, err := bind[T](ctx, rt, dc)
	if err != nil {
		return nil, err
	}
	return collection.NewDisk[T, K](rt.shared, driver, settings, opts...), nil
}

// OpenReader creates a read-only view of the collection for T, buffered or not.
func OpenReader[T storagemodels.Entity[K], K comparable](ctx context.Context, rt *Runtime, dc storagemodels.DatabaseContext, buffered bool, opts ...collection.DiskOption[T]) (collection.Reader[T, K], error) {
	settings, driver, err := bind[T](ctx, rt, dc)
	if err != nil {
		return nil, err
	}
	reader := collection.NewDiskReader[T, K](rt.shared, driver, settings, opts...)
	if buffered {
		return collection.NewBufferReader(reader.(*collection.Disk[T, K])), nil
	}
	return reader, nil
}

func bind[T any](ctx context.Context, rt *Runtime, dc storagemodels.DatabaseContext) (config.Settings, datastore.Driver, error) {
	settings, err := rt.cfg.Resolve(dc, storagemodels.TypeName[T]())
	if err != nil {
		return config.Settings{}, nil, err
	}
	driver, err := rt.Driver(ctx, settings.Configuration)
	if err != nil {
		return config.Settings{}, nil, err
	}
	return settings, driver, nil
}

// Disk returns the store-backed collection.
func (r *Repository[T, K]) Disk() *collection.Disk[T, K] {
	return r.disk
}

// Buffer returns the buffer, or nil when the repository is not buffered.
func (r *Repository[T, K]) Buffer() *collection.Buffer[T, K] {
	return r.buffer
}

// Buffered reports whether reads are served from memory.
func (r *Repository[T, K]) Buffered() bool {
	return r.buffer != nil
}

// Table is the physical table name.
func (r *Repository[T, K]) Table() string {
	return r.disk.Table()
}

// InvalidateBuffer drops the buffered snapshot. It does nothing for
// unbuffered repositories.
func (r *Repository[T, K]) InvalidateBuffer() {
	if r.buffer != nil {
		r.buffer.InvalidateBuffer()
	}
}

// GetForUpdate leases the entity with the given id. Commits through the
// returned scope also update the buffer.
func (r *Repository[T, K]) GetForUpdate(ctx context.Context, id K, opts ...collection.LockOption) (*collection.Scope[T, K], error) {
	return r.locks.GetForUpdate(ctx, id, opts...)
}
