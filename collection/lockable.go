/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package collection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/storagemodels"
)

const (
	// DefaultLockTimeout is how long a lease lasts unless WithTimeout says otherwise.
	DefaultLockTimeout = 30 * time.Second

	lockRetryStart = 50 * time.Millisecond
	lockRetryMax   = time.Second
)

// LockOption configures a single GetForUpdate call.
type LockOption func(*lockOptions)

type lockOptions struct {
	timeout time.Duration
	actor   string
	wait    time.Duration
}

// WithTimeout sets the lease duration.
func WithTimeout(d time.Duration) LockOption {
	return func(o *lockOptions) {
		o.timeout = d
	}
}

// WithActor names the lease holder. Defaults to a random id.
func WithActor(actor string) LockOption {
	return func(o *lockOptions) {
		o.actor = actor
	}
}

// WithWait keeps retrying a held lease for up to d before giving up.
func WithWait(d time.Duration) LockOption {
	return func(o *lockOptions) {
		o.wait = d
	}
}

// Lockable hands out exclusive, time-bounded leases on single entities of a
// Disk collection.
type Lockable[T storagemodels.Entity[K], K comparable] struct {
	base
	disk     *Disk[T, K]
	onCommit []func(T)
}

// LockableOption configures a Lockable collection.
type LockableOption[T storagemodels.Entity[K], K comparable] func(*Lockable[T, K])

// WithCommitHook registers fn to run after every successful commit.
func WithCommitHook[T storagemodels.Entity[K], K comparable](fn func(T)) LockableOption[T, K] {
	return func(l *Lockable[T, K]) {
		l.onCommit = append(l.onCommit, fn)
	}
}

// NewLockable creates a lockable collection over disk.
func NewLockable[T storagemodels.Entity[K], K comparable](disk *Disk[T, K], opts ...LockableOption[T, K]) *Lockable[T, K] {
	l := &Lockable[T, K]{
		base: base{
			shared:   disk.shared,
			logger:   disk.logger,
			describe: disk.describe,
			prepare:  disk.prepare,
		},
		disk: disk,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetForUpdate leases the entity with the given id. It returns a nil scope
// when the entity does not exist and a LockConflictError when someone else
// holds an unexpired lease, including the same actor.
func (l *Lockable[T, K]) GetForUpdate(ctx context.Context, id K, opts ...LockOption) (*Scope[T, K], error) {
	o := lockOptions{timeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.actor == "" {
		o.actor = uuid.NewString()
	}

	return execute(ctx, &l.base, "GetForUpdate", true, func(ctx context.Context, a *action) (*Scope[T, K], error) {
		if o.timeout <= 0 {
			return nil, errors.NewValidationError("timeout", "must be positive")
		}
		if err := l.disk.writable(); err != nil {
			return nil, err
		}
		key, err := l.disk.codec.key(id)
		if err != nil {
			return nil, err
		}
		a.set("actor", o.actor)

		deadline := time.Now().Add(o.wait)
		backoff := lockRetryStart
		for attempt := 1; ; attempt++ {
			scope, err := l.acquire(ctx, key, o)
			if err == nil || !errors.IsLockConflict(err) {
				if scope != nil {
					a.add(1)
					a.set("attempts", attempt)
				}
				return scope, err
			}

			remaining := time.Until(deadline)
			if remaining <= 0 {
				a.set("attempts", attempt)
				return nil, err
			}
			select {
			case <-ctx.Done():
				a.set("attempts", attempt)
				return nil, ctx.Err()
			case <-time.After(min(backoff, remaining)):
			}
			backoff = min(backoff*2, lockRetryMax)
		}
	})
}

// acquire makes one attempt at taking the lease.
func (l *Lockable[T, K]) acquire(ctx context.Context, key storagemodels.Item, o lockOptions) (*Scope[T, K], error) {
	for {
		now := time.Now()
		lock := storagemodels.Lock{
			Holder:     o.actor,
			Key:        uuid.NewString(),
			AcquiredAt: now.UnixNano(),
			ExpiresAt:  now.Add(o.timeout).UnixNano(),
		}
		cond := storagemodels.And(storagemodels.Exists(storagemodels.IDAttribute), unlocked(now))

		old, err := l.disk.driver.Update(ctx, l.disk.Table(), key, storagemodels.Set(storagemodels.LockAttribute, lock), cond)
		if err == nil {
			entity, err := l.disk.codec.decode(old)
			if err != nil {
				_ = l.releaseKey(ctx, key, lock.Key)
				return nil, err
			}
			l.logger.DebugContext(ctx, "Lease acquired", "id", keyString(key), "holder", lock.Holder)
			return &Scope[T, K]{lockable: l, key: key, entity: entity, lock: lock}, nil
		}
		if !errors.IsConditionFailed(err) {
			return nil, err
		}

		current, err := l.disk.driver.Get(ctx, l.disk.Table(), key)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, nil
		}
		if held, ok := lockOf(current); ok && !held.Expired(time.Now()) {
			return nil, errors.NewLockConflictError(l.disk.Table(), keyString(key), held.Holder, held.ExpiresTime())
		}
		// The lease expired between the attempt and the read.
	}
}

// releaseKey clears the lease with the given key. A lease that changed hands
// is left alone.
func (l *Lockable[T, K]) releaseKey(ctx context.Context, key storagemodels.Item, leaseKey string) error {
	_, err := l.disk.driver.Update(ctx, l.disk.Table(), key, storagemodels.Remove(storagemodels.LockAttribute), heldBy(leaseKey))
	if errors.IsConditionFailed(err) {
		l.logger.WarnContext(ctx, "Lease was taken over before release", "id", keyString(key))
		return nil
	}
	return err
}

func heldBy(leaseKey string) storagemodels.Filter {
	return storagemodels.Eq(storagemodels.LockAttribute+".key", leaseKey)
}

// Scope is a held lease on one entity. It completes exactly once, through
// Commit or Release.
type Scope[T storagemodels.Entity[K], K comparable] struct {
	lockable *Lockable[T, K]
	key      storagemodels.Item
	entity   T
	lock     storagemodels.Lock

	mu     sync.Mutex
	closed bool
}

// Entity returns the entity as it was when the lease was taken.
func (s *Scope[T, K]) Entity() T {
	return s.entity
}

// Lock returns the lease.
func (s *Scope[T, K]) Lock() storagemodels.Lock {
	return s.lock
}

// close marks the scope completed. The returned reopen undoes it so a
// transient failure can be retried.
func (s *Scope[T, K]) close() (reopen func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.ErrScopeClosed
	}
	s.closed = true
	return func() {
		s.mu.Lock()
		s.closed = false
		s.mu.Unlock()
	}, nil
}

// Commit stores entity and clears the lease in one write. It fails with a
// LockConflictError when the lease was taken over.
func (s *Scope[T, K]) Commit(ctx context.Context, entity T) error {
	reopen, err := s.close()
	if err != nil {
		return err
	}
	l := s.lockable

	_, err = execute(ctx, &l.base, "Commit", false, func(ctx context.Context, a *action) (struct{}, error) {
		if entity.GetID() != s.entity.GetID() {
			return struct{}{}, errors.NewValidationError(storagemodels.IDAttribute, "commit must keep the leased id")
		}
		item, err := l.disk.codec.encode(entity)
		if err != nil {
			return struct{}{}, err
		}
		if _, err := l.disk.driver.Put(ctx, l.disk.Table(), item, heldBy(s.lock.Key)); err != nil {
			if errors.IsConditionFailed(err) {
				return struct{}{}, s.takenOver(ctx)
			}
			return struct{}{}, err
		}
		a.add(1)
		return struct{}{}, nil
	})
	if err != nil {
		if !errors.IsLockConflict(err) {
			reopen()
		}
		return err
	}

	for _, fn := range l.onCommit {
		fn(entity)
	}
	return nil
}

// Release clears the lease without changing the entity. Releasing a lease
// that was taken over is a no-op.
func (s *Scope[T, K]) Release(ctx context.Context) error {
	reopen, err := s.close()
	if err != nil {
		return err
	}
	l := s.lockable

	_, err = execute(ctx, &l.base, "Release", false, func(ctx context.Context, _ *action) (struct{}, error) {
		return struct{}{}, l.releaseKey(ctx, s.key, s.lock.Key)
	})
	if err != nil {
		reopen()
	}
	return err
}

// takenOver describes who holds the lease now.
func (s *Scope[T, K]) takenOver(ctx context.Context) error {
	l := s.lockable
	holder, expires := "", time.Time{}
	current, err := l.disk.driver.Get(ctx, l.disk.Table(), s.key)
	if err != nil {
		return err
	}
	if held, ok := lockOf(current); ok {
		holder, expires = held.Holder, held.ExpiresTime()
	}
	return errors.NewLockConflictError(l.disk.Table(), keyString(s.key), holder, expires)
}
