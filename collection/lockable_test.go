/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package collection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entityrepo/collection"
	"github.com/suparena/entityrepo/errors"
	sm "github.com/suparena/entityrepo/storagemodels"
)

func TestLockable(t *testing.T) {
	ctx := context.Background()

	t.Run("CommitClearsLease", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		scope, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("worker-a"))
		require.NoError(t, err)
		require.NotNil(t, scope)
		assert.Equal(t, "worker-a", scope.Lock().Holder)
		assert.Equal(t, "user 1", scope.Entity().Name)
		assert.Contains(t, f.stored(t, "u01"), sm.LockAttribute)

		u := scope.Entity()
		u.Score = 77
		require.NoError(t, scope.Commit(ctx, u))

		stored := f.stored(t, "u01")
		assert.NotContains(t, stored, sm.LockAttribute)
		got, err := f.disk(testSettings()).GetOne(ctx, "u01")
		require.NoError(t, err)
		assert.Equal(t, 77, got.Score)

		assert.ErrorIs(t, scope.Commit(ctx, u), errors.ErrScopeClosed)
		assert.ErrorIs(t, scope.Release(ctx), errors.ErrScopeClosed)
	})

	t.Run("ReleaseKeepsEntity", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		scope, err := locks.GetForUpdate(ctx, "u01")
		require.NoError(t, err)
		require.NotEmpty(t, scope.Lock().Holder)
		require.NoError(t, scope.Release(ctx))

		stored := f.stored(t, "u01")
		assert.NotContains(t, stored, sm.LockAttribute)

		again, err := locks.GetForUpdate(ctx, "u01")
		require.NoError(t, err)
		require.NotNil(t, again)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("MissingEntity", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		scope, err := locks.GetForUpdate(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, scope)
		assert.Nil(t, f.stored(t, "nobody"))
	})

	t.Run("NotReentrant", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		scope, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("same"))
		require.NoError(t, err)
		defer scope.Release(ctx)

		_, err = locks.GetForUpdate(ctx, "u01", collection.WithActor("same"))
		assert.True(t, errors.IsLockConflict(err))
	})

	t.Run("ExpiryAndTakeover", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		a, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("a"), collection.WithTimeout(100*time.Millisecond))
		require.NoError(t, err)

		_, err = locks.GetForUpdate(ctx, "u01", collection.WithActor("b"))
		require.Error(t, err)
		assert.True(t, errors.IsLockConflict(err))
		var conflict *errors.LockConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "a", conflict.Holder)

		time.Sleep(150 * time.Millisecond)
		b, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("b"))
		require.NoError(t, err)
		require.NotNil(t, b)

		stale := a.Entity()
		stale.Name = "from a"
		err = a.Commit(ctx, stale)
		assert.True(t, errors.IsLockConflict(err))

		fresh := b.Entity()
		fresh.Name = "from b"
		require.NoError(t, b.Commit(ctx, fresh))

		got, err := f.disk(testSettings()).GetOne(ctx, "u01")
		require.NoError(t, err)
		assert.Equal(t, "from b", got.Name)
	})

	t.Run("ReleaseAfterTakeoverIsNoop", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		a, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("a"), collection.WithTimeout(50*time.Millisecond))
		require.NoError(t, err)
		time.Sleep(80 * time.Millisecond)
		b, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("b"))
		require.NoError(t, err)

		require.NoError(t, a.Release(ctx))

		_, err = locks.GetForUpdate(ctx, "u01", collection.WithActor("c"))
		assert.True(t, errors.IsLockConflict(err), "b still holds the lease")
		require.NoError(t, b.Release(ctx))
	})

	t.Run("WaitForRelease", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		a, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("a"))
		require.NoError(t, err)
		go func() {
			time.Sleep(100 * time.Millisecond)
			_ = a.Release(context.Background())
		}()

		b, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("b"), collection.WithWait(2*time.Second))
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, "b", b.Lock().Holder)
		require.NoError(t, b.Release(ctx))
	})

	t.Run("WaitGivesUp", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		a, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("a"))
		require.NoError(t, err)
		defer a.Release(ctx)

		start := time.Now()
		_, err = locks.GetForUpdate(ctx, "u01", collection.WithActor("b"), collection.WithWait(120*time.Millisecond))
		assert.True(t, errors.IsLockConflict(err))
		assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)

		event, ok := f.events.last("GetForUpdate")
		require.True(t, ok)
		assert.True(t, event.Failed())
	})

	t.Run("WaitAbortedByCancel", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		a, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("a"))
		require.NoError(t, err)
		defer a.Release(ctx)

		waitCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(80 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		_, err = locks.GetForUpdate(waitCtx, "u01", collection.WithActor("b"), collection.WithWait(5*time.Second))
		require.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), 2*time.Second)

		event, ok := f.events.last("GetForUpdate")
		require.True(t, ok)
		assert.ErrorIs(t, event.Action.Err, context.Canceled)
		assert.Equal(t, "a", f.lockHolder(t, "u01"))
	})

	t.Run("WaitAbortedByDeadline", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		a, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("a"))
		require.NoError(t, err)
		defer a.Release(ctx)

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		_, err = locks.GetForUpdate(waitCtx, "u01", collection.WithActor("b"), collection.WithWait(5*time.Second))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("InvalidTimeoutIsReported", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		scope, err := locks.GetForUpdate(ctx, "u01", collection.WithTimeout(0))
		assert.Nil(t, scope)
		assert.True(t, errors.IsValidationError(err))

		event, ok := f.events.last("GetForUpdate")
		require.True(t, ok)
		assert.True(t, errors.IsValidationError(event.Action.Err))
		assert.Empty(t, f.lockHolder(t, "u01"))
	})

	t.Run("CommitMustKeepID", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(2)...)
		locks := collection.NewLockable(f.disk(testSettings()))

		scope, err := locks.GetForUpdate(ctx, "u01")
		require.NoError(t, err)

		err = scope.Commit(ctx, User{ID: "u02"})
		assert.True(t, errors.IsValidationError(err))
		// The scope stays open after a rejected commit.
		require.NoError(t, scope.Release(ctx))
	})

	t.Run("CommitHookRefreshesBuffer", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		disk := f.disk(testSettings())
		buf := collection.NewBuffer(disk)
		locks := collection.NewLockable(disk, collection.WithCommitHook[User, string](buf.Refresh))

		_, err := buf.Count(ctx, sm.Filter{})
		require.NoError(t, err)

		scope, err := locks.GetForUpdate(ctx, "u01")
		require.NoError(t, err)
		u := scope.Entity()
		u.Name = "committed"
		require.NoError(t, scope.Commit(ctx, u))

		got, err := buf.GetOne(ctx, "u01")
		require.NoError(t, err)
		assert.Equal(t, "committed", got.Name)
		assert.Equal(t, int64(1), f.store.FindCalls())
	})

	t.Run("PlainWritesWaitForLease", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, users(1)...)
		disk := f.disk(testSettings())
		locks := collection.NewLockable(disk)

		scope, err := locks.GetForUpdate(ctx, "u01", collection.WithActor("a"))
		require.NoError(t, err)

		_, err = disk.UpdateOne(ctx, "u01", sm.Set("name", "sneaky"))
		assert.True(t, errors.IsLockConflict(err))

		require.NoError(t, scope.Release(ctx))
		res, err := disk.UpdateOne(ctx, "u01", sm.Set("name", "after"))
		require.NoError(t, err)
		assert.Equal(t, "after", res.After.Name)
	})
}
