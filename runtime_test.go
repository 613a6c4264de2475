/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/suparena/entityrepo"
	"github.com/suparena/entityrepo/collection"
	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/datastore/mock"
	"github.com/suparena/entityrepo/datastore/testmodels"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	sm "github.com/suparena/entityrepo/storagemodels"
	"github.com/suparena/entityrepo/telemetry"
)

type Player struct {
	ID     string `dynamodbav:"id"`
	Name   string `dynamodbav:"name"`
	Rating int    `dynamodbav:"rating"`
}

func (p Player) GetID() string       { return p.ID }
func (p Player) NeedsCleaning() bool { return false }

const testConfig = `
default: main
configurations:
  main:
    region: us-west-2
    database: league_{part}
    resultLimit: 100
    collections:
      Player:
        autoClean: true
      RatingSystem:
        autoClean: true
  archive:
    endpoint: http://localhost:8000
    region: us-west-2
    database: archive
`

func newRuntime(t *testing.T, opts ...entityrepo.Option) (*entityrepo.Runtime, *mock.DataStore) {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	store := mock.New()
	opts = append([]entityrepo.Option{
		entityrepo.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entityrepo.WithDriver("main", store),
	}, opts...)
	rt, err := entityrepo.NewRuntime(cfg, opts...)
	require.NoError(t, err)
	return rt, store
}

func TestNewRuntime(t *testing.T) {
	_, err := entityrepo.NewRuntime(nil)
	assert.Error(t, err)

	_, err = entityrepo.NewRuntime(&config.Config{Default: "missing"})
	assert.True(t, errors.IsValidationError(err))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("ResolvesTable", func(t *testing.T) {
		rt, _ := newRuntime(t)

		repo, err := entityrepo.Open[Player, string](ctx, rt, sm.DatabaseContext{DatabasePart: "eu"})
		require.NoError(t, err)
		assert.Equal(t, "league_eu.Player", repo.Table())
		assert.True(t, repo.Disk().Settings().AutoClean)
		assert.Equal(t, 100, repo.Disk().Settings().ResultLimit)

		repo, err = entityrepo.Open[Player, string](ctx, rt, sm.DatabaseContext{CollectionName: "players"})
		require.NoError(t, err)
		assert.Equal(t, "league.players", repo.Table())
	})

	t.Run("UnknownConfiguration", func(t *testing.T) {
		rt, _ := newRuntime(t)

		_, err := entityrepo.Open[Player, string](ctx, rt, sm.DatabaseContext{ConfigurationName: "nope"})
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("Unbuffered", func(t *testing.T) {
		rt, store := newRuntime(t)
		repo, err := entityrepo.Open[Player, string](ctx, rt, sm.DatabaseContext{})
		require.NoError(t, err)
		assert.False(t, repo.Buffered())
		assert.Nil(t, repo.Buffer())
		repo.InvalidateBuffer()

		added, err := repo.Add(ctx, Player{ID: "p1", Name: "Ada"})
		require.NoError(t, err)
		assert.True(t, added)

		for i := 0; i < 3; i++ {
			got, err := repo.GetOne(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, "Ada", got.Name)
		}
		assert.Equal(t, int64(3), store.GetCalls())
	})

	t.Run("Buffered", func(t *testing.T) {
		rt, store := newRuntime(t)
		repo, err := entityrepo.Open[Player, string](ctx, rt, sm.DatabaseContext{}, entityrepo.Buffered[Player]())
		require.NoError(t, err)
		require.True(t, repo.Buffered())

		_, err = repo.Add(ctx, Player{ID: "p1", Name: "Ada"})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			got, err := repo.GetOne(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, "Ada", got.Name)
		}
		assert.Equal(t, int64(1), store.FindCalls())
		assert.Zero(t, store.GetCalls())

		repo.InvalidateBuffer()
		assert.False(t, repo.Buffer().Loaded())
	})

	t.Run("LeaseCommitRefreshesBuffer", func(t *testing.T) {
		rt, _ := newRuntime(t)
		repo, err := entityrepo.Open[Player, string](ctx, rt, sm.DatabaseContext{}, entityrepo.Buffered[Player]())
		require.NoError(t, err)
		_, err = repo.Add(ctx, Player{ID: "p1", Rating: 1000})
		require.NoError(t, err)

		scope, err := repo.GetForUpdate(ctx, "p1", collection.WithActor("rater"))
		require.NoError(t, err)
		require.NotNil(t, scope)
		p := scope.Entity()
		p.Rating += 25
		require.NoError(t, scope.Commit(ctx, p))

		got, err := repo.GetOne(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 1025, got.Rating)
	})

	t.Run("ReadOnlyView", func(t *testing.T) {
		rt, store := newRuntime(t)
		repo, err := entityrepo.Open[Player, string](ctx, rt, sm.DatabaseContext{})
		require.NoError(t, err)
		_, err = repo.Add(ctx, Player{ID: "p1"})
		require.NoError(t, err)

		reader, err := entityrepo.OpenReader[Player, string](ctx, rt, sm.DatabaseContext{}, true)
		require.NoError(t, err)
		n, err := reader.Count(ctx, sm.Filter{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, int64(1), store.FindCalls())
	})

	t.Run("EventsReachMonitor", func(t *testing.T) {
		rt, _ := newRuntime(t)
		var seen atomic.Int32
		unsubscribe := rt.Monitor().Subscribe(func(e telemetry.ActionEvent) {
			if e.Context.Collection == "Player" && e.Context.Database == "league" {
				seen.Add(1)
			}
		})
		defer unsubscribe()

		repo, err := entityrepo.Open[Player, string](ctx, rt, sm.DatabaseContext{})
		require.NoError(t, err)
		_, err = repo.Count(ctx, sm.Filter{})
		require.NoError(t, err)
		assert.Equal(t, int32(1), seen.Load())
	})
}

func TestRuntimeDrivers(t *testing.T) {
	ctx := context.Background()

	t.Run("FactoryRunsOncePerConfiguration", func(t *testing.T) {
		var built atomic.Int32
		archive := mock.New().WithServer("archive")
		rt, _ := newRuntime(t, entityrepo.WithDriverFactory(func(_ context.Context, name string, db config.DatabaseConfig) (datastore.Driver, error) {
			built.Add(1)
			assert.Equal(t, "archive", name)
			assert.Equal(t, "http://localhost:8000", db.Endpoint)
			return archive, nil
		}))

		var g errgroup.Group
		for i := 0; i < 10; i++ {
			g.Go(func() error {
				d, err := rt.Driver(ctx, "archive")
				if err == nil && d != archive {
					t.Error("unexpected driver")
				}
				return err
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), built.Load())
		assert.Equal(t, []string{"archive", "main"}, rt.Drivers())
	})

	t.Run("RegisterDriver", func(t *testing.T) {
		rt, _ := newRuntime(t)
		assert.Error(t, rt.RegisterDriver("main", mock.New()))
		require.NoError(t, rt.RegisterDriver("archive", mock.New()))

		_, err := rt.Driver(ctx, "unknown")
		assert.Error(t, err)
	})

	t.Run("RuntimesAreIndependent", func(t *testing.T) {
		first, _ := newRuntime(t)
		second, _ := newRuntime(t)
		assert.NotSame(t, first.Shared(), second.Shared())
		assert.NotSame(t, first.Shared().Buffers, second.Shared().Buffers)
	})
}

func TestVersionInfo(t *testing.T) {
	info := entityrepo.GetVersionInfo()
	assert.Equal(t, entityrepo.Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.AWSSDK)
	assert.Contains(t, info.String(), info.Version)
}

func TestRatingSystemRepository(t *testing.T) {
	ctx := context.Background()
	rt, store := newRuntime(t)
	registry.RegisterIndexes[testmodels.RatingSystem](rt.Shared().Indexes, testmodels.RatingSystemIndexes...)

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	old, err := attributevalue.MarshalMap(testmodels.RatingSystem{ID: "elo", Name: "Elo", CreatedAt: created, Schema: 1})
	require.NoError(t, err)
	require.NoError(t, store.Seed("league.RatingSystem", old))

	repo, err := entityrepo.Open[testmodels.RatingSystem, string](ctx, rt, sm.DatabaseContext{},
		entityrepo.WithDiskOptions(collection.WithCleaner(testmodels.UpgradeRatingSystem)))
	require.NoError(t, err)

	got, err := repo.GetOne(ctx, "elo")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testmodels.RatingSystemSchema, got.Schema)
	assert.Equal(t, "Elo", got.Description)
	assert.True(t, created.Equal(got.GetTimestamp()))

	var stored testmodels.RatingSystem
	require.NoError(t, attributevalue.UnmarshalMap(store.Items("league.RatingSystem")[0], &stored))
	assert.Equal(t, testmodels.RatingSystemSchema, stored.Schema)

	specs, err := store.ListIndexes(ctx, "league.RatingSystem")
	require.NoError(t, err)
	assert.Len(t, specs, len(testmodels.RatingSystemIndexes))
}
