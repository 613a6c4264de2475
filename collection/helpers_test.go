/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package collection_test

import (
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entityrepo/collection"
	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore/mock"
	sm "github.com/suparena/entityrepo/storagemodels"
	"github.com/suparena/entityrepo/telemetry"
)

type User struct {
	ID     string `dynamodbav:"id"`
	Name   string `dynamodbav:"name"`
	Status string `dynamodbav:"status"`
	Score  int    `dynamodbav:"score"`
}

func (u User) GetID() string       { return u.ID }
func (u User) NeedsCleaning() bool { return false }

const testTable = "test.users"

func testSettings() config.Settings {
	return config.Settings{Configuration: "default", Database: "test", Collection: "users"}
}

func quietShared() *collection.Shared {
	return collection.NewShared(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fixture struct {
	store  *mock.DataStore
	shared *collection.Shared
	events *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  mock.New(),
		shared: quietShared(),
		events: &eventLog{},
	}
	t.Cleanup(f.shared.Monitor.Subscribe(f.events.record))
	return f
}

func (f *fixture) disk(settings config.Settings, opts ...collection.DiskOption[User]) *collection.Disk[User, string] {
	return collection.NewDisk[User, string](f.shared, f.store, settings, opts...)
}

func (f *fixture) seed(t *testing.T, users ...User) {
	t.Helper()
	for _, u := range users {
		item, err := attributevalue.MarshalMap(u)
		require.NoError(t, err)
		require.NoError(t, f.store.Seed(testTable, item))
	}
}

func (f *fixture) seedItem(t *testing.T, item sm.Item) {
	t.Helper()
	require.NoError(t, f.store.Seed(testTable, item))
}

func (f *fixture) stored(t *testing.T, id string) sm.Item {
	t.Helper()
	for _, item := range f.store.Items(testTable) {
		var u User
		require.NoError(t, attributevalue.UnmarshalMap(item, &u))
		if u.ID == id {
			return item
		}
	}
	return nil
}

// lockHolder returns the holder of the lease stored on id, or "".
func (f *fixture) lockHolder(t *testing.T, id string) string {
	t.Helper()
	av, ok := f.stored(t, id)[sm.LockAttribute]
	if !ok {
		return ""
	}
	var lock sm.Lock
	require.NoError(t, attributevalue.Unmarshal(av, &lock))
	return lock.Holder
}

func users(n int) []User {
	out := make([]User, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, User{
			ID:     fmt.Sprintf("u%02d", i),
			Name:   fmt.Sprintf("user %d", i),
			Status: map[bool]string{true: "active", false: "inactive"}[i%2 == 1],
			Score:  i * 10,
		})
	}
	return out
}

func collect[T any](t *testing.T, seq iter.Seq2[T, error]) []T {
	t.Helper()
	var out []T
	for v, err := range seq {
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func ids(list []User) []string {
	out := make([]string, 0, len(list))
	for _, u := range list {
		out = append(out, u.ID)
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []telemetry.ActionEvent
}

func (l *eventLog) record(e telemetry.ActionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) last(op string) (telemetry.ActionEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Action.Operation == op {
			return l.events[i], true
		}
	}
	return telemetry.ActionEvent{}, false
}

func (l *eventLog) count(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Action.Operation == op {
			n++
		}
	}
	return n
}

func (l *eventLog) failures(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Action.Operation == op && e.Failed() {
			n++
		}
	}
	return n
}
