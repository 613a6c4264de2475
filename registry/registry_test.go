/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldInitiateExactlyOnceUnderContention(t *testing.T) {
	reg := NewInitiation()

	const callers = 64
	var granted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if reg.ShouldInitiate("local", "app", "Orders") {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
	assert.False(t, reg.ShouldInitiate("local", "app", "Orders"))
}

func TestInitiationStepsAndTriplesAreIndependent(t *testing.T) {
	reg := NewInitiation()

	assert.True(t, reg.ShouldInitiate("local", "app", "Orders"))
	assert.True(t, reg.ShouldInitiateIndex("local", "app", "Orders"))
	assert.True(t, reg.ShouldInitiate("local", "app", "Users"))
	assert.True(t, reg.ShouldInitiate("local", "other", "Orders"))
	assert.True(t, reg.ShouldInitiate("remote", "app", "Orders"))

	assert.False(t, reg.ShouldInitiateIndex("local", "app", "Orders"))
	assert.Len(t, reg.Initiated(), 4)
}

func TestForgetAllowsRetry(t *testing.T) {
	reg := NewInitiation()

	require.True(t, reg.ShouldInitiateIndex("local", "app", "Orders"))
	reg.ForgetIndex("local", "app", "Orders")
	assert.True(t, reg.ShouldInitiateIndex("local", "app", "Orders"))

	require.True(t, reg.ShouldInitiate("local", "app", "Orders"))
	reg.Forget("local", "app", "Orders")
	assert.True(t, reg.ShouldInitiate("local", "app", "Orders"))
}

type widget struct {
	ID   string `dynamodbav:"id"`
	Name string `dynamodbav:"name"`
}

func TestTypesRegistry(t *testing.T) {
	reg := NewTypes()

	assert.True(t, RegisterType[widget](reg, "Widget"))
	assert.False(t, RegisterType[widget](reg, "Widget"))

	item, err := attributevalue.MarshalMap(widget{ID: "w1", Name: "gear"})
	require.NoError(t, err)

	obj, err := reg.Unmarshal("Widget", item)
	require.NoError(t, err)
	assert.Equal(t, widget{ID: "w1", Name: "gear"}, obj)

	_, err = reg.Lookup("Gadget")
	assert.Error(t, err)
}

func TestIndexesRegistry(t *testing.T) {
	reg := NewIndexes()

	_, ok := IndexesFor[widget](reg)
	assert.False(t, ok)

	RegisterIndexes[widget](reg, IndexSpec{Name: "ByName", PartitionKey: "name"})
	specs, ok := IndexesFor[widget](reg)
	require.True(t, ok)
	require.Len(t, specs, 1)
	assert.True(t, specs[0].Equal(IndexSpec{Name: "ByName", PartitionKey: "name", KeyType: "S"}))
	assert.False(t, specs[0].Equal(IndexSpec{Name: "ByName", PartitionKey: "name", SortKey: "id"}))

	ranked := IndexSpec{Name: "ByRank", PartitionKey: "league", SortKey: "rank", SortKeyType: "N"}
	assert.True(t, ranked.Equal(IndexSpec{Name: "ByRank", PartitionKey: "league", KeyType: "S", SortKey: "rank", SortKeyType: "N"}))
	assert.False(t, ranked.Equal(IndexSpec{Name: "ByRank", PartitionKey: "league", SortKey: "rank"}))
}
