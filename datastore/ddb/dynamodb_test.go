/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	sm "github.com/suparena/entityrepo/storagemodels"
)

// fakeAPI scripts DynamoDB responses per call. Unset handlers fail the call
// with ResourceNotFoundException, as for a table that does not exist.
type fakeAPI struct {
	getItem       func(*sdk.GetItemInput) (*sdk.GetItemOutput, error)
	putItem       func(*sdk.PutItemInput) (*sdk.PutItemOutput, error)
	updateItem    func(*sdk.UpdateItemInput) (*sdk.UpdateItemOutput, error)
	deleteItem    func(*sdk.DeleteItemInput) (*sdk.DeleteItemOutput, error)
	scan          func(*sdk.ScanInput) (*sdk.ScanOutput, error)
	describeTable func(*sdk.DescribeTableInput) (*sdk.DescribeTableOutput, error)
	createTable   func(*sdk.CreateTableInput) (*sdk.CreateTableOutput, error)
	deleteTable   func(*sdk.DeleteTableInput) (*sdk.DeleteTableOutput, error)
	updateTable   func(*sdk.UpdateTableInput) (*sdk.UpdateTableOutput, error)
}

var errMissing = &types.ResourceNotFoundException{Message: aws.String("table not found")}

func (f *fakeAPI) GetItem(_ context.Context, in *sdk.GetItemInput, _ ...func(*sdk.Options)) (*sdk.GetItemOutput, error) {
	if f.getItem == nil {
		return nil, errMissing
	}
	return f.getItem(in)
}

func (f *fakeAPI) PutItem(_ context.Context, in *sdk.PutItemInput, _ ...func(*sdk.Options)) (*sdk.PutItemOutput, error) {
	if f.putItem == nil {
		return nil, errMissing
	}
	return f.putItem(in)
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *sdk.UpdateItemInput, _ ...func(*sdk.Options)) (*sdk.UpdateItemOutput, error) {
	if f.updateItem == nil {
		return nil, errMissing
	}
	return f.updateItem(in)
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *sdk.DeleteItemInput, _ ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error) {
	if f.deleteItem == nil {
		return nil, errMissing
	}
	return f.deleteItem(in)
}

func (f *fakeAPI) Scan(_ context.Context, in *sdk.ScanInput, _ ...func(*sdk.Options)) (*sdk.ScanOutput, error) {
	if f.scan == nil {
		return nil, errMissing
	}
	return f.scan(in)
}

func (f *fakeAPI) DescribeTable(_ context.Context, in *sdk.DescribeTableInput, _ ...func(*sdk.Options)) (*sdk.DescribeTableOutput, error) {
	if f.describeTable == nil {
		return nil, errMissing
	}
	return f.describeTable(in)
}

func (f *fakeAPI) CreateTable(_ context.Context, in *sdk.CreateTableInput, _ ...func(*sdk.Options)) (*sdk.CreateTableOutput, error) {
	if f.createTable == nil {
		return nil, errMissing
	}
	return f.createTable(in)
}

func (f *fakeAPI) DeleteTable(_ context.Context, in *sdk.DeleteTableInput, _ ...func(*sdk.Options)) (*sdk.DeleteTableOutput, error) {
	if f.deleteTable == nil {
		return nil, errMissing
	}
	return f.deleteTable(in)
}

func (f *fakeAPI) UpdateTable(_ context.Context, in *sdk.UpdateTableInput, _ ...func(*sdk.Options)) (*sdk.UpdateTableOutput, error) {
	if f.updateTable == nil {
		return nil, errMissing
	}
	return f.updateTable(in)
}

func activeTable(name string, gsis ...types.GlobalSecondaryIndexDescription) *sdk.DescribeTableOutput {
	return &sdk.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   aws.String(name),
		TableStatus: types.TableStatusActive,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("email"), AttributeType: types.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexes: gsis,
	}}
}

func strKey(id string) sm.Item {
	return sm.Item{"id": &types.AttributeValueMemberS{Value: id}}
}

func TestReadsOfMissingTableAreEmpty(t *testing.T) {
	ctx := context.Background()
	store := New(&fakeAPI{}, "test")

	got, err := store.Get(ctx, "app.users", strKey("1"))
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := store.Count(ctx, "app.users", sm.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, err := range store.Find(ctx, "app.users", datastore.FindQuery{}) {
		t.Fatalf("unexpected result, err=%v", err)
	}

	exists, err := store.CollectionExists(ctx, "app.users")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPutCreatesMissingTable(t *testing.T) {
	var created atomic.Bool
	var puts atomic.Int32
	var createInput *sdk.CreateTableInput

	api := &fakeAPI{}
	api.putItem = func(in *sdk.PutItemInput) (*sdk.PutItemOutput, error) {
		puts.Add(1)
		if !created.Load() {
			return nil, errMissing
		}
		return &sdk.PutItemOutput{}, nil
	}
	api.createTable = func(in *sdk.CreateTableInput) (*sdk.CreateTableOutput, error) {
		createInput = in
		created.Store(true)
		return &sdk.CreateTableOutput{}, nil
	}
	api.describeTable = func(in *sdk.DescribeTableInput) (*sdk.DescribeTableOutput, error) {
		if !created.Load() {
			return nil, errMissing
		}
		return activeTable(aws.ToString(in.TableName)), nil
	}

	store := New(api, "test")
	require.NoError(t, store.CreateIndex(context.Background(), "app.users", registry.IndexSpec{Name: "ByEmail", PartitionKey: "email"}))

	item := sm.Item{
		"id":    &types.AttributeValueMemberN{Value: "7"},
		"email": &types.AttributeValueMemberS{Value: "a@b.c"},
	}
	old, err := store.Put(context.Background(), "app.users", item, sm.NotExists("id"))
	require.NoError(t, err)
	assert.Nil(t, old)
	assert.Equal(t, int32(2), puts.Load())

	require.NotNil(t, createInput)
	assert.Equal(t, types.BillingModePayPerRequest, createInput.BillingMode)
	assert.Equal(t, types.ScalarAttributeTypeN, createInput.AttributeDefinitions[0].AttributeType)
	require.Len(t, createInput.GlobalSecondaryIndexes, 1)
	assert.Equal(t, "ByEmail", aws.ToString(createInput.GlobalSecondaryIndexes[0].IndexName))
}

func TestConditionFailureIsMapped(t *testing.T) {
	api := &fakeAPI{
		putItem: func(*sdk.PutItemInput) (*sdk.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("failed")}
		},
		updateItem: func(*sdk.UpdateItemInput) (*sdk.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("failed")}
		},
	}
	store := New(api, "test")
	ctx := context.Background()

	_, err := store.Put(ctx, "app.users", strKey("1"), sm.NotExists("id"))
	assert.True(t, errors.IsConditionFailed(err))

	_, err = store.Update(ctx, "app.users", strKey("1"), sm.Set("name", "x"), sm.Exists("id"))
	assert.True(t, errors.IsConditionFailed(err))
}

func TestDeleteOnMissingTableChecksCondition(t *testing.T) {
	store := New(&fakeAPI{}, "test")
	ctx := context.Background()

	old, err := store.Delete(ctx, "app.users", strKey("1"), sm.Filter{})
	require.NoError(t, err)
	assert.Nil(t, old)

	_, err = store.Delete(ctx, "app.users", strKey("1"), sm.Exists("id"))
	assert.True(t, errors.IsConditionFailed(err))
}

func TestFindPagesAndLimits(t *testing.T) {
	pages := [][]sm.Item{
		{strKey("a"), strKey("b")},
		{strKey("c"), strKey("d")},
		{strKey("e")},
	}
	var calls atomic.Int32
	var progress []sm.PageProgress
	api := &fakeAPI{
		scan: func(in *sdk.ScanInput) (*sdk.ScanOutput, error) {
			i := int(calls.Add(1)) - 1
			out := &sdk.ScanOutput{Items: pages[i], Count: int32(len(pages[i]))}
			if i < len(pages)-1 {
				out.LastEvaluatedKey = pages[i][len(pages[i])-1]
			}
			return out, nil
		},
	}
	store := New(api, "test", WithPaging(
		sm.WithPageSize(2),
		sm.WithProgressHandler(func(p sm.PageProgress) { progress = append(progress, p) }),
	))

	var ids []string
	for item, err := range store.Find(context.Background(), "app.users", datastore.FindQuery{Limit: 3}) {
		require.NoError(t, err)
		ids = append(ids, item["id"].(*types.AttributeValueMemberS).Value)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, progress, 2)
	assert.Equal(t, int64(4), progress[1].ItemsProcessed)
}

func TestFindSortedReadsEverything(t *testing.T) {
	item := func(id string, score string) sm.Item {
		return sm.Item{
			"id":    &types.AttributeValueMemberS{Value: id},
			"score": &types.AttributeValueMemberN{Value: score},
		}
	}
	api := &fakeAPI{
		scan: func(in *sdk.ScanInput) (*sdk.ScanOutput, error) {
			assert.Nil(t, in.ProjectionExpression)
			return &sdk.ScanOutput{Items: []sm.Item{item("a", "3"), item("b", "9"), item("c", "1")}}, nil
		},
	}
	store := New(api, "test")

	var got []sm.Item
	for it, err := range store.Find(context.Background(), "app.users", datastore.FindQuery{
		Sort:       []sm.SortField{{Field: "score", Descending: true}},
		Projection: []string{"id"},
		Limit:      2,
	}) {
		require.NoError(t, err)
		got = append(got, it)
	}
	require.Len(t, got, 2)
	assert.Equal(t, strKey("b"), got[0])
	assert.Equal(t, strKey("a"), got[1])
}

func TestScanRetriesThrottledPages(t *testing.T) {
	var calls atomic.Int32
	api := &fakeAPI{
		scan: func(in *sdk.ScanInput) (*sdk.ScanOutput, error) {
			if calls.Add(1) == 1 {
				return nil, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
			}
			return &sdk.ScanOutput{Count: 5}, nil
		},
	}
	store := New(api, "test", WithPaging(sm.WithRetryBackoff(time.Millisecond)))

	n, err := store.Count(context.Background(), "app.users", sm.Eq("status", "active"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListIndexes(t *testing.T) {
	api := &fakeAPI{
		describeTable: func(in *sdk.DescribeTableInput) (*sdk.DescribeTableOutput, error) {
			return activeTable("app.users", types.GlobalSecondaryIndexDescription{
				IndexName:   aws.String("ByEmail"),
				IndexStatus: types.IndexStatusActive,
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("email"), KeyType: types.KeyTypeHash},
				},
			}), nil
		},
	}
	store := New(api, "test")

	specs, err := store.ListIndexes(context.Background(), "app.users")
	require.NoError(t, err)
	assert.Equal(t, []registry.IndexSpec{
		{Name: datastore.IdentityIndex, PartitionKey: "id", KeyType: "S"},
		{Name: "ByEmail", PartitionKey: "email", KeyType: "S"},
	}, specs)

	err = store.CreateIndex(context.Background(), "app.users", registry.IndexSpec{Name: "ByEmail", PartitionKey: "email"})
	assert.True(t, errors.IsAlreadyExists(err))

	assert.Error(t, store.DropIndex(context.Background(), "app.users", datastore.IdentityIndex))
}

func TestIndexKeyTypes(t *testing.T) {
	spec := registry.IndexSpec{Name: "ByRank", PartitionKey: "league", SortKey: "rank", SortKeyType: "N"}

	definitions := newAttributeDefinitions()
	gsi, err := globalIndexOf(spec, definitions)
	require.NoError(t, err)
	require.Len(t, gsi.KeySchema, 2)
	assert.Equal(t, []types.AttributeDefinition{
		{AttributeName: aws.String("league"), AttributeType: types.ScalarAttributeTypeS},
		{AttributeName: aws.String("rank"), AttributeType: types.ScalarAttributeTypeN},
	}, definitions.list)

	listed := specOf("ByRank", gsi.KeySchema, map[string]string{"league": "S", "rank": "N"})
	assert.True(t, spec.Equal(listed))
	assert.Equal(t, "N", listed.SortKeyType)

	_, err = globalIndexOf(registry.IndexSpec{Name: "Bad", PartitionKey: "league", SortKey: "rank", SortKeyType: "X"}, newAttributeDefinitions())
	assert.True(t, errors.IsValidationError(err))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&types.RequestLimitExceeded{}))
	assert.True(t, isRetryableError(&types.InternalServerError{}))
	assert.False(t, isRetryableError(&types.ConditionalCheckFailedException{}))
	assert.False(t, isRetryableError(errMissing))
}
