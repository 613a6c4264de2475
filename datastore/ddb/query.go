/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/storagemodels"
)

// Find scans a table, applying the filter server side. Without a sort order
// items stream page by page; a sort order reads every match first and
// orders them in memory, since a scan has no ordering of its own.
func (d *DynamodbDataStore) Find(ctx context.Context, table string, q datastore.FindQuery) iter.Seq2[storagemodels.Item, error] {
	return func(yield func(storagemodels.Item, error) bool) {
		projection := q.Projection
		if len(q.Sort) > 0 {
			// Sort fields may be outside the projection, so project afterwards.
			projection = nil
		}

		expr, err := buildExpression(storagemodels.Filter{}, storagemodels.Update{}, projection, q.Filter)
		if err != nil {
			yield(nil, fmt.Errorf("failed to build scan expression: %w", err))
			return
		}

		input := &sdk.ScanInput{
			TableName:      aws.String(table),
			ConsistentRead: aws.Bool(true),
		}
		if expr != nil {
			input.FilterExpression = expr.Filter()
			input.ProjectionExpression = expr.Projection()
			input.ExpressionAttributeNames = expr.Names()
			input.ExpressionAttributeValues = expr.Values()
		}
		if q.StartAfter != nil {
			input.ExclusiveStartKey = datastore.KeyOf(q.StartAfter)
		}

		if len(q.Sort) > 0 {
			d.findSorted(ctx, input, q, yield)
			return
		}

		emitted := 0
		for page, err := range d.scanPages(ctx, input) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
				emitted++
				if q.Limit > 0 && emitted >= q.Limit {
					return
				}
			}
		}
	}
}

func (d *DynamodbDataStore) findSorted(ctx context.Context, input *sdk.ScanInput, q datastore.FindQuery, yield func(storagemodels.Item, error) bool) {
	var all []storagemodels.Item
	for page, err := range d.scanPages(ctx, input) {
		if err != nil {
			yield(nil, err)
			return
		}
		all = append(all, page.Items...)
	}

	storagemodels.SortItems(all, q.Sort)
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	for _, item := range all {
		if !yield(storagemodels.Project(item, q.Projection), nil) {
			return
		}
	}
}

// Count returns the number of items matching the filter.
func (d *DynamodbDataStore) Count(ctx context.Context, table string, filter storagemodels.Filter) (int64, error) {
	expr, err := buildExpression(storagemodels.Filter{}, storagemodels.Update{}, nil, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to build count expression: %w", err)
	}

	input := &sdk.ScanInput{
		TableName:      aws.String(table),
		Select:         types.SelectCount,
		ConsistentRead: aws.Bool(true),
	}
	if expr != nil {
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var total int64
	for page, err := range d.scanPages(ctx, input) {
		if err != nil {
			return 0, err
		}
		total += int64(page.Count)
	}
	return total, nil
}
