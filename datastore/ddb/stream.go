/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/storagemodels"
)

// scanPages walks a table page by page, retrying throttled pages.
// A missing table yields no pages.
func (d *DynamodbDataStore) scanPages(ctx context.Context, input *sdk.ScanInput) iter.Seq2[*sdk.ScanOutput, error] {
	return func(yield func(*sdk.ScanOutput, error) bool) {
		if input.Select != types.SelectCount && input.Limit == nil && d.opts.PageSize > 0 {
			input.Limit = aws.Int32(d.opts.PageSize)
		}

		var items int64
		var pages int
		startTime := time.Now()

		reportProgress := func() {
			if d.opts.ProgressHandler == nil {
				return
			}
			progress := storagemodels.PageProgress{
				ItemsProcessed: items,
				PagesProcessed: pages,
				StartTime:      startTime,
			}
			if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
				progress.CurrentRate = float64(items) / elapsed
			}
			d.opts.ProgressHandler(progress)
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			out, err := d.scanWithRetry(ctx, input)
			if err != nil {
				if isTableMissing(err) {
					return
				}
				yield(nil, err)
				return
			}

			pages++
			items += int64(len(out.Items))
			reportProgress()

			if !yield(out, nil) {
				return
			}
			if len(out.LastEvaluatedKey) == 0 {
				return
			}
			input.ExclusiveStartKey = out.LastEvaluatedKey
		}
	}
}

// scanWithRetry executes one scan page with linear backoff on retryable errors.
func (d *DynamodbDataStore) scanWithRetry(ctx context.Context, input *sdk.ScanInput) (*sdk.ScanOutput, error) {
	var lastErr error

	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		out, err := d.client.Scan(ctx, input)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return nil, err
		}

		if attempt < d.opts.MaxRetries {
			backoff := time.Duration(attempt+1) * d.opts.RetryBackoff
			d.logger.Warn("Retrying throttled scan",
				"table", aws.ToString(input.TableName),
				"attempt", attempt+1,
				"backoff", backoff,
				"error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("scan failed after %d retries: %w", d.opts.MaxRetries, lastErr)
}

// isRetryableError determines if a DynamoDB error is retryable
func isRetryableError(err error) bool {
	var throughput *types.ProvisionedThroughputExceededException
	var requestLimit *types.RequestLimitExceeded
	var internal *types.InternalServerError
	if errors.As(err, &throughput) || errors.As(err, &requestLimit) || errors.As(err, &internal) {
		return true
	}

	var retryable interface{ IsRetryable() bool }
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}
