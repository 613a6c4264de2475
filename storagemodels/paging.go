/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"time"
)

// PageOptions configures how a driver pages through a store
type PageOptions struct {
	PageSize        int32              // Items per store page (default: 100)
	MaxRetries      int                // Retry attempts for throttled pages (default: 3)
	RetryBackoff    time.Duration      // Backoff between retries (default: 1s)
	ProgressHandler func(PageProgress) // Optional progress callback
}

// PageProgress tracks paging progress of one query
type PageProgress struct {
	ItemsProcessed int64     // Total items read
	PagesProcessed int       // Total pages read
	StartTime      time.Time // When the query started
	CurrentRate    float64   // Items per second
}

// PageOption is a functional option for configuring paging
type PageOption func(*PageOptions)

// DefaultPageOptions returns default paging options
func DefaultPageOptions() PageOptions {
	return PageOptions{
		PageSize:     100,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}

// WithPageSize sets the store page size
func WithPageSize(size int32) PageOption {
	return func(opts *PageOptions) {
		opts.PageSize = size
	}
}

// WithMaxRetries sets the maximum retry attempts
func WithMaxRetries(retries int) PageOption {
	return func(opts *PageOptions) {
		opts.MaxRetries = retries
	}
}

// WithRetryBackoff sets the retry backoff duration
func WithRetryBackoff(backoff time.Duration) PageOption {
	return func(opts *PageOptions) {
		opts.RetryBackoff = backoff
	}
}

// WithProgressHandler sets a progress callback
func WithProgressHandler(handler func(PageProgress)) PageOption {
	return func(opts *PageOptions) {
		opts.ProgressHandler = handler
	}
}
