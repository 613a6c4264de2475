/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/datastore"
	storeerrors "github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
)

// API is the subset of the DynamoDB client used by the driver.
type API interface {
	GetItem(ctx context.Context, params *sdk.GetItemInput, optFns ...func(*sdk.Options)) (*sdk.GetItemOutput, error)
	PutItem(ctx context.Context, params *sdk.PutItemInput, optFns ...func(*sdk.Options)) (*sdk.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *sdk.UpdateItemInput, optFns ...func(*sdk.Options)) (*sdk.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *sdk.DeleteItemInput, optFns ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error)
	Scan(ctx context.Context, params *sdk.ScanInput, optFns ...func(*sdk.Options)) (*sdk.ScanOutput, error)
	DescribeTable(ctx context.Context, params *sdk.DescribeTableInput, optFns ...func(*sdk.Options)) (*sdk.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *sdk.CreateTableInput, optFns ...func(*sdk.Options)) (*sdk.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *sdk.DeleteTableInput, optFns ...func(*sdk.Options)) (*sdk.DeleteTableOutput, error)
	UpdateTable(ctx context.Context, params *sdk.UpdateTableInput, optFns ...func(*sdk.Options)) (*sdk.UpdateTableOutput, error)
}

// ClientConfig holds what is needed to reach a DynamoDB endpoint.
type ClientConfig struct {
	Region    string
	Endpoint  string // optional, e.g. http://localhost:8000 for DynamoDB Local
	AccessKey string
	SecretKey string
}

// DynamodbDataStore implements datastore.Driver on AWS DynamoDB, one table per collection.
type DynamodbDataStore struct {
	client    API
	server    string
	opts      storagemodels.PageOptions
	logger    *slog.Logger
	tableWait time.Duration
	indexPoll time.Duration

	mu      sync.Mutex
	pending map[string][]registry.IndexSpec // indexes declared before their table exists
}

var _ datastore.Driver = (*DynamodbDataStore)(nil)

// Option configures a DynamodbDataStore.
type Option func(*DynamodbDataStore)

// WithLogger sets the driver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DynamodbDataStore) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithPaging sets scan paging and retry options.
func WithPaging(opts ...storagemodels.PageOption) Option {
	return func(d *DynamodbDataStore) {
		for _, opt := range opts {
			opt(&d.opts)
		}
	}
}

// WithIndexPoll sets how often index status is polled while waiting.
func WithIndexPoll(every time.Duration) Option {
	return func(d *DynamodbDataStore) {
		d.indexPoll = every
	}
}

// WithTableWait bounds how long table and index changes are awaited.
func WithTableWait(wait time.Duration) Option {
	return func(d *DynamodbDataStore) {
		d.tableWait = wait
	}
}

// NewDynamoDBClient initializes a DynamoDB client from the given configuration.
// Static credentials are used when both keys are set; otherwise the default
// AWS credential chain applies.
func NewDynamoDBClient(ctx context.Context, cfg ClientConfig) (*sdk.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return sdk.NewFromConfig(awsCfg, func(o *sdk.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// New wraps an existing client. server names the endpoint for the initiation registry.
func New(client API, server string, opts ...Option) *DynamodbDataStore {
	d := &DynamodbDataStore{
		client:    client,
		server:    server,
		opts:      storagemodels.DefaultPageOptions(),
		logger:    slog.Default(),
		tableWait: 2 * time.Minute,
		indexPoll: 2 * time.Second,
		pending:   make(map[string][]registry.IndexSpec),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDynamodbDataStore connects to DynamoDB and returns a driver for it.
func NewDynamodbDataStore(ctx context.Context, cfg ClientConfig, opts ...Option) (*DynamodbDataStore, error) {
	client, err := NewDynamoDBClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB client: %w", err)
	}

	server := cfg.Endpoint
	if server == "" {
		server = "dynamodb." + cfg.Region
	}
	d := New(client, server, opts...)
	d.logger.Info("DynamoDB client initialized", "server", server, "region", cfg.Region)
	return d, nil
}

// Server identifies the endpoint, or the region when no endpoint is set.
func (d *DynamodbDataStore) Server() string {
	return d.server
}

// Get retrieves a single item by key. It returns nil if no item is found.
func (d *DynamodbDataStore) Get(ctx context.Context, table string, key storagemodels.Item) (storagemodels.Item, error) {
	out, err := d.client.GetItem(ctx, &sdk.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		if isTableMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetItem error: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// Put stores a whole item, optionally guarded by a condition, and returns the previous item.
func (d *DynamodbDataStore) Put(ctx context.Context, table string, item storagemodels.Item, cond storagemodels.Filter) (storagemodels.Item, error) {
	expr, err := buildExpression(cond, storagemodels.Update{}, nil, storagemodels.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to build put condition: %w", err)
	}

	input := &sdk.PutItemInput{
		TableName:    aws.String(table),
		Item:         item,
		ReturnValues: types.ReturnValueAllOld,
	}
	if expr != nil {
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var out *sdk.PutItemOutput
	err = d.withTable(ctx, table, datastore.KeyOf(item), func() error {
		var callErr error
		out, callErr = d.client.PutItem(ctx, input)
		return callErr
	})
	if err != nil {
		return nil, d.writeError("put", cond, err)
	}
	return nonEmpty(out.Attributes), nil
}

// Update applies an update expression, optionally guarded by a condition, and
// returns the previous item.
func (d *DynamodbDataStore) Update(ctx context.Context, table string, key storagemodels.Item, update storagemodels.Update, cond storagemodels.Filter) (storagemodels.Item, error) {
	if update.IsZero() {
		return nil, storeerrors.NewValidationError("update", "no updates provided")
	}
	expr, err := buildExpression(cond, update, nil, storagemodels.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to build update expression: %w", err)
	}

	input := &sdk.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllOld,
	}

	var out *sdk.UpdateItemOutput
	err = d.withTable(ctx, table, key, func() error {
		var callErr error
		out, callErr = d.client.UpdateItem(ctx, input)
		return callErr
	})
	if err != nil {
		return nil, d.writeError("update", cond, err)
	}
	return nonEmpty(out.Attributes), nil
}

// Delete removes an item, optionally guarded by a condition, and returns it.
func (d *DynamodbDataStore) Delete(ctx context.Context, table string, key storagemodels.Item, cond storagemodels.Filter) (storagemodels.Item, error) {
	expr, err := buildExpression(cond, storagemodels.Update{}, nil, storagemodels.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to build delete condition: %w", err)
	}

	input := &sdk.DeleteItemInput{
		TableName:    aws.String(table),
		Key:          key,
		ReturnValues: types.ReturnValueAllOld,
	}
	if expr != nil {
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	out, err := d.client.DeleteItem(ctx, input)
	if err != nil {
		if isTableMissing(err) {
			// Nothing is stored, so the condition sees an empty document.
			if ok, matchErr := cond.Match(storagemodels.Item{}); matchErr != nil || !ok {
				return nil, storeerrors.NewConditionFailedError("delete", cond.String())
			}
			return nil, nil
		}
		return nil, d.writeError("delete", cond, err)
	}
	return nonEmpty(out.Attributes), nil
}

func (d *DynamodbDataStore) writeError(op string, cond storagemodels.Filter, err error) error {
	var cfe *types.ConditionalCheckFailedException
	if errors.As(err, &cfe) {
		return storeerrors.NewConditionFailedError(op, cond.String())
	}
	return fmt.Errorf("%s failed in DynamoDB: %w", op, err)
}

// withTable runs a write and, if the table does not exist yet, creates it and
// runs the write once more.
func (d *DynamodbDataStore) withTable(ctx context.Context, table string, key storagemodels.Item, write func() error) error {
	err := write()
	if err == nil || !isTableMissing(err) {
		return err
	}
	if err := d.ensureTable(ctx, table, key); err != nil {
		return err
	}
	return write()
}

func nonEmpty(item storagemodels.Item) storagemodels.Item {
	if len(item) == 0 {
		return nil
	}
	return item
}

func isTableMissing(err error) bool {
	var rnf *types.ResourceNotFoundException
	return errors.As(err, &rnf)
}
