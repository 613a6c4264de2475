/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/datastore"
	storeerrors "github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
)

// CollectionExists reports whether the table exists.
func (d *DynamodbDataStore) CollectionExists(ctx context.Context, table string) (bool, error) {
	_, err := d.client.DescribeTable(ctx, &sdk.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		if isTableMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("DescribeTable error: %w", err)
	}
	return true, nil
}

// DropCollection deletes the table and waits until it is gone.
func (d *DynamodbDataStore) DropCollection(ctx context.Context, table string) error {
	d.forgetPending(table)

	_, err := d.client.DeleteTable(ctx, &sdk.DeleteTableInput{TableName: aws.String(table)})
	if err != nil {
		if isTableMissing(err) {
			return nil
		}
		return fmt.Errorf("DeleteTable error: %w", err)
	}

	waiter := sdk.NewTableNotExistsWaiter(d.client)
	if err := waiter.Wait(ctx, &sdk.DescribeTableInput{TableName: aws.String(table)}, d.tableWait); err != nil {
		return fmt.Errorf("waiting for table %s deletion: %w", table, err)
	}
	d.logger.Info("Dropped table", "table", table)
	return nil
}

// ensureTable creates a table keyed on id, typed after the given key, along
// with any indexes declared before the table existed.
func (d *DynamodbDataStore) ensureTable(ctx context.Context, table string, key storagemodels.Item) error {
	keyType, err := keyTypeOf(key[storagemodels.IDAttribute])
	if err != nil {
		return err
	}

	pending := d.pendingIndexes(table)
	definitions := newAttributeDefinitions()
	definitions.add(storagemodels.IDAttribute, keyType)

	input := &sdk.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(storagemodels.IDAttribute), KeyType: types.KeyTypeHash},
		},
	}
	for _, spec := range pending {
		gsi, err := globalIndexOf(spec, definitions)
		if err != nil {
			return err
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, gsi)
	}
	input.AttributeDefinitions = definitions.list

	_, err = d.client.CreateTable(ctx, input)
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("CreateTable error: %w", err)
		}
		// Another writer is creating the same table.
	} else {
		d.logger.Info("Creating table", "table", table, "keyType", keyType, "indexes", len(pending))
	}

	waiter := sdk.NewTableExistsWaiter(d.client)
	if err := waiter.Wait(ctx, &sdk.DescribeTableInput{TableName: aws.String(table)}, d.tableWait); err != nil {
		return fmt.Errorf("waiting for table %s: %w", table, err)
	}
	d.forgetPending(table)
	return nil
}

// ListIndexes reports the table key as datastore.IdentityIndex followed by the
// global secondary indexes. For a table not created yet it reports the
// indexes that will be created with it.
func (d *DynamodbDataStore) ListIndexes(ctx context.Context, table string) ([]registry.IndexSpec, error) {
	out, err := d.client.DescribeTable(ctx, &sdk.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		if isTableMissing(err) {
			return d.pendingIndexes(table), nil
		}
		return nil, fmt.Errorf("DescribeTable error: %w", err)
	}

	desc := out.Table
	attrTypes := make(map[string]string, len(desc.AttributeDefinitions))
	for _, def := range desc.AttributeDefinitions {
		attrTypes[aws.ToString(def.AttributeName)] = string(def.AttributeType)
	}

	specs := []registry.IndexSpec{specOf(datastore.IdentityIndex, desc.KeySchema, attrTypes)}
	for _, gsi := range desc.GlobalSecondaryIndexes {
		specs = append(specs, specOf(aws.ToString(gsi.IndexName), gsi.KeySchema, attrTypes))
	}
	return specs, nil
}

// CreateIndex adds a global secondary index and waits until it is active.
func (d *DynamodbDataStore) CreateIndex(ctx context.Context, table string, spec registry.IndexSpec) error {
	existing, err := d.ListIndexes(ctx, table)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Name == spec.Name {
			return storeerrors.NewAlreadyExistsError("index", spec.Name)
		}
	}

	exists, err := d.CollectionExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		d.addPending(table, spec)
		return nil
	}

	definitions := newAttributeDefinitions()
	gsi, err := globalIndexOf(spec, definitions)
	if err != nil {
		return err
	}

	_, err = d.client.UpdateTable(ctx, &sdk.UpdateTableInput{
		TableName:            aws.String(table),
		AttributeDefinitions: definitions.list,
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Create: &types.CreateGlobalSecondaryIndexAction{
				IndexName:  gsi.IndexName,
				KeySchema:  gsi.KeySchema,
				Projection: gsi.Projection,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("UpdateTable error creating index %s: %w", spec.Name, err)
	}

	d.logger.Info("Creating index", "table", table, "index", spec.Name)
	return d.waitForIndex(ctx, table, spec.Name, true)
}

// DropIndex removes a global secondary index and waits until it is gone.
func (d *DynamodbDataStore) DropIndex(ctx context.Context, table string, name string) error {
	if name == datastore.IdentityIndex {
		return storeerrors.NewValidationError("index", "the key index cannot be dropped")
	}
	if d.removePending(table, name) {
		return nil
	}

	_, err := d.client.UpdateTable(ctx, &sdk.UpdateTableInput{
		TableName: aws.String(table),
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Delete: &types.DeleteGlobalSecondaryIndexAction{IndexName: aws.String(name)},
		}},
	})
	if err != nil {
		if isTableMissing(err) {
			return storeerrors.NewNotFoundError("index", name)
		}
		return fmt.Errorf("UpdateTable error dropping index %s: %w", name, err)
	}

	d.logger.Info("Dropping index", "table", table, "index", name)
	return d.waitForIndex(ctx, table, name, false)
}

// waitForIndex polls until the index is active (present) or gone (!present).
func (d *DynamodbDataStore) waitForIndex(ctx context.Context, table, name string, present bool) error {
	deadline := time.Now().Add(d.tableWait)
	for {
		out, err := d.client.DescribeTable(ctx, &sdk.DescribeTableInput{TableName: aws.String(table)})
		if err != nil {
			return fmt.Errorf("DescribeTable error: %w", err)
		}

		var status types.IndexStatus
		found := false
		for _, gsi := range out.Table.GlobalSecondaryIndexes {
			if aws.ToString(gsi.IndexName) == name {
				found = true
				status = gsi.IndexStatus
			}
		}
		if present && found && status == types.IndexStatusActive {
			return nil
		}
		if !present && !found {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for index %s on %s", name, table)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.indexPoll):
		}
	}
}

func (d *DynamodbDataStore) pendingIndexes(table string) []registry.IndexSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]registry.IndexSpec(nil), d.pending[table]...)
}

func (d *DynamodbDataStore) addPending(table string, spec registry.IndexSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[table] = append(d.pending[table], spec)
}

func (d *DynamodbDataStore) removePending(table, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, spec := range d.pending[table] {
		if spec.Name == name {
			d.pending[table] = append(d.pending[table][:i], d.pending[table][i+1:]...)
			return true
		}
	}
	return false
}

func (d *DynamodbDataStore) forgetPending(table string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, table)
}

type attributeDefinitions struct {
	list []types.AttributeDefinition
	seen map[string]types.ScalarAttributeType
}

func newAttributeDefinitions() *attributeDefinitions {
	return &attributeDefinitions{seen: make(map[string]types.ScalarAttributeType)}
}

func (a *attributeDefinitions) add(name string, t types.ScalarAttributeType) error {
	if prev, ok := a.seen[name]; ok {
		if prev != t {
			return storeerrors.NewValidationError(name, fmt.Sprintf("declared as both %s and %s", prev, t))
		}
		return nil
	}
	a.seen[name] = t
	a.list = append(a.list, types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: t})
	return nil
}

func globalIndexOf(spec registry.IndexSpec, definitions *attributeDefinitions) (types.GlobalSecondaryIndex, error) {
	if spec.Name == "" || spec.PartitionKey == "" {
		return types.GlobalSecondaryIndex{}, storeerrors.NewValidationError("index", "name and partition key are required")
	}
	keyType, err := scalarType(spec.KeyType)
	if err != nil {
		return types.GlobalSecondaryIndex{}, err
	}
	if err := definitions.add(spec.PartitionKey, keyType); err != nil {
		return types.GlobalSecondaryIndex{}, err
	}

	schema := []types.KeySchemaElement{
		{AttributeName: aws.String(spec.PartitionKey), KeyType: types.KeyTypeHash},
	}
	if spec.SortKey != "" {
		sortType, err := scalarType(spec.SortKeyType)
		if err != nil {
			return types.GlobalSecondaryIndex{}, err
		}
		if err := definitions.add(spec.SortKey, sortType); err != nil {
			return types.GlobalSecondaryIndex{}, err
		}
		schema = append(schema, types.KeySchemaElement{AttributeName: aws.String(spec.SortKey), KeyType: types.KeyTypeRange})
	}

	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(spec.Name),
		KeySchema:  schema,
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}, nil
}

func specOf(name string, schema []types.KeySchemaElement, attrTypes map[string]string) registry.IndexSpec {
	spec := registry.IndexSpec{Name: name}
	for _, el := range schema {
		attr := aws.ToString(el.AttributeName)
		switch el.KeyType {
		case types.KeyTypeHash:
			spec.PartitionKey = attr
			spec.KeyType = attrTypes[attr]
		case types.KeyTypeRange:
			spec.SortKey = attr
			spec.SortKeyType = attrTypes[attr]
		}
	}
	return spec
}

func scalarType(keyType string) (types.ScalarAttributeType, error) {
	switch keyType {
	case "", "S":
		return types.ScalarAttributeTypeS, nil
	case "N":
		return types.ScalarAttributeTypeN, nil
	case "B":
		return types.ScalarAttributeTypeB, nil
	}
	return "", storeerrors.NewValidationError("keyType", fmt.Sprintf("unsupported key type %q", keyType))
}

func keyTypeOf(v types.AttributeValue) (types.ScalarAttributeType, error) {
	switch v.(type) {
	case *types.AttributeValueMemberS:
		return types.ScalarAttributeTypeS, nil
	case *types.AttributeValueMemberN:
		return types.ScalarAttributeTypeN, nil
	case *types.AttributeValueMemberB:
		return types.ScalarAttributeTypeB, nil
	case nil:
		return "", storeerrors.NewValidationError(storagemodels.IDAttribute, "document has no id")
	}
	return "", storeerrors.NewValidationError(storagemodels.IDAttribute, fmt.Sprintf("unsupported key type %T", v))
}
