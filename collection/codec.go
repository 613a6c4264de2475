/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package collection

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
)

// codec converts between entities and stored documents.
type codec[T storagemodels.Entity[K], K comparable] struct {
	typeName string
	types    *registry.Types
}

func (c codec[T, K]) key(id K) (storagemodels.Item, error) {
	av, err := attributevalue.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := validKey(av); err != nil {
		return nil, err
	}
	return storagemodels.Item{storagemodels.IDAttribute: av}, nil
}

// encode marshals an entity and tags it with its type name. Lease state is
// never taken from the entity.
func (c codec[T, K]) encode(entity T) (storagemodels.Item, error) {
	item, err := attributevalue.MarshalMap(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", c.typeName, err)
	}
	if err := validKey(item[storagemodels.IDAttribute]); err != nil {
		return nil, err
	}
	delete(item, storagemodels.LockAttribute)
	item[storagemodels.EntityTypeAttribute] = &types.AttributeValueMemberS{Value: c.typeName}
	return item, nil
}

// decode unmarshals a document into T, falling back to the function
// registered for its EntityType.
func (c codec[T, K]) decode(item storagemodels.Item) (T, error) {
	var out T
	err := attributevalue.UnmarshalMap(item, &out)
	if err == nil {
		return out, nil
	}

	entityType, ok := item[storagemodels.EntityTypeAttribute].(*types.AttributeValueMemberS)
	if !ok || c.types == nil {
		return out, fmt.Errorf("failed to unmarshal %s: %w", c.typeName, err)
	}
	obj, regErr := c.types.Unmarshal(entityType.Value, item)
	if regErr != nil {
		return out, fmt.Errorf("failed to unmarshal %s: %w", c.typeName, err)
	}
	switch v := obj.(type) {
	case T:
		return v, nil
	case *T:
		return *v, nil
	}
	return out, fmt.Errorf("EntityType %q decodes to %T, not %s", entityType.Value, obj, c.typeName)
}

// needsCleaning reports whether the stored document is outdated: the entity
// says so, or the document carries attributes the entity no longer has.
func (c codec[T, K]) needsCleaning(entity T, stored storagemodels.Item) bool {
	if entity.NeedsCleaning() {
		return true
	}
	current, err := c.encode(entity)
	if err != nil {
		return false
	}
	for attr := range stored {
		switch attr {
		case storagemodels.IDAttribute, storagemodels.LockAttribute, storagemodels.EntityTypeAttribute:
			continue
		}
		if _, ok := current[attr]; !ok {
			return true
		}
	}
	return false
}

// lockOf extracts the lease of a document, if any.
func lockOf(item storagemodels.Item) (storagemodels.Lock, bool) {
	av, ok := item[storagemodels.LockAttribute]
	if !ok {
		return storagemodels.Lock{}, false
	}
	var lock storagemodels.Lock
	if err := attributevalue.Unmarshal(av, &lock); err != nil {
		return storagemodels.Lock{}, false
	}
	return lock, true
}

func validKey(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		if v.Value == "" {
			return errors.NewValidationError(storagemodels.IDAttribute, "id is required")
		}
		return nil
	case *types.AttributeValueMemberN, *types.AttributeValueMemberB:
		return nil
	case nil:
		return errors.NewValidationError(storagemodels.IDAttribute, `entity has no "id" attribute`)
	}
	return errors.NewValidationError(storagemodels.IDAttribute, fmt.Sprintf("unsupported key type %T", av))
}

// keyString renders a key for error messages.
func keyString(key storagemodels.Item) string {
	switch v := key[storagemodels.IDAttribute].(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return base64.StdEncoding.EncodeToString(v.Value)
	}
	return ""
}

// encodeToken renders the key a page ended at as an opaque token.
func encodeToken[K comparable](id K) (string, error) {
	raw, err := json.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("failed to encode page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeToken[K comparable](token string) (K, error) {
	var id K
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, errors.NewValidationError("token", "malformed page token")
	}
	if err := json.Unmarshal(raw, &id); err != nil {
		return id, errors.NewValidationError("token", "malformed page token")
	}
	return id, nil
}
