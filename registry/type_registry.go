/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// UnmarshalFunc defines a function that takes a raw DynamoDB item and returns the unmarshaled object.
type UnmarshalFunc func(item map[string]types.AttributeValue) (interface{}, error)

// Types maps the EntityType attribute of stored documents to unmarshal functions.
type Types struct {
	mu    sync.RWMutex
	funcs map[string]UnmarshalFunc
}

// NewTypes creates an empty type registry.
func NewTypes() *Types {
	return &Types{funcs: make(map[string]UnmarshalFunc)}
}

// Register registers an unmarshal function for a type name. Registering the same
// name twice keeps the first function and reports false.
func (r *Types) Register(name string, fn UnmarshalFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return false
	}
	r.funcs[name] = fn
	return true
}

// Lookup returns the registered unmarshal function for the given type name.
func (r *Types) Lookup(name string) (UnmarshalFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("type registry: no type registered for %q", name)
	}
	return fn, nil
}

// Unmarshal decodes an item using the function registered for its type name.
func (r *Types) Unmarshal(name string, item map[string]types.AttributeValue) (interface{}, error) {
	fn, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return fn(item)
}

// RegisterType registers T under name with an attributevalue based decoder.
func RegisterType[T any](r *Types, name string) bool {
	return r.Register(name, func(item map[string]types.AttributeValue) (interface{}, error) {
		out := new(T)
		if err := attributevalue.UnmarshalMap(item, out); err != nil {
			return nil, err
		}
		return *out, nil
	})
}
