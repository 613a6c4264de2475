/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"bytes"
	"math/big"
	"reflect"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Lookup resolves a dotted path through nested map attributes.
func Lookup(item Item, path string) (types.AttributeValue, bool) {
	parts := strings.Split(path, ".")
	current := item
	for i, part := range parts {
		v, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false
		}
		current = m.Value
	}
	return nil, false
}

// EqualValues compares two attribute values for equality. Numbers compare by value.
func EqualValues(a, b types.AttributeValue) bool {
	if c, ok := CompareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// CompareValues orders two scalar attribute values of the same kind. The second
// result is false when the values are not comparable.
func CompareValues(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, okx := new(big.Rat).SetString(av.Value)
		y, oky := new(big.Rat).SetString(bv.Value)
		if !okx || !oky {
			return 0, false
		}
		return x.Cmp(y), true
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, false
		}
		switch {
		case av.Value == bv.Value:
			return 0, true
		case !av.Value:
			return -1, true
		}
		return 1, true
	case *types.AttributeValueMemberNULL:
		if _, ok := b.(*types.AttributeValueMemberNULL); ok {
			return 0, true
		}
	}
	return 0, false
}

// CloneItem copies the top level of a document.
func CloneItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// setPath writes v at a dotted path, copying every map on the way so the
// source document is never mutated.
func setPath(item Item, path string, v types.AttributeValue) {
	parts := strings.Split(path, ".")
	current := item
	for _, part := range parts[:len(parts)-1] {
		next := Item{}
		if m, ok := current[part].(*types.AttributeValueMemberM); ok {
			next = CloneItem(m.Value)
		}
		current[part] = &types.AttributeValueMemberM{Value: next}
		current = next
	}
	current[parts[len(parts)-1]] = v
}

func removePath(item Item, path string) {
	parts := strings.Split(path, ".")
	current := item
	for _, part := range parts[:len(parts)-1] {
		m, ok := current[part].(*types.AttributeValueMemberM)
		if !ok {
			return
		}
		next := CloneItem(m.Value)
		current[part] = &types.AttributeValueMemberM{Value: next}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

// SortItems orders documents in place. Missing attributes sort first.
func SortItems(items []Item, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		return CompareItems(items[i], items[j], fields) < 0
	})
}

// CompareItems orders two documents by the given fields.
func CompareItems(x, y Item, fields []SortField) int {
	for _, f := range fields {
		a, okA := Lookup(x, f.Field)
		b, okB := Lookup(y, f.Field)
		var c int
		switch {
		case !okA && !okB:
			c = 0
		case !okA:
			c = -1
		case !okB:
			c = 1
		default:
			c, _ = CompareValues(a, b)
		}
		if f.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Project keeps only the id and the given paths of a document.
func Project(item Item, paths []string) Item {
	if len(paths) == 0 {
		return item
	}
	out := Item{}
	if id, ok := item[IDAttribute]; ok {
		out[IDAttribute] = id
	}
	for _, p := range paths {
		if v, ok := Lookup(item, p); ok {
			setPath(out, p, v)
		}
	}
	return out
}
