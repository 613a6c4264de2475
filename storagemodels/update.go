/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
)

// UpdateKind is the action of a single update operation.
type UpdateKind int

// Update kinds.
const (
	UpdateSet    UpdateKind = iota // assign a value
	UpdateRemove                   // delete the attribute
)

// UpdateOp is one attribute change.
type UpdateOp struct {
	Kind  UpdateKind
	Path  string
	Value any
}

// Update is an ordered list of attribute changes applied to one document.
type Update struct {
	Ops []UpdateOp
}

// Set starts an update that assigns v at path.
func Set(path string, v any) Update {
	return Update{}.Set(path, v)
}

// Remove starts an update that deletes the attribute at path.
func Remove(path string) Update {
	return Update{}.Remove(path)
}

// Set returns a copy of u that also assigns v at path.
func (u Update) Set(path string, v any) Update {
	ops := append(append([]UpdateOp(nil), u.Ops...), UpdateOp{Kind: UpdateSet, Path: path, Value: v})
	return Update{Ops: ops}
}

// Remove returns a copy of u that also deletes the attribute at path.
func (u Update) Remove(path string) Update {
	ops := append(append([]UpdateOp(nil), u.Ops...), UpdateOp{Kind: UpdateRemove, Path: path})
	return Update{Ops: ops}
}

// IsZero reports whether the update changes nothing.
func (u Update) IsZero() bool {
	return len(u.Ops) == 0
}

// Touches reports whether any operation writes the given top-level attribute.
func (u Update) Touches(attr string) bool {
	for _, op := range u.Ops {
		if op.Path == attr || len(op.Path) > len(attr) && op.Path[:len(attr)+1] == attr+"." {
			return true
		}
	}
	return false
}

// Apply returns a copy of item with the update applied.
func (u Update) Apply(item Item) (Item, error) {
	out := CloneItem(item)
	if out == nil {
		out = Item{}
	}
	for _, op := range u.Ops {
		switch op.Kind {
		case UpdateSet:
			av, err := attributevalue.Marshal(op.Value)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal update value for %q: %w", op.Path, err)
			}
			setPath(out, op.Path, av)
		case UpdateRemove:
			removePath(out, op.Path)
		default:
			return nil, fmt.Errorf("unsupported update kind %d", op.Kind)
		}
	}
	return out, nil
}
