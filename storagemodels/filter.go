/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Operator identifies the kind of a Filter node.
type Operator int

// Filter operators. OpAll is the zero value and matches every document.
const (
	OpAll        Operator = iota // matches everything
	OpAnd                        // all operands match
	OpOr                         // any operand matches
	OpNot                        // the single operand does not match
	OpEq                         // attribute equals the value
	OpNe                         // attribute is absent or differs from the value
	OpLt                         // attribute is less than the value
	OpLe                         // attribute is at most the value
	OpGt                         // attribute is greater than the value
	OpGe                         // attribute is at least the value
	OpExists                     // attribute is present
	OpNotExists                  // attribute is absent
	OpBeginsWith                 // string attribute starts with the prefix
	OpContains                   // string contains a substring, or set/list contains a member
	OpIn                         // attribute equals one of the values
)

var operatorNames = map[Operator]string{
	OpAll:        "all",
	OpAnd:        "and",
	OpOr:         "or",
	OpNot:        "not",
	OpEq:         "=",
	OpNe:         "<>",
	OpLt:         "<",
	OpLe:         "<=",
	OpGt:         ">",
	OpGe:         ">=",
	OpExists:     "attribute_exists",
	OpNotExists:  "attribute_not_exists",
	OpBeginsWith: "begins_with",
	OpContains:   "contains",
	OpIn:         "in",
}

// String returns the DynamoDB spelling of the operator.
func (o Operator) String() string {
	if s, ok := operatorNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// Filter is a condition over document attributes. Paths are attribute names,
// dotted for nested maps ("_lock.expiresAt"). The zero Filter matches everything.
//
// The same tree is evaluated in memory by Match and rendered to a DynamoDB
// condition expression by the ddb driver.
type Filter struct {
	Op       Operator
	Path     string
	Values   []any
	Operands []Filter
}

// Eq matches when the attribute at path equals v.
func Eq(path string, v any) Filter {
	return Filter{Op: OpEq, Path: path, Values: []any{v}}
}

// Ne matches when the attribute at path is absent or differs from v.
func Ne(path string, v any) Filter {
	return Filter{Op: OpNe, Path: path, Values: []any{v}}
}

// Lt matches when the attribute at path is less than v.
func Lt(path string, v any) Filter {
	return Filter{Op: OpLt, Path: path, Values: []any{v}}
}

// Le matches when the attribute at path is less than or equal to v.
func Le(path string, v any) Filter {
	return Filter{Op: OpLe, Path: path, Values: []any{v}}
}

// Gt matches when the attribute at path is greater than v.
func Gt(path string, v any) Filter {
	return Filter{Op: OpGt, Path: path, Values: []any{v}}
}

// Ge matches when the attribute at path is greater than or equal to v.
func Ge(path string, v any) Filter {
	return Filter{Op: OpGe, Path: path, Values: []any{v}}
}

// Exists matches documents that have an attribute at path.
func Exists(path string) Filter {
	return Filter{Op: OpExists, Path: path}
}

// NotExists matches documents without an attribute at path.
func NotExists(path string) Filter {
	return Filter{Op: OpNotExists, Path: path}
}

// BeginsWith matches when the string attribute at path starts with prefix.
func BeginsWith(path, prefix string) Filter {
	return Filter{Op: OpBeginsWith, Path: path, Values: []any{prefix}}
}

// Contains matches when the attribute at path contains v: a substring for
// strings, a member for sets and lists.
func Contains(path string, v any) Filter {
	return Filter{Op: OpContains, Path: path, Values: []any{v}}
}

// In matches when the attribute equals any of the values.
func In(path string, values ...any) Filter {
	return Filter{Op: OpIn, Path: path, Values: values}
}

// And combines filters; zero operands are dropped.
func And(filters ...Filter) Filter {
	return combine(OpAnd, filters)
}

// Or matches when any operand matches.
func Or(filters ...Filter) Filter {
	return combine(OpOr, filters)
}

// Not negates a filter.
func Not(f Filter) Filter {
	return Filter{Op: OpNot, Operands: []Filter{f}}
}

// And is the chaining form of And.
func (f Filter) And(other Filter) Filter {
	return And(f, other)
}

func combine(op Operator, filters []Filter) Filter {
	kept := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if !f.IsZero() {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return Filter{}
	case 1:
		return kept[0]
	}
	return Filter{Op: op, Operands: kept}
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.Op == OpAll
}

// String renders the filter for logs and error messages.
func (f Filter) String() string {
	switch f.Op {
	case OpAll:
		return "all"
	case OpAnd, OpOr:
		parts := make([]string, len(f.Operands))
		for i, o := range f.Operands {
			parts[i] = o.String()
		}
		return "(" + strings.Join(parts, " "+strings.ToUpper(f.Op.String())+" ") + ")"
	case OpNot:
		return "NOT " + f.Operands[0].String()
	case OpExists, OpNotExists:
		return fmt.Sprintf("%s(%s)", f.Op, f.Path)
	case OpBeginsWith, OpContains:
		return fmt.Sprintf("%s(%s, %v)", f.Op, f.Path, f.Values[0])
	case OpIn:
		return fmt.Sprintf("%s IN %v", f.Path, f.Values)
	}
	return fmt.Sprintf("%s %s %v", f.Path, f.Op, f.Values[0])
}

// Match evaluates the filter against a document.
func (f Filter) Match(item Item) (bool, error) {
	switch f.Op {
	case OpAll:
		return true, nil
	case OpAnd:
		for _, o := range f.Operands {
			ok, err := o.Match(item)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OpOr:
		for _, o := range f.Operands {
			ok, err := o.Match(item)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case OpNot:
		ok, err := f.Operands[0].Match(item)
		return !ok, err
	}

	attr, found := Lookup(item, f.Path)
	switch f.Op {
	case OpExists:
		return found, nil
	case OpNotExists:
		return !found, nil
	}

	values := make([]types.AttributeValue, len(f.Values))
	for i, v := range f.Values {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return false, fmt.Errorf("failed to marshal filter value for %q: %w", f.Path, err)
		}
		values[i] = av
	}

	if f.Op == OpNe {
		return !found || !EqualValues(attr, values[0]), nil
	}
	if !found {
		return false, nil
	}

	switch f.Op {
	case OpEq:
		return EqualValues(attr, values[0]), nil
	case OpIn:
		for _, v := range values {
			if EqualValues(attr, v) {
				return true, nil
			}
		}
		return false, nil
	case OpLt, OpLe, OpGt, OpGe:
		c, ok := CompareValues(attr, values[0])
		if !ok {
			return false, nil
		}
		switch f.Op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		}
		return c >= 0, nil
	case OpBeginsWith:
		s, ok1 := attr.(*types.AttributeValueMemberS)
		p, ok2 := values[0].(*types.AttributeValueMemberS)
		return ok1 && ok2 && strings.HasPrefix(s.Value, p.Value), nil
	case OpContains:
		return containsValue(attr, values[0]), nil
	}
	return false, fmt.Errorf("unsupported filter operator %s", f.Op)
}

func containsValue(attr, v types.AttributeValue) bool {
	switch a := attr.(type) {
	case *types.AttributeValueMemberS:
		s, ok := v.(*types.AttributeValueMemberS)
		return ok && strings.Contains(a.Value, s.Value)
	case *types.AttributeValueMemberSS:
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return false
		}
		for _, e := range a.Value {
			if e == s.Value {
				return true
			}
		}
	case *types.AttributeValueMemberNS:
		for _, e := range a.Value {
			if EqualValues(&types.AttributeValueMemberN{Value: e}, v) {
				return true
			}
		}
	case *types.AttributeValueMemberL:
		for _, e := range a.Value {
			if EqualValues(e, v) {
				return true
			}
		}
	}
	return false
}
