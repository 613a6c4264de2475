/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/suparena/entityrepo/storagemodels"
)

// buildExpression renders the non-zero parts into one DynamoDB expression.
// It returns nil when there is nothing to render.
func buildExpression(cond storagemodels.Filter, update storagemodels.Update, projection []string, filter storagemodels.Filter) (*expression.Expression, error) {
	builder := expression.NewBuilder()
	empty := true

	if !cond.IsZero() {
		c, err := conditionOf(cond)
		if err != nil {
			return nil, err
		}
		builder = builder.WithCondition(c)
		empty = false
	}
	if !filter.IsZero() {
		f, err := conditionOf(filter)
		if err != nil {
			return nil, err
		}
		builder = builder.WithFilter(f)
		empty = false
	}
	if !update.IsZero() {
		u, err := updateOf(update)
		if err != nil {
			return nil, err
		}
		builder = builder.WithUpdate(u)
		empty = false
	}
	if len(projection) > 0 {
		builder = builder.WithProjection(projectionOf(projection))
		empty = false
	}
	if empty {
		return nil, nil
	}

	expr, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return &expr, nil
}

// conditionOf translates a filter tree into a condition builder.
func conditionOf(f storagemodels.Filter) (expression.ConditionBuilder, error) {
	switch f.Op {
	case storagemodels.OpAnd, storagemodels.OpOr:
		return combineConditions(f)
	case storagemodels.OpNot:
		inner, err := conditionOf(f.Operands[0])
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		return expression.Not(inner), nil
	case storagemodels.OpAll:
		return expression.ConditionBuilder{}, fmt.Errorf("match-all filter cannot be nested")
	}

	name := expression.Name(f.Path)
	switch f.Op {
	case storagemodels.OpExists:
		return name.AttributeExists(), nil
	case storagemodels.OpNotExists:
		return name.AttributeNotExists(), nil
	case storagemodels.OpIn:
		if len(f.Values) == 0 {
			return expression.ConditionBuilder{}, fmt.Errorf("IN filter on %q needs at least one value", f.Path)
		}
		others := make([]expression.OperandBuilder, 0, len(f.Values)-1)
		for _, v := range f.Values[1:] {
			others = append(others, expression.Value(v))
		}
		return name.In(expression.Value(f.Values[0]), others...), nil
	}

	if len(f.Values) != 1 {
		return expression.ConditionBuilder{}, fmt.Errorf("%s filter on %q needs exactly one value", f.Op, f.Path)
	}
	value := f.Values[0]

	switch f.Op {
	case storagemodels.OpEq:
		return name.Equal(expression.Value(value)), nil
	case storagemodels.OpNe:
		// A comparison against a missing attribute is false in DynamoDB, while
		// "not equal" should hold for documents that lack the attribute.
		return expression.Or(name.AttributeNotExists(), name.NotEqual(expression.Value(value))), nil
	case storagemodels.OpLt:
		return name.LessThan(expression.Value(value)), nil
	case storagemodels.OpLe:
		return name.LessThanEqual(expression.Value(value)), nil
	case storagemodels.OpGt:
		return name.GreaterThan(expression.Value(value)), nil
	case storagemodels.OpGe:
		return name.GreaterThanEqual(expression.Value(value)), nil
	case storagemodels.OpBeginsWith:
		prefix, ok := value.(string)
		if !ok {
			return expression.ConditionBuilder{}, fmt.Errorf("begins_with on %q needs a string prefix", f.Path)
		}
		return name.BeginsWith(prefix), nil
	case storagemodels.OpContains:
		substr, ok := value.(string)
		if !ok {
			return expression.ConditionBuilder{}, fmt.Errorf("contains on %q needs a string operand", f.Path)
		}
		return name.Contains(substr), nil
	}
	return expression.ConditionBuilder{}, fmt.Errorf("unsupported filter operator %s", f.Op)
}

func combineConditions(f storagemodels.Filter) (expression.ConditionBuilder, error) {
	parts := make([]expression.ConditionBuilder, 0, len(f.Operands))
	for _, o := range f.Operands {
		if o.IsZero() {
			continue
		}
		c, err := conditionOf(o)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		parts = append(parts, c)
	}

	switch len(parts) {
	case 0:
		return expression.ConditionBuilder{}, fmt.Errorf("empty %s filter", f.Op)
	case 1:
		return parts[0], nil
	}
	if f.Op == storagemodels.OpAnd {
		return expression.And(parts[0], parts[1], parts[2:]...), nil
	}
	return expression.Or(parts[0], parts[1], parts[2:]...), nil
}

// updateOf translates an update into SET and REMOVE clauses.
func updateOf(u storagemodels.Update) (expression.UpdateBuilder, error) {
	var builder expression.UpdateBuilder
	for _, op := range u.Ops {
		switch op.Kind {
		case storagemodels.UpdateSet:
			builder = builder.Set(expression.Name(op.Path), expression.Value(op.Value))
		case storagemodels.UpdateRemove:
			builder = builder.Remove(expression.Name(op.Path))
		default:
			return expression.UpdateBuilder{}, fmt.Errorf("unsupported update kind %d", op.Kind)
		}
	}
	return builder, nil
}

// projectionOf always keeps the key so projected documents can be decoded and resumed.
func projectionOf(fields []string) expression.ProjectionBuilder {
	names := make([]expression.NameBuilder, 0, len(fields))
	seen := map[string]bool{storagemodels.IDAttribute: true}
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			names = append(names, expression.Name(f))
		}
	}
	return expression.NamesList(expression.Name(storagemodels.IDAttribute), names...)
}
