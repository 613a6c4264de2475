/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sm "github.com/suparena/entityrepo/storagemodels"
)

func nameSet(names map[string]string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func TestBuildExpression(t *testing.T) {
	t.Run("NothingToRender", func(t *testing.T) {
		expr, err := buildExpression(sm.Filter{}, sm.Update{}, nil, sm.Filter{})
		require.NoError(t, err)
		assert.Nil(t, expr)
	})

	t.Run("ConditionOnly", func(t *testing.T) {
		expr, err := buildExpression(sm.NotExists(sm.IDAttribute), sm.Update{}, nil, sm.Filter{})
		require.NoError(t, err)
		require.NotNil(t, expr)
		assert.Contains(t, aws.ToString(expr.Condition()), "attribute_not_exists")
		assert.Nil(t, expr.Update())
		assert.True(t, nameSet(expr.Names())[sm.IDAttribute])
	})

	t.Run("NotEqualAcceptsMissingAttribute", func(t *testing.T) {
		expr, err := buildExpression(sm.Filter{}, sm.Update{}, nil, sm.Ne("status", "gone"))
		require.NoError(t, err)
		filter := aws.ToString(expr.Filter())
		assert.Contains(t, filter, "attribute_not_exists")
		assert.Contains(t, filter, "<>")
		assert.Contains(t, filter, "OR")
	})

	t.Run("NestedPaths", func(t *testing.T) {
		cond := sm.Or(sm.NotExists(sm.LockAttribute), sm.Le(sm.LockAttribute+".expiresAt", int64(42)))
		expr, err := buildExpression(cond, sm.Update{}, nil, sm.Filter{})
		require.NoError(t, err)

		names := nameSet(expr.Names())
		assert.True(t, names[sm.LockAttribute])
		assert.True(t, names["expiresAt"])

		var found bool
		for _, v := range expr.Values() {
			if n, ok := v.(*types.AttributeValueMemberN); ok && n.Value == "42" {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("UpdateWithCondition", func(t *testing.T) {
		update := sm.Set("name", "x").Remove(sm.LockAttribute)
		expr, err := buildExpression(sm.Eq(sm.LockAttribute+".key", "k1"), update, nil, sm.Filter{})
		require.NoError(t, err)

		rendered := aws.ToString(expr.Update())
		assert.Contains(t, rendered, "SET")
		assert.Contains(t, rendered, "REMOVE")
		assert.NotNil(t, expr.Condition())
	})

	t.Run("ProjectionKeepsKey", func(t *testing.T) {
		expr, err := buildExpression(sm.Filter{}, sm.Update{}, []string{"name", "name"}, sm.Filter{})
		require.NoError(t, err)
		names := nameSet(expr.Names())
		assert.True(t, names[sm.IDAttribute])
		assert.True(t, names["name"])
		assert.Len(t, expr.Names(), 2)
	})

	t.Run("InAndNot", func(t *testing.T) {
		expr, err := buildExpression(sm.Filter{}, sm.Update{}, nil, sm.Not(sm.In("score", 1, 2, 3)))
		require.NoError(t, err)
		filter := aws.ToString(expr.Filter())
		assert.Contains(t, filter, "NOT")
		assert.Contains(t, filter, "IN")
		assert.Len(t, expr.Values(), 3)
	})

	t.Run("InvalidOperands", func(t *testing.T) {
		_, err := buildExpression(sm.Filter{}, sm.Update{}, nil, sm.BeginsWith("name", "a").And(sm.Contains("tags", 5)))
		assert.Error(t, err)

		_, err = buildExpression(sm.Filter{}, sm.Update{}, nil, sm.In("score"))
		assert.Error(t, err)
	})
}
