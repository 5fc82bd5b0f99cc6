package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator(t *testing.T) {
	doc := map[string]any{
		"ids":     []any{"a", "", []any{"b", 3.0}, true},
		"embargo": "12",
		"volume":  4.0,
		"ratio":   1.5,
		"author":  map[string]any{"name": "Smith"},
	}
	e := NewEvaluator()

	values, err := e.EvaluateStrings("ids", doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "3", "true"}, values)

	s, err := e.EvaluateString("author.name", doc)
	require.NoError(t, err)
	assert.Equal(t, "Smith", s)

	s, err = e.EvaluateString("missing", doc)
	require.NoError(t, err)
	assert.Empty(t, s)

	n, err := e.EvaluateInt("embargo", doc)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = e.EvaluateInt("volume", doc)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = e.EvaluateInt("ratio", doc)
	assert.Error(t, err)

	_, err = e.EvaluateInt("author", doc)
	assert.Error(t, err)

	items, err := e.EvaluateSlice("author", doc)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = e.EvaluateSlice("missing", doc)
	require.NoError(t, err)
	assert.Nil(t, items)

	result, err := e.Evaluate("", doc)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestEvaluatorRejectsInvalidExpression(t *testing.T) {
	e := NewEvaluator()

	assert.NoError(t, e.Validate("front.article_meta"))
	assert.NoError(t, e.Validate(""))
	assert.Error(t, e.Validate("front.["))

	_, err := e.Evaluate("front.[", map[string]any{})
	assert.ErrorContains(t, err, "invalid expression")
}
