package extractor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Evaluator runs JMESPath expressions against decoded package documents. Compiled
// expressions are kept for the life of the evaluator since mappings are fixed.
type Evaluator struct {
	compiled sync.Map // expression -> *jmespath.JMESPath
}

// NewEvaluator creates an evaluator with an empty expression cache
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

func (e *Evaluator) compile(expression string) (*jmespath.JMESPath, error) {
	if c, ok := e.compiled.Load(expression); ok {
		return c.(*jmespath.JMESPath), nil
	}
	c, err := jmespath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	actual, _ := e.compiled.LoadOrStore(expression, c)
	return actual.(*jmespath.JMESPath), nil
}

// Validate compiles expression without running it
func (e *Evaluator) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := e.compile(expression)
	return err
}

// Evaluate runs expression against data. An empty expression yields nil.
func (e *Evaluator) Evaluate(expression string, data any) (any, error) {
	if expression == "" {
		return nil, nil
	}
	c, err := e.compile(expression)
	if err != nil {
		return nil, err
	}
	out, err := c.Search(data)
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", expression, err)
	}
	return out, nil
}

// EvaluateStrings collects every non-empty scalar the expression yields, depth first
func (e *Evaluator) EvaluateStrings(expression string, data any) ([]string, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return nil, err
	}
	return appendScalars(nil, result), nil
}

// EvaluateString returns the first scalar the expression yields
func (e *Evaluator) EvaluateString(expression string, data any) (string, error) {
	values, err := e.EvaluateStrings(expression, data)
	if err != nil || len(values) == 0 {
		return "", err
	}
	return values[0], nil
}

// EvaluateInt reads a whole number. JATS often carries numbers as text, so numeric
// strings are accepted; a missing value is zero.
func (e *Evaluator) EvaluateInt(expression string, data any) (int, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return 0, err
	}
	switch v := result.(type) {
	case nil:
		return 0, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expression %q: %v is not a whole number", expression, v)
		}
		return int(v), nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("expression %q: %w", expression, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expression %q: cannot read %T as a number", expression, result)
}

// EvaluateSlice returns the result as a list; a single value becomes a one-item list
func (e *Evaluator) EvaluateSlice(expression string, data any) ([]any, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil || result == nil {
		return nil, err
	}
	if items, ok := result.([]any); ok {
		return items, nil
	}
	return []any{result}, nil
}

func appendScalars(out []string, v any) []string {
	switch t := v.(type) {
	case string:
		if t != "" {
			out = append(out, t)
		}
	case float64:
		out = append(out, strconv.FormatFloat(t, 'f', -1, 64))
	case bool:
		out = append(out, strconv.FormatBool(t))
	case []any:
		for _, item := range t {
			out = appendScalars(out, item)
		}
	}
	return out
}
