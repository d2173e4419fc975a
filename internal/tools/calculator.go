package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
)

// Calculate evaluates a mathematical expression. It expects an argument
// named "expression" containing the expression string.
func Calculate(ctx context.Context, input map[string]any) (map[string]any, error) {
	expression, ok := input["expression"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid or missing expression argument (expected string at key 'expression')")
	}

	expr, err := govaluate.NewEvaluableExpression(strings.TrimSpace(expression))
	if err != nil {
		return nil, fmt.Errorf("invalid mathematical expression %q: %w", expression, err)
	}

	result, err := expr.Evaluate(nil)
	if err != nil {
		return nil, fmt.Errorf("could not evaluate %q: %w", expression, err)
	}

	number, ok := result.(float64)
	if !ok {
		return nil, fmt.Errorf("expression %q did not evaluate to a number (got %T)", expression, result)
	}

	return map[string]any{
		"output": formatNumber(number),
		"value":  number,
	}, nil
}

// formatNumber renders whole results without a decimal point, the way a
// person would write a count.
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func validateCalculatorInput(input map[string]any) error {
	expression, ok := input["expression"]
	if !ok {
		return fmt.Errorf("missing expression (expected at key 'expression')")
	}
	exprStr, ok := expression.(string)
	if !ok {
		return fmt.Errorf("expression must be a string, got %T", expression)
	}
	if strings.TrimSpace(exprStr) == "" {
		return fmt.Errorf("expression cannot be empty")
	}
	return nil
}
