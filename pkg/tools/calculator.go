package tools

import (
	"context"
	"fmt"

	"github.com/Knetic/govaluate"
)

// CalculatorTool evaluates arithmetic expressions locally so the model
// never does mental math.
type CalculatorTool struct{}

func NewCalculatorTool() *CalculatorTool {
	return &CalculatorTool{}
}

func (t *CalculatorTool) Name() string {
	return "calculator"
}

func (t *CalculatorTool) Description() string {
	return "Evaluate a mathematical expression. Supports arithmetic operators, parentheses, comparisons and the modulo operator."
}

func (t *CalculatorTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"expression": map[string]interface{}{
				"type":        "string",
				"description": "Expression to evaluate, e.g. (2 + 3) * 4 / 1.5",
			},
		},
		"required": []string{"expression"},
	}
}

func (t *CalculatorTool) Execute(_ context.Context, args map[string]interface{}) *ToolResult {
	expression, ok := args["expression"].(string)
	if !ok || expression == "" {
		return ErrorResult("expression is required")
	}

	expr, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid expression: %v", err)).WithError(err)
	}

	value, err := expr.Evaluate(nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("evaluation failed: %v", err)).WithError(err)
	}

	return Result(fmt.Sprintf("%v", value))
}
