package builtin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/hupe1980/lumen/tool"
)

var mathEnv = map[string]any{
	"sqrt":  math.Sqrt,
	"pow":   math.Pow,
	"log":   math.Log,
	"log10": math.Log10,
	"exp":   math.Exp,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"PI":    math.Pi,
	"E":     math.E,
}

// NewCalculator returns the calculator tool. Expressions are evaluated with
// expr in a sandbox that only exposes arithmetic and a few math functions;
// the "Math." prefix common in model output is accepted.
func NewCalculator() tool.Tool {
	return tool.NewFunctionTool(
		"calculator",
		"Evaluate a mathematical expression (arithmetic, powers, sqrt, pow, log, trigonometry).",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "Expression to evaluate, e.g. 2 + 3 * 4, sqrt(16), pow(2, 10)",
				},
			},
			"required": []string{"expression"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			expression, _ := args["expression"].(string)
			value, err := evaluate(expression)
			if err != nil {
				return tool.Failure(fmt.Sprintf("Unable to evaluate expression: %s", expression)), nil
			}
			return fmt.Sprintf("%s = %s", expression, value), nil
		},
	).WithLabel("Calculator")
}

func evaluate(expression string) (string, error) {
	src := strings.ReplaceAll(strings.TrimSpace(expression), "Math.", "")
	if src == "" {
		return "", fmt.Errorf("empty expression")
	}

	program, err := expr.Compile(src, expr.Env(mathEnv))
	if err != nil {
		return "", err
	}
	out, err := expr.Run(program, mathEnv)
	if err != nil {
		return "", err
	}

	switch v := out.(type) {
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("non-finite result")
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("non-numeric result %T", out)
	}
}
