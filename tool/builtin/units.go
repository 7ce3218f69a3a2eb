package builtin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hupe1980/lumen/tool"
)

// Factors convert into the base unit of each table (metre, gram).
var (
	lengthUnits = map[string]float64{
		"km": 1000, "m": 1, "cm": 0.01, "mm": 0.001,
		"mile": 1609.34, "yard": 0.9144, "foot": 0.3048, "inch": 0.0254,
	}
	weightUnits = map[string]float64{
		"kg": 1000, "g": 1, "mg": 0.001,
		"lb": 453.592, "oz": 28.3495,
	}
)

// NewUnitConverter returns the unit_converter tool covering length, weight
// and celsius/fahrenheit temperature.
func NewUnitConverter() tool.Tool {
	return tool.NewFunctionTool(
		"unit_converter",
		"Convert a value between common units of length, weight and temperature.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value":     map[string]any{"type": "number", "description": "Value to convert"},
				"from_unit": map[string]any{"type": "string", "description": "Source unit (e.g. km, m, kg, lb, celsius, fahrenheit)"},
				"to_unit":   map[string]any{"type": "string", "description": "Target unit"},
			},
			"required": []string{"value", "from_unit", "to_unit"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			value, _ := args["value"].(float64)
			fromUnit, _ := args["from_unit"].(string)
			toUnit, _ := args["to_unit"].(string)

			result, ok := convert(value, strings.ToLower(fromUnit), strings.ToLower(toUnit))
			if !ok {
				return tool.Failure(fmt.Sprintf(
					"Cannot convert %s to %s. Both units must be of the same kind (length, weight or temperature).",
					fromUnit, toUnit)), nil
			}
			v := formatNumber(value)
			r := formatNumber(round4(result))
			return tool.Result{
				Content: fmt.Sprintf("%s %s = %s %s", v, fromUnit, r, toUnit),
				Display: fmt.Sprintf("%s %s -> %s %s", v, fromUnit, r, toUnit),
			}, nil
		},
	).WithLabel("Unit converter")
}

func convert(value float64, from, to string) (float64, bool) {
	if f, ok := lengthUnits[from]; ok {
		if t, ok := lengthUnits[to]; ok {
			return value * f / t, true
		}
	}
	if f, ok := weightUnits[from]; ok {
		if t, ok := weightUnits[to]; ok {
			return value * f / t, true
		}
	}
	switch {
	case from == "celsius" && to == "fahrenheit":
		return value*9/5 + 32, true
	case from == "fahrenheit" && to == "celsius":
		return (value - 32) * 5 / 9, true
	}
	return 0, false
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

func formatNumber(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
