package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleSchema struct {
	A string `json:"a" description:"Field A"`
	B *int   `json:"b" description:"Optional pointer field"`
	C int    `json:"c,omitempty" description:"Omit empty field"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(sampleSchema{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")
	assert.Equal(t, []string{"a"}, schema["required"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x":    map[string]any{"type": "integer"},
			"unit": map[string]any{"type": "string", "enum": []string{"km", "m"}},
		},
		"required": []any{"x"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"x": 5.0, "unit": "km"}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "x", vErr.Field)

	err = ValidateParameters(map[string]any{"x": "not-int"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type integer")

	err = ValidateParameters(map[string]any{"x": 1.0, "unit": "parsec"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "unit", vErr.Field)
}

func TestValidateParameters_StringRequired(t *testing.T) {
	schema := CreateSchema(sampleSchema{})
	err := ValidateParameters(map[string]any{"b": 1.0}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "a", vErr.Field)
}

func TestCreateSchema_EnumTag(t *testing.T) {
	type convert struct {
		Value    float64 `json:"value"`
		Category string  `json:"category" enum:"length,weight,temperature"`
	}

	schema := CreateSchema(&convert{})
	props := schema["properties"].(map[string]any)
	assert.Equal(t, "number", props["value"].(map[string]any)["type"])
	assert.Equal(t, []string{"length", "weight", "temperature"}, props["category"].(map[string]any)["enum"])

	err := ValidateParameters(map[string]any{"value": 1.0, "category": "volume"}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "category", vErr.Field)
	assert.Contains(t, vErr.Error(), "length, weight, temperature")
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain <text>", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain <text>", out)

	out, err = RenderTemplate(`Hello {{default "guest" .name}} & co`, map[string]any{"name": ""})
	require.NoError(t, err)
	assert.Equal(t, "Hello guest & co", out)

	_, err = RenderTemplate("{{ .broken", nil)
	assert.Error(t, err)
}
