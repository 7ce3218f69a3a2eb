package util

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// ValidationError reports a tool argument that does not match the tool's
// parameter schema.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Message)
}

// CreateSchema derives a JSON schema object from the exported fields of a
// struct. Field names follow the json tag; the description and enum tags
// (enum is comma separated) are copied into the property. Fields that are
// neither pointers nor omitempty are required.
func CreateSchema(structType any) map[string]any {
	properties := map[string]any{}
	schema := map[string]any{"type": "object", "properties": properties}

	t := reflect.TypeOf(structType)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return schema
	}

	var required []string
	for field := range fields(t) {
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}

		prop := map[string]any{"type": jsonType(field.Type)}
		if d := field.Tag.Get("description"); d != "" {
			prop["description"] = d
		}
		if e := field.Tag.Get("enum"); e != "" {
			prop["enum"] = strings.Split(e, ",")
		}
		properties[name] = prop

		if field.Type.Kind() != reflect.Pointer && !slices.Contains(strings.Split(opts, ","), "omitempty") {
			required = append(required, name)
		}
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func fields(t reflect.Type) func(yield func(reflect.StructField) bool) {
	return func(yield func(reflect.StructField) bool) {
		for i := range t.NumField() {
			if f := t.Field(i); f.IsExported() && !yield(f) {
				return
			}
		}
	}
}

// ValidateParameters checks decoded tool arguments against schema: required
// fields, property types and enums. Unknown arguments are allowed.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, name := range stringList(schema["required"]) {
		if _, ok := params[name]; !ok {
			return &ValidationError{Field: name, Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range params {
		prop, ok := properties[name].(map[string]any)
		if !ok || value == nil {
			continue
		}
		if err := validateProperty(name, value, prop); err != nil {
			return err
		}
	}
	return nil
}

func validateProperty(name string, value any, prop map[string]any) error {
	want, _ := prop["type"].(string)
	if !hasType(value, want) {
		return &ValidationError{
			Field:   name,
			Value:   value,
			Message: fmt.Sprintf("expected type %s, got %T", want, value),
		}
	}
	if enum := stringList(prop["enum"]); len(enum) > 0 && !slices.Contains(enum, fmt.Sprint(value)) {
		return &ValidationError{
			Field:   name,
			Value:   value,
			Message: fmt.Sprintf("must be one of %s", strings.Join(enum, ", ")),
		}
	}
	return nil
}

// stringList accepts both the []string of Go literals and the []any of
// decoded JSON.
func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Pointer:
		return jsonType(t.Elem())
	default:
		return "string"
	}
}

// hasType reports whether a decoded JSON value fits a schema type. Numbers
// arrive as float64, so an integer is a float64 without fraction.
func hasType(value any, want string) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
