package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Tool = (*FunctionTool)(nil)

func sumParams() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}
}

func sumTool() *FunctionTool {
	return NewFunctionTool("sum", "Add numbers", sumParams(), func(_ context.Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

// -------------------- FunctionTool Tests --------------------

func TestFunctionTool_Success(t *testing.T) {
	res, err := sumTool().Execute(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, "5", res.Content)
	assert.False(t, res.IsError)
}

func TestFunctionTool_StringAndResultOutputs(t *testing.T) {
	str := NewFunctionTool("s", "", nil, func(context.Context, map[string]any) (any, error) { return "plain", nil })
	res, err := str.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "plain", res.Content)

	soft := NewFunctionTool("f", "", nil, func(context.Context, map[string]any) (any, error) {
		return Failure("not supported"), nil
	})
	res, err = soft.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "not supported", res.Content)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	_, err := sumTool().Execute(context.Background(), map[string]any{"a": 1.0})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	execTool := NewFunctionTool("fail", "Fails", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := execTool.Execute(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Equal(t, "boom", toolErr.Message)
}

func TestFunctionTool_CustomToolErrorPreserved(t *testing.T) {
	custom := NewFunctionTool("c", "", nil, func(context.Context, map[string]any) (any, error) {
		return nil, NewToolError("c", "quota exceeded", "RATE_LIMIT")
	})
	_, err := custom.Execute(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "RATE_LIMIT", toolErr.Code)
	assert.Equal(t, "tool error [RATE_LIMIT] in c: quota exceeded", toolErr.Error())
}

func TestFunctionToolFromStruct(t *testing.T) {
	type args struct {
		Query string `json:"query" description:"search text"`
	}
	ft := NewFunctionToolFromStruct("search", "Search", args{}, func(_ context.Context, a map[string]any) (any, error) {
		return a["query"], nil
	}).WithLabel("Search")

	assert.Equal(t, "Search", ft.Label())
	assert.Equal(t, []string{"query"}, ft.Parameters()["required"])
}

// -------------------- Registry Tests --------------------

func TestRegistry_RegisterAndDefinitions(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewFunctionTool("zeta", "z", nil, nil))
	reg.Register(sumTool())

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "sum", defs[0].Name)
	assert.Equal(t, "zeta", defs[1].Name)
	assert.Equal(t, []string{"sum", "zeta"}, reg.Names())
}

type recordingLogger struct{ warns []string }

func (l *recordingLogger) Debug(string, ...any)     {}
func (l *recordingLogger) Info(string, ...any)      {}
func (l *recordingLogger) Warn(msg string, _ ...any) { l.warns = append(l.warns, msg) }
func (l *recordingLogger) Error(string, ...any)     {}

func TestRegistry_OverwriteWarnsAndLastWins(t *testing.T) {
	logger := &recordingLogger{}
	reg := NewRegistry(func(o *RegistryOptions) { o.Logger = logger })

	reg.Register(NewFunctionTool("dup", "first", nil, nil))
	reg.Register(NewFunctionTool("dup", "second", nil, nil))

	got, ok := reg.Get("dup")
	require.True(t, ok)
	assert.Equal(t, "second", got.Description())
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, []string{"tool.registry.overwrite"}, logger.warns)
}

func TestRegistry_Execute(t *testing.T) {
	reg := NewRegistry()
	reg.Register(sumTool())

	res, err := reg.Execute(context.Background(), "sum", json.RawMessage(`{"a":1,"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, "3", res.Content)

	_, err = reg.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = reg.Execute(context.Background(), "sum", json.RawMessage(`{"a":`))
	assert.Error(t, err)
}
