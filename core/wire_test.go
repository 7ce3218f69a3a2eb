package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalEvent_WireSchema(t *testing.T) {
	cases := []struct {
		name string
		ev   StreamEvent
		want string
	}{
		{"chunk", ChunkEvent{Text: "Hel"}, `{"chunk":"Hel"}`},
		{"start", StartEvent{ConversationID: "c1", UserMessageID: "m1"}, `{"event":"start","conversation_id":"c1","user_message_id":"m1"}`},
		{"turn_start", TurnStartEvent{Turn: 2}, `{"event":"turn_start","turn":2}`},
		{"tool_call", ToolCallEvent{ID: "t1", Name: "calculator", Args: json.RawMessage(`{"expression":"2+2"}`)},
			`{"event":"tool_call","tool_name":"calculator","tool_args":{"expression":"2+2"},"tool_call_id":"t1"}`},
		{"tool_result", ToolResultEvent{ID: "t1", Name: "calculator", Result: "2+2 = 4"},
			`{"event":"tool_result","tool_name":"calculator","tool_call_id":"t1","result":"2+2 = 4","is_error":false}`},
		{"agent_complete", AgentCompleteEvent{TotalTurns: 1}, `{"event":"agent_complete","total_turns":1}`},
		{"end", EndEvent{ConversationID: "c1", MessageID: "m2"}, `{"event":"end","conversation_id":"c1","message_id":"m2"}`},
		{"end without id", EndEvent{ConversationID: "c1"}, `{"event":"end","conversation_id":"c1","message_id":null}`},
		{"error", ErrorEvent{Message: "boom"}, `{"event":"error","message":"boom"}`},
		{"memory", MemoryConsolidationEvent{Result: ConsolidationResult{MemoryUpdate: "likes go"}},
			`{"event":"memory_consolidation","payload":{"memory_update":"likes go"}}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := MarshalEvent(c.ev)
			require.NoError(t, err)
			assert.JSONEq(t, c.want, string(got))

			back, err := UnmarshalEvent(got)
			require.NoError(t, err)
			assert.Equal(t, c.ev, back)
		})
	}
}

func TestUnmarshalEvent_Rejects(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{"event":"bogus"}`))
	assert.True(t, errors.Is(err, ErrUnknownEvent))

	_, err = UnmarshalEvent([]byte(`{"foo":1}`))
	assert.True(t, errors.Is(err, ErrUnknownEvent))

	_, err = UnmarshalEvent([]byte(`{"chunk":`))
	assert.Error(t, err)

	_, err = UnmarshalEvent([]byte(`{"chunk":"a"} {"chunk":"b"}`))
	assert.Error(t, err)
}

func TestUnmarshalEvent_ToolCallWithoutArgs(t *testing.T) {
	ev, err := UnmarshalEvent([]byte(`{"event":"tool_call","tool_name":"get_current_time","tool_call_id":"x"}`))
	require.NoError(t, err)
	tc := ev.(ToolCallEvent)
	assert.Equal(t, "{}", string(tc.Args))
}

func TestEncodeFrame(t *testing.T) {
	frame, err := EncodeFrame(ChunkEvent{Text: "a\n\nb"})
	require.NoError(t, err)
	s := string(frame)
	assert.True(t, strings.HasPrefix(s, "data: "))
	assert.True(t, strings.HasSuffix(s, "\n\n"))
	// newlines inside the payload are JSON-escaped, so the delimiter appears once
	assert.Equal(t, 1, strings.Count(s, "\n\n"))
}
