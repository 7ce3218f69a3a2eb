package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEvent is returned by UnmarshalEvent for payloads that are valid
// JSON but match none of the known event shapes.
var ErrUnknownEvent = errors.New("unknown stream event")

// wireEvent is the client-visible JSON shape. A frame is discriminated by the
// presence of "chunk" or by the "event" field.
type wireEvent struct {
	Chunk          *string              `json:"chunk,omitempty"`
	Event          EventKind            `json:"event,omitempty"`
	ConversationID *string              `json:"conversation_id,omitempty"`
	UserMessageID  *string              `json:"user_message_id,omitempty"`
	MessageID      *json.RawMessage     `json:"message_id,omitempty"`
	Turn           *int                 `json:"turn,omitempty"`
	ToolName       *string              `json:"tool_name,omitempty"`
	ToolArgs       json.RawMessage      `json:"tool_args,omitempty"`
	ToolCallID     *string              `json:"tool_call_id,omitempty"`
	Result         *string              `json:"result,omitempty"`
	IsError        *bool                `json:"is_error,omitempty"`
	TotalTurns     *int                 `json:"total_turns,omitempty"`
	Payload        *ConsolidationResult `json:"payload,omitempty"`
	Message        *string              `json:"message,omitempty"`
}

var jsonNull = json.RawMessage("null")

// MarshalEvent encodes ev using the wire schema.
func MarshalEvent(ev StreamEvent) ([]byte, error) {
	var w wireEvent
	switch e := ev.(type) {
	case ChunkEvent:
		w.Chunk = &e.Text
	case StartEvent:
		w.Event = KindStart
		w.ConversationID = &e.ConversationID
		w.UserMessageID = &e.UserMessageID
	case TurnStartEvent:
		w.Event = KindTurnStart
		w.Turn = &e.Turn
	case ToolCallEvent:
		w.Event = KindToolCall
		w.ToolName = &e.Name
		w.ToolCallID = &e.ID
		w.ToolArgs = e.Args
		if len(w.ToolArgs) == 0 {
			w.ToolArgs = json.RawMessage("{}")
		}
	case ToolResultEvent:
		w.Event = KindToolResult
		w.ToolName = &e.Name
		w.ToolCallID = &e.ID
		w.Result = &e.Result
		w.IsError = &e.IsError
	case AgentCompleteEvent:
		w.Event = KindAgentComplete
		w.TotalTurns = &e.TotalTurns
	case MemoryConsolidationEvent:
		w.Event = KindMemoryConsolidation
		w.Payload = &e.Result
	case EndEvent:
		w.Event = KindEnd
		w.ConversationID = &e.ConversationID
		id := jsonNull
		if e.MessageID != "" {
			b, err := json.Marshal(e.MessageID)
			if err != nil {
				return nil, err
			}
			id = b
		}
		w.MessageID = &id
	case ErrorEvent:
		w.Event = KindError
		w.Message = &e.Message
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	return json.Marshal(w)
}

// UnmarshalEvent decodes a wire payload into its StreamEvent variant.
func UnmarshalEvent(data []byte) (StreamEvent, error) {
	var w wireEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after event object")
	}
	if w.Chunk != nil && w.Event == "" {
		return ChunkEvent{Text: *w.Chunk}, nil
	}
	switch w.Event {
	case KindStart:
		return StartEvent{ConversationID: deref(w.ConversationID), UserMessageID: deref(w.UserMessageID)}, nil
	case KindTurnStart:
		return TurnStartEvent{Turn: derefInt(w.Turn)}, nil
	case KindToolCall:
		args := w.ToolArgs
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		return ToolCallEvent{ID: deref(w.ToolCallID), Name: deref(w.ToolName), Args: args}, nil
	case KindToolResult:
		isErr := false
		if w.IsError != nil {
			isErr = *w.IsError
		}
		return ToolResultEvent{ID: deref(w.ToolCallID), Name: deref(w.ToolName), Result: deref(w.Result), IsError: isErr}, nil
	case KindAgentComplete:
		return AgentCompleteEvent{TotalTurns: derefInt(w.TotalTurns)}, nil
	case KindMemoryConsolidation:
		var res ConsolidationResult
		if w.Payload != nil {
			res = *w.Payload
		}
		return MemoryConsolidationEvent{Result: res}, nil
	case KindEnd:
		end := EndEvent{ConversationID: deref(w.ConversationID)}
		if w.MessageID != nil && !bytes.Equal(*w.MessageID, jsonNull) {
			if err := json.Unmarshal(*w.MessageID, &end.MessageID); err != nil {
				return nil, fmt.Errorf("end.message_id: %w", err)
			}
		}
		return end, nil
	case KindError:
		return ErrorEvent{Message: deref(w.Message)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, w.Event)
	}
}

// EncodeFrame renders ev as one SSE frame: "data: <json>" followed by a
// blank line.
func EncodeFrame(ev StreamEvent) ([]byte, error) {
	payload, err := MarshalEvent(ev)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
