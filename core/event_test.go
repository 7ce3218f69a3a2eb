package core

import (
	"encoding/json"
	"testing"
)

func TestEvent_KindsAndTerminal(t *testing.T) {
	cases := []struct {
		ev       StreamEvent
		kind     EventKind
		terminal bool
	}{
		{StartEvent{}, KindStart, false},
		{TurnStartEvent{Turn: 1}, KindTurnStart, false},
		{ChunkEvent{Text: "hi"}, KindChunk, false},
		{ToolCallEvent{ID: "t1"}, KindToolCall, false},
		{ToolResultEvent{ID: "t1"}, KindToolResult, false},
		{AgentCompleteEvent{TotalTurns: 1}, KindAgentComplete, false},
		{MemoryConsolidationEvent{}, KindMemoryConsolidation, false},
		{EndEvent{}, KindEnd, true},
		{ErrorEvent{Message: "x"}, KindError, true},
	}
	for _, c := range cases {
		if c.ev.Kind() != c.kind {
			t.Errorf("%T: expected kind %s got %s", c.ev, c.kind, c.ev.Kind())
		}
		if IsTerminal(c.ev) != c.terminal {
			t.Errorf("%T: expected terminal=%v", c.ev, c.terminal)
		}
	}
}

func TestToolCall_ResolveOnce(t *testing.T) {
	tc := ToolCall{ID: "t1", Name: "calculator"}
	if tc.Resolved() {
		t.Fatal("fresh tool call must not be resolved")
	}
	if err := tc.Resolve("2+2 = 4", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tc.Resolve("again", true); err != ErrToolCallResolved {
		t.Fatalf("expected ErrToolCallResolved, got %v", err)
	}
	if *tc.Result != "2+2 = 4" || tc.IsError {
		t.Fatalf("first outcome must win: %+v", tc)
	}
}

func TestToolCall_ArgsMap(t *testing.T) {
	tc := ToolCall{Args: json.RawMessage(`{"expression":"2+2"}`)}
	args, err := tc.ArgsMap()
	if err != nil || args["expression"] != "2+2" {
		t.Fatalf("unexpected args %v err %v", args, err)
	}

	empty, err := ToolCall{}.ArgsMap()
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty args should decode to empty map, got %v %v", empty, err)
	}

	if _, err := (ToolCall{Args: json.RawMessage(`[1,2`)}).ArgsMap(); err == nil {
		t.Fatal("expected error for malformed args")
	}
}

func TestConsolidationResult_IsEmpty(t *testing.T) {
	if !(ConsolidationResult{}).IsEmpty() {
		t.Error("zero result should be empty")
	}
	if (ConsolidationResult{HistoryEntry: "x"}).IsEmpty() {
		t.Error("result with history entry is not empty")
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem, RoleTool} {
		if !r.Valid() {
			t.Errorf("role %s should be valid", r)
		}
	}
	if Role("function").Valid() {
		t.Error("unknown role must be invalid")
	}
}

func TestTurnLimiter(t *testing.T) {
	tl := NewTurnLimiter(2)
	if n, err := tl.Next(); err != nil || n != 1 {
		t.Fatalf("turn 1: %d %v", n, err)
	}
	if n, err := tl.Next(); err != nil || n != 2 {
		t.Fatalf("turn 2: %d %v", n, err)
	}
	if _, err := tl.Next(); err != ErrTurnLimit {
		t.Fatalf("expected ErrTurnLimit, got %v", err)
	}
	if tl.Count() != 2 || tl.Remaining() != 0 {
		t.Fatalf("count=%d remaining=%d", tl.Count(), tl.Remaining())
	}
	if NewTurnLimiter(0).Remaining() != -1 {
		t.Fatal("zero max means unlimited")
	}
}
