package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/lumen/core"
)

// Interface compliance (compile-time assertions)
var (
	_ core.MemoryStore  = (*InMemoryStore)(nil)
	_ core.SummaryStore = (*InMemoryStore)(nil)
)

func TestInMemoryStore_MemoryLastWriteWins(t *testing.T) {
	svc := NewInMemoryStore()
	ctx := context.Background()

	if _, err := svc.GetMemory(ctx, "u1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.UpsertMemory(ctx, "u1", "likes go", false); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	m, _ := svc.GetMemory(ctx, "u1")
	if m.Content != "likes go" || m.LastConsolidatedAt != nil {
		t.Fatalf("unexpected memory: %#v", m)
	}

	if _, err := svc.UpsertMemory(ctx, "u1", "likes go and tea", true); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	m, _ = svc.GetMemory(ctx, "u1")
	if m.Content != "likes go and tea" {
		t.Fatalf("expected replacement, got %q", m.Content)
	}
	if m.LastConsolidatedAt == nil {
		t.Fatal("consolidated write must stamp LastConsolidatedAt")
	}

	// returned value is a copy
	m.Content = "changed"
	m2, _ := svc.GetMemory(ctx, "u1")
	if m2.Content != "likes go and tea" {
		t.Fatalf("expected copy isolation, got %q", m2.Content)
	}
}

func TestInMemoryStore_Summaries(t *testing.T) {
	svc := NewInMemoryStore()
	ctx := context.Background()

	for _, s := range []string{"first", "second"} {
		if _, err := svc.AppendSummary(ctx, "c1", s); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	got, err := svc.ListSummaries(ctx, "c1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 || got[0].Summary != "first" || got[1].Summary != "second" {
		t.Fatalf("unexpected summaries: %#v", got)
	}
	if got[0].ID == got[1].ID {
		t.Fatal("summary ids must be unique")
	}

	empty, _ := svc.ListSummaries(ctx, "other")
	if len(empty) != 0 {
		t.Fatalf("expected no summaries, got %d", len(empty))
	}
}
