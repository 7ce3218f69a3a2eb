package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/lumen/tool"
)

// SearchResult is one hit returned by a Searcher.
type SearchResult struct {
	Title   string
	Snippet string
}

// Searcher is the backend behind web_search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// MockSearcher returns canned results after a simulated latency.
type MockSearcher struct {
	Latency time.Duration
}

// NewMockSearcher returns a MockSearcher with a one second latency.
func NewMockSearcher() *MockSearcher { return &MockSearcher{Latency: time.Second} }

// Search implements Searcher.
func (m *MockSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if m.Latency > 0 {
		t := time.NewTimer(m.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return []SearchResult{
		{Title: fmt.Sprintf("%q - definition", query), Snippet: "Encyclopedia"},
		{Title: fmt.Sprintf("%q - latest news", query), Snippet: "News"},
		{Title: fmt.Sprintf("%q - discussions on GitHub", query), Snippet: "GitHub"},
	}, nil
}

// NewWebSearch returns the web_search tool backed by s.
func NewWebSearch(s Searcher) tool.Tool {
	if s == nil {
		s = NewMockSearcher()
	}
	return tool.NewFunctionTool(
		"web_search",
		"Search the internet for recent information. Use it for news, current events or facts you are unsure about.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Search keywords"},
			},
			"required": []string{"query"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			hits, err := s.Search(ctx, query)
			if err != nil {
				return nil, err
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Search results for %q:", query)
			for i, h := range hits {
				fmt.Fprintf(&b, "\n%d. %s - %s", i+1, h.Title, h.Snippet)
			}
			return tool.Result{
				Content: b.String(),
				Display: fmt.Sprintf("Searched %q, found %d results", query, len(hits)),
			}, nil
		},
	).WithLabel("Web search")
}
