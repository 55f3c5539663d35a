package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harborline/docent/internal/kb"
	"github.com/harborline/docent/internal/llm"
	"github.com/harborline/docent/internal/websearch"
)

type fakeIndex[T any] struct {
	records []T
	err     error
	queries []string
	limits  []int
}

func (f *fakeIndex[T]) Search(ctx context.Context, query string, limit int) (*kb.SearchResult[T], error) {
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return &kb.SearchResult[T]{Records: f.records, RefreshedAt: time.Now()}, nil
}

type fakeWeb struct {
	results []websearch.Result
	err     error
}

func (f *fakeWeb) Search(ctx context.Context, query string, opts websearch.Options) ([]websearch.Result, error) {
	return f.results, f.err
}

type fixture struct {
	catalog *fakeIndex[kb.CatalogRecord]
	tables  *fakeIndex[kb.TableRow]
	faq     *fakeIndex[kb.QAPair]
	images  *fakeIndex[kb.ImageRecord]
	web     *fakeWeb
	reg     *Registry
}

func newFixture() *fixture {
	f := &fixture{
		catalog: &fakeIndex[kb.CatalogRecord]{},
		tables:  &fakeIndex[kb.TableRow]{},
		faq:     &fakeIndex[kb.QAPair]{},
		images:  &fakeIndex[kb.ImageRecord]{},
		web:     &fakeWeb{},
	}
	f.reg = NewRegistry(f.catalog, f.tables, f.faq, f.images, f.web, nil, nil)
	return f
}

func TestSpecsDeclareAllTools(t *testing.T) {
	specs := newFixture().reg.Specs()
	want := []string{"catalog_search", "table_search", "faq_search", "image_search", "web_search"}
	if len(specs) != len(want) {
		t.Fatalf("expected %d specs, got %d", len(want), len(specs))
	}
	for i, name := range want {
		if specs[i].Name != name {
			t.Errorf("spec %d = %q, want %q", i, specs[i].Name, name)
		}
		if specs[i].InputSchema == nil {
			t.Errorf("spec %q has no input schema", name)
		}
	}
}

func TestValidate(t *testing.T) {
	f := newFixture()
	if err := f.reg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	f.reg.tools["catalog_search"].Handler = nil
	if err := f.reg.Validate(); err == nil {
		t.Fatal("expected error for handler-less tool")
	}
}

func TestDispatchMissingQuery(t *testing.T) {
	f := newFixture()
	for _, args := range []map[string]any{
		nil,
		{},
		{"query": 42},
	} {
		res := f.reg.Dispatch(context.Background(), llm.ToolCall{ID: "c1", Name: "catalog_search", Arguments: args})
		if !res.IsError {
			t.Errorf("args %v: expected error result", args)
		}
		var payload map[string]string
		if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
			t.Fatalf("args %v: content not JSON: %v", args, err)
		}
		if payload["error"] != "Missing required 'query' argument" {
			t.Errorf("args %v: payload = %q", args, payload["error"])
		}
	}
	if len(f.catalog.queries) != 0 {
		t.Error("handler must not run on a malformed call")
	}
}

// An explicit empty string is a present, well-typed argument: it is
// handed to the index, whose ranking returns records in snapshot order
// for a query with no tokens.
func TestDispatchEmptyQueryReachesHandler(t *testing.T) {
	f := newFixture()
	f.catalog.records = []kb.CatalogRecord{{Name: "Anchor", Source: "a.json"}}

	res := f.reg.Dispatch(context.Background(), llm.ToolCall{ID: "c1", Name: "catalog_search", Arguments: map[string]any{"query": ""}})
	if res.IsError {
		t.Fatalf("empty query rejected: %s", res.Content)
	}
	if len(f.catalog.queries) != 1 || f.catalog.queries[0] != "" {
		t.Fatalf("queries = %v, want one empty query", f.catalog.queries)
	}
	if !strings.Contains(res.Content, "Anchor") {
		t.Errorf("content missing record: %s", res.Content)
	}
}

func TestDispatchClampsLimit(t *testing.T) {
	f := newFixture()

	f.reg.Dispatch(context.Background(), llm.ToolCall{Name: "faq_search", Arguments: map[string]any{"query": "hours"}})
	f.reg.Dispatch(context.Background(), llm.ToolCall{Name: "faq_search", Arguments: map[string]any{"query": "hours", "limit": float64(-3)}})
	f.reg.Dispatch(context.Background(), llm.ToolCall{Name: "faq_search", Arguments: map[string]any{"query": "hours", "limit": float64(100)}})

	want := []int{3, 3, 8}
	for i, limit := range want {
		if f.faq.limits[i] != limit {
			t.Errorf("call %d limit = %d, want %d", i, f.faq.limits[i], limit)
		}
	}
}

func TestDispatchDownstreamErrorBecomesPayload(t *testing.T) {
	f := newFixture()
	f.catalog.err = errors.New("disk on fire")

	res := f.reg.Dispatch(context.Background(), llm.ToolCall{Name: "catalog_search", Arguments: map[string]any{"query": "hours"}})
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(res.Content, "failed to call tool") {
		t.Errorf("unexpected content %q", res.Content)
	}
	if strings.Contains(res.Content, "disk on fire") {
		t.Error("downstream error detail must not leak to the model")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	f := newFixture()
	res := f.reg.Dispatch(context.Background(), llm.ToolCall{Name: "launch_rockets", Arguments: map[string]any{"query": "now"}})
	if !res.IsError || !strings.Contains(res.Content, "failed to call tool") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestDispatchHandlerPanicRecovered(t *testing.T) {
	f := newFixture()
	f.reg.tools["catalog_search"].Handler = func(ctx context.Context, query string, limit int) (any, error) {
		panic("boom")
	}

	res := f.reg.Dispatch(context.Background(), llm.ToolCall{Name: "catalog_search", Arguments: map[string]any{"query": "hours"}})
	if !res.IsError || !strings.Contains(res.Content, "failed to call tool") {
		t.Errorf("panic not converted to error payload: %+v", res)
	}
}

func TestDispatchSuccessCarriesRecords(t *testing.T) {
	f := newFixture()
	f.faq.records = []kb.QAPair{{Question: "When?", Answer: "Tuesdays.", Source: "faq.tsv"}}

	res := f.reg.Dispatch(context.Background(), llm.ToolCall{ID: "c9", Name: "faq_search", Arguments: map[string]any{"query": "when"}})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.CallID != "c9" {
		t.Errorf("CallID = %q", res.CallID)
	}
	if !strings.Contains(res.Content, "Tuesdays.") {
		t.Errorf("content missing answer: %s", res.Content)
	}
}

func TestDispatchImageResultsSurfaceAttachments(t *testing.T) {
	f := newFixture()
	f.images.records = []kb.ImageRecord{
		{ID: "1", Name: "sunset.jpg", Link: "https://example.com/1"},
		{ID: "2", Name: "map.png", Link: "https://example.com/2"},
	}

	res := f.reg.Dispatch(context.Background(), llm.ToolCall{Name: "image_search", Arguments: map[string]any{"query": "sunset"}})
	if len(res.Images) != 2 {
		t.Fatalf("expected 2 attachable images, got %d", len(res.Images))
	}

	other := f.reg.Dispatch(context.Background(), llm.ToolCall{Name: "faq_search", Arguments: map[string]any{"query": "sunset"}})
	if len(other.Images) != 0 {
		t.Error("non-image tools must not produce attachments")
	}
}
