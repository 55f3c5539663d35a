// Package tools defines the search tools available to the assistant
// and dispatches the model's tool calls to them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/harborline/docent/internal/events"
	"github.com/harborline/docent/internal/kb"
	"github.com/harborline/docent/internal/llm"
	"github.com/harborline/docent/internal/websearch"
)

// Fixed error payloads returned to the model. The model reads these
// and adjusts; they must never surface as run failures.
const (
	errMissingQuery  = "Missing required 'query' argument"
	errToolCallFault = "failed to call tool"
)

// Tool is one callable tool: its model-facing declaration plus the
// handler that serves it.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any

	// DefaultLimit applies when the call omits limit or passes a
	// non-positive value; MaxLimit caps whatever the model asks for.
	DefaultLimit int
	MaxLimit     int

	Handler func(ctx context.Context, query string, limit int) (any, error)
}

// Result is the outcome of one dispatched tool call. Content is the
// JSON document handed back to the model; Images carries any ranked
// image records so the run can attach them to its final message.
type Result struct {
	CallID  string
	Name    string
	Content string
	IsError bool
	Images  []kb.ImageRecord
}

// Searcher is the query shape shared by the snapshot indices.
type Searcher[T any] interface {
	Search(ctx context.Context, query string, limit int) (*kb.SearchResult[T], error)
}

// WebSearcher is the slice of the websearch manager the registry needs.
type WebSearcher interface {
	Search(ctx context.Context, query string, opts websearch.Options) ([]websearch.Result, error)
}

// Registry holds the declared tools and routes calls to them.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
	bus    *events.Bus
}

// NewRegistry creates a registry wired to the four snapshot indices
// and the web search manager.
func NewRegistry(
	catalog Searcher[kb.CatalogRecord],
	tables Searcher[kb.TableRow],
	faq Searcher[kb.QAPair],
	images Searcher[kb.ImageRecord],
	web WebSearcher,
	logger *slog.Logger,
	bus *events.Bus,
) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
		bus:    bus,
	}

	r.register(&Tool{
		Name:         "catalog_search",
		Description:  "Search the collection catalog: exhibits, artifacts, and their descriptions. Use for questions about what is on display.",
		InputSchema:  querySchema("Keywords to match against catalog entries"),
		DefaultLimit: 5,
		MaxLimit:     10,
		Handler: func(ctx context.Context, query string, limit int) (any, error) {
			return catalog.Search(ctx, query, limit)
		},
	})

	r.register(&Tool{
		Name:         "table_search",
		Description:  "Search tabular reference data: schedules, price lists, and other structured rows. Use for questions about times, prices, or listings.",
		InputSchema:  querySchema("Keywords to match against table rows"),
		DefaultLimit: 5,
		MaxLimit:     10,
		Handler: func(ctx context.Context, query string, limit int) (any, error) {
			return tables.Search(ctx, query, limit)
		},
	})

	r.register(&Tool{
		Name:         "faq_search",
		Description:  "Search frequently asked questions and their curated answers. Prefer this for common visitor questions.",
		InputSchema:  querySchema("Keywords to match against questions and answers"),
		DefaultLimit: 3,
		MaxLimit:     8,
		Handler: func(ctx context.Context, query string, limit int) (any, error) {
			return faq.Search(ctx, query, limit)
		},
	})

	r.register(&Tool{
		Name:         "image_search",
		Description:  "Search the image library by name and caption. Matching images are attached to the reply automatically.",
		InputSchema:  querySchema("Keywords to match against image names and captions"),
		DefaultLimit: 4,
		MaxLimit:     8,
		Handler: func(ctx context.Context, query string, limit int) (any, error) {
			return images.Search(ctx, query, limit)
		},
	})

	r.register(&Tool{
		Name:         "web_search",
		Description:  "Search the organization's public website for anything not covered by the local sources.",
		InputSchema:  querySchema("Web search query"),
		DefaultLimit: 5,
		MaxLimit:     10,
		Handler: func(ctx context.Context, query string, limit int) (any, error) {
			results, err := web.Search(ctx, query, websearch.Options{Count: limit})
			if err != nil {
				return nil, err
			}
			return map[string]any{"results": results}, nil
		},
	})

	return r
}

func querySchema(queryDesc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": queryDesc,
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return",
			},
		},
		"required": []string{"query"},
	}
}

func (r *Registry) register(t *Tool) {
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

// Specs returns the model-facing tool declarations, in registration
// order.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return specs
}

// Validate checks that every declared tool has a handler. Run at
// startup; a declared-but-unserved tool would otherwise only surface
// when the model first calls it.
func (r *Registry) Validate() error {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if r.tools[name].Handler == nil {
			return fmt.Errorf("tool %q declared without a handler", name)
		}
	}
	return nil
}

// Dispatch runs one tool call and always produces a Result. Missing or
// malformed arguments and downstream failures become error payloads in
// the result content; they never propagate as errors, so a bad tool
// call cannot abort the run.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) Result {
	start := time.Now()
	r.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{"tool": call.Name})

	res := r.dispatch(ctx, call)

	r.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"tool": call.Name, "error": res.IsError,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return res
}

func (r *Registry) dispatch(ctx context.Context, call llm.ToolCall) (res Result) {
	res = Result{CallID: call.ID, Name: call.Name}

	// A handler panic is downgraded to the generic error payload,
	// same as a returned error.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", call.Name, "panic", rec)
			res.Content = errorPayload(errToolCallFault)
			res.IsError = true
			res.Images = nil
		}
	}()

	tool, ok := r.tools[call.Name]
	if !ok {
		r.logger.Warn("model called unknown tool", "tool", call.Name)
		res.Content = errorPayload(errToolCallFault)
		res.IsError = true
		return res
	}

	query, ok := call.Arguments["query"].(string)
	if !ok {
		res.Content = errorPayload(errMissingQuery)
		res.IsError = true
		return res
	}

	limit := tool.DefaultLimit
	if raw, ok := call.Arguments["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	}
	if limit > tool.MaxLimit {
		limit = tool.MaxLimit
	}

	out, err := tool.Handler(ctx, query, limit)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		res.Content = errorPayload(errToolCallFault)
		res.IsError = true
		return res
	}

	body, err := json.Marshal(out)
	if err != nil {
		r.logger.Error("tool result not serializable", "tool", call.Name, "error", err)
		res.Content = errorPayload(errToolCallFault)
		res.IsError = true
		return res
	}
	res.Content = string(body)

	if imgRes, ok := out.(*kb.SearchResult[kb.ImageRecord]); ok {
		res.Images = imgRes.Records
	}
	return res
}

func errorPayload(msg string) string {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return string(body)
}
