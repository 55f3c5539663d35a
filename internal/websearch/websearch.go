// Package websearch provides a pluggable web search interface for the
// assistant.
//
// Each provider implements the [Provider] interface and is registered
// by name. The [Manager] selects a provider based on configuration,
// rewrites every outbound query to stay within the configured site
// scope, and exposes a single [Manager.Search] method that the tool
// layer calls.
package websearch

import (
	"context"
	"fmt"
	"strings"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "brave").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
	siteScope string
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default; siteScope, when set, is
// appended to any query that does not already carry it, restricting
// results to the configured site or phrase.
func NewManager(primary, siteScope string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
		siteScope: siteScope,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a scoped query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[m.primary]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", m.primary)
	}
	return p.Search(ctx, m.ScopeQuery(query), opts)
}

// ScopeQuery rewrites a query to include the configured site scope.
// Queries that already contain the scope pass through unchanged.
func (m *Manager) ScopeQuery(query string) string {
	if m.siteScope == "" {
		return query
	}
	if strings.Contains(strings.ToLower(query), strings.ToLower(m.siteScope)) {
		return query
	}
	return strings.TrimSpace(query) + " " + m.siteScope
}

// Providers returns the names of all registered providers.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}
