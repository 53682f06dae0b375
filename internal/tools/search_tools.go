package tools

import (
	"context"

	"github.com/search-mcp/search-mcp/internal/search"
	"github.com/search-mcp/search-mcp/internal/validate"
)

const defaultSearchLimit = 50.0

// SearchMatch is one entry of a search result page.
type SearchMatch struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Backend     string  `json:"backend"`
	Score       float64 `json:"score,omitempty"`
}

// SearchResponse is the search_tools / advanced_search payload.
type SearchResponse struct {
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	Results []SearchMatch `json:"results"`
}

func (r *Registry) searchTools() *Tool {
	return &Tool{
		Name:        "search_tools",
		Description: "Search the aggregated tool catalog by name and description.",
		Parameters: []validate.Parameter{
			{Name: "query", Type: validate.TypeString, Required: true, Description: "Search text; empty returns the full catalog."},
			{Name: "mode", Type: validate.TypeString, Default: string(search.ModePartial),
				Enum: []interface{}{"partial", "prefix", "exact", "fuzzy"}},
			{Name: "caseSensitive", Type: validate.TypeBoolean},
			{Name: "searchFields", Type: validate.TypeArray, MaxLength: intPtr(2)},
			{Name: "limit", Type: validate.TypeNumber, Default: defaultSearchLimit, Minimum: floatPtr(1), Maximum: floatPtr(500)},
			{Name: "offset", Type: validate.TypeNumber, Default: 0.0, Minimum: floatPtr(0)},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return r.runSearch(args, "")
		},
	}
}

func (r *Registry) advancedSearch() *Tool {
	return &Tool{
		Name:        "advanced_search",
		Description: "Search the catalog, optionally restricted to one backend server.",
		Parameters: []validate.Parameter{
			{Name: "query", Type: validate.TypeString, Default: ""},
			{Name: "serverName", Type: validate.TypeString},
			{Name: "limit", Type: validate.TypeNumber, Default: defaultSearchLimit, Minimum: floatPtr(1), Maximum: floatPtr(500)},
			{Name: "offset", Type: validate.TypeNumber, Default: 0.0, Minimum: floatPtr(0)},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			server, _ := args["serverName"].(string)
			return r.runSearch(args, server)
		},
	}
}

// runSearch scores the catalog with the deterministic scorer and pages
// the result. An empty query returns all tools unscored.
func (r *Registry) runSearch(args map[string]interface{}, serverFilter string) (interface{}, error) {
	query, _ := args["query"].(string)
	limit := intArg(args, "limit", int(defaultSearchLimit))
	offset := intArg(args, "offset", 0)

	opts := search.Options{}
	if mode, ok := args["mode"].(string); ok {
		opts.Mode = search.Mode(mode)
	}
	if cs, ok := args["caseSensitive"].(bool); ok {
		opts.CaseSensitive = cs
	}
	if fields, ok := args["searchFields"].([]interface{}); ok {
		for _, f := range fields {
			if s, ok := f.(string); ok {
				opts.SearchFields = append(opts.SearchFields, s)
			}
		}
	}

	docs := r.deps.Backends.SearchDocuments()
	if serverFilter != "" {
		filtered := make([]search.Document, 0, len(docs))
		for _, d := range docs {
			if d.Backend == serverFilter {
				filtered = append(filtered, d)
			}
		}
		docs = filtered
	}

	scored := search.Query(docs, query, opts)

	resp := SearchResponse{Total: len(scored), Limit: limit, Offset: offset}
	start := offset
	if start > len(scored) {
		start = len(scored)
	}
	end := start + limit
	if end > len(scored) {
		end = len(scored)
	}
	for _, res := range scored[start:end] {
		resp.Results = append(resp.Results, SearchMatch{
			Name:        res.Doc.QualifiedName,
			Description: res.Doc.Description,
			Backend:     res.Doc.Backend,
			Score:       res.Score,
		})
	}
	return resp, nil
}

func intArg(args map[string]interface{}, name string, fallback int) int {
	if n, ok := args[name].(float64); ok {
		return int(n)
	}
	return fallback
}

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }
