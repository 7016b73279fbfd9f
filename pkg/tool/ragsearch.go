package tool

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/relcore/toolgate/pkg/chatmodel"
)

// SearchResult is one hit returned by a Searcher, trimmed to what the
// orchestrator needs to hand back to the model as tool output.
type SearchResult struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

// Searcher is the subset of the RAG index's public surface the rag_search
// tool depends on. Defined here rather than imported from pkg/ragindex so
// pkg/tool has no dependency on the index's implementation, only on this
// narrow capability. The index package implements it; cmd/gatewayd
// passes the concrete value to NewRAGSearchTool at startup.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}

type ragSearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=The natural-language question or keywords to search the indexed documentation for."`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=Maximum number of results to return. Defaults to the server's configured search_top_k."`
}

// RAGSearchTool exposes the local retrieval index as a callable tool.
// Registering it is conditional on Config.RAG.Enabled; callers simply
// omit it from the registry otherwise.
type RAGSearchTool struct {
	searcher     Searcher
	defaultTopK  int
}

func NewRAGSearchTool(searcher Searcher, defaultTopK int) *RAGSearchTool {
	return &RAGSearchTool{searcher: searcher, defaultTopK: defaultTopK}
}

func (t *RAGSearchTool) Descriptor() chatmodel.ToolDescriptor {
	return chatmodel.ToolDescriptor{
		Name:        "rag_search",
		Description: "Search the indexed documentation for passages relevant to a query. Returns the most relevant excerpts with their source URLs.",
		Schema:      schemaFor(ragSearchArgs{}),
	}
}

func (t *RAGSearchTool) Execute(ctx context.Context, args map[string]any) Result {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{Content: "error: query must not be empty"}
	}

	topK := t.defaultTopK
	if raw, ok := args["top_k"]; ok {
		switch v := raw.(type) {
		case float64:
			topK = int(v)
		case int:
			topK = v
		}
	}
	if topK <= 0 {
		topK = t.defaultTopK
	}

	results, err := t.searcher.Search(ctx, query, topK)
	if err != nil {
		return Result{Err: err}
	}
	if len(results) == 0 {
		return Result{Content: "No relevant passages found."}
	}

	type hit struct {
		Title string  `json:"title"`
		URL   string  `json:"url"`
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	}
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hit{Title: r.Title, URL: r.URL, Text: r.Content, Score: r.Score})
	}
	encoded, err := json.Marshal(hits)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Content: string(encoded)}
}
