package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relcore/toolgate/pkg/chatmodel"
	"github.com/relcore/toolgate/pkg/gatewayerr"
)

func TestRegistry_ExecuteDispatchesToNamedTool(t *testing.T) {
	reg := NewRegistry(NewEchoTool())
	res := reg.Execute(context.Background(), chatmodel.ToolCall{
		ToolName:  "echo",
		Arguments: `{"text":"hello"}`,
	})
	require.NoError(t, res.Err)
	assert.Equal(t, "hello", res.Content)
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry(NewEchoTool())
	res := reg.Execute(context.Background(), chatmodel.ToolCall{ToolName: "nonexistent", Arguments: "{}"})
	require.Error(t, res.Err)
	assert.True(t, gatewayerr.Is(res.Err, gatewayerr.KindToolNotFound))
}

func TestRegistry_ExecuteMalformedArguments(t *testing.T) {
	reg := NewRegistry(NewEchoTool())
	res := reg.Execute(context.Background(), chatmodel.ToolCall{ToolName: "echo", Arguments: "{not json"})
	require.Error(t, res.Err)
	assert.True(t, gatewayerr.Is(res.Err, gatewayerr.KindToolInvocation))
}

func TestRegistry_ListPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry(NewEchoTool(), NewDateTimeTool())
	names := make([]string, 0, 2)
	for _, d := range reg.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"echo", "datetime_now"}, names)
}

func TestDateTimeTool_DefaultsToUTC(t *testing.T) {
	tool := NewDateTimeTool()
	res := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, res.Err)
	assert.Contains(t, res.Content, "Z")
}

func TestDateTimeTool_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	tool := NewDateTimeTool()
	res := tool.Execute(context.Background(), map[string]any{"timezone": "Not/A_Zone"})
	require.NoError(t, res.Err)
	assert.Contains(t, res.Content, "Z")
}

type stubSearcher struct {
	results []SearchResult
	err     error
}

func (s *stubSearcher) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	return s.results, s.err
}

func TestRAGSearchTool_EmptyQueryRejected(t *testing.T) {
	rt := NewRAGSearchTool(&stubSearcher{}, 5)
	res := rt.Execute(context.Background(), map[string]any{"query": "  "})
	require.NoError(t, res.Err)
	assert.Contains(t, res.Content, "error")
}

func TestRAGSearchTool_NoResults(t *testing.T) {
	rt := NewRAGSearchTool(&stubSearcher{}, 5)
	res := rt.Execute(context.Background(), map[string]any{"query": "anything"})
	require.NoError(t, res.Err)
	assert.Contains(t, res.Content, "No relevant passages")
}

func TestRAGSearchTool_ReturnsJSONHits(t *testing.T) {
	rt := NewRAGSearchTool(&stubSearcher{results: []SearchResult{
		{Title: "Intro", URL: "https://example.com/intro", Content: "hello world", Score: 0.9},
	}}, 5)
	res := rt.Execute(context.Background(), map[string]any{"query": "hello", "top_k": float64(3)})
	require.NoError(t, res.Err)
	assert.Contains(t, res.Content, "https://example.com/intro")
}
