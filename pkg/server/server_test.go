package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relcore/toolgate/pkg/backend"
	"github.com/relcore/toolgate/pkg/chatmodel"
	"github.com/relcore/toolgate/pkg/orchestrator"
	"github.com/relcore/toolgate/pkg/tool"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := tool.NewRegistry(tool.NewEchoTool())
	fake := &scriptedAdapter{content: "pong"}
	orch := orchestrator.New(fake, reg, nil, nil, nil, orchestrator.Config{
		MaxToolIterations:        5,
		FirstIterationToolChoice: chatmodel.ToolChoiceAuto,
		MaxToolResultChars:       4000,
	})
	return New(orch, "test-model", nil, nil)
}

// scriptedAdapter always returns a fixed assistant message, enough to
// exercise the request surface without re-implementing the orchestrator's
// own fake adapter.
type scriptedAdapter struct {
	content string
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Chat(ctx context.Context, params backend.ChatParams) (backend.ChatResult, error) {
	return backend.ChatResult{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: a.content}}, nil
}

func (a *scriptedAdapter) ChatStream(ctx context.Context, params backend.ChatParams) (<-chan backend.StreamEvent, error) {
	ch := make(chan backend.StreamEvent, 2)
	ch <- backend.StreamEvent{ContentDelta: a.content}
	ch <- backend.StreamEvent{Done: true}
	close(ch)
	return ch, nil
}

func (a *scriptedAdapter) HealthCheck(ctx context.Context) error { return nil }

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestHandleModels(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test-model")
}

func TestHandleChatCompletions_RejectsEmptyMessages(t *testing.T) {
	srv := newTestServer(t)
	body := bytes.NewBufferString(`{"messages":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatCompletions_RejectsMalformedJSON(t *testing.T) {
	srv := newTestServer(t)
	body := bytes.NewBufferString(`{not json`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatCompletions_NonStreaming(t *testing.T) {
	srv := newTestServer(t)
	body := bytes.NewBufferString(`{"messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var completion chatmodel.Completion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completion))
	require.Len(t, completion.Choices, 1)
	assert.Equal(t, "pong", completion.Choices[0].Message.Content)
}

func TestHandleChatCompletions_Streaming(t *testing.T) {
	srv := newTestServer(t)
	body := bytes.NewBufferString(`{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data: ")
	assert.True(t, strings.Contains(rec.Body.String(), "[DONE]"))
}
