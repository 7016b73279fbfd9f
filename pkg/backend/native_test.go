package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relcore/toolgate/pkg/chatmodel"
)

func TestNativeAdapter_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req nativeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)

		resp := nativeResponse{
			Model:           req.Model,
			Message:         nativeMessage{Role: "assistant", Content: "hi back"},
			Done:            true,
			PromptEvalCount: 4,
			EvalCount:       3,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	adapter := NewNativeAdapter(srv.URL, "test-model", 2*time.Second, 5*time.Second, 3, 10*time.Millisecond, nil)
	result, err := adapter.Chat(context.Background(), ChatParams{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi back", result.Message.Content)
	assert.Equal(t, 7, result.Usage.TotalTokens)
}

func TestNativeAdapter_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		enc := json.NewEncoder(w)
		_ = enc.Encode(nativeResponse{Message: nativeMessage{Content: "chunk-1"}})
		flusher.Flush()
		_ = enc.Encode(nativeResponse{Message: nativeMessage{Content: "chunk-2"}, Done: true, PromptEvalCount: 1, EvalCount: 1})
		flusher.Flush()
	}))
	defer srv.Close()

	adapter := NewNativeAdapter(srv.URL, "test-model", 2*time.Second, 5*time.Second, 0, time.Millisecond, nil)
	events, err := adapter.ChatStream(context.Background(), ChatParams{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var deltas []string
	var done bool
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.ContentDelta != "" {
			deltas = append(deltas, ev.ContentDelta)
		}
		if ev.Done {
			done = true
		}
	}
	assert.True(t, done)
	assert.Equal(t, []string{"chunk-1", "chunk-2"}, deltas)
}

func TestIsConnectionError(t *testing.T) {
	_, err := http.Get("http://127.0.0.1:1/unreachable")
	require.Error(t, err)
	assert.True(t, isConnectionError(err))
}
