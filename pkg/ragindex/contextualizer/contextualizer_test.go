package contextualizer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relcore/toolgate/pkg/backend"
	"github.com/relcore/toolgate/pkg/chatmodel"
	"github.com/relcore/toolgate/pkg/ragindex"
	ragstore "github.com/relcore/toolgate/pkg/ragindex/store"
)

type stubAdapter struct {
	calls atomic.Int32
	reply string
}

func (a *stubAdapter) Chat(ctx context.Context, params backend.ChatParams) (backend.ChatResult, error) {
	a.calls.Add(1)
	return backend.ChatResult{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: a.reply}}, nil
}

func (a *stubAdapter) ChatStream(ctx context.Context, params backend.ChatParams) (<-chan backend.StreamEvent, error) {
	ch := make(chan backend.StreamEvent)
	close(ch)
	return ch, nil
}

func (a *stubAdapter) HealthCheck(ctx context.Context) error { return nil }
func (a *stubAdapter) Name() string                          { return "stub" }

func newEnrichableIndex(t *testing.T, dir string) *ragindex.Index {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><article><h1>A</h1><p>Alpha content about widgets.</p></article></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ix, err := ragindex.New(dir, ragindex.Config{
		BaseURL:             srv.URL,
		Discovery:           ragindex.DiscoveryManual,
		ManualURLs:          []string{srv.URL + "/a"},
		EmbeddingDimensions: 32,
	})
	require.NoError(t, err)
	require.NoError(t, ix.Build(context.Background()))
	return ix
}

func TestEnricher_RunEnrichesEveryChunkAndRecordsProgress(t *testing.T) {
	dir := t.TempDir()
	ix := newEnrichableIndex(t, dir)
	st, err := ragstore.New(dir)
	require.NoError(t, err)

	adapter := &stubAdapter{reply: "This excerpt introduces widgets."}
	e := New(ix, adapter, st)
	require.NoError(t, e.Run(context.Background()))

	chunks := ix.Chunks()
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Contains(t, c.Text, "This excerpt introduces widgets.")
	}

	progress, err := st.LoadContextualizerProgress()
	require.NoError(t, err)
	for _, c := range chunks {
		assert.True(t, progress.Done[c.ChunkID])
	}
	assert.EqualValues(t, len(chunks), adapter.calls.Load())
}

func TestEnricher_RunSkipsChunksAlreadyMarkedDone(t *testing.T) {
	dir := t.TempDir()
	ix := newEnrichableIndex(t, dir)
	st, err := ragstore.New(dir)
	require.NoError(t, err)

	chunks := ix.Chunks()
	require.NotEmpty(t, chunks)
	require.NoError(t, st.SaveContextualizerProgress(&ragstore.ContextualizerProgress{
		Done: map[string]bool{chunks[0].ChunkID: true},
	}))

	adapter := &stubAdapter{reply: "context sentence"}
	e := New(ix, adapter, st)
	require.NoError(t, e.Run(context.Background()))

	assert.EqualValues(t, len(chunks)-1, adapter.calls.Load())
}

func TestEnricher_RunStopsOnContextCancellation(t *testing.T) {
	dir := t.TempDir()
	ix := newEnrichableIndex(t, dir)
	st, err := ragstore.New(dir)
	require.NoError(t, err)

	adapter := &stubAdapter{reply: "context sentence"}
	e := New(ix, adapter, st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = e.Run(ctx)
	require.Error(t, err)
}
