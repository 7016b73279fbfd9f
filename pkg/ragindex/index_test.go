package ragindex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageA = `<html><head><title>Widgets</title></head><body>
<article>
<h1>Widget Guide</h1>
<p>Widgets are small reusable units of configuration that the gateway loads at startup.</p>
<h2>Creating a Widget</h2>
<p>Call NewWidget with a name and a set of options to construct one.</p>
<pre><code>func NewWidget(name string) *Widget {
	return &Widget{name: name}
}</code></pre>
</article>
</body></html>`

const pageB = `<html><head><title>Gadgets</title></head><body>
<article>
<h1>Gadget Guide</h1>
<p>Gadgets are unrelated to widgets entirely and cover a different subsystem of the gateway.</p>
</article>
</body></html>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(pageA)) })
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(pageB)) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestIndex(t *testing.T, srv *httptest.Server) *Index {
	t.Helper()
	ix, err := New(t.TempDir(), Config{
		BaseURL:             srv.URL,
		Discovery:           DiscoveryManual,
		ManualURLs:          []string{srv.URL + "/a", srv.URL + "/b"},
		EmbeddingDimensions: 32,
	})
	require.NoError(t, err)
	return ix
}

func TestIndex_BuildThenSearchFindsRelevantChunk(t *testing.T) {
	srv := newTestServer(t)
	ix := newTestIndex(t, srv)

	require.NoError(t, ix.Build(context.Background()))

	hits, err := ix.Search(context.Background(), "NewWidget constructor options", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Chunk.Text+hits[0].ParentText, "Widget")
}

func TestIndex_SearchRejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t)
	ix := newTestIndex(t, srv)
	require.NoError(t, ix.Build(context.Background()))

	_, err := ix.Search(context.Background(), "   ", 3)
	require.Error(t, err)
}

func TestIndex_SearchDedupesByURL(t *testing.T) {
	srv := newTestServer(t)
	ix := newTestIndex(t, srv)
	require.NoError(t, ix.Build(context.Background()))

	hits, err := ix.Search(context.Background(), "gateway subsystem guide", 10)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, h := range hits {
		assert.False(t, seen[h.Chunk.Metadata.URL], "duplicate URL in hits: %s", h.Chunk.Metadata.URL)
		seen[h.Chunk.Metadata.URL] = true
	}
}

func TestIndex_LoadWithNoPriorBuildIsNoop(t *testing.T) {
	srv := newTestServer(t)
	ix := newTestIndex(t, srv)
	require.NoError(t, ix.Load(context.Background()))

	hits, err := ix.Search(context.Background(), "anything at all", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_BuildPersistsAndLoadRestoresSearchability(t *testing.T) {
	srv := newTestServer(t)
	dir := t.TempDir()

	ix1, err := New(dir, Config{
		BaseURL:             srv.URL,
		Discovery:           DiscoveryManual,
		ManualURLs:          []string{srv.URL + "/a", srv.URL + "/b"},
		EmbeddingDimensions: 32,
	})
	require.NoError(t, err)
	require.NoError(t, ix1.Build(context.Background()))
	require.NoError(t, ix1.Close())

	ix2, err := New(dir, Config{
		BaseURL:             srv.URL,
		Discovery:           DiscoveryManual,
		EmbeddingDimensions: 32,
	})
	require.NoError(t, err)
	require.NoError(t, ix2.Load(context.Background()))

	hits, err := ix2.Search(context.Background(), "NewWidget constructor", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestIndex_LoadReembedsOnEmbeddingModelMismatch(t *testing.T) {
	srv := newTestServer(t)
	dir := t.TempDir()

	ix1, err := New(dir, Config{
		BaseURL:             srv.URL,
		Discovery:           DiscoveryManual,
		ManualURLs:          []string{srv.URL + "/a", srv.URL + "/b"},
		EmbeddingDimensions: 32,
		EmbeddingModelName:  "v1",
	})
	require.NoError(t, err)
	require.NoError(t, ix1.Build(context.Background()))
	require.NoError(t, ix1.Close())

	ix2, err := New(dir, Config{
		BaseURL:             srv.URL,
		Discovery:           DiscoveryManual,
		EmbeddingDimensions: 32,
		EmbeddingModelName:  "v2",
	})
	require.NoError(t, err)
	require.NoError(t, ix2.Load(context.Background()))

	hits, err := ix2.Search(context.Background(), "NewWidget constructor", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestIndex_PauseResumeToggleIsPaused(t *testing.T) {
	srv := newTestServer(t)
	ix := newTestIndex(t, srv)

	assert.False(t, ix.IsPaused())
	ix.Pause()
	assert.True(t, ix.IsPaused())
	ix.Resume()
	assert.False(t, ix.IsPaused())
}

func TestIndex_AsSearcherAdaptsToToolSearcher(t *testing.T) {
	srv := newTestServer(t)
	ix := newTestIndex(t, srv)
	require.NoError(t, ix.Build(context.Background()))

	searcher := ix.AsSearcher()
	results, err := searcher.Search(context.Background(), "widget configuration", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.NotEmpty(t, results[0].URL)
}

func TestDocTypeOf_ClassifiesByPathShape(t *testing.T) {
	cases := map[string]string{
		"https://example.com/api/widgets":     "api_reference",
		"https://example.com/reference/foo":   "api_reference",
		"https://example.com/blog/hello":      "blog",
		"https://example.com/changelog/1.0":   "changelog",
		"https://example.com/guide/start":     "guide",
		"not a url at all %%%":                "guide",
	}
	for url, want := range cases {
		assert.Equal(t, want, docTypeOf(url), "url: %s", url)
	}
}
