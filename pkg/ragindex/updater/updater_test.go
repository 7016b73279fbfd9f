package updater

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relcore/toolgate/pkg/ragindex"
	"github.com/relcore/toolgate/pkg/ragindex/crawl"
	"github.com/relcore/toolgate/pkg/ragindex/store"
)

func mustParseRFC3339(t *testing.T, s string) *time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return &tm
}

func TestDiffURLs_ClassifiesNewUpdatedRemovedUnchanged(t *testing.T) {
	state := &store.CrawlState{Indexed: map[string]ragindex.PageRecord{
		"https://example.com/a": {URL: "https://example.com/a", SitemapLastmod: "2026-01-01T00:00:00Z"},
		"https://example.com/b": {URL: "https://example.com/b", SitemapLastmod: "2026-01-01T00:00:00Z"},
		"https://example.com/gone": {URL: "https://example.com/gone"},
	}}

	discovered := []crawl.DiscoveredURL{
		{URL: "https://example.com/a", Lastmod: mustParseRFC3339(t, "2026-01-01T00:00:00Z")}, // unchanged
		{URL: "https://example.com/b", Lastmod: mustParseRFC3339(t, "2026-02-01T00:00:00Z")}, // updated
		{URL: "https://example.com/c"},                                                       // new
	}

	diff := diffURLs(discovered, state)
	require.Len(t, diff.New, 1)
	assert.Equal(t, "https://example.com/c", diff.New[0].URL)
	require.Len(t, diff.Updated, 1)
	assert.Equal(t, "https://example.com/b", diff.Updated[0].URL)
	assert.Equal(t, []string{"https://example.com/a"}, diff.Unchanged)
	assert.Equal(t, []string{"https://example.com/gone"}, diff.Removed)
}

func TestDiffURLs_MissingLastmodClassifiesUnknown(t *testing.T) {
	state := &store.CrawlState{Indexed: map[string]ragindex.PageRecord{
		"https://example.com/a": {URL: "https://example.com/a", ContentHash: "old-hash"},
	}}
	discovered := []crawl.DiscoveredURL{{URL: "https://example.com/a"}}

	diff := diffURLs(discovered, state)
	assert.Empty(t, diff.Unchanged)
	require.Len(t, diff.Unknown, 1)
	assert.Equal(t, "https://example.com/a", diff.Unknown[0].URL)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><article><h1>A</h1><p>Alpha content about widgets and gadgets.</p></article></body></html>`))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><article><h1>B</h1><p>Beta content about something else entirely.</p></article></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestUpdater_RunOnceIndexesManualURLsWithoutError(t *testing.T) {
	srv := newTestServer(t)
	ix, err := ragindex.New(t.TempDir(), ragindex.Config{
		BaseURL:             srv.URL,
		Discovery:           ragindex.DiscoveryManual,
		ManualURLs:          []string{srv.URL + "/a", srv.URL + "/b"},
		EmbeddingDimensions: 32,
		UpdateBatchSize:     1,
	})
	require.NoError(t, err)
	require.NoError(t, ix.Build(context.Background()))

	u := New(ix, nil)
	require.NoError(t, u.RunOnce(context.Background()))

	hits, err := ix.Search(context.Background(), "alpha widgets", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestUpdater_RunOnceRemovesStaleCrawlStateEntries(t *testing.T) {
	srv := newTestServer(t)
	ix, err := ragindex.New(t.TempDir(), ragindex.Config{
		BaseURL:             srv.URL,
		Discovery:           ragindex.DiscoveryManual,
		ManualURLs:          []string{srv.URL + "/a"},
		EmbeddingDimensions: 32,
	})
	require.NoError(t, err)
	require.NoError(t, ix.Build(context.Background()))

	require.NoError(t, ix.SaveCrawlState(&store.CrawlState{
		Indexed: map[string]ragindex.PageRecord{
			srv.URL + "/a":        {URL: srv.URL + "/a"},
			"https://stale.example/z": {URL: "https://stale.example/z"},
		},
		Failed: map[string]string{},
	}))

	u := New(ix, nil)
	require.NoError(t, u.RunOnce(context.Background()))

	state, err := ix.CrawlState()
	require.NoError(t, err)
	assert.NotContains(t, state.Indexed, "https://stale.example/z")
	assert.Contains(t, state.Indexed, srv.URL+"/a")
}

func TestUpdater_RunOnceFallsBackToFullRebuildAboveThreshold(t *testing.T) {
	srv := newTestServer(t)
	ix, err := ragindex.New(t.TempDir(), ragindex.Config{
		BaseURL:             srv.URL,
		Discovery:           ragindex.DiscoveryManual,
		ManualURLs:          []string{srv.URL + "/a"},
		EmbeddingDimensions: 32,
		RebuildThreshold:    0.1,
	})
	require.NoError(t, err)
	require.NoError(t, ix.Build(context.Background()))

	stale := map[string]ragindex.PageRecord{srv.URL + "/a": {URL: srv.URL + "/a"}}
	for i := 0; i < 10; i++ {
		u := "https://stale.example/" + string(rune('a'+i))
		stale[u] = ragindex.PageRecord{URL: u}
	}
	require.NoError(t, ix.SaveCrawlState(&store.CrawlState{Indexed: stale, Failed: map[string]string{}}))

	u := New(ix, nil)
	require.NoError(t, u.RunOnce(context.Background()))

	hits, err := ix.Search(context.Background(), "alpha widgets", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestUpdater_RunOnceRefetchesLastmodlessURLOnContentChange(t *testing.T) {
	var body atomic.Value
	body.Store([]byte(`<html><body><article><h1>A</h1><p>Alpha content about widgets and gadgets.</p></article></body></html>`))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body.Load().([]byte))
	}))
	t.Cleanup(srv.Close)

	ix, err := ragindex.New(t.TempDir(), ragindex.Config{
		BaseURL:             srv.URL,
		Discovery:           ragindex.DiscoveryManual,
		ManualURLs:          []string{srv.URL + "/a"},
		EmbeddingDimensions: 32,
	})
	require.NoError(t, err)
	require.NoError(t, ix.Build(context.Background()))

	body.Store([]byte(`<html><body><article><h1>A</h1><p>Completely rewritten content about zeppelins.</p></article></body></html>`))

	u := New(ix, nil)
	require.NoError(t, u.RunOnce(context.Background()))

	hits, err := ix.Search(context.Background(), "zeppelins", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestUpdater_WaitWhilePausedReturnsOnContextCancel(t *testing.T) {
	srv := newTestServer(t)
	ix, err := ragindex.New(t.TempDir(), ragindex.Config{
		BaseURL:             srv.URL,
		Discovery:           ragindex.DiscoveryManual,
		EmbeddingDimensions: 32,
	})
	require.NoError(t, err)
	ix.Pause()

	u := New(ix, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = u.waitWhilePaused(ctx)
	require.Error(t, err)
}
