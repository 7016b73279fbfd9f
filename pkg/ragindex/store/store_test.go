package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relcore/toolgate/pkg/gatewayerr"
	"github.com/relcore/toolgate/pkg/ragindex/ragtype"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_PageCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, _, ok := s.Get("https://example.com/a")
	assert.False(t, ok)

	now := time.Now().UTC().Truncate(time.Second)
	s.Put("https://example.com/a", "<html>hi</html>", now)

	html, cachedAt, ok := s.Get("https://example.com/a")
	require.True(t, ok)
	assert.Equal(t, "<html>hi</html>", html)
	assert.True(t, cachedAt.Equal(now))
}

func TestStore_ChunksSaveLoad(t *testing.T) {
	s := newTestStore(t)
	chunks := []ragtype.Chunk{{ChunkID: "c1", Text: "hello"}}
	require.NoError(t, s.SaveChunks(chunks))

	loaded, err := s.LoadChunks()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "c1", loaded[0].ChunkID)
}

func TestStore_LoadChunksMissingReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	chunks, err := s.LoadChunks()
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestStore_ManifestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.LoadManifest()
	require.NoError(t, err)
	assert.False(t, ok)

	m := ragtype.IndexManifest{IndexVersionTag: ragtype.IndexVersionTag, ChunkCount: 3}
	require.NoError(t, s.SaveManifest(m))

	loaded, ok, err := s.LoadManifest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, loaded.ChunkCount)
}

func TestStore_VerifyVectorStoreChecksum_MissingFileFailsClosed(t *testing.T) {
	s := newTestStore(t)
	err := s.VerifyVectorStoreChecksum(ragtype.IndexManifest{ChecksumOfVectorStore: "deadbeef"})
	require.Error(t, err)
	assert.True(t, gatewayerr.Is(err, gatewayerr.KindIndexCorruption))
}

func TestStore_CrawlStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	state, err := s.LoadCrawlState()
	require.NoError(t, err)
	assert.Empty(t, state.Indexed)

	state.Indexed["https://example.com/a"] = ragtype.PageRecord{URL: "https://example.com/a"}
	require.NoError(t, s.SaveCrawlState(state))

	loaded, err := s.LoadCrawlState()
	require.NoError(t, err)
	assert.Contains(t, loaded.Indexed, "https://example.com/a")
}

func TestStore_ContextualizerProgressRoundTrip(t *testing.T) {
	s := newTestStore(t)
	progress, err := s.LoadContextualizerProgress()
	require.NoError(t, err)
	assert.Empty(t, progress.Done)

	progress.Done["chunk-1"] = true
	require.NoError(t, s.SaveContextualizerProgress(progress))

	loaded, err := s.LoadContextualizerProgress()
	require.NoError(t, err)
	assert.True(t, loaded.Done["chunk-1"])
}

func TestStore_SitemapCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	cache, err := s.LoadSitemapCache()
	require.NoError(t, err)
	assert.Empty(t, cache)

	cache["https://example.com/sitemap-1.xml"] = "2026-01-01T00:00:00Z"
	require.NoError(t, s.SaveSitemapCache(cache))

	loaded, err := s.LoadSitemapCache()
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", loaded["https://example.com/sitemap-1.xml"])
}
