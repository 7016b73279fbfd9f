package ragindex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relcore/toolgate/pkg/gatewayerr"
	"github.com/relcore/toolgate/pkg/ragindex/chunking"
	"github.com/relcore/toolgate/pkg/ragindex/crawl"
	"github.com/relcore/toolgate/pkg/ragindex/embedding"
	"github.com/relcore/toolgate/pkg/ragindex/extraction"
	"github.com/relcore/toolgate/pkg/ragindex/indexing"
	"github.com/relcore/toolgate/pkg/ragindex/reranking"
	"github.com/relcore/toolgate/pkg/ragindex/store"
	"github.com/relcore/toolgate/pkg/tool"
)

// DiscoveryMode selects one of the three crawl strategies.
type DiscoveryMode string

const (
	DiscoverySitemap   DiscoveryMode = "sitemap"
	DiscoveryRecursive DiscoveryMode = "recursive"
	DiscoveryManual    DiscoveryMode = "manual"
)

// Config parameterizes one Index's crawl, chunking, embedding, and
// retrieval behavior.
type Config struct {
	BaseURL        string
	Discovery      DiscoveryMode
	ManualURLs     []string
	ManualAdditive bool
	MaxCrawlDepth  int
	MaxPages       int

	FetchWorkers   int
	FetchRetries   int
	FetchRateLimit time.Duration
	PageCacheTTL   time.Duration

	EmbeddingDimensions int
	EmbeddingModelPath  string // empty uses the deterministic fallback embedder
	EmbeddingModelName  string

	TopK                         int
	RetrieverCandidateMultiplier int
	LexicalWeight                float64
	SemanticWeight               float64

	UpdateInterval   time.Duration
	UpdateBatchSize  int
	RebuildThreshold float64
}

func (c Config) withDefaults() Config {
	if c.FetchWorkers <= 0 {
		c.FetchWorkers = 4
	}
	if c.FetchRetries <= 0 {
		c.FetchRetries = 3
	}
	if c.PageCacheTTL <= 0 {
		c.PageCacheTTL = 24 * time.Hour
	}
	if c.EmbeddingDimensions <= 0 {
		c.EmbeddingDimensions = 384
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.RetrieverCandidateMultiplier <= 0 {
		c.RetrieverCandidateMultiplier = 4
	}
	if c.LexicalWeight == 0 && c.SemanticWeight == 0 {
		c.LexicalWeight = indexing.DefaultLexicalWeight
		c.SemanticWeight = indexing.DefaultSemanticWeight
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = time.Hour
	}
	if c.UpdateInterval < 5*time.Minute {
		c.UpdateInterval = 5 * time.Minute
	}
	if c.UpdateBatchSize <= 0 {
		c.UpdateBatchSize = 50
	}
	if c.RebuildThreshold <= 0 {
		c.RebuildThreshold = 0.3
	}
	return c
}

// Index is the local retrieval core: crawl → fetch → extract → chunk →
// dual-index → rerank, with its corpus durable under one store.Store
// directory.
type Index struct {
	cfg        Config
	httpClient *http.Client
	store      *store.Store
	lexical    *indexing.LexicalIndex
	vectors    *indexing.VectorStore
	embedder   embedding.Embedder
	reranker   reranking.Reranker

	mu         sync.RWMutex
	parentByID map[string]ParentChunk
	chunkByID  map[string]Chunk // rebuilt from the persisted chunk corpus on every load/build

	paused atomic.Bool
}

// New constructs an Index rooted at dir. It does not crawl or load
// anything; call Load (to resume a prior build) and/or Build.
func New(dir string, cfg Config) (*Index, error) {
	cfg = cfg.withDefaults()

	st, err := store.New(dir)
	if err != nil {
		return nil, err
	}
	lexical, err := indexing.NewLexicalIndex(dir + "/bleve")
	if err != nil {
		return nil, err
	}
	vectors, err := indexing.NewVectorStore(cfg.EmbeddingDimensions)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	return &Index{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      st,
		lexical:    lexical,
		vectors:    vectors,
		embedder:   embedder,
		reranker:   reranking.OverlapReranker{},
		parentByID: make(map[string]ParentChunk),
		chunkByID:  make(map[string]Chunk),
	}, nil
}

// Close releases the index's on-disk resources (the lexical index's file
// handle). Safe to call once a final time when the Index is no longer
// needed; the Index must not be used afterward.
func (ix *Index) Close() error { return ix.lexical.Close() }

// Config returns the (defaulted) configuration this Index was built
// with, so the updater can read UpdateInterval/UpdateBatchSize/
// RebuildThreshold without duplicating them at construction time.
func (ix *Index) Config() Config { return ix.cfg }

// Store exposes the index's persistence layer so callers outside this
// package (the updater and contextualizer) can save/load the auxiliary
// records those components own (crawl state, contextualizer progress)
// without this package knowing about either of them.
func (ix *Index) Store() *store.Store { return ix.store }

// ContentHashesFor fetches each of urls and returns its current content
// hash, keyed by URL. A URL whose fetch fails is simply absent from the
// result. This backs the updater's fallback comparison for URLs the
// sitemap reports with no lastmod.
func (ix *Index) ContentHashesFor(ctx context.Context, urls []string) map[string]string {
	if len(urls) == 0 {
		return nil
	}
	fetcher := crawl.NewFetcher(ix.httpClient, ix.store, ix.cfg.PageCacheTTL, ix.cfg.FetchWorkers, ix.cfg.FetchRetries, 0)
	authority := crawl.BaseAuthority(ix.cfg.BaseURL)
	results, _ := fetcher.FetchAll(ctx, authority, urls, true)
	hashes := make(map[string]string, len(results))
	for _, r := range results {
		hashes[r.URL] = r.ContentHash
	}
	return hashes
}

func newEmbedder(cfg Config) (embedding.Embedder, error) {
	if cfg.EmbeddingModelPath == "" {
		return embedding.NewDeterministicEmbedder(cfg.EmbeddingDimensions), nil
	}
	onnx, err := embedding.NewONNXEmbedder(cfg.EmbeddingModelPath, cfg.EmbeddingDimensions, 256, 8192)
	if err != nil {
		return nil, fmt.Errorf("ragindex: load embedding model: %w", err)
	}
	return onnx, nil
}

// Load restores a prior build from disk: verifies the vector store
// checksum against the manifest, loads the chunk/parent corpus, and
// rebuilds the child→parent map and vector store from what it finds.
// A store with no manifest yet is left empty, not an error: that is
// the expected state before the first Build.
func (ix *Index) Load(ctx context.Context) error {
	manifest, ok, err := ix.store.LoadManifest()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := ix.store.VerifyVectorStoreChecksum(*manifest); err != nil {
		return err
	}

	chunks, err := ix.store.LoadChunks()
	if err != nil {
		return err
	}
	parents, err := ix.store.LoadParents()
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.parentByID = make(map[string]ParentChunk, len(parents))
	for _, p := range parents {
		ix.parentByID[p.ParentID] = p
	}
	ix.chunkByID = make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		ix.chunkByID[c.ChunkID] = c
	}
	ix.mu.Unlock()

	if manifest.EmbeddingModelName != ix.cfg.EmbeddingModelName {
		// The configured embedding model changed since this store was
		// built: re-embed from the persisted chunk text without
		// re-crawling.
		return ix.reembedAndIndex(ctx, chunks)
	}

	if err := ix.vectors.Load(ix.store.VectorStorePath()); err != nil {
		return err
	}
	for _, c := range chunks {
		if err := ix.lexical.Index(c.ChunkID, c.Text, c.Metadata.URL); err != nil {
			return fmt.Errorf("ragindex: rebuild lexical index: %w", err)
		}
	}
	return nil
}

// Build runs the full crawl→fetch→extract→chunk→index pipeline and
// persists the result, replacing any prior corpus.
func (ix *Index) Build(ctx context.Context) error {
	urls, err := ix.discover(ctx)
	if err != nil {
		return err
	}
	if ix.cfg.MaxPages > 0 && len(urls) > ix.cfg.MaxPages {
		urls = urls[:ix.cfg.MaxPages]
	}

	fetcher := crawl.NewFetcher(ix.httpClient, ix.store, ix.cfg.PageCacheTTL, ix.cfg.FetchWorkers, ix.cfg.FetchRetries, 0)
	authority := crawl.BaseAuthority(ix.cfg.BaseURL)
	results, _ := fetcher.FetchAll(ctx, authority, urls, false)

	var allParents []ParentChunk
	var allChildren []Chunk
	seenContent := make(map[string]bool)

	for _, r := range results {
		if seenContent[r.ContentHash] {
			continue // duplicate page content under a different URL
		}
		seenContent[r.ContentHash] = true

		extracted, ok := extraction.Extract(r.HTML)
		if !ok {
			continue
		}
		parents, children := chunking.Chunk(r.URL, extracted.Node, docTypeOf(r.URL))
		allParents = append(allParents, parents...)
		allChildren = append(allChildren, children...)
	}

	if err := ix.indexCorpus(ctx, allParents, allChildren); err != nil {
		return err
	}
	return ix.persist(ctx, allParents, allChildren)
}

func (ix *Index) discover(ctx context.Context) ([]string, error) {
	var discovered []crawl.DiscoveredURL
	var err error

	switch ix.cfg.Discovery {
	case DiscoveryRecursive:
		discovered, err = crawl.DiscoverRecursive(ctx, ix.httpClient, ix.cfg.BaseURL, ix.cfg.MaxCrawlDepth)
	case DiscoveryManual:
		discovered = nil
	default:
		cache, cacheErr := ix.store.LoadSitemapCache()
		if cacheErr != nil {
			return nil, cacheErr
		}
		discovered, err = crawl.DiscoverSitemap(ctx, ix.httpClient, ix.cfg.BaseURL, cache)
		if err == nil {
			_ = ix.store.SaveSitemapCache(cache)
		}
	}
	if err != nil {
		return nil, err
	}

	merged := crawl.MergeManual(discovered, ix.cfg.ManualURLs, ix.cfg.ManualAdditive || ix.cfg.Discovery != DiscoveryManual)
	urls := make([]string, len(merged))
	for i, d := range merged {
		urls[i] = d.URL
	}
	return urls, nil
}

// indexCorpus embeds and indexes every child chunk, replacing the
// in-memory lexical and vector indexes wholesale.
func (ix *Index) indexCorpus(ctx context.Context, parents []ParentChunk, children []Chunk) error {
	texts := make([]string, len(children))
	ids := make([]string, len(children))
	for i, c := range children {
		texts[i] = c.Text
		ids[i] = c.ChunkID
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("ragindex: embed corpus: %w", err)
	}

	newVectors, err := indexing.NewVectorStore(ix.cfg.EmbeddingDimensions)
	if err != nil {
		return err
	}
	if err := newVectors.Add(ids, vectors); err != nil {
		return err
	}

	ix.mu.Lock()
	ix.vectors = newVectors
	ix.parentByID = make(map[string]ParentChunk, len(parents))
	for _, p := range parents {
		ix.parentByID[p.ParentID] = p
	}
	ix.chunkByID = make(map[string]Chunk, len(children))
	for _, c := range children {
		ix.chunkByID[c.ChunkID] = c
	}
	ix.mu.Unlock()

	if err := ix.lexical.Clear(); err != nil {
		return err
	}
	for _, c := range children {
		if err := ix.lexical.Index(c.ChunkID, c.Text, c.Metadata.URL); err != nil {
			return fmt.Errorf("ragindex: index chunk %s: %w", c.ChunkID, err)
		}
	}
	return nil
}

// reembedAndIndex re-runs embedding (not crawling) over a persisted
// chunk corpus, for the manifest-mismatch path in Load.
func (ix *Index) reembedAndIndex(ctx context.Context, chunks []Chunk) error {
	parents, err := ix.store.LoadParents()
	if err != nil {
		return err
	}
	if err := ix.indexCorpus(ctx, parents, chunks); err != nil {
		return err
	}
	return ix.persist(ctx, parents, chunks)
}

func (ix *Index) persist(ctx context.Context, parents []ParentChunk, children []Chunk) error {
	if err := ix.store.SaveParents(parents); err != nil {
		return err
	}
	if err := ix.store.SaveChunks(children); err != nil {
		return err
	}

	ix.mu.RLock()
	vectors := ix.vectors
	ix.mu.RUnlock()
	if err := vectors.Save(ix.store.VectorStorePath()); err != nil {
		return err
	}
	checksum, err := ix.store.VectorStoreChecksum()
	if err != nil {
		return err
	}
	return ix.store.SaveManifest(IndexManifest{
		IndexVersionTag:       IndexVersionTag,
		EmbeddingModelName:    ix.cfg.EmbeddingModelName,
		ChecksumOfVectorStore: checksum,
		CreatedAt:             time.Now().UTC(),
		ChunkCount:            len(children),
	})
}

// Search runs the fused lexical+semantic retrieval and rerank pipeline
// and returns the topK ranked hits.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, gatewayerr.New(gatewayerr.KindBadRequest, "ragindex", "empty search query", nil)
	}
	if topK <= 0 {
		topK = ix.cfg.TopK
	}
	candidateN := topK * ix.cfg.RetrieverCandidateMultiplier

	lexicalHits, err := ix.lexical.Search(query, candidateN)
	if err != nil {
		return nil, err
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ragindex: embed query: %w", err)
	}
	ix.mu.RLock()
	vectors := ix.vectors
	ix.mu.RUnlock()
	semanticHits, err := vectors.Search(ctx, queryVec, candidateN)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	lexicalHits = dropTombstoned(lexicalHits, ix.chunkByID, func(h indexing.LexicalHit) string { return h.ID })
	semanticHits = dropTombstoned(semanticHits, ix.chunkByID, func(h indexing.VectorHit) string { return h.ID })
	ix.mu.RUnlock()

	fused := indexing.Fuse(lexicalHits, semanticHits, ix.cfg.LexicalWeight, ix.cfg.SemanticWeight)

	ix.mu.RLock()
	candidates := make([]reranking.Candidate, 0, len(fused))
	for _, f := range fused {
		if c, ok := ix.chunkByID[f.ID]; ok {
			candidates = append(candidates, reranking.Candidate{ID: f.ID, Text: c.Text})
		}
	}
	ix.mu.RUnlock()

	reranked, err := reranking.Rerank(ix.reranker, query, candidates)
	if err != nil {
		return nil, err
	}

	seenURLs := make(map[string]bool)
	var hits []SearchHit
	for _, r := range reranked {
		if len(hits) >= topK {
			break
		}

		ix.mu.RLock()
		chunk, ok := ix.chunkByID[r.ID]
		var parentText string
		if ok {
			parentText = ix.parentByID[chunk.ParentID].Text
		}
		ix.mu.RUnlock()

		if !ok || chunk.Metadata.Tombstoned || seenURLs[chunk.Metadata.URL] {
			continue
		}
		seenURLs[chunk.Metadata.URL] = true

		hits = append(hits, SearchHit{Chunk: chunk, ParentText: parentText, Score: r.Score})
	}
	return hits, nil
}

// dropTombstoned removes any hit whose chunk is tombstoned or no longer
// present, so a tombstoned chunk never occupies a candidate slot ahead of
// fusion rather than merely being skipped once it reaches the final
// result list.
func dropTombstoned[H any](hits []H, chunkByID map[string]Chunk, idOf func(H) string) []H {
	kept := hits[:0]
	for _, h := range hits {
		chunk, ok := chunkByID[idOf(h)]
		if !ok || chunk.Metadata.Tombstoned {
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

// Pause and Resume implement orchestrator.RAGPauser: a tool-calling
// iteration in progress can ask the index to stand down from a batch
// update so it does not compete for CPU mid-request.
func (ix *Index) Pause()  { ix.paused.Store(true) }
func (ix *Index) Resume() { ix.paused.Store(false) }

// IsPaused reports whether the index is currently paused. The background
// updater (pkg/ragindex/updater) polls this between batches.
func (ix *Index) IsPaused() bool { return ix.paused.Load() }

// DiscoverWithLastmod runs this Index's configured discovery mode and
// returns the raw lastmod-carrying results, for the updater's sitemap
// diff. Manual discovery has no lastmod hints.
func (ix *Index) DiscoverWithLastmod(ctx context.Context) ([]crawl.DiscoveredURL, error) {
	switch ix.cfg.Discovery {
	case DiscoveryRecursive:
		return crawl.DiscoverRecursive(ctx, ix.httpClient, ix.cfg.BaseURL, ix.cfg.MaxCrawlDepth)
	case DiscoveryManual:
		out := make([]crawl.DiscoveredURL, len(ix.cfg.ManualURLs))
		for i, u := range ix.cfg.ManualURLs {
			out[i] = crawl.DiscoveredURL{URL: u}
		}
		return out, nil
	default:
		cache, err := ix.store.LoadSitemapCache()
		if err != nil {
			return nil, err
		}
		discovered, err := crawl.DiscoverSitemap(ctx, ix.httpClient, ix.cfg.BaseURL, cache)
		if err != nil {
			return nil, err
		}
		_ = ix.store.SaveSitemapCache(cache)
		return discovered, nil
	}
}

// CrawlState returns the persisted per-URL indexing bookkeeping the
// updater diffs new discovery results against.
func (ix *Index) CrawlState() (*store.CrawlState, error) {
	return ix.store.LoadCrawlState()
}

// SaveCrawlState persists the updater's view of what has been indexed.
func (ix *Index) SaveCrawlState(state *store.CrawlState) error {
	return ix.store.SaveCrawlState(state)
}

// ApplyURLs re-fetches, re-chunks, and re-indexes exactly the given URLs
// in place, replacing any chunks already indexed for each URL. It
// bypasses the page cache since the caller already knows these URLs
// changed.
func (ix *Index) ApplyURLs(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	fetcher := crawl.NewFetcher(ix.httpClient, ix.store, ix.cfg.PageCacheTTL, ix.cfg.FetchWorkers, ix.cfg.FetchRetries, 0)
	authority := crawl.BaseAuthority(ix.cfg.BaseURL)
	results, _ := fetcher.FetchAll(ctx, authority, urls, true)

	var parents []ParentChunk
	var children []Chunk
	for _, r := range results {
		extracted, ok := extraction.Extract(r.HTML)
		if !ok {
			continue
		}
		p, c := chunking.Chunk(r.URL, extracted.Node, docTypeOf(r.URL))
		parents = append(parents, p...)
		children = append(children, c...)
	}

	ix.removeChunksForURLs(urls)
	if err := ix.addChunks(ctx, parents, children); err != nil {
		return err
	}
	return ix.persistSnapshot()
}

// RemoveURLs drops every chunk and parent belonging to urls, for
// sitemap entries the updater found had disappeared entirely.
func (ix *Index) RemoveURLs(urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	ix.removeChunksForURLs(urls)
	return ix.persistSnapshot()
}

// TombstoneURLs marks every chunk belonging to urls as tombstoned so
// Search excludes them immediately, without waiting for the batch that
// actually re-fetches or removes them.
func (ix *Index) TombstoneURLs(urls []string) {
	set := make(map[string]bool, len(urls))
	for _, u := range urls {
		set[u] = true
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for id, c := range ix.chunkByID {
		if set[c.Metadata.URL] {
			c.Metadata.Tombstoned = true
			ix.chunkByID[id] = c
		}
	}
}

// TombstoneRatio returns the fraction of the current chunk corpus that
// is tombstoned. The updater does not call it: its rebuild decision uses
// the share of changed and removed URLs from its discovery diff.
func (ix *Index) TombstoneRatio() float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.chunkByID) == 0 {
		return 0
	}
	var tombstoned int
	for _, c := range ix.chunkByID {
		if c.Metadata.Tombstoned {
			tombstoned++
		}
	}
	return float64(tombstoned) / float64(len(ix.chunkByID))
}

func (ix *Index) removeChunksForURLs(urls []string) {
	set := make(map[string]bool, len(urls))
	for _, u := range urls {
		set[u] = true
	}

	ix.mu.Lock()
	var staleIDs []string
	for id, c := range ix.chunkByID {
		if set[c.Metadata.URL] {
			staleIDs = append(staleIDs, id)
			delete(ix.chunkByID, id)
		}
	}
	for id, p := range ix.parentByID {
		if set[p.Metadata.URL] {
			delete(ix.parentByID, id)
		}
	}
	ix.mu.Unlock()

	if len(staleIDs) == 0 {
		return
	}
	ix.vectors.Remove(staleIDs)
	for _, id := range staleIDs {
		_ = ix.lexical.Delete(id)
	}
}

// addChunks embeds and indexes an incremental set of parents/children
// on top of the current in-memory corpus, without discarding it (unlike
// indexCorpus, which always rebuilds the corpus wholesale).
func (ix *Index) addChunks(ctx context.Context, parents []ParentChunk, children []Chunk) error {
	if len(children) == 0 {
		return nil
	}
	texts := make([]string, len(children))
	ids := make([]string, len(children))
	for i, c := range children {
		texts[i] = c.Text
		ids[i] = c.ChunkID
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("ragindex: embed batch: %w", err)
	}

	ix.mu.Lock()
	if err := ix.vectors.Add(ids, vectors); err != nil {
		ix.mu.Unlock()
		return err
	}
	for _, p := range parents {
		ix.parentByID[p.ParentID] = p
	}
	for _, c := range children {
		ix.chunkByID[c.ChunkID] = c
	}
	ix.mu.Unlock()

	for _, c := range children {
		if err := ix.lexical.Index(c.ChunkID, c.Text, c.Metadata.URL); err != nil {
			return fmt.Errorf("ragindex: index chunk %s: %w", c.ChunkID, err)
		}
	}
	return nil
}

// Chunks returns a snapshot of the current child-chunk corpus, for the
// contextualizer's enrichment pass.
func (ix *Index) Chunks() []Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Chunk, 0, len(ix.chunkByID))
	for _, c := range ix.chunkByID {
		out = append(out, c)
	}
	return out
}

// PrependContext rewrites chunkID's indexed text to lead with prefix and
// re-embeds and re-indexes it, so future searches benefit from the
// contextualizer's enrichment. The chunk remains searchable under its
// prior text until this completes. A chunk that no longer exists (e.g.
// removed by a concurrent update) is silently skipped rather than
// treated as an error.
func (ix *Index) PrependContext(ctx context.Context, chunkID, prefix string) error {
	if prefix == "" {
		return nil
	}
	ix.mu.RLock()
	chunk, ok := ix.chunkByID[chunkID]
	ix.mu.RUnlock()
	if !ok {
		return nil
	}

	enriched := chunk
	enriched.Text = prefix + " " + chunk.Text

	vec, err := ix.embedder.Embed(ctx, enriched.Text)
	if err != nil {
		return fmt.Errorf("ragindex: embed enriched chunk: %w", err)
	}

	ix.mu.Lock()
	ix.vectors.Remove([]string{chunkID})
	if err := ix.vectors.Add([]string{chunkID}, [][]float32{vec}); err != nil {
		ix.mu.Unlock()
		return err
	}
	ix.chunkByID[chunkID] = enriched
	ix.mu.Unlock()

	return ix.lexical.Index(chunkID, enriched.Text, enriched.Metadata.URL)
}

// PersistSnapshot writes the current in-memory corpus to disk. Exported
// for the contextualizer's periodic checkpoints, which mutate chunk text
// in place without going through Build's full persist call.
func (ix *Index) PersistSnapshot() error { return ix.persistSnapshot() }

// persistSnapshot writes the current in-memory corpus to disk, for the
// incremental update paths that mutate the corpus without going through
// Build's full persist call.
func (ix *Index) persistSnapshot() error {
	ix.mu.RLock()
	parents := make([]ParentChunk, 0, len(ix.parentByID))
	for _, p := range ix.parentByID {
		parents = append(parents, p)
	}
	children := make([]Chunk, 0, len(ix.chunkByID))
	for _, c := range ix.chunkByID {
		children = append(children, c)
	}
	ix.mu.RUnlock()
	return ix.persist(context.Background(), parents, children)
}

// AsSearcher adapts Index to tool.Searcher for wiring into the built-in
// rag_search tool without pkg/tool depending on pkg/ragindex's types.
func (ix *Index) AsSearcher() tool.Searcher { return toolSearcher{ix} }

type toolSearcher struct{ ix *Index }

func (t toolSearcher) Search(ctx context.Context, query string, topK int) ([]tool.SearchResult, error) {
	hits, err := t.ix.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]tool.SearchResult, len(hits))
	for i, h := range hits {
		out[i] = tool.SearchResult{
			Title:   strings.Join(h.Chunk.Metadata.HeadingPath, " > "),
			URL:     h.Chunk.Metadata.URL,
			Content: h.ParentText,
			Score:   h.Score,
		}
	}
	return out, nil
}

// docTypeOf classifies a URL's content into a coarse doc-type bucket by
// path shape.
func docTypeOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "guide"
	}
	path := strings.ToLower(u.Path)
	switch {
	case strings.Contains(path, "/api/") || strings.Contains(path, "/reference/"):
		return "api_reference"
	case strings.Contains(path, "/blog/"):
		return "blog"
	case strings.Contains(path, "/changelog"):
		return "changelog"
	default:
		return "guide"
	}
}
