// Package store implements the on-disk persistence layer for the RAG
// index: a manifest, chunk/parent JSON files, a per-page HTML cache, a
// sub-sitemap lastmod cache, and crawl state, plus the vector store's
// checksum-guarded load path.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/relcore/toolgate/pkg/gatewayerr"
	"github.com/relcore/toolgate/pkg/ragindex/ragtype"
)

// Store owns every on-disk artifact of one RAG index build: the crawl's
// page cache and sub-sitemap cache, the chunk/parent corpus, the vector
// store checksum, and crawl state. All mutating methods are safe for
// concurrent use; a single coarse mutex is enough at this scale (the
// Index already guards its in-memory corpus against concurrent search
// via its own read/write lock).
type Store struct {
	dir string
	mu  sync.RWMutex
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create index dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "pages"), 0o755); err != nil {
		return nil, fmt.Errorf("store: create pages dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// --- manifest -------------------------------------------------------------

// LoadManifest reads manifest.json. A missing file is not an error: it
// means no build has completed yet.
func (s *Store) LoadManifest() (*ragtype.IndexManifest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var m ragtype.IndexManifest
	ok, err := readJSON(s.path("manifest.json"), &m)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &m, true, nil
}

// SaveManifest overwrites manifest.json.
func (s *Store) SaveManifest(m ragtype.IndexManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("manifest.json"), m)
}

// VerifyVectorStoreChecksum compares the vector store file's SHA-256
// against manifest's recorded checksum, failing closed on mismatch:
// never serve search results off a store that may not match the chunk
// corpus it was supposedly built from.
func (s *Store) VerifyVectorStoreChecksum(manifest ragtype.IndexManifest) error {
	path := s.path("vector_store.bin")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return gatewayerr.New(gatewayerr.KindIndexCorruption, "store", "vector store file missing", nil)
		}
		return fmt.Errorf("store: read vector store: %w", err)
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	if checksum != manifest.ChecksumOfVectorStore {
		return gatewayerr.New(gatewayerr.KindIndexCorruption, "store",
			fmt.Sprintf("vector store checksum mismatch: got %s, manifest records %s", checksum, manifest.ChecksumOfVectorStore), nil)
	}
	return nil
}

// VectorStoreChecksum computes the current on-disk vector store's SHA-256,
// for recording into a freshly written manifest after a build.
func (s *Store) VectorStoreChecksum() (string, error) {
	data, err := os.ReadFile(s.path("vector_store.bin"))
	if err != nil {
		return "", fmt.Errorf("store: read vector store: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Store) VectorStorePath() string { return s.path("vector_store.bin") }

// --- chunks / parents ------------------------------------------------------

// LoadChunks reads chunks.json. A missing file returns an empty slice.
func (s *Store) LoadChunks() ([]ragtype.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chunks []ragtype.Chunk
	if _, err := readJSON(s.path("chunks.json"), &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// SaveChunks overwrites chunks.json.
func (s *Store) SaveChunks(chunks []ragtype.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("chunks.json"), chunks)
}

// LoadParents reads parents.json. A missing file returns an empty slice.
func (s *Store) LoadParents() ([]ragtype.ParentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var parents []ragtype.ParentChunk
	if _, err := readJSON(s.path("parents.json"), &parents); err != nil {
		return nil, err
	}
	return parents, nil
}

// SaveParents overwrites parents.json.
func (s *Store) SaveParents(parents []ragtype.ParentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("parents.json"), parents)
}

// --- page cache (implements crawl.PageCache) -------------------------------

type pageCacheEntry struct {
	HTML     string    `json:"html"`
	CachedAt time.Time `json:"cached_at"`
}

// Get implements crawl.PageCache by loading the page's cache file.
func (s *Store) Get(url string) (string, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entry pageCacheEntry
	ok, err := readJSON(s.pagePath(url), &entry)
	if err != nil || !ok {
		return "", time.Time{}, false
	}
	return entry.HTML, entry.CachedAt, true
}

// Put implements crawl.PageCache by writing the page's cache file.
func (s *Store) Put(url string, html string, cachedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = writeJSON(s.pagePath(url), pageCacheEntry{HTML: html, CachedAt: cachedAt})
}

func (s *Store) pagePath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return s.path(filepath.Join("pages", hex.EncodeToString(sum[:])[:32]+".json"))
}

// --- sub-sitemap cache (implements crawl.SubSitemapCache backing store) ---

// LoadSitemapCache reads sitemap_cache.json into a crawl.SubSitemapCache-
// compatible map. A missing file returns an empty map.
func (s *Store) LoadSitemapCache() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cache := make(map[string]string)
	if _, err := readJSON(s.path("sitemap_cache.json"), &cache); err != nil {
		return nil, err
	}
	return cache, nil
}

// SaveSitemapCache overwrites sitemap_cache.json.
func (s *Store) SaveSitemapCache(cache map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("sitemap_cache.json"), cache)
}

// --- crawl state ------------------------------------------------------------

// CrawlState tracks which URLs have been indexed, failed, or are on the
// fetcher's skip list, so an updater run can resume without re-deriving
// this from the chunk corpus.
type CrawlState struct {
	Indexed map[string]ragtype.PageRecord `json:"indexed"`
	Failed  map[string]string              `json:"failed"` // url -> last error
	Skipped []string                       `json:"skipped"`
}

// LoadCrawlState reads crawl_state.json. A missing file returns an empty,
// initialized state.
func (s *Store) LoadCrawlState() (*CrawlState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := &CrawlState{Indexed: make(map[string]ragtype.PageRecord), Failed: make(map[string]string)}
	if _, err := readJSON(s.path("crawl_state.json"), state); err != nil {
		return nil, err
	}
	if state.Indexed == nil {
		state.Indexed = make(map[string]ragtype.PageRecord)
	}
	if state.Failed == nil {
		state.Failed = make(map[string]string)
	}
	return state, nil
}

// SaveCrawlState overwrites crawl_state.json.
func (s *Store) SaveCrawlState(state *CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("crawl_state.json"), state)
}

// --- contextualizer progress -------------------------------------------------

// ContextualizerProgress tracks which chunks have already received a
// contextual prefix, so a crash or restart resumes the enrichment pass
// instead of starting over.
type ContextualizerProgress struct {
	Done map[string]bool `json:"done"`
}

// LoadContextualizerProgress reads contextualizer_progress.json. A
// missing file returns an empty, initialized progress value.
func (s *Store) LoadContextualizerProgress() (*ContextualizerProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := &ContextualizerProgress{Done: make(map[string]bool)}
	if _, err := readJSON(s.path("contextualizer_progress.json"), p); err != nil {
		return nil, err
	}
	if p.Done == nil {
		p.Done = make(map[string]bool)
	}
	return p, nil
}

// SaveContextualizerProgress overwrites contextualizer_progress.json.
func (s *Store) SaveContextualizerProgress(p *ContextualizerProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("contextualizer_progress.json"), p)
}

// --- helpers ----------------------------------------------------------------

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, gatewayerr.New(gatewayerr.KindIndexCorruption, "store", fmt.Sprintf("malformed JSON in %s", path), err)
	}
	return true, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create dir for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}
