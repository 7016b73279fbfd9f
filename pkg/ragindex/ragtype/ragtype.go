// Package ragtype holds the chunk and record types shared across the
// ragindex package and its subpackages (chunking, store, updater,
// contextualizer), factored out to avoid import cycles between them.
package ragtype

import "time"

// ChunkMetadata is the sidecar data carried alongside a Chunk's text.
type ChunkMetadata struct {
	URL             string   `json:"url"`
	HeadingPath     []string `json:"heading_path"`
	DocType         string   `json:"doc_type"`
	CodeIdentifiers []string `json:"code_identifiers,omitempty"`
	IsParent        bool     `json:"is_parent"`
	IsParentAsChild bool     `json:"is_parent_as_child"`
	Tombstoned      bool     `json:"tombstoned"`
}

// Chunk is one child (searchable) unit.
type Chunk struct {
	ChunkID    string        `json:"chunk_id"`
	ParentID   string        `json:"parent_id,omitempty"`
	Text       string        `json:"text"`
	TokenCount int           `json:"token_count"`
	Metadata   ChunkMetadata `json:"metadata"`
	Embedding  []float32     `json:"-"`
}

// ParentChunk is the full-section unit a Chunk's text is drawn from.
type ParentChunk struct {
	ParentID string        `json:"parent_id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// PageRecord is the fetch-cache entry for one crawled URL.
type PageRecord struct {
	URL             string    `json:"url"`
	ContentHash     string    `json:"content_hash"`
	ETag            string    `json:"etag,omitempty"`
	LastModified    string    `json:"last_modified,omitempty"`
	SitemapLastmod  string    `json:"lastmod,omitempty"`
	CachedAt        time.Time `json:"cached_at"`
	HTMLCachePath   string    `json:"html_cache_path"`
}

// IndexManifest guards against loading a store built by a different
// chunker or embedding model.
type IndexManifest struct {
	IndexVersionTag       string    `json:"index_version_tag"`
	EmbeddingModelName    string    `json:"embedding_model_name"`
	ChecksumOfVectorStore string    `json:"checksum_of_vector_store"`
	CreatedAt             time.Time `json:"created_at"`
	ChunkCount            int       `json:"chunk_count"`
}

// IndexVersionTag mirrors the Python original's INDEX_VERSION cache-busting
// tag; bump it whenever the chunker's output shape changes incompatibly.
const IndexVersionTag = "1.1.0-chunker-v2"
