// Package ragindex implements the local retrieval core: crawl, fetch,
// extract, semantic-chunk, dual-index (lexical + vector), rerank, fronted
// by a background incremental updater. It is grounded on the Python
// original's rag/indexer.py pipeline shape, reworked onto bleve (lexical)
// and a flat in-process vector store in place of
// FAISS/BM25Retriever/EnsembleRetriever.
package ragindex

import "github.com/relcore/toolgate/pkg/ragindex/ragtype"

// ChunkMetadata is the sidecar data carried alongside a Chunk's text.
type ChunkMetadata = ragtype.ChunkMetadata

// Chunk is one child (searchable) unit.
type Chunk = ragtype.Chunk

// ParentChunk is the full-section unit a Chunk's text is drawn from.
type ParentChunk = ragtype.ParentChunk

// PageRecord is the fetch-cache entry for one crawled URL.
type PageRecord = ragtype.PageRecord

// IndexManifest guards against loading a store built by a different
// chunker or embedding model.
type IndexManifest = ragtype.IndexManifest

// IndexVersionTag mirrors the Python original's INDEX_VERSION cache-busting
// tag; bump it whenever the chunker's output shape changes incompatibly.
const IndexVersionTag = ragtype.IndexVersionTag

// SearchHit is one ranked result from Search, carrying both the matched
// child text and its parent's surrounding context.
type SearchHit struct {
	Chunk      Chunk
	ParentText string
	Score      float64
}
