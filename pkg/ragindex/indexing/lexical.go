package indexing

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

func newBleveMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", textField)
	doc.AddFieldMappingsAt("url", bleve.NewTextFieldMapping())
	im.DefaultMapping = doc
	return im
}

// lexicalDoc is the bleve document shape for one child chunk.
type lexicalDoc struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// LexicalHit is one BM25-ranked lexical search result.
type LexicalHit struct {
	ID    string
	Score float64
}

// LexicalIndex wraps a bleve index for BM25-style keyword search over
// chunk text.
type LexicalIndex struct {
	path  string
	index bleve.Index
}

// NewLexicalIndex opens the bleve index at path, creating it with a
// standard (non-stemming) text analyzer if it does not already exist.
func NewLexicalIndex(path string) (*LexicalIndex, error) {
	if _, err := os.Stat(path); err == nil {
		idx, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("indexing: open lexical index: %w", err)
		}
		return &LexicalIndex{path: path, index: idx}, nil
	}

	idx, err := bleve.New(path, newBleveMapping())
	if err != nil {
		return nil, fmt.Errorf("indexing: create lexical index: %w", err)
	}
	return &LexicalIndex{path: path, index: idx}, nil
}

// Clear drops every document from the index by recreating it from
// scratch, for a caller about to re-index a full corpus (Index.Build's
// wholesale rebuild) that wants no stale documents left behind from a
// previous build.
func (l *LexicalIndex) Clear() error {
	if err := l.index.Close(); err != nil {
		return fmt.Errorf("indexing: close lexical index: %w", err)
	}
	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("indexing: remove lexical index: %w", err)
	}
	idx, err := bleve.New(l.path, newBleveMapping())
	if err != nil {
		return fmt.Errorf("indexing: recreate lexical index: %w", err)
	}
	l.index = idx
	return nil
}

// Index upserts chunkID's text under the index.
func (l *LexicalIndex) Index(chunkID, text, url string) error {
	return l.index.Index(chunkID, lexicalDoc{Text: text, URL: url})
}

// Delete removes chunkID from the index.
func (l *LexicalIndex) Delete(chunkID string) error {
	return l.index.Delete(chunkID)
}

// Search runs a BM25 match query over chunk text and returns up to topK
// hits ordered by descending score.
func (l *LexicalIndex) Search(query string, topK int) ([]LexicalHit, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = topK
	results, err := l.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("indexing: lexical search: %w", err)
	}
	hits := make([]LexicalHit, len(results.Hits))
	for i, h := range results.Hits {
		hits[i] = LexicalHit{ID: h.ID, Score: h.Score}
	}
	return hits, nil
}

// DocCount returns the number of indexed documents.
func (l *LexicalIndex) DocCount() (uint64, error) {
	return l.index.DocCount()
}

// Close closes the underlying bleve index.
func (l *LexicalIndex) Close() error {
	return l.index.Close()
}
