// Package indexing implements dual lexical/semantic retrieval over
// child chunks: a bleve-backed lexical index and a flat in-process
// vector store, combined by reciprocal rank fusion.
package indexing

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// VectorHit is one semantic search result.
type VectorHit struct {
	ID    string
	Score float64 // cosine similarity in [-1,1] for normalized vectors
}

// VectorStore is a flat, brute-force in-process exact nearest-neighbour
// index over normalized embeddings. A brute-force scan is appropriate at the chunk counts a
// single-site documentation index produces; a true approximate index
// isn't warranted here.
type VectorStore struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewVectorStore creates an empty store for vectors of the given dimension.
func NewVectorStore(dimensions int) (*VectorStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("indexing: dimensions must be positive")
	}
	return &VectorStore{dimensions: dimensions}, nil
}

// Add appends vectors under the given IDs. A duplicate ID is appended
// alongside, not replaced; callers must Remove stale IDs first.
func (v *VectorStore) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("indexing: ids and vectors length mismatch")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != v.dimensions {
			return fmt.Errorf("indexing: vector dimension mismatch: got %d, want %d", len(vectors[i]), v.dimensions)
		}
		vec := make([]float32, v.dimensions)
		copy(vec, vectors[i])
		v.ids = append(v.ids, id)
		v.vectors = append(v.vectors, vec)
	}
	return nil
}

// Remove deletes every vector registered under any of ids.
func (v *VectorStore) Remove(ids []string) {
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	newIDs := make([]string, 0, len(v.ids))
	newVectors := make([][]float32, 0, len(v.vectors))
	for i, id := range v.ids {
		if !remove[id] {
			newIDs = append(newIDs, id)
			newVectors = append(newVectors, v.vectors[i])
		}
	}
	v.ids = newIDs
	v.vectors = newVectors
}

// Search returns the topK nearest vectors to query by inner product,
// which equals cosine similarity for unit-normalized vectors.
func (v *VectorStore) Search(ctx context.Context, query []float32, topK int) ([]VectorHit, error) {
	if len(query) != v.dimensions {
		return nil, fmt.Errorf("indexing: query dimension mismatch: got %d, want %d", len(query), v.dimensions)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if topK <= 0 || len(v.ids) == 0 {
		return nil, nil
	}

	type scored struct {
		id    string
		score float64
	}
	scores := make([]scored, len(v.ids))
	for i, vec := range v.vectors {
		var dot float64
		for j := 0; j < v.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		scores[i] = scored{id: v.ids[i], score: dot}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK > len(scores) {
		topK = len(scores)
	}
	out := make([]VectorHit, topK)
	for i := 0; i < topK; i++ {
		out[i] = VectorHit{ID: scores[i].id, Score: scores[i].score}
	}
	return out, nil
}

// Size returns the number of vectors currently stored.
func (v *VectorStore) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.ids)
}

// Save persists the store as: dimensions(4) count(4) then per vector
// idLen(4) id vector(dimensions*4).
func (v *VectorStore) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("indexing: create vector store dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("indexing: create vector store file: %w", err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, uint32(v.dimensions)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(v.ids))); err != nil {
		return err
	}
	for i, id := range v.ids {
		idBytes := []byte(id)
		if err := binary.Write(f, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return err
		}
		if _, err := f.Write(idBytes); err != nil {
			return err
		}
		if _, err := f.Write(float32sToBytes(v.vectors[i])); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the store's contents from path. A missing file leaves the
// store empty without error (first run before any build).
func (v *VectorStore) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("indexing: open vector store file: %w", err)
	}
	defer f.Close()

	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return err
	}
	if int(dim) != v.dimensions {
		return fmt.Errorf("indexing: vector store dimension mismatch: file has %d, index expects %d", dim, v.dimensions)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.ids = make([]string, 0, n)
	v.vectors = make([][]float32, 0, n)
	buf := make([]byte, v.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(f, binary.LittleEndian, &idLen); err != nil {
			return err
		}
		idBytes := make([]byte, idLen)
		if _, err := f.Read(idBytes); err != nil {
			return err
		}
		if _, err := f.Read(buf); err != nil {
			return err
		}
		v.ids = append(v.ids, string(idBytes))
		v.vectors = append(v.vectors, bytesToFloat32s(buf))
	}
	return nil
}

func float32sToBytes(s []float32) []byte {
	out := make([]byte, len(s)*4)
	for i, f := range s {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(f))
	}
	return out
}

func bytesToFloat32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
