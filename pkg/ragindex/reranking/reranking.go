// Package reranking re-scores the fused lexical+semantic candidate set
// from pkg/ragindex/indexing against the literal query text, the final
// precision pass before results are returned.
package reranking

import "sort"

// Candidate is one fused result carrying the text a Reranker scores
// against the query.
type Candidate struct {
	ID   string
	Text string
}

// Scored is a Candidate after reranking, normalized into [0,1].
type Scored struct {
	ID    string
	Score float64
}

// Reranker re-scores candidates against query.
type Reranker interface {
	Score(query string, candidates []Candidate) ([]float64, error)
}

// Rerank scores candidates with r, min-max normalizes the raw scores to
// [0,1], and returns them sorted by descending normalized score.
func Rerank(r Reranker, query string, candidates []Candidate) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	raw, err := r.Score(query, candidates)
	if err != nil {
		return nil, err
	}

	min, max := raw[0], raw[0]
	for _, s := range raw {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	out := make([]Scored, len(candidates))
	spread := max - min
	for i, c := range candidates {
		normalized := 1.0
		if spread > 0 {
			normalized = (raw[i] - min) / spread
		}
		out[i] = Scored{ID: c.ID, Score: normalized}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
