package reranking

import "strings"

// OverlapReranker scores a candidate by the square of the fraction of
// query terms its text contains; where a term appears in the text does
// not affect the score. It is a deterministic stand-in for a
// cross-encoder model, grounded on the teacher pack's term-coverage
// scoring in its Bleve keyword search. It requires no model file; it is
// the only Reranker implementation, and Index always uses it.
type OverlapReranker struct{}

func (OverlapReranker) Score(query string, candidates []Candidate) ([]float64, error) {
	terms := queryTerms(query)
	scores := make([]float64, len(candidates))
	if len(terms) == 0 {
		return scores, nil
	}

	for i, c := range candidates {
		lower := strings.ToLower(c.Text)
		matched := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				matched++
			}
		}
		coverage := float64(matched) / float64(len(terms))
		scores[i] = coverage * coverage // squared penalty for partial coverage
	}
	return scores, nil
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}
