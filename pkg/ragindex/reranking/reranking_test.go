package reranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerank_NormalizesToUnitRangeAndSortsDescending(t *testing.T) {
	candidates := []Candidate{
		{ID: "low", Text: "completely unrelated text"},
		{ID: "high", Text: "tool calls flow through the orchestrator"},
	}
	scored, err := Rerank(OverlapReranker{}, "tool calls orchestrator", candidates)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "high", scored[0].ID)
	assert.Equal(t, 1.0, scored[0].Score)
	assert.Equal(t, 0.0, scored[1].Score)
}

func TestRerank_EmptyCandidatesReturnsNil(t *testing.T) {
	scored, err := Rerank(OverlapReranker{}, "anything", nil)
	require.NoError(t, err)
	assert.Nil(t, scored)
}

func TestRerank_UniformScoresNormalizeToOne(t *testing.T) {
	candidates := []Candidate{{ID: "a", Text: "x"}, {ID: "b", Text: "y"}}
	scored, err := Rerank(OverlapReranker{}, "", candidates)
	require.NoError(t, err)
	for _, s := range scored {
		assert.Equal(t, 1.0, s.Score)
	}
}

func TestOverlapReranker_PartialCoverageScoresLower(t *testing.T) {
	scores, err := OverlapReranker{}.Score("alpha beta", []Candidate{
		{ID: "both", Text: "alpha and beta appear here"},
		{ID: "one", Text: "only alpha appears here"},
	})
	require.NoError(t, err)
	assert.Greater(t, scores[0], scores[1])
}
