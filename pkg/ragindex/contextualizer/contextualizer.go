// Package contextualizer runs an optional background enrichment pass over
// an already-built RAG index: for each chunk, it asks the configured
// backend adapter for a one-sentence summary of how the chunk relates to
// its surrounding document, and prepends that sentence to the chunk's
// indexed text so retrieval can match on context a chunk's own wording
// might not contain. The index stays searchable the whole time; this
// only improves ranking as it goes.
package contextualizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/relcore/toolgate/pkg/backend"
	"github.com/relcore/toolgate/pkg/chatmodel"
	"github.com/relcore/toolgate/pkg/ragindex"
	"github.com/relcore/toolgate/pkg/ragindex/store"
)

// checkpointEvery controls how often progress and the mutated corpus are
// persisted, so a crash or restart mid-run resumes instead of
// re-enriching from scratch.
const checkpointEvery = 50

const promptTemplate = `You are labeling one excerpt from a larger document so it can be found by search later.

Document heading path: %s
Excerpt:
"""
%s
"""

In one short sentence, state what this excerpt is about in the context of its surrounding document. Do not repeat the excerpt. Reply with only that sentence.`

// ProgressStore is the narrow persistence surface Run depends on for
// resumability, implemented by pkg/ragindex/store.Store.
type ProgressStore interface {
	LoadContextualizerProgress() (*store.ContextualizerProgress, error)
	SaveContextualizerProgress(*store.ContextualizerProgress) error
}

// Enricher runs the contextualization pass over an Index's current chunk
// corpus using adapter to generate each chunk's contextual prefix.
type Enricher struct {
	ix      *ragindex.Index
	adapter backend.Adapter
	store   ProgressStore
}

// New returns an Enricher for ix, calling adapter once per chunk and
// checkpointing progress through progressStore.
func New(ix *ragindex.Index, adapter backend.Adapter, progressStore ProgressStore) *Enricher {
	return &Enricher{ix: ix, adapter: adapter, store: progressStore}
}

// Run enriches every not-yet-done chunk in the index's current corpus,
// checkpointing every checkpointEvery chunks and honoring both ctx
// cancellation and the index's pause signal between chunks.
func (e *Enricher) Run(ctx context.Context) error {
	progress, err := e.store.LoadContextualizerProgress()
	if err != nil {
		return fmt.Errorf("contextualizer: load progress: %w", err)
	}

	chunks := e.ix.Chunks()
	since := 0
	for _, c := range chunks {
		if progress.Done[c.ChunkID] {
			continue
		}
		if err := e.waitWhilePaused(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		prefix, err := e.contextFor(ctx, c)
		if err != nil {
			return fmt.Errorf("contextualizer: chunk %s: %w", c.ChunkID, err)
		}
		if err := e.ix.PrependContext(ctx, c.ChunkID, prefix); err != nil {
			return fmt.Errorf("contextualizer: apply chunk %s: %w", c.ChunkID, err)
		}

		progress.Done[c.ChunkID] = true
		since++
		if since >= checkpointEvery {
			if err := e.checkpoint(progress); err != nil {
				return err
			}
			since = 0
		}
	}
	return e.checkpoint(progress)
}

func (e *Enricher) checkpoint(progress *store.ContextualizerProgress) error {
	if err := e.ix.PersistSnapshot(); err != nil {
		return fmt.Errorf("contextualizer: persist corpus: %w", err)
	}
	if err := e.store.SaveContextualizerProgress(progress); err != nil {
		return fmt.Errorf("contextualizer: checkpoint progress: %w", err)
	}
	return nil
}

func (e *Enricher) contextFor(ctx context.Context, c ragindex.Chunk) (string, error) {
	prompt := fmt.Sprintf(promptTemplate, strings.Join(c.Metadata.HeadingPath, " > "), c.Text)
	result, err := e.adapter.Chat(ctx, backend.ChatParams{
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleUser, Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Message.Content), nil
}

func (e *Enricher) waitWhilePaused(ctx context.Context) error {
	for e.ix.IsPaused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil
}
