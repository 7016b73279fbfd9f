// Package updater runs the background incremental refresh loop:
// periodically re-discover the site, diff against what was last indexed,
// and apply only what changed, falling back to a full Index.Build when
// too much of the corpus has turned over to make incremental patching
// worthwhile.
package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/relcore/toolgate/pkg/ragindex"
	"github.com/relcore/toolgate/pkg/ragindex/crawl"
	"github.com/relcore/toolgate/pkg/ragindex/store"
)

// pausePollInterval is how often RunOnce checks Index.IsPaused() while
// standing down between batches.
const pausePollInterval = 500 * time.Millisecond

// Updater owns the ticking refresh loop for one Index.
type Updater struct {
	ix *ragindex.Index

	interval         time.Duration
	batchSize        int
	rebuildThreshold float64

	onError func(error)
}

// New returns an Updater for ix, reading its refresh cadence, batch
// size, and rebuild threshold from ix.Config(). onError (may be nil) is
// called with any error from a run fired by Run; RunOnce always returns
// the error directly to its own caller as well.
func New(ix *ragindex.Index, onError func(error)) *Updater {
	cfg := ix.Config()
	return &Updater{
		ix:               ix,
		interval:         cfg.UpdateInterval,
		batchSize:        cfg.UpdateBatchSize,
		rebuildThreshold: cfg.RebuildThreshold,
		onError:          onError,
	}
}

// Run blocks, firing RunOnce every interval until ctx is canceled.
func (u *Updater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.RunOnce(ctx); err != nil && u.onError != nil {
				u.onError(err)
			}
		}
	}
}

// RunOnce runs a single discover→diff→apply cycle to completion (or
// until ctx is canceled). It is exported so callers can trigger an
// off-cycle refresh, and so tests can drive it deterministically instead
// of waiting on a ticker.
func (u *Updater) RunOnce(ctx context.Context) error {
	discovered, err := u.ix.DiscoverWithLastmod(ctx)
	if err != nil {
		return fmt.Errorf("updater: discover: %w", err)
	}
	state, err := u.ix.CrawlState()
	if err != nil {
		return fmt.Errorf("updater: load crawl state: %w", err)
	}

	diff := diffURLs(discovered, state)
	unknownChanged, unknownHashes := u.resolveUnknown(ctx, diff.Unknown, state)
	diff.Updated = append(diff.Updated, unknownChanged...)

	total := len(state.Indexed)
	if total == 0 {
		total = len(discovered)
	}
	changedRatio := 0.0
	if total > 0 {
		changedRatio = float64(len(diff.Updated)+len(diff.Removed)) / float64(total)
	}

	if total > 0 && changedRatio > u.rebuildThreshold {
		if err := u.ix.Build(ctx); err != nil {
			return fmt.Errorf("updater: full rebuild: %w", err)
		}
		return u.recordState(discovered, unknownHashes)
	}

	u.ix.TombstoneURLs(append(urlsOf(diff.Updated), diff.Removed...))

	pending := append(append([]crawl.DiscoveredURL{}, diff.New...), diff.Updated...)
	for i := 0; i < len(pending); i += u.batchSize {
		if err := u.waitWhilePaused(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := i + u.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := u.ix.ApplyURLs(ctx, urlsOf(pending[i:end])); err != nil {
			return fmt.Errorf("updater: apply batch: %w", err)
		}
	}

	if len(diff.Removed) > 0 {
		if err := u.ix.RemoveURLs(diff.Removed); err != nil {
			return fmt.Errorf("updater: remove stale urls: %w", err)
		}
	}

	return u.recordState(discovered, unknownHashes)
}

// resolveUnknown fetches each lastmod-less URL and compares its current
// content hash against the hash recorded the last time it was indexed,
// so a page the sitemap never timestamps still gets re-indexed when its
// content actually changes. It returns the subset that changed, plus
// every hash it computed so recordState can persist them for the next
// comparison.
func (u *Updater) resolveUnknown(ctx context.Context, unknown []crawl.DiscoveredURL, state *store.CrawlState) ([]crawl.DiscoveredURL, map[string]string) {
	if len(unknown) == 0 {
		return nil, nil
	}
	hashes := u.ix.ContentHashesFor(ctx, urlsOf(unknown))
	var changed []crawl.DiscoveredURL
	for _, d := range unknown {
		hash, ok := hashes[d.URL]
		if !ok {
			continue
		}
		if prev, known := state.Indexed[d.URL]; !known || prev.ContentHash != hash {
			changed = append(changed, d)
		}
	}
	return changed, hashes
}

func (u *Updater) waitWhilePaused(ctx context.Context) error {
	for u.ix.IsPaused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePollInterval):
		}
	}
	return nil
}

func (u *Updater) recordState(discovered []crawl.DiscoveredURL, unknownHashes map[string]string) error {
	state := &store.CrawlState{
		Indexed: make(map[string]ragindex.PageRecord, len(discovered)),
		Failed:  make(map[string]string),
	}
	for _, d := range discovered {
		lastmod := ""
		if d.Lastmod != nil {
			lastmod = d.Lastmod.UTC().Format(time.RFC3339)
		}
		state.Indexed[d.URL] = ragindex.PageRecord{URL: d.URL, SitemapLastmod: lastmod, ContentHash: unknownHashes[d.URL]}
	}
	return u.ix.SaveCrawlState(state)
}
