package updater

import (
	"time"

	"github.com/relcore/toolgate/pkg/ragindex/crawl"
	"github.com/relcore/toolgate/pkg/ragindex/store"
)

// Diff classifies one discovery pass against the previously recorded
// crawl state, the input to the updater's incremental batch step.
type Diff struct {
	New       []crawl.DiscoveredURL
	Updated   []crawl.DiscoveredURL
	Unknown   []crawl.DiscoveredURL
	Removed   []string
	Unchanged []string
}

// diffURLs compares discovered (already sorted lastmod-descending by the
// discovery functions) against state.Indexed, classifying each URL as
// new, updated (lastmod advanced), unknown (no lastmod to compare against;
// the caller must resolve these with a content-hash comparison on fetch
// rather than assuming unchanged), or unchanged, and collecting any
// previously indexed URL no longer discovered as removed.
func diffURLs(discovered []crawl.DiscoveredURL, state *store.CrawlState) Diff {
	var d Diff
	seen := make(map[string]bool, len(discovered))
	for _, disc := range discovered {
		seen[disc.URL] = true
		prev, known := state.Indexed[disc.URL]
		switch {
		case !known:
			d.New = append(d.New, disc)
		case disc.Lastmod == nil:
			d.Unknown = append(d.Unknown, disc)
		case disc.Lastmod.UTC().Format(time.RFC3339) != prev.SitemapLastmod:
			d.Updated = append(d.Updated, disc)
		default:
			d.Unchanged = append(d.Unchanged, disc.URL)
		}
	}
	for url := range state.Indexed {
		if !seen[url] {
			d.Removed = append(d.Removed, url)
		}
	}
	return d
}

func urlsOf(discovered []crawl.DiscoveredURL) []string {
	out := make([]string, len(discovered))
	for i, d := range discovered {
		out[i] = d.URL
	}
	return out
}
