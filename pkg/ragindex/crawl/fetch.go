package crawl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// PageCache is the narrow persistence surface Fetcher depends on, so this
// package has no dependency on pkg/ragindex/store's on-disk format.
type PageCache interface {
	Get(url string) (html string, cachedAt time.Time, ok bool)
	Put(url string, html string, cachedAt time.Time)
}

// FetchResult is one successfully fetched (or cache-hit) page.
type FetchResult struct {
	URL         string
	HTML        string
	ContentHash string
	FromCache   bool
}

// FetchOutcome summarizes one fetch attempt, feeding the skip list and the
// status histogram.
type FetchOutcome struct {
	URL        string
	StatusCode int
	Err        error
	Skipped    bool
}

// Fetcher runs a bounded worker pool over a URL list, honoring the page
// cache, redirect confinement, and the 3-strike skip list.
type Fetcher struct {
	client      *http.Client
	cache       PageCache
	ttl         time.Duration
	maxWorkers  int
	maxRetries  int
	rateLimit   time.Duration
	skipCounts  map[string]int
	skipMu      sync.Mutex
}

func NewFetcher(client *http.Client, cache PageCache, ttl time.Duration, maxWorkers, maxRetries int, rateLimit time.Duration) *Fetcher {
	return &Fetcher{
		client:     client,
		cache:      cache,
		ttl:        ttl,
		maxWorkers: maxWorkers,
		maxRetries: maxRetries,
		rateLimit:  rateLimit,
		skipCounts: make(map[string]int),
	}
}

// FetchAll fetches every URL with a bounded worker pool, returning
// successful results and a per-URL outcome log (for the status histogram
// and skip-list bookkeeping). forceRefresh bypasses the page cache.
func (f *Fetcher) FetchAll(ctx context.Context, baseAuthority string, urls []string, forceRefresh bool) ([]FetchResult, []FetchOutcome) {
	workers := f.maxWorkers
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan string)
	results := make(chan FetchResult, len(urls))
	outcomes := make(chan FetchOutcome, len(urls))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				if f.isSkipped(u) {
					outcomes <- FetchOutcome{URL: u, Skipped: true}
					continue
				}
				res, outcome := f.fetchOne(ctx, baseAuthority, u, forceRefresh)
				if outcome.Err != nil {
					f.recordFailure(u)
				}
				outcomes <- outcome
				if res != nil {
					results <- *res
				}
				if f.rateLimit > 0 {
					time.Sleep(f.rateLimit)
				}
			}
		}()
	}

	go func() {
		for _, u := range urls {
			select {
			case <-ctx.Done():
				break
			case jobs <- u:
			}
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
		close(outcomes)
	}()

	var allResults []FetchResult
	var allOutcomes []FetchOutcome
	resultsDone, outcomesDone := false, false
	for !resultsDone || !outcomesDone {
		select {
		case r, ok := <-results:
			if !ok {
				resultsDone = true
				continue
			}
			allResults = append(allResults, r)
		case o, ok := <-outcomes:
			if !ok {
				outcomesDone = true
				continue
			}
			allOutcomes = append(allOutcomes, o)
		}
	}
	return allResults, allOutcomes
}

func (f *Fetcher) isSkipped(u string) bool {
	f.skipMu.Lock()
	defer f.skipMu.Unlock()
	return f.skipCounts[u] >= 3
}

func (f *Fetcher) recordFailure(u string) {
	f.skipMu.Lock()
	defer f.skipMu.Unlock()
	f.skipCounts[u]++
}

// SkipList returns every URL that has hit the 3-strike threshold, for
// persistence in crawl_state.json.
func (f *Fetcher) SkipList() []string {
	f.skipMu.Lock()
	defer f.skipMu.Unlock()
	out := make([]string, 0, len(f.skipCounts))
	for u, n := range f.skipCounts {
		if n >= 3 {
			out = append(out, u)
		}
	}
	return out
}

func (f *Fetcher) fetchOne(ctx context.Context, baseAuthority, target string, forceRefresh bool) (*FetchResult, FetchOutcome) {
	if !forceRefresh && f.cache != nil {
		if cached, cachedAt, ok := f.cache.Get(target); ok && time.Since(cachedAt) < f.ttl {
			return &FetchResult{URL: target, HTML: cached, ContentHash: hashContent(cached), FromCache: true}, FetchOutcome{URL: target, StatusCode: http.StatusOK}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, FetchOutcome{URL: target, Err: err}
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, FetchOutcome{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, FetchOutcome{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !containsHTML(contentType) {
		return nil, FetchOutcome{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("non-HTML content-type %q", contentType)}
	}

	finalURL := resp.Request.URL
	if finalURL.Host != "" && finalURL.Host != baseAuthority {
		return nil, FetchOutcome{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("redirect confinement: final host %q outside base authority %q", finalURL.Host, baseAuthority)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, FetchOutcome{URL: target, StatusCode: resp.StatusCode, Err: err}
	}

	htmlStr := string(body)
	if f.cache != nil {
		f.cache.Put(target, htmlStr, time.Now())
	}
	return &FetchResult{URL: target, HTML: htmlStr, ContentHash: hashContent(htmlStr)}, FetchOutcome{URL: target, StatusCode: resp.StatusCode}
}

func containsHTML(contentType string) bool {
	for _, want := range []string{"text/html", "application/xhtml"} {
		if len(contentType) >= len(want) && contentType[:len(want)] == want {
			return true
		}
	}
	return false
}

func hashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// BaseAuthority extracts the host:port authority from a base URL for
// redirect-confinement checks.
func BaseAuthority(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// StatusHistogram tallies outcome status codes for the end-of-fetch
// report.
func StatusHistogram(outcomes []FetchOutcome) map[int]int {
	hist := make(map[int]int)
	for _, o := range outcomes {
		if o.StatusCode != 0 {
			hist[o.StatusCode]++
		}
	}
	return hist
}
