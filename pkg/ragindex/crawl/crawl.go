// Package crawl implements three discovery strategies: sitemap, recursive
// BFS, and manual URL lists.
package crawl

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DiscoveredURL is one candidate page, with an optional lastmod hint used
// to order freshness (globally sorted by lastmod descending) before any
// max_pages cap is applied.
type DiscoveredURL struct {
	URL     string
	Lastmod *time.Time
}

type urlSet struct {
	Locs []struct {
		Loc     string `xml:"loc"`
		Lastmod string `xml:"lastmod"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc     string `xml:"loc"`
		Lastmod string `xml:"lastmod"`
	} `xml:"sitemap"`
}

// SubSitemapCache records each sub-sitemap's last known lastmod so an
// unchanged sub-sitemap can be skipped on the next crawl. Keyed by
// sub-sitemap URL.
type SubSitemapCache map[string]string

// DiscoverSitemap resolves the sitemap URL from robots.txt (falling back
// to /sitemap.xml), recursively parses sitemap indexes, and returns every
// leaf URL merged and sorted by lastmod descending. Robots.txt failures
// fail open: crawling proceeds via the /sitemap.xml probe.
func DiscoverSitemap(ctx context.Context, client *http.Client, baseURL string, cache SubSitemapCache) ([]DiscoveredURL, error) {
	sitemapURL := robotsSitemapURL(ctx, client, baseURL)
	if sitemapURL == "" {
		sitemapURL = strings.TrimRight(baseURL, "/") + "/sitemap.xml"
	}

	var urls []DiscoveredURL
	seen := map[string]bool{}
	if err := fetchSitemapRecursive(ctx, client, sitemapURL, cache, seen, &urls); err != nil {
		return nil, err
	}

	sort.SliceStable(urls, func(i, j int) bool {
		li, lj := urls[i].Lastmod, urls[j].Lastmod
		if li == nil && lj == nil {
			return false
		}
		if li == nil {
			return false
		}
		if lj == nil {
			return true
		}
		return li.After(*lj)
	})
	return urls, nil
}

func robotsSitemapURL(ctx context.Context, client *http.Client, baseURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/robots.txt", nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), "sitemap:") {
			return strings.TrimSpace(line[len("sitemap:"):])
		}
	}
	return ""
}

func fetchSitemapRecursive(ctx context.Context, client *http.Client, sitemapURL string, cache SubSitemapCache, seen map[string]bool, out *[]DiscoveredURL) error {
	if seen[sitemapURL] {
		return nil
	}
	seen[sitemapURL] = true

	body, err := fetchBody(ctx, client, sitemapURL)
	if err != nil {
		return fmt.Errorf("crawl: fetch sitemap %s: %w", sitemapURL, err)
	}

	var idx sitemapIndex
	if xml.Unmarshal(body, &idx) == nil && len(idx.Sitemaps) > 0 {
		for _, sm := range idx.Sitemaps {
			if cache != nil && cache[sm.Loc] == sm.Lastmod && sm.Lastmod != "" {
				continue // unchanged sub-sitemap, skip refetch
			}
			if cache != nil {
				cache[sm.Loc] = sm.Lastmod
			}
			if err := fetchSitemapRecursive(ctx, client, sm.Loc, cache, seen, out); err != nil {
				continue // one bad sub-sitemap should not abort the whole crawl
			}
		}
		return nil
	}

	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("crawl: parse sitemap %s: %w", sitemapURL, err)
	}
	for _, u := range set.Locs {
		entry := DiscoveredURL{URL: u.Loc}
		if t, err := time.Parse(time.RFC3339, u.Lastmod); err == nil {
			entry.Lastmod = &t
		}
		*out = append(*out, entry)
	}
	return nil
}

func fetchBody(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// DiscoverRecursive performs a same-domain BFS link crawl from baseURL,
// bounded by maxDepth, using golang.org/x/net/html to extract anchors.
func DiscoverRecursive(ctx context.Context, client *http.Client, baseURL string, maxDepth int) ([]DiscoveredURL, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("crawl: invalid base URL: %w", err)
	}

	visited := map[string]bool{baseURL: true}
	queue := []struct {
		url   string
		depth int
	}{{baseURL, 0}}

	var out []DiscoveredURL
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, DiscoveredURL{URL: cur.url})

		if cur.depth >= maxDepth {
			continue
		}
		body, err := fetchBody(ctx, client, cur.url)
		if err != nil {
			continue
		}
		for _, link := range extractLinks(body, cur.url) {
			parsed, err := url.Parse(link)
			if err != nil || parsed.Host != base.Host {
				continue
			}
			normalized := normalizeURL(link)
			if visited[normalized] {
				continue
			}
			visited[normalized] = true
			queue = append(queue, struct {
				url   string
				depth int
			}{link, cur.depth + 1})
		}

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
	}
	return out, nil
}

func extractLinks(body []byte, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					if resolved, err := base.Parse(attr.Val); err == nil {
						links = append(links, resolved.String())
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

// NormalizeURL strips query, fragment, and trailing slash so duplicate
// URLs reached via different link text collapse to one entry.
func NormalizeURL(raw string) string { return normalizeURL(raw) }

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// MergeManual combines discovered URLs with a manual list: additive
// merges and dedups by normalized URL, with manual entries taking
// precedence over a discovered duplicate; exclusive (additive=false)
// returns only the manual list.
func MergeManual(discovered []DiscoveredURL, manual []string, additive bool) []DiscoveredURL {
	if !additive {
		out := make([]DiscoveredURL, 0, len(manual))
		for _, m := range manual {
			out = append(out, DiscoveredURL{URL: m})
		}
		return out
	}

	seen := map[string]bool{}
	out := make([]DiscoveredURL, 0, len(discovered)+len(manual))
	for _, m := range manual {
		out = append(out, DiscoveredURL{URL: m})
		seen[normalizeURL(m)] = true
	}
	for _, d := range discovered {
		norm := normalizeURL(d.URL)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, d)
	}
	return out
}
