// Package extraction implements a readability-style main-content
// extractor built on golang.org/x/net/html DOM walking rather than a
// regex scraper.
package extraction

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// boilerplateTags are stripped wholesale before content scoring, covering
// navigation, footers, and table-of-contents widgets.
var boilerplateTags = map[atom.Atom]bool{
	atom.Nav:    true,
	atom.Footer: true,
	atom.Header: true,
	atom.Aside:  true,
	atom.Script: true,
	atom.Style:  true,
	atom.Form:   true,
}

var boilerplateClassHints = []string{"sidebar", "toc", "table-of-contents", "breadcrumb", "pagination", "advert"}

const minExtractedBytes = 100

// Result carries the chosen main-content node plus bookkeeping needed for
// the code-block guardrail.
type Result struct {
	Node              *html.Node
	Text              string
	SourceCodeBlocks  int
	ExtractedCodeBlocks int
}

// Extract parses rawHTML and returns the main-content subtree, applying
// a fixed set of guardrails and fallback priority. ok is false only when
// the document cannot be parsed at all.
func Extract(rawHTML string) (Result, bool) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return Result{}, false
	}

	sourceCodeBlocks := countCodeBlocks(doc)
	stripBoilerplate(doc)

	candidate := findMainContentCandidate(doc)
	if candidate == nil {
		candidate = doc
	}

	text := extractText(candidate)
	extractedCode := countCodeBlocks(candidate)

	if len(strings.TrimSpace(text)) < minExtractedBytes || codeBlocksLostTooMuch(sourceCodeBlocks, extractedCode) {
		if fallback := fallbackCandidate(doc, candidate); fallback != nil {
			candidate = fallback
			text = extractText(candidate)
			extractedCode = countCodeBlocks(candidate)
		}
	}

	return Result{Node: candidate, Text: text, SourceCodeBlocks: sourceCodeBlocks, ExtractedCodeBlocks: extractedCode}, true
}

func codeBlocksLostTooMuch(source, extracted int) bool {
	if source == 0 {
		return false
	}
	return float64(extracted) < float64(source)*0.5
}

// findMainContentCandidate returns the first content container found in
// priority order: an element with a known main-content id, then <article>,
// then <main>. Candidates are not scored by text density.
func findMainContentCandidate(n *html.Node) *html.Node {
	if node := findByAttr(n, "id", "main-content", "content", "main"); node != nil {
		return node
	}
	if node := findByTag(n, atom.Article); node != nil {
		return node
	}
	if node := findByTag(n, atom.Main); node != nil {
		return node
	}
	return nil
}

// fallbackCandidate walks the same priority after the first pick failed a
// guardrail: <article>, then <main>, skipping the rejected node and any
// container whose text is still too short, and finally the whole document.
func fallbackCandidate(n, rejected *html.Node) *html.Node {
	for _, a := range []atom.Atom{atom.Article, atom.Main} {
		node := findByTag(n, a)
		if node != nil && node != rejected && len(strings.TrimSpace(extractText(node))) >= minExtractedBytes {
			return node
		}
	}
	return n
}

func findByTag(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByTag(c, a); found != nil {
			return found
		}
	}
	return nil
}

func findByAttr(n *html.Node, key string, values ...string) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key != key {
				continue
			}
			for _, v := range values {
				if strings.EqualFold(attr.Val, v) {
					return n
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByAttr(c, key, values...); found != nil {
			return found
		}
	}
	return nil
}

// stripBoilerplate removes nav/footer/header/aside/script/style nodes and
// any element whose class attribute hints at a sidebar/TOC widget,
// in-place, before the main-content candidate is chosen.
func stripBoilerplate(n *html.Node) {
	var toRemove []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if boilerplateTags[node.DataAtom] || hasBoilerplateClass(node) {
				toRemove = append(toRemove, node)
				return // don't descend into a node already marked for removal
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	for _, node := range toRemove {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

func hasBoilerplateClass(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" && attr.Key != "role" {
			continue
		}
		lower := strings.ToLower(attr.Val)
		for _, hint := range boilerplateClassHints {
			if strings.Contains(lower, hint) {
				return true
			}
		}
	}
	return false
}

func countCodeBlocks(n *html.Node) int {
	count := 0
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && (node.DataAtom == atom.Pre || node.DataAtom == atom.Code) {
			count++
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return count
}

func extractText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
