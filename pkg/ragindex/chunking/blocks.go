package chunking

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// block is one content unit in document order, tagged with the heading
// path stack active when it was encountered.
type block struct {
	Text        string
	HeadingPath []string
	Atomic      bool // code or table: never split across chunk boundaries
}

var headingLevels = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

// walkBlocks walks root in document order, tracking a heading-path stack
// (h1..h6) and emitting one block per paragraph, list, code block, or
// table. Code and table blocks are marked atomic.
func walkBlocks(root *html.Node) []block {
	var blocks []block
	var stack []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level, isHeading := headingLevels[n.DataAtom]; isHeading {
				text := strings.TrimSpace(textOf(n))
				stack = stack[:min(len(stack), level-1)]
				for len(stack) < level-1 {
					stack = append(stack, "")
				}
				stack = append(stack, text)
				return // heading text itself is not a content block
			}

			switch n.DataAtom {
			case atom.Pre:
				if text := strings.TrimSpace(textOf(n)); text != "" {
					blocks = append(blocks, block{Text: text, HeadingPath: append([]string{}, stack...), Atomic: true})
				}
				return
			case atom.Table:
				if text := strings.TrimSpace(textOf(n)); text != "" {
					blocks = append(blocks, block{Text: text, HeadingPath: append([]string{}, stack...), Atomic: true})
				}
				return
			case atom.P, atom.Ul, atom.Ol, atom.Blockquote:
				if text := strings.TrimSpace(textOf(n)); text != "" {
					blocks = append(blocks, block{Text: text, HeadingPath: append([]string{}, stack...)})
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return blocks
}

func textOf(n *html.Node) string {
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

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
