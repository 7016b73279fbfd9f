// Package chunking implements the semantic document chunker: extracted
// HTML is split into parent sections targeting ~900 tokens, each further
// split into child chunks targeting 350 tokens, with code and table
// blocks kept atomic throughout.
package chunking

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/relcore/toolgate/pkg/ragindex/ragtype"
)

const (
	parentTargetTokens = 900
	parentCapTokens    = 1200
	childTargetTokens  = 350
	childMinTokens     = 150
)

// indexedBlock pairs a block with its position in document order, the
// basis for chunk-ID derivation.
type indexedBlock struct {
	block
	globalIndex int
}

// Chunk walks root's DOM (normally extraction.Result.Node) and produces
// the parent/child chunk pairs for url's content.
func Chunk(url string, root *html.Node, docType string) ([]ragtype.ParentChunk, []ragtype.Chunk) {
	raw := walkBlocks(root)
	blocks := make([]indexedBlock, len(raw))
	for i, b := range raw {
		blocks[i] = indexedBlock{block: b, globalIndex: i}
	}

	sections := groupSections(blocks)
	parentGroups := packParents(sections)

	var parents []ragtype.ParentChunk
	var children []ragtype.Chunk

	for _, pg := range parentGroups {
		parentText := joinBlocks(pg)
		headingPath := commonHeadingPath(pg)
		pID := chunkID(url, headingPath, pg[0].globalIndex)

		parents = append(parents, ragtype.ParentChunk{
			ParentID: pID,
			Text:     parentText,
			Metadata: ragtype.ChunkMetadata{
				URL:         url,
				HeadingPath: headingPath,
				DocType:     docType,
				IsParent:    true,
			},
		})

		childGroups := packChildren(pg)
		if len(childGroups) == 0 {
			children = append(children, ragtype.Chunk{
				ChunkID:    pID,
				ParentID:   pID,
				Text:       parentText,
				TokenCount: countTokens(parentText),
				Metadata: ragtype.ChunkMetadata{
					URL:             url,
					HeadingPath:     headingPath,
					DocType:         docType,
					CodeIdentifiers: codeIdentifiersOf(pg),
					IsParentAsChild: true,
				},
			})
			continue
		}

		for _, cg := range childGroups {
			text := joinBlocks(cg)
			cHeadingPath := commonHeadingPath(cg)
			cID := chunkID(url, cHeadingPath, cg[0].globalIndex)
			children = append(children, ragtype.Chunk{
				ChunkID:    cID,
				ParentID:   pID,
				Text:       text,
				TokenCount: countTokens(text),
				Metadata: ragtype.ChunkMetadata{
					URL:             url,
					HeadingPath:     cHeadingPath,
					DocType:         docType,
					CodeIdentifiers: codeIdentifiersOf(cg),
				},
			})
		}
	}

	return parents, children
}

// groupSections collapses consecutive blocks sharing the same heading
// path into a single section, the unit sections are packed by.
func groupSections(blocks []indexedBlock) [][]indexedBlock {
	var sections [][]indexedBlock
	var current []indexedBlock
	var currentPath string

	for _, b := range blocks {
		path := strings.Join(b.HeadingPath, "/")
		if current != nil && path != currentPath {
			sections = append(sections, current)
			current = nil
		}
		currentPath = path
		current = append(current, b)
	}
	if current != nil {
		sections = append(sections, current)
	}
	return sections
}

// packParents packs whole sections into parent chunks up to
// parentCapTokens, splitting on section boundaries. A section that alone
// exceeds the cap is repacked at block granularity so no content is lost.
func packParents(sections [][]indexedBlock) [][]indexedBlock {
	var parents [][]indexedBlock
	var current []indexedBlock
	currentTokens := 0

	flush := func() {
		if len(current) > 0 {
			parents = append(parents, current)
			current = nil
			currentTokens = 0
		}
	}

	for _, sec := range sections {
		secTokens := tokensOf(sec)
		if secTokens > parentCapTokens {
			flush()
			parents = append(parents, packOversizedSection(sec)...)
			continue
		}
		if currentTokens > 0 && currentTokens+secTokens > parentCapTokens {
			flush()
		}
		current = append(current, sec...)
		currentTokens += secTokens
		if currentTokens >= parentTargetTokens {
			flush()
		}
	}
	flush()
	return parents
}

// packOversizedSection splits a single over-cap section at block
// boundaries, never splitting an atomic block itself.
func packOversizedSection(blocks []indexedBlock) [][]indexedBlock {
	var groups [][]indexedBlock
	var current []indexedBlock
	currentTokens := 0

	for _, b := range blocks {
		bTokens := countTokens(b.Text)
		if b.Atomic {
			if len(current) > 0 {
				groups = append(groups, current)
				current = nil
				currentTokens = 0
			}
			groups = append(groups, []indexedBlock{b})
			continue
		}
		if currentTokens > 0 && currentTokens+bTokens > parentCapTokens {
			groups = append(groups, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, b)
		currentTokens += bTokens
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// packChildren splits one parent's blocks into child chunks targeting
// childTargetTokens, merging undersized neighbors up to childMinTokens
// and never splitting atomic blocks. Oversized non-atomic content is
// split on sentence boundaries; an oversized atomic block becomes its
// own chunk regardless of size.
func packChildren(blocks []indexedBlock) [][]indexedBlock {
	if tokensOf(blocks) < childMinTokens {
		return nil
	}

	var units []indexedBlock
	for _, b := range blocks {
		if !b.Atomic && countTokens(b.Text) > childTargetTokens {
			units = append(units, splitOnSentences(b)...)
			continue
		}
		units = append(units, b)
	}

	var groups [][]indexedBlock
	var current []indexedBlock
	currentTokens := 0

	for _, u := range units {
		uTokens := countTokens(u.Text)
		if u.Atomic {
			if len(current) > 0 {
				groups = append(groups, current)
				current = nil
				currentTokens = 0
			}
			groups = append(groups, []indexedBlock{u})
			continue
		}
		if currentTokens > 0 && currentTokens+uTokens > childTargetTokens && currentTokens >= childMinTokens {
			groups = append(groups, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, u)
		currentTokens += uTokens
	}
	if len(current) > 0 {
		groups = mergeUndersized(groups, current)
	}
	return groups
}

// mergeUndersized folds a trailing group below childMinTokens into the
// previous group rather than leaving a tiny orphan chunk.
func mergeUndersized(groups [][]indexedBlock, tail []indexedBlock) [][]indexedBlock {
	if tokensOf(tail) >= childMinTokens || len(groups) == 0 {
		return append(groups, tail)
	}
	last := groups[len(groups)-1]
	if last[len(last)-1].Atomic {
		return append(groups, tail)
	}
	groups[len(groups)-1] = append(last, tail...)
	return groups
}

// splitOnSentences breaks an oversized non-atomic block into smaller
// indexedBlocks at sentence boundaries, preserving its heading path and
// global index so downstream chunk IDs stay stable.
func splitOnSentences(b indexedBlock) []indexedBlock {
	sentences := splitSentences(b.Text)
	var out []indexedBlock
	var buf strings.Builder
	bufTokens := 0

	flush := func() {
		if buf.Len() > 0 {
			out = append(out, indexedBlock{
				block:       block{Text: strings.TrimSpace(buf.String()), HeadingPath: b.HeadingPath},
				globalIndex: b.globalIndex,
			})
			buf.Reset()
			bufTokens = 0
		}
	}

	for _, s := range sentences {
		sTokens := countTokens(s)
		if bufTokens > 0 && bufTokens+sTokens > childTargetTokens {
			flush()
		}
		buf.WriteString(s)
		buf.WriteString(" ")
		bufTokens += sTokens
	}
	flush()
	if len(out) == 0 {
		out = append(out, b)
	}
	return out
}

func splitSentences(text string) []string {
	var sentences []string
	var buf strings.Builder
	for _, r := range text {
		buf.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			sentences = append(sentences, strings.TrimSpace(buf.String()))
			buf.Reset()
		}
	}
	if rest := strings.TrimSpace(buf.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func tokensOf(blocks []indexedBlock) int {
	total := 0
	for _, b := range blocks {
		total += countTokens(b.Text)
	}
	return total
}

func joinBlocks(blocks []indexedBlock) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.Text
	}
	return strings.Join(parts, "\n\n")
}

// commonHeadingPath returns the heading path shared by a group's
// blocks; groups only ever span blocks recorded under the same path,
// except repacked oversized sections, which keep the section's path.
func commonHeadingPath(blocks []indexedBlock) []string {
	if len(blocks) == 0 {
		return nil
	}
	return blocks[0].HeadingPath
}

var codeIdentifierPattern = regexp.MustCompile(`\b(?:func|def|class|type|interface)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// codeIdentifiersOf scans a chunk's atomic code blocks for declared
// function/class/type names, so a search on a symbol name can match a
// chunk even when the symbol appears only inside a code fence.
func codeIdentifiersOf(blocks []indexedBlock) []string {
	seen := map[string]bool{}
	var ids []string
	for _, b := range blocks {
		if !b.Atomic {
			continue
		}
		for _, m := range codeIdentifierPattern.FindAllStringSubmatch(b.Text, -1) {
			if name := m[1]; !seen[name] {
				seen[name] = true
				ids = append(ids, name)
			}
		}
	}
	return ids
}
