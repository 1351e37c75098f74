// Package format renders webhook reply text as safe HTML.
//
// Replies arrive as loosely structured plain text. The formatter escapes the
// whole input first, then applies a small set of best-effort rules: double
// newlines split paragraphs, single newlines become line breaks, a paragraph
// that is one dash-prefixed line becomes a bullet item, **spans** become
// bold, and pipe-delimited lines become tables. These are heuristics over
// untrusted text, not a markdown dialect; callers must not expect CommonMark
// behavior.
package format

import (
	"html"
	"regexp"
	"strings"
)

// BlockKind discriminates the node types of a Document.
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockList
	BlockTable
)

// Block is one rendered unit of a Document. Which fields are set depends on
// Kind: paragraphs carry Lines, lists carry Items, tables carry Header and
// Rows. All strings are HTML-safe with bold markup already applied.
type Block struct {
	Kind   BlockKind
	Lines  []string
	Items  []string
	Header []string
	Rows   [][]string
}

// Document is the ordered block sequence produced from one reply.
// A fresh Document is built per call; nothing is shared or mutated after.
type Document struct {
	Blocks []Block
}

var (
	boldPattern = regexp.MustCompile(`\*\*(.+?)\*\*`)
	// separatorPattern matches table separator lines: pipes, dashes and
	// whitespace only. Such lines delimit header from body and are dropped.
	separatorPattern = regexp.MustCompile(`^[|\-\s]+$`)
)

// Format converts raw reply text to safe HTML markup. It is a pure function:
// the same input always yields the same output, and it never fails — malformed
// input degrades to escaped literal text.
func Format(raw string) string {
	return Parse(raw).HTML()
}

// Parse builds the block tree for raw reply text. Empty or whitespace-only
// input yields an empty document.
func Parse(raw string) Document {
	escaped := html.EscapeString(raw)

	var blocks []Block
	for _, seg := range strings.Split(escaped, "\n\n") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		lines := strings.Split(seg, "\n")

		if item, ok := bulletContent(lines); ok {
			item = applyBold(item)
			// Adjacent bullet paragraphs coalesce into one list.
			if n := len(blocks); n > 0 && blocks[n-1].Kind == BlockList {
				blocks[n-1].Items = append(blocks[n-1].Items, item)
				continue
			}
			blocks = append(blocks, Block{Kind: BlockList, Items: []string{item}})
			continue
		}

		for i, l := range lines {
			lines[i] = applyBold(l)
		}
		blocks = append(blocks, tableOrParagraph(lines)...)
	}
	return Document{Blocks: blocks}
}

// bulletContent reports whether the block is a single line prefixed by a dash
// or bullet glyph, and returns the item text after the prefix.
func bulletContent(lines []string) (string, bool) {
	if len(lines) != 1 {
		return "", false
	}
	l := lines[0]
	switch {
	case strings.HasPrefix(l, "-"):
		return strings.TrimLeft(l[1:], " \t"), true
	case strings.HasPrefix(l, "•"):
		return strings.TrimLeft(strings.TrimPrefix(l, "•"), " \t"), true
	}
	return "", false
}

// applyBold replaces **...** pairs with bold spans. Matching is non-greedy
// and left to right; an unmatched marker stays literal. Spans never cross
// line breaks — line breaks are structural, not text.
func applyBold(line string) string {
	return boldPattern.ReplaceAllString(line, "<strong>$1</strong>")
}

// tableOrParagraph applies the table heuristic to a multi-line paragraph.
// The trigger is deliberately loose — any pipe plus any line break in the
// block — and is preserved as-is for output compatibility, including its
// false positives on prose containing a pipe.
func tableOrParagraph(lines []string) []Block {
	paragraph := []Block{{Kind: BlockParagraph, Lines: lines}}
	if len(lines) < 2 {
		return paragraph
	}

	var candidates, prose []string
	for _, l := range lines {
		if strings.Contains(l, "|") {
			candidates = append(candidates, l)
		} else {
			prose = append(prose, l)
		}
	}
	// Fewer than two pipe lines: the heuristic abstains entirely.
	if len(candidates) < 2 {
		return paragraph
	}

	var header []string
	var rows [][]string
	for _, l := range candidates {
		if separatorPattern.MatchString(l) {
			continue
		}
		cells := splitCells(l)
		if !hasContent(cells) {
			continue
		}
		if header == nil {
			header = cells
			continue
		}
		rows = append(rows, cells)
	}
	if header == nil {
		return paragraph
	}

	table := Block{Kind: BlockTable, Header: header, Rows: rows}
	if len(prose) > 0 {
		return []Block{{Kind: BlockParagraph, Lines: prose}, table}
	}
	return []Block{table}
}

// splitCells splits a row on pipes, trims each cell, and discards the empty
// leading/trailing segments produced by outer pipes. Interior empty cells
// are kept.
func splitCells(line string) []string {
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

func hasContent(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return true
		}
	}
	return false
}

// HTML renders the document. Only tags introduced here appear in the output;
// everything that came from the raw input is escaped.
func (d Document) HTML() string {
	var sb strings.Builder
	for _, b := range d.Blocks {
		switch b.Kind {
		case BlockParagraph:
			sb.WriteString("<p>")
			sb.WriteString(strings.Join(b.Lines, "<br>"))
			sb.WriteString("</p>")
		case BlockList:
			sb.WriteString("<ul>")
			for _, it := range b.Items {
				sb.WriteString("<li>")
				sb.WriteString(it)
				sb.WriteString("</li>")
			}
			sb.WriteString("</ul>")
		case BlockTable:
			sb.WriteString("<table><tr>")
			for _, c := range b.Header {
				sb.WriteString("<th>")
				sb.WriteString(c)
				sb.WriteString("</th>")
			}
			sb.WriteString("</tr>")
			for _, row := range b.Rows {
				sb.WriteString("<tr>")
				for _, c := range row {
					sb.WriteString("<td>")
					sb.WriteString(c)
					sb.WriteString("</td>")
				}
				sb.WriteString("</tr>")
			}
			sb.WriteString("</table>")
		}
	}
	return sb.String()
}
