// ABOUTME: Converts markdown tool output into plain text suitable for chat channels.
// ABOUTME: Walks the goldmark AST, then caps the result at a byte budget with a notice.

package bridge

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultMaxReplyBytes is the reply budget when none is configured. WhatsApp text
// bodies are limited to 4096 characters.
const DefaultMaxReplyBytes = 4000

// TruncationNotice is appended when a reply exceeds the budget.
const TruncationNotice = "\n\n[reply truncated]"

// Formatter renders markdown as plain text.
type Formatter struct {
	md       goldmark.Markdown
	maxBytes int
}

// NewFormatter creates a Formatter. A non-positive maxBytes uses DefaultMaxReplyBytes.
func NewFormatter(maxBytes int) *Formatter {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxReplyBytes
	}
	return &Formatter{md: goldmark.New(), maxBytes: maxBytes}
}

// Format strips markup and applies the length cap.
func (f *Formatter) Format(markdown string) string {
	return truncate(f.plain(markdown), f.maxBytes)
}

func (f *Formatter) plain(markdown string) string {
	source := []byte(markdown)
	doc := f.md.Parser().Parse(text.NewReader(source))

	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if s := strings.TrimRight(renderBlock(n, source, ""), "\n "); s != "" {
			blocks = append(blocks, s)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func renderBlock(n ast.Node, source []byte, indent string) string {
	switch node := n.(type) {
	case *ast.List:
		var lines []string
		i := node.Start
		for item := node.FirstChild(); item != nil; item = item.NextSibling() {
			bullet := "• "
			if node.IsOrdered() {
				bullet = strconv.Itoa(i) + ". "
				i++
			}
			lines = append(lines, indent+bullet+renderListItem(item, source, indent+"  "))
		}
		return strings.Join(lines, "\n")
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		var buf bytes.Buffer
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(source))
		}
		return strings.TrimRight(buf.String(), "\n")
	case *ast.ThematicBreak:
		return ""
	default:
		return inlineText(n, source)
	}
}

func renderListItem(item ast.Node, source []byte, indent string) string {
	var parts []string
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		if _, nested := c.(*ast.List); nested {
			parts = append(parts, "\n"+renderBlock(c, source, indent))
			continue
		}
		parts = append(parts, inlineText(c, source))
	}
	return strings.Join(parts, "")
}

// inlineText collects the text of n's inline descendants, dropping emphasis, link
// targets, and code markers.
func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.HardLineBreak() || t.SoftLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.CodeSpan:
			for cc := t.FirstChild(); cc != nil; cc = cc.NextSibling() {
				if txt, ok := cc.(*ast.Text); ok {
					b.Write(txt.Segment.Value(source))
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			b.Write(t.URL(source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// truncate cuts s to at most maxBytes including the notice, on a rune boundary.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	budget := maxBytes - len(TruncationNotice)
	if budget <= 0 {
		return TruncationNotice[:maxBytes]
	}
	cut := budget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " \n") + TruncationNotice
}
