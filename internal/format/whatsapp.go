// ABOUTME: Markdown to WhatsApp markup converter built on goldmark's AST
// ABOUTME: Keeps plain text untouched and maps emphasis, code, lists and links

package format

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// WhatsApp converts Markdown to WhatsApp markup.
type WhatsApp struct {
	md goldmark.Markdown
}

// NewWhatsApp creates a converter.
func NewWhatsApp() *WhatsApp {
	return &WhatsApp{
		md: goldmark.New(goldmark.WithExtensions(extension.Strikethrough)),
	}
}

// Format returns s rewritten for WhatsApp. Input that renders to nothing,
// such as a lone thematic break, is returned trimmed but otherwise as-is.
func (w *WhatsApp) Format(s string) string {
	src := []byte(s)
	doc := w.md.Parser().Parse(text.NewReader(src))
	r := &renderer{src: src}
	if out := strings.TrimSpace(r.blocks(doc, "\n\n")); out != "" {
		return out
	}
	return strings.TrimSpace(s)
}

type renderer struct {
	src []byte
}

func (r *renderer) blocks(parent ast.Node, sep string) string {
	var parts []string
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if s := r.block(c); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

func (r *renderer) block(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return r.inlines(n)
	case *ast.Heading:
		return "*" + r.inlines(n) + "*"
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return "```" + r.rawLines(n) + "```"
	case *ast.HTMLBlock:
		return r.rawLines(n)
	case *ast.Blockquote:
		inner := r.blocks(n, "\n\n")
		lines := strings.Split(inner, "\n")
		for i, line := range lines {
			lines[i] = "> " + line
		}
		return strings.Join(lines, "\n")
	case *ast.List:
		return r.list(n)
	case *ast.ThematicBreak:
		return ""
	default:
		return r.inlines(n)
	}
}

func (r *renderer) list(l *ast.List) string {
	var items []string
	num := l.Start
	for c := l.FirstChild(); c != nil; c = c.NextSibling() {
		marker := "- "
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		body := r.blocks(c, "\n")
		body = strings.ReplaceAll(body, "\n", "\n"+strings.Repeat(" ", len(marker)))
		items = append(items, marker+body)
	}
	return strings.Join(items, "\n")
}

func (r *renderer) rawLines(n ast.Node) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(r.src))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r *renderer) inlines(n ast.Node) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		r.inline(&sb, c)
	}
	return sb.String()
}

func (r *renderer) inline(sb *strings.Builder, n ast.Node) {
	switch n := n.(type) {
	case *ast.Text:
		sb.Write(n.Segment.Value(r.src))
		if n.SoftLineBreak() || n.HardLineBreak() {
			sb.WriteByte('\n')
		}
	case *ast.String:
		sb.Write(n.Value)
	case *ast.CodeSpan:
		sb.WriteString("`" + r.inlines(n) + "`")
	case *ast.Emphasis:
		if delim, ok := r.literalEmphasis(n); ok {
			mark := strings.Repeat(string(delim), n.Level)
			sb.WriteString(mark + r.inlines(n) + mark)
			return
		}
		mark := "_"
		if n.Level >= 2 {
			mark = "*"
		}
		sb.WriteString(mark + r.inlines(n) + mark)
	case *extast.Strikethrough:
		sb.WriteString("~" + r.inlines(n) + "~")
	case *ast.Link:
		label := r.inlines(n)
		dest := string(n.Destination)
		if label == "" || label == dest {
			sb.WriteString(dest)
		} else {
			sb.WriteString(label + " (" + dest + ")")
		}
	case *ast.AutoLink:
		sb.Write(n.URL(r.src))
	case *ast.Image:
		alt := r.inlines(n)
		if alt != "" {
			sb.WriteString(alt + " ")
		}
		sb.WriteString("(" + string(n.Destination) + ")")
	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			sb.Write(seg.Value(r.src))
		}
	default:
		sb.WriteString(r.inlines(n))
	}
}

// literalEmphasis reports whether n should keep its source delimiters. That
// is the case when a delimiter run touches a letter or digit, as in 2*3*4,
// and for __name__, which is almost always an identifier.
func (r *renderer) literalEmphasis(n *ast.Emphasis) (byte, bool) {
	var first, last *ast.Text
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := c.(*ast.Text); ok && entering {
			if first == nil {
				first = t
			}
			last = t
		}
		return ast.WalkContinue, nil
	})
	if first == nil {
		return 0, false
	}

	open := first.Segment.Start
	for open > 0 && isDelimiter(r.src[open-1]) {
		open--
	}
	closing := last.Segment.Stop
	for closing < len(r.src) && isDelimiter(r.src[closing]) {
		closing++
	}

	delim := byte('*')
	if open < first.Segment.Start {
		delim = r.src[open]
	}
	if delim == '_' && n.Level >= 2 {
		return delim, true
	}
	before, _ := utf8.DecodeLastRune(r.src[:open])
	after, _ := utf8.DecodeRune(r.src[closing:])
	return delim, isWordRune(before) || isWordRune(after)
}

func isDelimiter(b byte) bool {
	return b == '*' || b == '_'
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
