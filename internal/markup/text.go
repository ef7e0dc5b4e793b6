package markup

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Blockquote: true, atom.Pre: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Li: true, atom.Table: true, atom.Tr: true,
	atom.Hr: true,
}

// spacedElements are followed by a blank line.
var spacedElements = map[atom.Atom]bool{
	atom.P: true, atom.Blockquote: true, atom.Pre: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true, atom.Hr: true,
}

// Text renders fragment as plain text for terminals. Block elements start
// new lines, list items get a bullet and table cells are separated by tabs.
func Text(fragment string) string {
	nodes, err := parse(fragment)
	if err != nil {
		return fragment
	}

	w := &textWriter{}
	for _, n := range nodes {
		w.walk(n)
	}

	lines := strings.Split(w.b.String(), "\n")
	out := lines[:0]
	blank := true
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

type textWriter struct {
	b strings.Builder
	// pending is set when whitespace separates the last word from the next
	pending bool
	pre     int
}

func (w *textWriter) atLineStart() bool {
	str := w.b.String()
	return str == "" || strings.HasSuffix(str, "\n") || strings.HasSuffix(str, "\t") || strings.HasSuffix(str, "• ")
}

func (w *textWriter) newline() {
	w.b.WriteByte('\n')
	w.pending = false
}

func (w *textWriter) ensureLine() {
	if str := w.b.String(); str != "" && !strings.HasSuffix(str, "\n") {
		w.newline()
	}
}

func (w *textWriter) word(s string) {
	if w.pending && !w.atLineStart() {
		w.b.WriteByte(' ')
	}
	w.b.WriteString(s)
	w.pending = false
}

func (w *textWriter) text(s string) {
	if w.pre > 0 {
		w.b.WriteString(s)
		return
	}

	if s != "" && isSpace(s[0]) {
		w.pending = true
	}
	for i, field := range strings.Fields(s) {
		if i > 0 {
			w.pending = true
		}
		w.word(field)
	}
	if s != "" && isSpace(s[len(s)-1]) {
		w.pending = true
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c)
		}
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Template:
		return
	case atom.Br:
		w.newline()
		return
	case atom.Pre:
		w.pre++
		defer func() { w.pre-- }()
	}

	block := blockElements[n.DataAtom]
	if block {
		w.ensureLine()
	}
	switch n.DataAtom {
	case atom.Li:
		w.b.WriteString("• ")
	case atom.Td, atom.Th:
		if n.PrevSibling != nil {
			w.b.WriteByte('\t')
			w.pending = false
		}
	case atom.Hr:
		w.b.WriteString("────────")
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}

	if block {
		w.ensureLine()
	}
	if spacedElements[n.DataAtom] {
		w.newline()
	}
}
