// Package markup handles the HTML fragments the agent system streams as
// results.
package markup

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Iframe:   true,
	atom.Frame:    true,
	atom.Frameset: true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Link:     true,
	atom.Meta:     true,
	atom.Base:     true,
	atom.Form:     true,
	atom.Template: true,
}

var urlAttributes = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
	"xlink:href": true,
	"srcset":     true,
}

func parse(fragment string) ([]*html.Node, error) {
	return html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
}

// Sanitize removes active content from fragment: script-like elements,
// event handler attributes and script URLs. Everything else is kept as is.
// Input that cannot be parsed is returned escaped.
func Sanitize(fragment string) string {
	nodes, err := parse(fragment)
	if err != nil {
		return html.EscapeString(fragment)
	}

	var b strings.Builder
	for _, n := range nodes {
		if n.Type == html.ElementNode && blockedElements[n.DataAtom] {
			continue
		}
		clean(n)
		if err := html.Render(&b, n); err != nil {
			return html.EscapeString(fragment)
		}
	}

	return b.String()
}

func clean(n *html.Node) {
	if n.Type == html.ElementNode {
		attrs := n.Attr[:0]
		for _, a := range n.Attr {
			key := strings.ToLower(a.Key)
			if strings.HasPrefix(key, "on") {
				continue
			}
			if urlAttributes[key] && unsafeURL(a.Val) {
				continue
			}
			attrs = append(attrs, a)
		}
		n.Attr = attrs
	}

	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && blockedElements[c.DataAtom] {
			n.RemoveChild(c)
		} else {
			clean(c)
		}
		c = next
	}
}

func unsafeURL(v string) bool {
	v = strings.ToLower(strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, v))

	switch {
	case strings.HasPrefix(v, "javascript:"), strings.HasPrefix(v, "vbscript:"):
		return true
	case strings.HasPrefix(v, "data:"):
		return !strings.HasPrefix(v, "data:image/")
	}
	return false
}
