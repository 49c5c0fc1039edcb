package feed

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// plainText strips markup from a feed field. Values without tags only get
// whitespace and encoding cleanup.
func plainText(s string) string {
	s = sanitizeUTF8(s)
	if strings.ContainsAny(s, "<&") {
		s = extractText(s)
	}
	return strings.Join(strings.Fields(s), " ")
}

func extractText(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return fragment
	}

	var b strings.Builder
	var walk func(*html.Node, bool)

	walk = func(n *html.Node, skip bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				skip = true
			case "br", "p", "div", "li":
				b.WriteString(" ")
			}
		}

		if n.Type == html.TextNode && !skip {
			b.WriteString(n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, skip)
		}
	}
	for _, n := range nodes {
		walk(n, false)
	}
	return b.String()
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
