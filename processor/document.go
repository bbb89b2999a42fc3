package processor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parseDocument keeps fragments as fragments: without a doctype or <html> tag the
// input is parsed in <body> context and rendered back without a wrapper.
func parseDocument(src string) (*goquery.Document, error) {
	if isFullDocument(src) {
		return goquery.NewDocumentFromReader(strings.NewReader(src))
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return goquery.NewDocumentFromNode(root), nil
}

func isFullDocument(src string) bool {
	lower := strings.ToLower(strings.TrimSpace(src))
	return strings.HasPrefix(lower, "<!doctype") || strings.Contains(lower, "<html")
}

func renderDocument(doc *goquery.Document) (string, error) {
	var b strings.Builder
	for n := doc.Nodes[0].FirstChild; n != nil; n = n.NextSibling {
		if err := html.Render(&b, n); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func isSrcset(attr string) bool {
	return strings.EqualFold(attr, "srcset")
}

type srcsetCandidate struct {
	url  string
	desc string // width or density descriptor, may be empty
}

// parseSrcset follows the HTML candidate grammar: a URL runs up to whitespace,
// so commas inside it (CDN transforms, data URLs) stay part of the URL. Trailing
// commas end a candidate without descriptors; otherwise descriptors run to the
// next comma outside parentheses.
func parseSrcset(val string) []srcsetCandidate {
	var out []srcsetCandidate
	i := 0
	for i < len(val) {
		for i < len(val) && (isHTMLSpace(val[i]) || val[i] == ',') {
			i++
		}
		if i >= len(val) {
			break
		}

		start := i
		for i < len(val) && !isHTMLSpace(val[i]) {
			i++
		}
		u := val[start:i]
		if trimmed := strings.TrimRight(u, ","); trimmed != u {
			out = append(out, srcsetCandidate{url: trimmed})
			continue
		}

		start = i
		depth := 0
	desc:
		for ; i < len(val); i++ {
			switch val[i] {
			case '(':
				depth++
			case ')':
				if depth > 0 {
					depth--
				}
			case ',':
				if depth == 0 {
					break desc
				}
			}
		}
		out = append(out, srcsetCandidate{url: u, desc: strings.Join(strings.Fields(val[start:i]), " ")})
	}
	return out
}

func isHTMLSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// rewriteSrcset resolves each candidate URL and keeps its descriptor. data: URLs
// are left alone. The original value is returned untouched when nothing changed.
func rewriteSrcset(val string, resolve func(string) (string, bool, error)) (string, error) {
	candidates := parseSrcset(val)
	changed := false

	for i, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c.url), "data:") {
			continue
		}
		newURL, ok, err := resolve(c.url)
		if err != nil {
			return val, err
		}
		if ok && newURL != c.url {
			candidates[i].url = newURL
			changed = true
		}
	}

	if !changed {
		return val, nil
	}
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.desc == "" {
			parts = append(parts, c.url)
		} else {
			parts = append(parts, c.url+" "+c.desc)
		}
	}
	return strings.Join(parts, ", "), nil
}
