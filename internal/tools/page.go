package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxPageBody      = 5 << 20
	minPriorityText  = 100
	truncationMarker = "...[truncated]"
)

// Subtrees that never hold page content.
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
}

// Class or id fragments marking descriptive regions, in preference order.
var priorityHints = []string{"about", "company", "hero", "mission"}

func (e *Executor) fetchPageText(ctx context.Context, rawURL string, maxChars int) (string, error) {
	target := normalizeURL(rawURL)

	out, err := e.fetchBreaker.Execute(func() (interface{}, error) {
		return e.fetchPage(ctx, target)
	})
	if err != nil {
		return "", fmt.Errorf("could not fetch %s: %w", target, err)
	}

	doc := out.(*html.Node)
	return truncateText(ExtractPageText(doc), maxChars), nil
}

func (e *Executor) fetchPage(ctx context.Context, target string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create page request: %w", err)
	}
	e.setBrowserHeaders(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &statusError{code: resp.StatusCode}
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func normalizeURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// ExtractPageText returns the readable text of a parsed page. Descriptive
// regions (main, article, about/company/hero/mission blocks) are preferred
// over the whole body when they carry enough text.
func ExtractPageText(doc *html.Node) string {
	removeSkipped(doc)

	var sections []string
	if n := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Main }); n != nil {
		sections = appendSection(sections, n)
	}
	if n := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Article }); n != nil {
		sections = appendSection(sections, n)
	}
	for _, hint := range priorityHints {
		if n := findFirst(doc, hasHint(hint)); n != nil {
			sections = appendSection(sections, n)
		}
	}
	if len(sections) > 0 {
		return strings.Join(sections, " ")
	}

	root := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	if root == nil {
		root = doc
	}
	return nodeText(root)
}

func appendSection(sections []string, n *html.Node) []string {
	text := nodeText(n)
	if len([]rune(text)) > minPriorityText {
		sections = append(sections, text)
	}
	return sections
}

func hasHint(hint string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, a := range n.Attr {
			if (a.Key == "class" || a.Key == "id") && strings.Contains(strings.ToLower(a.Val), hint) {
				return true
			}
		}
		return false
	}
}

func removeSkipped(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && skippedElements[c.DataAtom]) {
			n.RemoveChild(c)
		} else {
			removeSkipped(c)
		}
		c = next
	}
}

// findFirst walks the tree depth-first and returns the first element matching fn.
func findFirst(n *html.Node, fn func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && fn(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, fn); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func truncateText(text string, maxChars int) string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + truncationMarker
}
