package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// htmlText extracts visible text from an HTML reference, one block per line
func htmlText(content []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	return visibleText(doc), nil
}

// visibleText walks the tree, skipping scripts and styles, and breaks lines at block elements
func visibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "svg", "head":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.Join(strings.Fields(n.Data), " ")
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && isBlock(n.Data) {
			buf.WriteString("\n")
		}
	}
	walk(n)

	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "tr", "table", "section", "article",
		"h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre", "caption", "figcaption":
		return true
	}
	return false
}
