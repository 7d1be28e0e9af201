// SPDX-License-Identifier: AGPL-3.0-only
package common

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTMLToText returns the visible text of input with whitespace
// collapsed. Entities are decoded once, by the parser.
func StripHTMLToText(input string) string {
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return ""
	}

	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(words, " ")
}

// ContainsKeyword reports whether the visible text of message contains
// keyword, ignoring case. An empty keyword matches everything.
func ContainsKeyword(message, keyword string) bool {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return true
	}
	return strings.Contains(strings.ToLower(StripHTMLToText(message)), strings.ToLower(keyword))
}
