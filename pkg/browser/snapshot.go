package browser

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/net/html"
)

// DefaultSnapshotTokenBudget caps how much of the document a synthesis
// request may carry.
const DefaultSnapshotTokenBudget = 8000

// maxCleanedBytes bounds the intermediate cleaned markup before token-level
// trimming, so pathological pages cannot exhaust memory.
const maxCleanedBytes = 400_000

// Elements removed entirely, subtrees included.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"object":   true,
	"embed":    true,
	"svg":      true,
	"canvas":   true,
	"video":    true,
	"audio":    true,
	"source":   true,
	"link":     true,
	"meta":     true,
	"head":     true,
}

// Attributes kept because they make good selector targets.
var targetingAttributes = map[string]bool{
	"id":               true,
	"class":            true,
	"name":             true,
	"type":             true,
	"value":            true,
	"placeholder":      true,
	"href":             true,
	"alt":              true,
	"title":            true,
	"for":              true,
	"role":             true,
	"aria-label":       true,
	"aria-labelledby":  true,
	"aria-describedby": true,
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "hr": true,
	"img": true, "input": true, "param": true, "track": true, "wbr": true,
}

// cleanDocument strips scripts, styles, and cosmetic attributes from raw
// markup, keeping the semantic structure and targeting attributes a
// synthesis backend needs to propose selectors.
func cleanDocument(raw string) (string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var b strings.Builder
	writeNode(doc, &b)
	return b.String(), nil
}

func writeNode(n *html.Node, b *strings.Builder) {
	if b.Len() >= maxCleanedBytes {
		return
	}

	switch n.Type {
	case html.CommentNode:
		return
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			b.WriteString(text)
		}
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedElements[tag] {
			return
		}
		b.WriteByte('<')
		b.WriteString(tag)
		for _, attr := range n.Attr {
			key := strings.ToLower(attr.Key)
			if targetingAttributes[key] || strings.HasPrefix(key, "data-") {
				fmt.Fprintf(b, ` %s="%s"`, key, html.EscapeString(attr.Val))
			}
		}
		b.WriteByte('>')
		writeChildren(n, b)
		if !voidElements[tag] {
			b.WriteString("</")
			b.WriteString(tag)
			b.WriteByte('>')
		}
	default:
		writeChildren(n, b)
	}
}

func writeChildren(n *html.Node, b *strings.Builder) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNode(c, b)
	}
}

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// trimToTokens truncates text to at most budget tokens. When the tokenizer
// cannot be initialized it falls back to a 4-bytes-per-token estimate.
func trimToTokens(text string, budget int) string {
	if budget <= 0 {
		return text
	}
	encoderOnce.Do(func() {
		encoder, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if encoder == nil {
		limit := budget * 4
		if len(text) > limit {
			return text[:limit]
		}
		return text
	}

	tokens := encoder.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return encoder.Decode(tokens[:budget])
}
