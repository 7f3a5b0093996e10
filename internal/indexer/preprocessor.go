package indexer

import (
	"regexp"
	"strings"
)

var (
	embedLink    = regexp.MustCompile(`!\[\[[^\]]*\]\]`)
	wikiLink     = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)
	blockAnchor  = regexp.MustCompile(`(?m)[ \t]+\^[\w-]+[ \t]*$`)
	calloutLabel = regexp.MustCompile(`(?m)^>\s*\[![\w-]+\][+-]?`)
)

// Preprocess turns an Obsidian note body into plain text for embedding: embeds are dropped,
// wiki links keep their display text, block anchors and callout labels are removed, and all
// whitespace runs collapse to one space.
func Preprocess(text string) string {
	text = embedLink.ReplaceAllString(text, "")
	text = wikiLink.ReplaceAllStringFunc(text, func(m string) string {
		parts := wikiLink.FindStringSubmatch(m)
		if parts[2] != "" {
			return parts[2]
		}
		return parts[1]
	})
	text = blockAnchor.ReplaceAllString(text, "")
	text = calloutLabel.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}
