package extract

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// StripTags removes markup, unescapes entities and collapses whitespace.
func StripTags(s string) string {
	return collapseSpace(html.UnescapeString(tagRe.ReplaceAllString(s, " ")))
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
