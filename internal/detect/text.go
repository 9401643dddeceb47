package detect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Visible returns the page title and the text a reader would see in the
// body. Head, scripts, styles and noscript fallbacks are dropped so meta
// tags like robots or site-verification never reach the markers.
func Visible(html string) (title, text string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", html
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	body := doc.Find("body")
	body.Find("script, style, noscript, template").Remove()
	return title, strings.Join(strings.Fields(body.Text()), " ")
}
