package source

import (
	"fmt"
	"strings"

	"datagrid/internal/apperr"
	"datagrid/internal/parser"

	"github.com/PuerkitoBio/goquery"
)

// DefaultHTMLSelector matches the usual places a page embeds raw data.
const DefaultHTMLSelector = `script[type="application/json"], script[type="application/ld+json"], pre`

// LooksLikeHTML reports whether text is an HTML document rather than XML.
func LooksLikeHTML(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) > 64 {
		t = t[:64]
	}
	t = strings.ToLower(t)
	return strings.HasPrefix(t, "<!doctype html") || strings.HasPrefix(t, "<html")
}

// ExtractEmbedded returns the text of the first element matching selector
// whose content is detectable as JSON or XML. Missing matches are not
// errors for individual elements; only a page with no usable element fails.
func ExtractEmbedded(html, selector string) (string, error) {
	if strings.TrimSpace(selector) == "" {
		selector = DefaultHTMLSelector
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", apperr.Wrap(apperr.KindIO, "parse html", err)
	}

	var found string
	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if parser.Detect(text) == parser.Unrecognized {
			return true
		}
		found = text
		return false
	})
	if found == "" {
		return "", apperr.New(apperr.KindUnrecognizedFormat,
			fmt.Sprintf("html page has no embedded JSON or XML matching %q", selector))
	}
	return found, nil
}
