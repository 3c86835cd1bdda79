// Package stock verifies real-time availability from product detail pages.
package stock

import (
	"bytes"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

var preloadedState = regexp.MustCompile(`(?s)window\.__PRELOADED_STATE__\s*=\s*(\{.*?\});`)

// ExtractEmbeddedState returns the JSON object assigned to window.__PRELOADED_STATE__.
// Script elements are searched first; if the document cannot be walked or no script
// matches, the raw page is scanned.
func ExtractEmbeddedState(html []byte) ([]byte, bool) {
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html)); err == nil {
		var found []byte
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := preloadedState.FindStringSubmatch(s.Text()); m != nil {
				found = []byte(m[1])
				return false
			}
			return true
		})
		if found != nil {
			return found, true
		}
	}
	if m := preloadedState.FindSubmatch(html); m != nil {
		return m[1], true
	}
	return nil, false
}
