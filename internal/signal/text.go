package signal

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// plainText reduces an HTML fragment to whitespace-collapsed text. Input
// without markup passes through with whitespace collapsed.
func plainText(body string) string {
	if strings.ContainsAny(body, "<>") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
			doc.Find("script, style, noscript").Remove()
			body = doc.Text()
		}
	}
	return strings.Join(strings.Fields(body), " ")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
