package render

import (
	"regexp"
	"strings"
)

var (
	urlPattern      = regexp.MustCompile(`(?:https?|file)://[^\s<>"'{}&]+`)
	trailingPunct   = regexp.MustCompile(`[.,;:!?)\]]+$`)
	hrefAttrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;")
	hrefPrefixes    = []string{`href="`, `href='`}
)

// Linkify wraps http, https and file URLs in anchors. URLs already inside an
// href attribute are left alone, and trailing sentence punctuation stays
// outside the link.
func Linkify(html string) string {
	matches := urlPattern.FindAllStringIndex(html, -1)
	if len(matches) == 0 {
		return html
	}
	var b strings.Builder
	b.Grow(len(html) + len(matches)*48)
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if insideHref(html[:start]) {
			continue
		}
		url := html[start:end]
		clean := trailingPunct.ReplaceAllString(url, "")
		if clean == "" {
			continue
		}
		b.WriteString(html[last:start])
		b.WriteString(`<a href="`)
		b.WriteString(hrefAttrEscaper.Replace(clean))
		b.WriteString(`" target="_blank" rel="noopener">`)
		b.WriteString(clean)
		b.WriteString("</a>")
		b.WriteString(url[len(clean):])
		last = end
	}
	b.WriteString(html[last:])
	return b.String()
}

func insideHref(before string) bool {
	for _, p := range hrefPrefixes {
		if strings.HasSuffix(before, p) {
			return true
		}
	}
	return false
}
