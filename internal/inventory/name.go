package inventory

import (
	"html"
	"regexp"
	"strings"
)

// UnknownProduct is the display name used when the panel supplies no name.
const UnknownProduct = "Unknown Product"

// Product names arrive wrapped in listing markup. The usual shape carries the
// plain-text title inside an item-data-title element; when that marker is
// missing the markup is stripped outright.
var (
	titlePattern = regexp.MustCompile(`class="item-data-title">([^<]+)<`)
	tagPattern   = regexp.MustCompile(`<[^>]+>`)
)

// CleanProductName reduces a markup-embedded product name to plain text.
// Total over arbitrary input: empty input yields UnknownProduct, and any
// markup shape yields some usable string.
func CleanProductName(raw string) string {
	if raw == "" {
		return UnknownProduct
	}

	decoded := html.UnescapeString(raw)
	if m := titlePattern.FindStringSubmatch(decoded); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(tagPattern.ReplaceAllString(decoded, ""))
}
