package bigarena

import (
	"errors"
	"net/url"
	"regexp"
)

// ErrTokenNotFound indicates no CSRF token could be located in a response.
var ErrTokenNotFound = errors.New("csrf token not found")

// The panel embeds the CSRF token either in a meta tag or in a hidden form
// input. Neither shape is documented, so both are matched best-effort and in
// that order.
var (
	metaTokenPattern  = regexp.MustCompile(`<meta name="csrf-token" content="(.*?)">`)
	inputTokenPattern = regexp.MustCompile(`name="_token" value="(.*?)"`)
)

// extractToken pulls the CSRF token out of a login or dashboard HTML page.
func extractToken(html string) (string, error) {
	if m := metaTokenPattern.FindStringSubmatch(html); m != nil && m[1] != "" {
		return m[1], nil
	}
	if m := inputTokenPattern.FindStringSubmatch(html); m != nil && m[1] != "" {
		return m[1], nil
	}
	return "", ErrTokenNotFound
}

// unquoteCookieToken decodes a percent-encoded XSRF-TOKEN cookie value.
// Returns the raw value unchanged when it is not valid percent-encoding.
func unquoteCookieToken(value string) string {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}
