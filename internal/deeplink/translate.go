package deeplink

import (
	"net/url"
	"strings"
)

// Translator maps scheme://host/path?query onto the base URL as
// base/host/path?query.
type Translator struct {
	base string
}

// NewTranslator creates a Translator joining onto baseURL.
func NewTranslator(baseURL string) *Translator {
	return &Translator{base: strings.TrimRight(baseURL, "/")}
}

// Base returns the base URL without a trailing slash.
func (t *Translator) Base() string {
	return t.base
}

// Translate converts raw into a URL under the base. The host (when present)
// becomes the first path segment, a non-root path is appended, and the raw
// query is kept verbatim. With no host and no path the result is the base
// URL plus the query, which is how token-bearing magic links land on the
// root page. A link that cannot be parsed yields the bare base URL.
func (t *Translator) Translate(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return t.base
	}

	var path string
	if host := u.Hostname(); host != "" {
		path += "/" + host
	}
	if p := u.EscapedPath(); p != "" && p != "/" {
		path += p
	}
	path = strings.TrimLeft(path, "/")

	target := t.base
	if path != "" {
		target += "/" + path
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}
