// Package deeplink turns raw custom-scheme links into navigation targets.
//
// A link flows Router -> Translator -> Sanitizer -> Navigator. The Sanitizer
// is the only gate between a link (from the OS, a CLI argument or a
// scanned QR code) and the window, so every target passes through it.
package deeplink

import (
	"net/url"
	"strings"

	"github.com/wagoo/bridge/internal/netutil"
)

// Sanitizer accepts the application scheme, loopback http(s) URLs and
// http(s) URLs on an explicitly allowed host (the configured base URL's).
type Sanitizer struct {
	scheme       string
	allowedHosts map[string]struct{}
}

// NewSanitizer creates a Sanitizer for scheme (without "://"). Hosts in
// allowedHosts are accepted for http and https in addition to loopback.
func NewSanitizer(scheme string, allowedHosts ...string) *Sanitizer {
	s := &Sanitizer{
		scheme:       strings.ToLower(scheme),
		allowedHosts: make(map[string]struct{}, len(allowedHosts)),
	}
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.allowedHosts[h] = struct{}{}
		}
	}
	return s
}

// Sanitize returns the URL to navigate to and true, or "" and false when
// the URL must not reach a navigation surface.
func (s *Sanitizer) Sanitize(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return "", false
	}

	switch u.Scheme {
	case s.scheme:
		return u.String(), true
	case "http", "https":
		host := strings.ToLower(u.Hostname())
		if host == "" {
			return "", false
		}
		if netutil.IsLoopbackHost(host) {
			return u.String(), true
		}
		if _, ok := s.allowedHosts[host]; ok {
			return u.String(), true
		}
		return "", false
	default:
		return "", false
	}
}
