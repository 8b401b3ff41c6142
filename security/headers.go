package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders hardens an OAuth endpoint response. The CSP is maximal
// because these endpoints never serve markup, and caching is disabled since
// every response carries per-request secrets.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")

	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}
