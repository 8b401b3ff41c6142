package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the real client address from a request. Forwarding
// headers are only honored when trustProxy is set; otherwise a client could
// spoof X-Forwarded-For to dodge rate limits and poison audit logs.
// trustedProxyCount is how many proxies we control counting from the right
// of X-Forwarded-For; zero means one.
func ClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipFromForwardedFor picks the client entry out of an X-Forwarded-For list.
// The rightmost trustedProxyCount entries are ours; the one before them is
// the client.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	ips := strings.Split(xff, ",")
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}
	idx := len(ips) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}
	candidate := strings.TrimSpace(ips[idx])
	if net.ParseIP(candidate) != nil {
		return candidate
	}
	return ""
}
