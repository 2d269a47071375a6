// Package origin centralizes client IP extraction and anonymization so every
// engine resolves request origins the same way.
package origin

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is the fallback origin when no candidate validates as an IP.
const Unknown = "0.0.0.0"

// headerChain is the trust order for proxy-forwarded client IPs.
var headerChain = []string{
	"CF-Connecting-IP", // Cloudflare
	"X-Real-IP",        // Nginx proxy
	"X-Forwarded-For",  // Generic proxy
}

// FromRequest resolves the client IP from proxy headers, falling back to the
// socket peer address. Comma-separated X-Forwarded-For lists yield the first
// hop. Returns Unknown when nothing validates.
func FromRequest(r *http.Request) string {
	for _, header := range headerChain {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		if idx := strings.IndexByte(value, ','); idx >= 0 {
			value = value[:idx]
		}
		value = strings.TrimSpace(value)
		if net.ParseIP(value) != nil {
			return value
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if net.ParseIP(host) != nil {
		return host
	}
	return Unknown
}

// Anonymize zeroes the host portion of an IP for privacy-preserving storage:
// the last octet for IPv4, the last 64 bits for IPv6. Invalid input is
// returned unchanged.
func Anonymize(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	if v4 := parsed.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String()
	}
	masked := parsed.Mask(net.CIDRMask(64, 128))
	return masked.String()
}

// Allowed reports whether ip is present in the allow-list. An empty list
// allows all origins.
func Allowed(ip string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, entry := range allowlist {
		if strings.TrimSpace(entry) == ip {
			return true
		}
	}
	return false
}
