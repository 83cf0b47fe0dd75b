package utils

import (
	"net"
	"net/http"
	"strings"
)

// IsAllowedIP reports whether ip falls inside one of the allowed entries.
// Entries are CIDR blocks or bare addresses; malformed entries are skipped.
func IsAllowedIP(ip string, allowed []string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}

	for _, entry := range allowed {
		if !strings.Contains(entry, "/") {
			if single := net.ParseIP(entry); single != nil && single.Equal(parsed) {
				return true
			}
			continue
		}
		_, netblock, err := net.ParseCIDR(entry)
		if err != nil {
			continue
		}
		if netblock.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the party that opened the connection.
// Forwarding headers are only believed when the socket peer is one of
// trustedProxies; X-Forwarded-For is then walked from the right and the
// first hop that is not a trusted proxy wins.
func ClientIP(remoteAddr string, header http.Header, trustedProxies []string) string {
	peer := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		peer = host
	}
	if len(trustedProxies) == 0 || !IsAllowedIP(peer, trustedProxies) {
		return peer
	}

	var hops []string
	for _, value := range header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(value, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !IsAllowedIP(hops[i], trustedProxies) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}

	if realIP := strings.TrimSpace(header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return peer
}
