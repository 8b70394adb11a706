package auth

import (
	"net"
	"strings"
)

// NormalizeIP canonicalizes a client address for ban matching and storage. IPv4-mapped IPv6 addresses
// (::ffff:a.b.c.d) collapse to their IPv4 form so the same host always matches the same ban rule, and any port
// suffix is dropped.
func NormalizeIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	addr = strings.Trim(addr, "[]")

	ip := net.ParseIP(addr)
	if ip == nil {
		return addr
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
