package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/labstack/echo/v4"
)

// DefaultTrustedProxies covers loopback, container bridge networks and
// private LAN ranges.
var DefaultTrustedProxies = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fd00::/8",
}

// TrustedProxies configures Echo so c.RealIP() honours X-Real-IP and
// X-Forwarded-For only when the direct peer is inside one of the given
// CIDRs. Rate limiting and the audit trail depend on the real client IP.
func TrustedProxies(e *echo.Echo, trustedCIDRs []string) {
	var trusted []netip.Prefix
	for _, cidr := range trustedCIDRs {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy CIDR", slog.String("cidr", cidr))
			continue
		}
		trusted = append(trusted, prefix)
	}
	e.IPExtractor = ipExtractor(trusted)
}

func ipExtractor(trusted []netip.Prefix) echo.IPExtractor {
	return func(req *http.Request) string {
		direct := req.RemoteAddr
		if host, _, err := net.SplitHostPort(direct); err == nil {
			direct = host
		}
		if !isTrusted(direct, trusted) {
			return direct
		}

		if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		return direct
	}
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
