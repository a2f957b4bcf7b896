package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Upper bound on stored User-Agent strings
const maxUserAgentLength = 512

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ClientInfo is the request metadata recorded on sessions and login attempts
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// ExtractClient returns the caller's IP and a length-bounded User-Agent
func ExtractClient(r *http.Request, config *IPConfig) ClientInfo {
	ua := strings.TrimSpace(r.Header.Get("User-Agent"))
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	return ClientInfo{
		IPAddress: ExtractClientIP(r, config),
		UserAgent: ua,
	}
}

// ExtractClientIP extracts the real client IP address from the request.
// Forwarding headers are only honored when the direct peer is a trusted proxy.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := remoteAddr(r)

	if config == nil || !isTrustedProxy(remoteIP, config.TrustedProxies) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, candidate := range strings.Split(xff, ",") {
			if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
				return addr.String()
			}
		}
	}

	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.String()
	}

	return remoteIP
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, cidr := range trustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// GeoHint is the coarse location a trusted edge proxy attached to a request
type GeoHint struct {
	City    string
	Country string
}

// ExtractGeo reads CDN geolocation headers. They are ignored unless the
// direct peer is a trusted proxy, and nil is returned when neither is set.
func ExtractGeo(r *http.Request, config *IPConfig) *GeoHint {
	if config == nil || !isTrustedProxy(remoteAddr(r), config.TrustedProxies) {
		return nil
	}

	geo := &GeoHint{
		City:    strings.TrimSpace(r.Header.Get("CF-IPCity")),
		Country: strings.ToUpper(strings.TrimSpace(r.Header.Get("CF-IPCountry"))),
	}
	// XX and T1 are Cloudflare's unknown and Tor markers
	if geo.Country == "XX" || geo.Country == "T1" {
		geo.Country = ""
	}
	if geo.City == "" && geo.Country == "" {
		return nil
	}
	return geo
}
