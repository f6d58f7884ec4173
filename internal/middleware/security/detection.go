package security

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"
)

const maxURLLength = 2048

var (
	probeFragments = []string{
		"../", "..\\", ".env", ".git", ".ssh", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", "etc/passwd", "cmd.exe",
		"<script", "javascript:", "eval(", "union select",
	}
	scannerAgents = []string{"sqlmap", "nmap", "nikto", "gobuster", "dirb", "masscan"}
	debugMethods  = map[string]bool{"TRACE": true, "TRACK": true, "DEBUG": true, "CONNECT": true}

	privateRanges = []netip.Prefix{
		netip.MustParsePrefix("127.0.0.0/8"),
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
		netip.MustParsePrefix("::1/128"),
	}
)

// DetectionMetrics counts requests flagged and refused since start.
type DetectionMetrics struct {
	SuspiciousRequests int64
	BlockedRequests    int64
}

// Detector refuses probing requests and resolves the client address behind
// trusted proxies.
type Detector struct {
	trusted []netip.Prefix

	suspicious atomic.Int64
	blocked    atomic.Int64
}

// NewDetector trusts forwarded headers from peers inside trusted. With no
// prefixes the loopback and private ranges are trusted.
func NewDetector(trusted ...netip.Prefix) *Detector {
	if len(trusted) == 0 {
		trusted = privateRanges
	}
	return &Detector{trusted: trusted}
}

// ParseTrustedProxies parses a comma-separated CIDR list. An empty list
// yields nil, which NewDetector reads as the private ranges.
func ParseTrustedProxies(csv string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, field := range strings.Split(csv, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		p, err := netip.ParsePrefix(field)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", field, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// Inspect returns why r looks like a probe, or "" for an ordinary request.
func (d *Detector) Inspect(r *http.Request) string {
	reason := probeReason(r)
	if reason != "" {
		d.suspicious.Add(1)
	}
	return reason
}

func probeReason(r *http.Request) string {
	switch {
	case debugMethods[r.Method]:
		return "debug method"
	case len(r.URL.String()) > maxURLLength:
		return "oversized url"
	case strings.Count(r.Header.Get("X-Forwarded-For"), ",") > 5:
		return "forwarding chain too long"
	}
	if f := firstMatch(strings.ToLower(r.URL.Path), probeFragments); f != "" {
		return "path contains " + f
	}
	if f := firstMatch(strings.ToLower(r.URL.RawQuery), probeFragments); f != "" {
		return "query contains " + f
	}
	if f := firstMatch(strings.ToLower(r.UserAgent()), scannerAgents); f != "" {
		return "scanner " + f
	}
	return ""
}

func firstMatch(s string, fragments []string) string {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return f
		}
	}
	return ""
}

// Middleware answers probes with 400 before they reach a handler.
func (d *Detector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reason := d.Inspect(r); reason != "" {
			d.blocked.Add(1)
			slog.WarnContext(r.Context(), "Suspicious request blocked",
				"reason", reason,
				"client_ip", d.ClientIP(r),
				"method", r.Method,
				"path", r.URL.Path)
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the address of the client. Forwarded headers count only
// when the direct peer is a trusted proxy.
func (d *Detector) ClientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil || !d.trusts(addr.Unmap()) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if a, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return a.String()
		}
	}
	if a, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return a.String()
	}
	return peer
}

func (d *Detector) trusts(addr netip.Addr) bool {
	for _, p := range d.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{
		SuspiciousRequests: d.suspicious.Load(),
		BlockedRequests:    d.blocked.Load(),
	}
}
