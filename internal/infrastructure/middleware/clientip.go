package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/seancfoley/ipaddress-go/ipaddr"
)

// TrustedNetworks is a set of CIDR blocks. It serves both as the throttling
// bypass list and as the set of reverse proxies whose forwarding headers are
// believed.
type TrustedNetworks struct {
	v4 *ipaddr.IPv4AddressTrie
	v6 *ipaddr.IPv6AddressTrie
}

// NewTrustedNetworks parses cidrs. Plain addresses are accepted as
// single-host blocks.
func NewTrustedNetworks(cidrs []string) (*TrustedNetworks, error) {
	t := &TrustedNetworks{
		v4: &ipaddr.IPv4AddressTrie{},
		v6: &ipaddr.IPv6AddressTrie{},
	}
	for _, cidr := range cidrs {
		addr, err := ipaddr.NewIPAddressString(strings.TrimSpace(cidr)).ToAddress()
		if err != nil {
			return nil, fmt.Errorf("invalid trusted network %q: %w", cidr, err)
		}
		if addr.IsIPv4() {
			t.v4.Add(addr.ToIPv4())
		} else if addr.IsIPv6() {
			t.v6.Add(addr.ToIPv6())
		}
	}
	return t, nil
}

// Contains reports whether ip falls inside any trusted block.
func (t *TrustedNetworks) Contains(ip string) bool {
	if t == nil || ip == "" {
		return false
	}
	addr, err := ipaddr.NewIPAddressString(ip).ToAddress()
	if err != nil {
		return false
	}
	return (addr.IsIPv4() && t.v4.ElementContains(addr.ToIPv4())) ||
		(addr.IsIPv6() && t.v6.ElementContains(addr.ToIPv6()))
}

// ClientIP returns the canonical address of the client that sent r.
// Forwarding headers are only read when the immediate peer (RemoteAddr) is in
// proxies. X-Forwarded-For is then walked right to left past trusted proxy
// hops, and X-Real-IP or CF-Connecting-IP are used when it is absent. With no
// trusted peer the result is the peer itself, or "unknown" when RemoteAddr
// does not parse.
func ClientIP(r *http.Request, proxies *TrustedNetworks) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	peer := canonicalIP(host)
	if peer == "" {
		return "unknown"
	}
	if !proxies.Contains(peer) {
		return peer
	}

	if hops := forwardedHops(r); len(hops) > 0 {
		client := peer
		for i := len(hops) - 1; i >= 0; i-- {
			ip := canonicalIP(hops[i])
			if ip == "" {
				break
			}
			client = ip
			if !proxies.Contains(ip) {
				break
			}
		}
		return client
	}
	for _, h := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if ip := canonicalIP(r.Header.Get(h)); ip != "" {
			return ip
		}
	}
	return peer
}

// forwardedHops flattens every X-Forwarded-For header in arrival order.
func forwardedHops(r *http.Request) []string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}

func canonicalIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	addr, err := ipaddr.NewIPAddressString(raw).ToAddress()
	if err != nil || addr == nil || addr.IsPrefixed() || addr.IsMultiple() {
		return ""
	}
	return addr.ToCanonicalString()
}
