package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	proxies, err := NewTrustedNetworks([]string{"10.0.0.0/8", "fd00::/8"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"untrusted peer ignores forwarded for", map[string]string{"X-Forwarded-For": "10.9.9.9"}, "203.0.113.9:5000", "203.0.113.9"},
		{"untrusted peer ignores real ip", map[string]string{"X-Real-IP": "198.51.100.4", "CF-Connecting-IP": "192.0.2.9"}, "203.0.113.9:5000", "203.0.113.9"},
		{"proxy chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:443", "203.0.113.7"},
		{"spoofed left hop skipped", map[string]string{"X-Forwarded-For": "10.9.9.9, 203.0.113.7"}, "10.0.0.2:443", "203.0.113.7"},
		{"all hops trusted", map[string]string{"X-Forwarded-For": "10.0.0.5, 10.0.0.1"}, "10.0.0.2:443", "10.0.0.5"},
		{"garbage hop stops the walk", map[string]string{"X-Forwarded-For": "203.0.113.7, nonsense"}, "10.0.0.2:443", "10.0.0.2"},
		{"real ip from proxy", map[string]string{"X-Real-IP": " 198.51.100.4 "}, "10.0.0.2:443", "198.51.100.4"},
		{"cloudflare from proxy", map[string]string{"CF-Connecting-IP": "192.0.2.9"}, "10.0.0.2:443", "192.0.2.9"},
		{"cidr header rejected", map[string]string{"X-Real-IP": "10.0.0.0/8"}, "10.0.0.2:443", "10.0.0.2"},
		{"remote addr", nil, "192.0.2.10:51234", "192.0.2.10"},
		{"remote addr without port", nil, "192.0.2.11", "192.0.2.11"},
		{"ipv6 canonical", map[string]string{"X-Real-IP": "2001:0db8:0000:0000:0000:0000:0000:0001"}, "[fd00::1]:443", "2001:db8::1"},
		{"ipv6 remote", nil, "[::1]:8080", "::1"},
		{"unparsable remote", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "bogus", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req, proxies))
		})
	}
}

func TestClientIPWithoutProxies(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "203.0.113.9", ClientIP(req, nil))
}

func TestClientIPMultipleForwardedHeaders(t *testing.T) {
	proxies, err := NewTrustedNetworks([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.2:443"
	req.Header.Add("X-Forwarded-For", "198.51.100.1")
	req.Header.Add("X-Forwarded-For", "203.0.113.7, 10.0.0.3")
	assert.Equal(t, "203.0.113.7", ClientIP(req, proxies))
}

func TestTrustedNetworks(t *testing.T) {
	trusted, err := NewTrustedNetworks([]string{"10.0.0.0/8", "192.168.1.5", "fd00::/8"})
	require.NoError(t, err)

	assert.True(t, trusted.Contains("10.1.2.3"))
	assert.True(t, trusted.Contains("192.168.1.5"))
	assert.True(t, trusted.Contains("fd12::1"))
	assert.False(t, trusted.Contains("192.168.1.6"))
	assert.False(t, trusted.Contains("11.0.0.1"))
	assert.False(t, trusted.Contains("2001:db8::1"))
	assert.False(t, trusted.Contains("unknown"))
	assert.False(t, trusted.Contains(""))

	var none *TrustedNetworks
	assert.False(t, none.Contains("10.1.2.3"))

	_, err = NewTrustedNetworks([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}
