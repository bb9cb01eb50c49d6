package sysproxy

import "testing"

func TestParseProxyServer(t *testing.T) {
	cases := []struct {
		in   string
		host string
		port uint16
	}{
		{"127.0.0.1:1080", "127.0.0.1", 1080},
		{"https=10.0.0.1:443;http=127.0.0.1:8080", "127.0.0.1", 8080},
		{"socks=127.0.0.1:1080", "127.0.0.1", 1080},
		{"[::1]:2080", "::1", 2080},
		{"", "", 0},
		{"proxy.local:notaport", "proxy.local", 0},
	}
	for _, tc := range cases {
		h, p := parseProxyServer(tc.in)
		if h != tc.host || p != tc.port {
			t.Errorf("parseProxyServer(%q) = %q, %d", tc.in, h, p)
		}
	}
	if got := splitOverride("localhost; <local>;;"); len(got) != 2 || got[1] != "<local>" {
		t.Fatalf("splitOverride = %v", got)
	}
}
