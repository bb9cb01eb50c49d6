package sysproxy

import (
	"net"
	"strconv"
	"strings"
)

const internetSettingsKey = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

// parseProxyServer understands both "host:port" and the per-protocol
// "http=host:port;https=host:port" form, preferring the http entry.
func parseProxyServer(v string) (string, uint16) {
	v = strings.TrimSpace(v)
	if strings.Contains(v, "=") {
		var first string
		for _, part := range strings.Split(v, ";") {
			proto, addr, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				continue
			}
			if first == "" {
				first = addr
			}
			if strings.EqualFold(proto, "http") {
				first = addr
				break
			}
		}
		v = first
	}
	host, portStr, err := net.SplitHostPort(v)
	if err != nil {
		return v, 0
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return host, 0
	}
	return host, uint16(port)
}

func splitOverride(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
