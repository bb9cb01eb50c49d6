package sysproxy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const gnomeProxySchema = "org.gnome.system.proxy"

// GSettings drives the GNOME proxy settings through the gsettings tool.
// The http, https and socks schemas are all pointed at the same address.
type GSettings struct {
	run Runner
}

func NewGSettings(run Runner) *GSettings { return &GSettings{run: run} }

var gnomeProtocols = []string{"http", "https", "socks"}

func (g *GSettings) get(ctx context.Context, schema, key string) (string, error) {
	out, err := g.run(ctx, "gsettings", "get", schema, key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *GSettings) set(ctx context.Context, schema, key, value string) error {
	_, err := g.run(ctx, "gsettings", "set", schema, key, value)
	return err
}

func (g *GSettings) Get(ctx context.Context) (Settings, error) {
	mode, err := g.get(ctx, gnomeProxySchema, "mode")
	if err != nil {
		return Settings{}, err
	}
	host, err := g.get(ctx, gnomeProxySchema+".http", "host")
	if err != nil {
		return Settings{}, err
	}
	portStr, err := g.get(ctx, gnomeProxySchema+".http", "port")
	if err != nil {
		return Settings{}, err
	}
	ignore, err := g.get(ctx, gnomeProxySchema, "ignore-hosts")
	if err != nil {
		return Settings{}, err
	}
	port, err := strconv.ParseUint(strings.TrimPrefix(portStr, "uint32 "), 10, 16)
	if err != nil {
		return Settings{}, fmt.Errorf("parse gsettings port %q: %w", portStr, err)
	}
	return Settings{
		Enabled: unquoteGVariant(mode) == "manual",
		Host:    unquoteGVariant(host),
		Port:    uint16(port),
		Bypass:  parseGVariantStrings(ignore),
	}, nil
}

func (g *GSettings) Set(ctx context.Context, s Settings) error {
	if !s.Enabled {
		return g.set(ctx, gnomeProxySchema, "mode", "'none'")
	}
	for _, proto := range gnomeProtocols {
		schema := gnomeProxySchema + "." + proto
		if err := g.set(ctx, schema, "host", quoteGVariant(s.Host)); err != nil {
			return err
		}
		if err := g.set(ctx, schema, "port", strconv.Itoa(int(s.Port))); err != nil {
			return err
		}
	}
	if err := g.set(ctx, gnomeProxySchema, "ignore-hosts", formatGVariantStrings(s.Bypass)); err != nil {
		return err
	}
	return g.set(ctx, gnomeProxySchema, "mode", "'manual'")
}

func quoteGVariant(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func unquoteGVariant(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return strings.ReplaceAll(s, `\'`, "'")
}

// parseGVariantStrings parses "['a', 'b']" and "@as []".
func parseGVariantStrings(s string) []string {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "@as"))
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	var out []string
	for _, item := range strings.Split(s, ",") {
		if v := unquoteGVariant(item); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func formatGVariantStrings(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, it := range items {
		quoted = append(quoted, quoteGVariant(it))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
