// Package proxyconf reads a proxy core configuration file and extracts the
// local port the core will listen on.
package proxyconf

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"
)

var (
	ErrConfigRead         = errors.New("config read failed")
	ErrConfigParse        = errors.New("config parse failed")
	ErrConfigFieldMissing = errors.New("config port field missing")
	ErrUnknownDialect     = errors.New("unknown config dialect")
)

// Dialect identifies the proxy core family a config file belongs to. It
// decides both the accepted syntax and where the listening port lives.
type Dialect string

const (
	// DialectSingBox accepts comments and trailing commas and reads
	// inbounds[0].listen_port.
	DialectSingBox Dialect = "sing-box"
	// DialectTrojanGo accepts strict JSON only and reads the top-level local_port.
	DialectTrojanGo Dialect = "trojan-go"
)

// ParseDialect validates a dialect name. Matching is case-insensitive.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case DialectSingBox:
		return DialectSingBox, nil
	case DialectTrojanGo:
		return DialectTrojanGo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDialect, s)
}

func (d Dialect) String() string { return string(d) }

// Relaxed reports whether the dialect tolerates comments and trailing commas.
func (d Dialect) Relaxed() bool { return d == DialectSingBox }

// PortPath is the human readable location of the port field.
func (d Dialect) PortPath() string {
	if d == DialectSingBox {
		return "inbounds[0].listen_port"
	}
	return "local_port"
}

// Extracted holds what proxyvisr needs from a core config.
type Extracted struct {
	LocalPort uint16
}

// Extract reads path and extracts the listening port for dialect d.
func Extract(path string, d Dialect) (Extracted, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is chosen by the operator
	if err != nil {
		return Extracted{}, fmt.Errorf("%w: %w", ErrConfigRead, err)
	}
	return ExtractBytes(data, d)
}

// ExtractBytes is Extract over in-memory content.
func ExtractBytes(data []byte, d Dialect) (Extracted, error) {
	doc, err := decode(data, d)
	if err != nil {
		return Extracted{}, err
	}
	var raw any
	switch d {
	case DialectSingBox:
		raw = listenPort(doc)
	case DialectTrojanGo:
		raw = doc["local_port"]
	default:
		return Extracted{}, fmt.Errorf("%w: %q", ErrUnknownDialect, string(d))
	}
	port, ok := asPort(raw)
	if !ok {
		return Extracted{}, fmt.Errorf("%w: %s must be an integer in 1..65535", ErrConfigFieldMissing, d.PortPath())
	}
	return Extracted{LocalPort: port}, nil
}

func decode(data []byte, d Dialect) (map[string]any, error) {
	if !d.Relaxed() && d != DialectTrojanGo {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, string(d))
	}
	if d.Relaxed() {
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigParse, err)
		}
		data = std
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParse, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after top-level object", ErrConfigParse)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: top-level value must be an object", ErrConfigParse)
	}
	return doc, nil
}

func listenPort(doc map[string]any) any {
	inbounds, ok := doc["inbounds"].([]any)
	if !ok || len(inbounds) == 0 {
		return nil
	}
	first, ok := inbounds[0].(map[string]any)
	if !ok {
		return nil
	}
	return first["listen_port"]
}

func asPort(v any) (uint16, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	p, err := strconv.ParseUint(n.String(), 10, 16)
	if err != nil || p == 0 {
		return 0, false
	}
	return uint16(p), true
}
