package sysproxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DefaultNetworkService is used when no macOS service name is configured.
const DefaultNetworkService = "Wi-Fi"

// NetworkSetup drives macOS proxies of one network service through the
// networksetup tool.
type NetworkSetup struct {
	service string
	run     Runner
}

func NewNetworkSetup(service string, run Runner) *NetworkSetup {
	if service == "" {
		service = DefaultNetworkService
	}
	return &NetworkSetup{service: service, run: run}
}

func (n *NetworkSetup) cmd(ctx context.Context, args ...string) ([]byte, error) {
	return n.run(ctx, "networksetup", args...)
}

func (n *NetworkSetup) Get(ctx context.Context) (Settings, error) {
	out, err := n.cmd(ctx, "-getwebproxy", n.service)
	if err != nil {
		return Settings{}, err
	}
	fields := parseColonFields(out)
	s := Settings{
		Enabled: strings.EqualFold(fields["Enabled"], "Yes"),
		Host:    fields["Server"],
	}
	if p := fields["Port"]; p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Settings{}, fmt.Errorf("parse networksetup port %q: %w", p, err)
		}
		s.Port = uint16(port)
	}
	bypass, err := n.cmd(ctx, "-getproxybypassdomains", n.service)
	if err != nil {
		return Settings{}, err
	}
	s.Bypass = parseBypassDomains(bypass)
	return s, nil
}

func (n *NetworkSetup) Set(ctx context.Context, s Settings) error {
	if !s.Enabled {
		for _, flag := range []string{"-setwebproxystate", "-setsecurewebproxystate", "-setsocksfirewallproxystate"} {
			if _, err := n.cmd(ctx, flag, n.service, "off"); err != nil {
				return err
			}
		}
		return nil
	}
	port := strconv.Itoa(int(s.Port))
	for _, flag := range []string{"-setwebproxy", "-setsecurewebproxy", "-setsocksfirewallproxy"} {
		if _, err := n.cmd(ctx, flag, n.service, s.Host, port); err != nil {
			return err
		}
	}
	args := []string{"-setproxybypassdomains", n.service}
	if len(s.Bypass) == 0 {
		args = append(args, "Empty")
	} else {
		args = append(args, s.Bypass...)
	}
	_, err := n.cmd(ctx, args...)
	return err
}

func parseColonFields(out []byte) map[string]string {
	fields := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return fields
}

func parseBypassDomains(out []byte) []string {
	var domains []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "There aren't any") {
			continue
		}
		domains = append(domains, line)
	}
	return domains
}
