package sysproxy

import (
	"context"
	"strings"
	"sync"
	"testing"
)

// fakeGSettings emulates `gsettings get/set` over an in-memory key space.
type fakeGSettings struct {
	mu   sync.Mutex
	keys map[string]string
	sets []string
}

func newFakeGSettings() *fakeGSettings {
	return &fakeGSettings{keys: map[string]string{
		"org.gnome.system.proxy mode":         "'none'",
		"org.gnome.system.proxy ignore-hosts": "['localhost', '127.0.0.0/8', '::1']",
		"org.gnome.system.proxy.http host":    "''",
		"org.gnome.system.proxy.http port":    "0",
	}}
}

func (f *fakeGSettings) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name != "gsettings" {
		panic("unexpected tool " + name)
	}
	key := args[1] + " " + args[2]
	switch args[0] {
	case "get":
		return []byte(f.keys[key] + "\n"), nil
	case "set":
		f.keys[key] = args[3]
		f.sets = append(f.sets, key+"="+args[3])
	}
	return nil, nil
}

func TestGSettings_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFakeGSettings()
	g := NewGSettings(f.run)

	s, err := g.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Enabled || len(s.Bypass) != 3 || s.Bypass[2] != "::1" {
		t.Fatalf("initial settings: %+v", s)
	}

	if err := g.Set(ctx, Settings{Enabled: true, Host: "127.0.0.1", Port: 2080}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if f.keys["org.gnome.system.proxy.socks host"] != "'127.0.0.1'" || f.keys["org.gnome.system.proxy.https port"] != "2080" {
		t.Fatalf("protocol schemas not written: %v", f.keys)
	}
	if f.keys["org.gnome.system.proxy ignore-hosts"] != "[]" {
		t.Fatalf("ignore-hosts = %s", f.keys["org.gnome.system.proxy ignore-hosts"])
	}
	if last := f.sets[len(f.sets)-1]; last != "org.gnome.system.proxy mode='manual'" {
		t.Fatalf("mode must be switched last, got %s", last)
	}

	s, _ = g.Get(ctx)
	if !s.Enabled || s.Host != "127.0.0.1" || s.Port != 2080 || len(s.Bypass) != 0 {
		t.Fatalf("after enable: %+v", s)
	}

	if err := g.Set(ctx, Settings{}); err != nil {
		t.Fatalf("Set disabled: %v", err)
	}
	if f.keys["org.gnome.system.proxy mode"] != "'none'" {
		t.Fatalf("mode = %s", f.keys["org.gnome.system.proxy mode"])
	}
}

func TestGVariantHelpers(t *testing.T) {
	if got := parseGVariantStrings("@as []"); len(got) != 0 {
		t.Fatalf("empty typed array parsed as %v", got)
	}
	if got := formatGVariantStrings([]string{"a", "it's"}); got != `['a', 'it\'s']` {
		t.Fatalf("format = %s", got)
	}
	if got := unquoteGVariant(`'it\'s'`); got != "it's" {
		t.Fatalf("unquote = %s", got)
	}
	if !strings.HasPrefix(quoteGVariant("x"), "'") {
		t.Fatalf("quote missing")
	}
}
