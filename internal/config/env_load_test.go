package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func toMap(pairs []string) map[string]string {
	m := make(map[string]string)
	for _, kv := range pairs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func TestLoadEnvFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	data := "A=1\n#comment\n\nexport B=two\nC=\"quoted value\"\nD='x'\nnoequals\n"
	if err := os.WriteFile(p, []byte(data), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	pairs, err := LoadEnvFile(p)
	if err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	m := toMap(pairs)
	if len(pairs) != 4 || m["A"] != "1" || m["B"] != "two" || m["C"] != "quoted value" || m["D"] != "x" {
		t.Fatalf("unexpected pairs: %v", pairs)
	}
	if _, err := LoadEnvFile(filepath.Join(t.TempDir(), "none")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestCoreEnvironment(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	t.Setenv("OS_ONLY", "osv")
	if err := os.WriteFile(dotenv, []byte("FILE_ONLY=fv\nCHAIN=${OS_ONLY}-x\nTOP=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	c := CoreConfig{InheritEnv: true, EnvFiles: []string{dotenv}, Env: []string{"TOP=tv"}}
	e, err := c.Environment()
	if err != nil {
		t.Fatalf("Environment: %v", err)
	}
	m := toMap(e.Merge(nil))
	if m["OS_ONLY"] != "osv" || m["FILE_ONLY"] != "fv" || m["TOP"] != "tv" || m["CHAIN"] != "osv-x" {
		t.Fatalf("unexpected env: OS_ONLY=%q FILE_ONLY=%q TOP=%q CHAIN=%q", m["OS_ONLY"], m["FILE_ONLY"], m["TOP"], m["CHAIN"])
	}

	c = CoreConfig{Env: []string{"ONLY=1"}}
	e, _ = c.Environment()
	if got := e.Merge(nil); len(got) != 1 || got[0] != "ONLY=1" {
		t.Fatalf("non-inheriting env = %v", got)
	}

	c = CoreConfig{EnvFiles: []string{filepath.Join(dir, "missing")}}
	if _, err := c.Environment(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
