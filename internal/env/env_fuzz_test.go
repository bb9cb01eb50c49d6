package env

import (
	"strings"
	"testing"
)

func FuzzMerge(f *testing.F) {
	f.Add("A=1\nB=${A}-x", "C=${B}-y")
	f.Add("FOO=bar", "FOO=${FOO}")
	f.Add("X=$Y", "Y=${X}")

	f.Fuzz(func(t *testing.T, global, per string) {
		e := Empty().WithVars(Parse(strings.Split(global, "\n")))
		out := e.Merge(strings.Split(per, "\n"))
		seen := map[string]bool{}
		for _, kv := range out {
			k, _, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				t.Fatalf("bad pair: %q", kv)
			}
			if seen[k] {
				t.Fatalf("duplicate key %q", k)
			}
			seen[k] = true
		}
	})
}
