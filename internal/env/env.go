// Package env composes the environment handed to the proxy core.
package env

import (
	"os"
	"sort"
	"strings"
)

// Vars is a K->V environment map.
type Vars map[string]string

// Env layers configured variables on top of a base environment. It is
// immutable; With* return modified copies.
type Env struct {
	base Vars
	vars Vars
}

// FromOS snapshots the current process environment as the base.
func FromOS() Env {
	return Env{base: Parse(os.Environ())}
}

// Empty returns an Env with no base, for cores that must not inherit the
// daemon's environment.
func Empty() Env { return Env{} }

// Parse turns "K=V" pairs into Vars. Entries without '=' or with an empty
// key are skipped; later entries win.
func Parse(pairs []string) Vars {
	out := make(Vars, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// WithVars returns a copy with vars layered over the current overrides.
func (e Env) WithVars(vars Vars) Env {
	merged := make(Vars, len(e.vars)+len(vars))
	for k, v := range e.vars {
		merged[k] = v
	}
	for k, v := range vars {
		if k != "" {
			merged[k] = v
		}
	}
	return Env{base: e.base, vars: merged}
}

// Merge returns base, then configured vars, then extra "K=V" pairs. ${VAR}
// references in a layer resolve against everything composed so far; a
// variable referring to itself sees the value from the layer below, so
// PATH=/opt/bin:${PATH} extends the inherited PATH. The result is sorted.
func (e Env) Merge(extra []string) []string {
	m := layer(Vars{}, e.base, false)
	m = layer(m, e.vars, true)
	m = layer(m, Parse(extra), true)
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func layer(lower, over Vars, expandRefs bool) Vars {
	raw := make(Vars, len(lower)+len(over))
	for k, v := range lower {
		raw[k] = v
	}
	for k, v := range over {
		raw[k] = v
	}
	if !expandRefs {
		return raw
	}
	out := make(Vars, len(raw))
	for k, v := range raw {
		if _, ok := over[k]; ok {
			v = expand(k, v, raw, lower)
		}
		out[k] = v
	}
	return out
}

func expand(self, s string, raw, lower Vars) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(key string) string {
		src := raw
		if key == self {
			src = lower
		}
		if v, ok := src[key]; ok {
			return v
		}
		return "${" + key + "}"
	})
}
