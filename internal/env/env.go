package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes child environments from the supervisor's own environment,
// global overrides and per-service overrides. An Env is never mutated after
// construction; WithSet returns a copy.
type Env struct {
	global Var
	base   Var // snapshot of os.Environ taken at construction
}

func New() *Env {
	return &Env{global: make(Var), base: fromOS()}
}

// FromMap returns an Env with the given global overrides.
func FromMap(global map[string]string) *Env {
	e := New()
	for k, v := range global {
		if k != "" {
			e.global[k] = v
		}
	}
	return e
}

// WithSet returns a copy of e with K=V added to the global overrides.
func (e *Env) WithSet(k, v string) *Env {
	n := &Env{global: make(Var, len(e.global)+1), base: e.base}
	for gk, gv := range e.global {
		n.global[gk] = gv
	}
	if k != "" {
		n.global[k] = v
	}
	return n
}

// Global returns a copy of the global overrides.
func (e *Env) Global() Var {
	out := make(Var, len(e.global))
	for k, v := range e.global {
		out[k] = v
	}
	return out
}

func fromOS() Var {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	return base
}

// Merge composes the final environment list applying order:
// base = OS env
// then apply global overrides
// then apply per-service overrides
// Returns the environment slice in "K=V" form sorted by key, with ${VAR}
// expansion performed using the composed map (simple expansion, no recursion).
func (e *Env) Merge(perService map[string]string) []string {
	m := make(Var, len(e.base)+len(e.global)+len(perService))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.global {
		m[k] = v
	}
	for k, v := range perService {
		if k == "" { // skip malformed entries with empty key
			continue
		}
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// expand replaces ${VAR} references with values from m. Unknown references
// and bare $VAR forms are left as written.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}
