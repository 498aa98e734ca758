// Package env composes the environment handed to the worker process.
package env

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

type Var map[string]string

// Env layers variables in this order, later layers winning:
// the OS environment (when enabled), .env files in order, explicit overrides.
type Env struct {
	useOS bool
	files Var
	vars  Var
}

func New(useOS bool) *Env {
	return &Env{useOS: useOS, files: make(Var), vars: make(Var)}
}

// LoadFiles reads dotenv files in order; a later file overrides an earlier one.
func (e *Env) LoadFiles(paths ...string) error {
	for _, p := range paths {
		m, err := godotenv.Read(p)
		if err != nil {
			return fmt.Errorf("read env file %s: %w", p, err)
		}
		for k, v := range m {
			e.files[k] = v
		}
	}
	return nil
}

// Set adds an explicit override.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.vars[k] = v
}

// SetPairs applies "K=V" entries as overrides; malformed entries are skipped.
func (e *Env) SetPairs(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			e.Set(k, v)
		}
	}
}

// Merge returns the composed environment as sorted "K=V" pairs with ${VAR}
// references expanded against the composed map. perProc entries win over
// everything else.
func (e *Env) Merge(perProc []string) []string {
	m := make(Var)
	if e.useOS {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
				m[k] = v
			}
		}
	}
	for k, v := range e.files {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for _, kv := range perProc {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// expand substitutes ${VAR} only; bare $VAR is left untouched.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(m[s[i+2:i+j]])
		s = s[i+j+1:]
	}
}
