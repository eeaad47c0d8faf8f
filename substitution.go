package kernel

import (
	"os"
	"strings"
)

// PropertyResolver looks up substitution properties by name.
type PropertyResolver interface {
	Lookup(name string) (string, bool)
}

// PropertyResolverFunc adapts a function to PropertyResolver.
type PropertyResolverFunc func(name string) (string, bool)

func (f PropertyResolverFunc) Lookup(name string) (string, bool) {
	return f(name)
}

// EnvResolver resolves properties from the process environment.
var EnvResolver PropertyResolver = PropertyResolverFunc(os.LookupEnv)

// MapResolver resolves properties from a fixed map.
type MapResolver map[string]string

func (m MapResolver) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// ChainResolver consults each resolver in order and returns the first
// non-blank value.
type ChainResolver []PropertyResolver

func (c ChainResolver) Lookup(name string) (string, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if v, ok := r.Lookup(name); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

// Substitute replaces every ${name} and ${name:default} placeholder in text.
// A property that is unset or blank falls back to its default; with no usable
// default the placeholder becomes the empty string. An unterminated
// placeholder is left as is.
func Substitute(text string, props PropertyResolver) string {
	if !strings.Contains(text, "${") {
		return text
	}
	if props == nil {
		props = EnvResolver
	}

	var sb strings.Builder
	rest := text
	for {
		from := strings.Index(rest, "${")
		if from < 0 {
			sb.WriteString(rest)
			break
		}
		to := strings.Index(rest[from:], "}")
		if to < 0 {
			sb.WriteString(rest)
			break
		}
		to += from

		sb.WriteString(rest[:from])
		name, def, _ := strings.Cut(rest[from+2:to], ":")
		if v, ok := props.Lookup(name); ok && strings.TrimSpace(v) != "" {
			sb.WriteString(v)
		} else {
			sb.WriteString(def)
		}
		rest = rest[to+1:]
	}
	return sb.String()
}
