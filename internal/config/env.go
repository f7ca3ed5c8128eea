package config

import (
	"os"
	"regexp"

	"github.com/vango-dev/wsession/internal/errors"
)

// envRef matches ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} references in data. A
// default applies when VAR is unset or empty. A reference without a
// default to an unset variable is an error.
func ExpandEnv(data []byte) ([]byte, error) {
	var missing string
	out := envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		name := string(m[1])
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return []byte(v)
		}
		if len(m[2]) > 0 {
			return m[3]
		}
		if _, ok := os.LookupEnv(name); ok {
			return nil
		}
		if missing == "" {
			missing = name
		}
		return ref
	})
	if missing != "" {
		return nil, errors.New(errors.CodeMissingEnv).
			WithDetail("${" + missing + "} is referenced but not set").
			WithSuggestion("Export " + missing + " or write ${" + missing + ":-default}")
	}
	return out, nil
}
