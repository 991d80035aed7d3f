package config

import (
	"os"
	"regexp"
)

// envPattern matches the three placeholder forms the configuration grammar
// supports: `${NAME}`, `${NAME:-default}`, and bare `$NAME`.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// SubstituteEnv resolves every environment-variable placeholder in s. An
// unset `${NAME}` or `$NAME` with no default resolves to the empty string,
// matching shell substitution semantics rather than failing the load.
func SubstituteEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		braced, hasDefault, def, bare := groups[1], groups[2] != "", groups[3], groups[4]

		name := braced
		if name == "" {
			name = bare
		}

		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}
