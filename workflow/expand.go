package workflow

import (
	"regexp"
	"strings"
)

// Expander interpolates variables into a command string.
type Expander interface {
	Expand(s string, vars map[string]string) string
}

// ExpanderFunc adapts a function to Expander.
type ExpanderFunc func(s string, vars map[string]string) string

// Expand calls f.
func (f ExpanderFunc) Expand(s string, vars map[string]string) string { return f(s, vars) }

var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// EnvExpander substitutes ${name} and $name from the variable set. Dotted
// names such as ${map.total} need the braced form. References to unknown
// names are left untouched for the shell to resolve.
type EnvExpander struct{}

// Expand implements Expander.
func (EnvExpander) Expand(s string, vars map[string]string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return varRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(ref, "$"), "{"), "}")
		if v, ok := vars[name]; ok {
			return v
		}
		return ref
	})
}
