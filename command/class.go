package command

import (
	"fmt"
	"regexp"
	"strings"
)

// Class is the outcome classification of one collaborator invocation.
type Class string

// Known classes. Success is the only non-failure class.
const (
	ClassSuccess     Class = "success"
	ClassNetwork     Class = "network"
	ClassTimeout     Class = "timeout"
	ClassServerError Class = "server_error"
	ClassRateLimit   Class = "rate_limit"
	ClassUnknown     Class = "unknown"
)

var knownClasses = []Class{
	ClassSuccess, ClassNetwork, ClassTimeout, ClassServerError, ClassRateLimit, ClassUnknown,
}

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	for _, k := range knownClasses {
		if c == k {
			return true
		}
	}
	return false
}

// Failed reports whether c is a failure class.
func (c Class) Failed() bool { return c != ClassSuccess }

// String implements fmt.Stringer.
func (c Class) String() string { return string(c) }

// UnmarshalText rejects unknown classes so a typo in retry_on fails at load
// time instead of silently never matching.
func (c *Class) UnmarshalText(text []byte) error {
	v := Class(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("command: unknown failure class %q", string(text))
	}
	*c = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Class) MarshalText() ([]byte, error) { return []byte(c), nil }

// ──────────────────────────────────────────────────
// Output classification
// ──────────────────────────────────────────────────

// builtin is checked in order; the first match wins. Timeout comes before
// network so "connection timed out" is a timeout. Status codes count only
// next to an HTTP, status, code or error label, so "1500 files" is not a
// server error.
var builtin = []Pattern{
	mustPattern(ClassTimeout, `(?i)timed out|timeout|deadline exceeded`),
	mustPattern(ClassRateLimit, `(?i)rate limit|too many requests|`+statusLabel+`429\b`),
	mustPattern(ClassNetwork, `(?i)network|connection|refused|unreachable|no such host`),
	mustPattern(ClassServerError, `(?i)server error|bad gateway|service unavailable|`+statusLabel+`50[0234]\b`),
}

const statusLabel = `\b(?:http(?:/[\d.]+)?|status(?: code)?|code|error)[\s:=]*`

// ClassifyOutput maps a failed invocation's output to a failure class.
// Output that matches no built-in pattern is ClassUnknown.
func ClassifyOutput(output string) Class {
	for _, p := range builtin {
		if p.re.MatchString(output) {
			return p.Class
		}
	}
	return ClassUnknown
}

func mustPattern(class Class, expr string) Pattern {
	p, err := NewPattern(class, expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Pattern classifies output that matches a regular expression, for
// workflows whose tools report failures in their own format.
type Pattern struct {
	Class Class
	re    *regexp.Regexp
}

// NewPattern compiles expr into a Pattern for class.
func NewPattern(class Class, expr string) (Pattern, error) {
	if !class.Valid() || class == ClassSuccess {
		return Pattern{}, fmt.Errorf("command: pattern class %q is not a failure class", class)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("command: compile pattern %q: %w", expr, err)
	}
	return Pattern{Class: class, re: re}, nil
}

// Classify applies patterns first, then the built-in ones.
func Classify(output string, patterns ...Pattern) Class {
	for _, p := range patterns {
		if p.re != nil && p.re.MatchString(output) {
			return p.Class
		}
	}
	return ClassifyOutput(output)
}
