// Package normalizers provides the string canonicalization every matcher relies on.
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	Register("normalize", Normalize)
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("remove_whitespace", RemoveWhitespace)
	Register("domain", DomainOf)
	Register("email_domain", EmailDomain)
	Register("postcode", Postcode)
	Register("issn", ISSN)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names leave the value untouched.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Normalize trims, case-folds, collapses internal whitespace and decomposes the
// value (NFD) with combining marks removed, so "Zürich" and "zurich" compare equal.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = cases.Fold().String(s)
	s = strings.Join(strings.Fields(s), " ")

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return norm.NFD.String(s)
	}
	return out
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// DomainOf normalizes a URL or bare domain and strips the scheme and anything
// after the first slash.
func DomainOf(s string) string {
	s = Normalize(s)
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(s, scheme) {
			s = s[len(scheme):]
			break
		}
	}
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// EmailDomain returns the normalized part of an email address after the last '@'.
// An empty result means the address cannot be matched on domain.
func EmailDomain(s string) string {
	s = Normalize(s)
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// Postcode normalizes a postcode and removes all spaces, so "HP3 9AA" becomes "hp39aa".
func Postcode(s string) string {
	return RemoveWhitespace(Normalize(s))
}

// ISSN normalizes an ISSN/eISSN to the hyphenated upper-case form "1234-567X".
func ISSN(s string) string {
	var digits strings.Builder
	for _, r := range strings.ToUpper(s) {
		if unicode.IsDigit(r) || r == 'X' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) != 8 {
		return strings.ToUpper(strings.TrimSpace(s))
	}
	return d[:4] + "-" + d[4:]
}
