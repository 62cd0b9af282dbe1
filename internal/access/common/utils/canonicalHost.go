package utils

import (
	"strings"

	"golang.org/x/net/idna"
)

// CanonicalHost returns a host name in canonical form:
// - Trimmed of surrounding whitespace
// - Lowercased
// - No trailing dots
// - Internationalized labels converted to their ASCII (punycode) form
//
// When IDNA conversion fails the lowercased name is returned unchanged so
// callers never have to handle an error for a cosmetic normalization.
func CanonicalHost(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	if name == "" {
		return name
	}
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return name
	}
	return ascii
}

// StripWWW removes a single leading "www." label.
func StripWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}
