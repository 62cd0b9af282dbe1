package domain

import "strings"

const (
	// KeyAlphabet omits look-alike symbols (0/O, 1/I/L) so keys survive
	// being read off a screen and typed back in.
	KeyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	// KeySymbols is the number of alphabet symbols in a key.
	KeySymbols = 8
	keyGroup   = 4
)

// FormatKey groups raw key symbols as XXXX-XXXX.
func FormatKey(symbols string) string {
	if len(symbols) <= keyGroup {
		return symbols
	}
	return symbols[:keyGroup] + "-" + symbols[keyGroup:]
}

// NormalizeKey trims and upper-cases user input. It does not repair
// missing or misplaced hyphens.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// WellFormedKey reports whether key has the XXXX-XXXX shape over KeyAlphabet.
func WellFormedKey(key string) bool {
	if len(key) != KeySymbols+1 || key[keyGroup] != '-' {
		return false
	}
	for i := 0; i < len(key); i++ {
		if i == keyGroup {
			continue
		}
		if strings.IndexByte(KeyAlphabet, key[i]) < 0 {
			return false
		}
	}
	return true
}
