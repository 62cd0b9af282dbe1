package ledger

import (
	"fmt"
	"io"

	"github.com/haukened/gracegate/internal/access/domain"
)

// maxKeyAttempts bounds re-draws when a fresh key collides with an
// existing grant.
const maxKeyAttempts = 16

// rejectAbove is the largest multiple of the alphabet size that fits in a
// byte. Bytes at or above it are discarded so every symbol is equally likely.
var rejectAbove = 256 - 256%len(domain.KeyAlphabet)

// drawKey reads random bytes from r and renders a formatted key.
func drawKey(r io.Reader) (string, error) {
	var out [domain.KeySymbols]byte
	buf := make([]byte, 2*domain.KeySymbols)
	n := 0
	for n < len(out) {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read key entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out[n] = domain.KeyAlphabet[int(b)%len(domain.KeyAlphabet)]
			n++
			if n == len(out) {
				break
			}
		}
	}
	return domain.FormatKey(string(out[:])), nil
}

// uniqueKey draws keys until one is not held by any grant in grants.
func uniqueKey(r io.Reader, grants []domain.GracePeriod) (string, error) {
	taken := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		taken[g.Key] = struct{}{}
	}
	for i := 0; i < maxKeyAttempts; i++ {
		k, err := drawKey(r)
		if err != nil {
			return "", err
		}
		if _, dup := taken[k]; !dup {
			return k, nil
		}
	}
	return "", domain.ErrKeySpaceExhausted
}
