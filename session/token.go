package session

import (
	"errors"
	"strings"

	"github.com/jmcleod/ironbmc/internal/util"
)

// tokenAlphabet is the fixed 62-symbol alphabet session identifiers are drawn
// from.
const tokenAlphabet = "0123456789" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"abcdefghijklmnopqrstuvwxyz"

const (
	// TokenSize is the length of session and CSRF tokens. 20 characters over
	// 62 symbols gives log2(62^20) = 119 bits of entropy; OWASP recommends at
	// least 64 for session identifiers.
	TokenSize = 20

	// UniqueIDSize is the length of the short session identifier used in URLs
	// and lock ownership records. It is not a secret.
	UniqueIDSize = 10
)

// GenerateToken returns n characters drawn uniformly from tokenAlphabet using
// the OS entropy source. On entropy failure it returns ErrTokenGeneration and
// the caller must abort the operation that requested the token.
func GenerateToken(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := util.RandomIntn(len(tokenAlphabet))
		if err != nil {
			return "", errors.Join(ErrTokenGeneration, err)
		}
		sb.WriteByte(tokenAlphabet[idx])
	}
	return sb.String(), nil
}
