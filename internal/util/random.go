package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandomIntn returns a uniformly distributed integer in [0, max) from the
// OS entropy source. Failure of the entropy source is reported to the
// caller; there is no PRNG fallback.
func RandomIntn(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}
