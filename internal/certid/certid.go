// Package certid generates and validates the 7-character identifiers that
// name a user's VPN certificate material towards the external signer.
package certid

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
)

const (
	upper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alnum = upper + "0123456789"

	// Length is the exact identifier length.
	Length = 7

	maxAttempts = 10
)

// Pattern is the identifier wire format: an uppercase letter followed by
// six uppercase letters or digits.
var Pattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{6}$`)

// ErrExhausted means no unused identifier was found within the attempt
// bound. With a ~8 billion value namespace this signals something is badly
// wrong (or the store is lying) and should page an operator rather than be
// retried in a loop.
var ErrExhausted = errors.New("certificate identifier space exhausted")

// ExistsFunc checks whether an identifier is already assigned to any user.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

// Valid reports whether id matches the identifier format.
func Valid(id string) bool {
	return Pattern.MatchString(id)
}

// Generate draws identifiers from a cryptographically secure source until
// one passes the store uniqueness check, giving up after a fixed number of
// attempts. Collisions are expected to be vanishingly rare; the retry loop
// is the concurrency-safety mechanism, not a lock.
func Generate(ctx context.Context, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := draw()
		if err != nil {
			return "", fmt.Errorf("draw identifier: %w", err)
		}
		taken, err := exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("uniqueness check: %w", err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", ErrExhausted
}

func draw() (string, error) {
	b := make([]byte, Length)
	i, err := randIndex(len(upper))
	if err != nil {
		return "", err
	}
	b[0] = upper[i]
	for pos := 1; pos < Length; pos++ {
		i, err := randIndex(len(alnum))
		if err != nil {
			return "", err
		}
		b[pos] = alnum[i]
	}
	return string(b), nil
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
