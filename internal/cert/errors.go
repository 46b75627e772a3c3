package cert

import "errors"

var (
	// ErrInvalidFormat rejects malformed identifiers, user IDs, or
	// validity periods before any store or signer interaction.
	ErrInvalidFormat = errors.New("invalid_format")

	// ErrGenerationFailed wraps signer failures. The transition it
	// interrupted was either never applied or rolled back, so a retry is
	// safe.
	ErrGenerationFailed = errors.New("generation_failed")
)
