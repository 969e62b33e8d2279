package session

import "errors"

var (
	// ErrTokenGeneration indicates the entropy source failed while producing a
	// session identifier. The operation that requested the token is aborted;
	// there is no retry and no weaker fallback.
	ErrTokenGeneration = errors.New("session token generation failed")
	// ErrDuplicateID indicates a freshly generated identifier collided with a
	// live session. This should never happen with a healthy entropy source and
	// is treated as an invariant violation, not overwritten.
	ErrDuplicateID = errors.New("duplicate session identifier")
)
