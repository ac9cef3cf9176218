package types

import "errors"

var (
	// ErrChainDiscontinuity is returned when a StateHash does not link to the
	// tail of the chain it is appended to.
	ErrChainDiscontinuity = errors.New("state hash does not connect to chain tail")
	ErrInvalidStateHash   = errors.New("invalid state hash")
)
