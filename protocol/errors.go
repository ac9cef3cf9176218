package protocol

import "errors"

var (
	// ErrTimeout is passed to the completion handler when no matching
	// response arrived before the request deadline.
	ErrTimeout                = errors.New("state hash request timed out")
	ErrSendFailure            = errors.New("failed to send state hash request")
	ErrMalformedChain         = errors.New("malformed state hash chain in response")
	ErrRequestAlreadyInFlight = errors.New("request to peer already in flight")
	ErrInvalidFromHeight      = errors.New("invalid from height")
	ErrRequesterStopped       = errors.New("requester stopped")
)
