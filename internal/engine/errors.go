package engine

import "errors"

// Error kinds surfaced by the engine. Adapters translate them to
// protocol-appropriate status codes; none are fatal to the process.
var (
	// ErrValidation marks a malformed inbound command, rejected before the
	// turn state machine runs.
	ErrValidation = errors.New("invalid turn request")

	// ErrUpstream marks a failed or unusable model call. The user turn is
	// retained; no assistant turn is fabricated. Recoverable by retry.
	ErrUpstream = errors.New("model call failed")

	// ErrPersist marks a failed session write. Final state is unknown to
	// the caller, who should confirm via a session read before retrying.
	ErrPersist = errors.New("session persistence failed")
)
