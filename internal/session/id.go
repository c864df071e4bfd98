package session

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID creates a new session ID: a "sess_" prefix plus a lowercase ULID.
// ULIDs are 128-bit, crypto-random, and lexicographically sortable by
// creation time, which keeps store listings and log output readable.
func NewID() string {
	return "sess_" + strings.ToLower(ulid.Make().String())
}
