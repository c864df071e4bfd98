// Package session defines the session store abstraction for the assistant backend.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/cbhirsch/real-estate-agent-chatbot/internal/llm"
)

// ErrNotFound is returned by stores when a session does not exist. Callers
// recover from it by creating a new session; it is never fatal.
var ErrNotFound = errors.New("session not found")

// Turn is one role-tagged message within a session's history.
type Turn struct {
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a uniquely-identified conversation context. Its history grows
// monotonically: turns are only ever appended, and removed only by deleting
// the whole session.
type Session struct {
	ID         string         `json:"id"`
	History    History        `json:"history"`
	CreatedAt  time.Time      `json:"created_at"`
	LastActive time.Time      `json:"last_active"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// New creates an empty session with the given ID, or a freshly generated one
// if id is empty.
func New(id string) *Session {
	if id == "" {
		id = NewID()
	}
	now := time.Now().UTC()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		LastActive: now,
	}
}

// Append adds a turn to the session history, stamping it with the current
// time when the turn carries none.
func (s *Session) Append(role llm.Role, content string) {
	s.History = s.History.Append(Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// Clone returns a deep copy of the session. Stores hand out clones so the
// engine's working copy never aliases stored state.
func (s *Session) Clone() *Session {
	c := *s
	c.History = make(History, len(s.History))
	copy(c.History, s.History)
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Store manages session persistence. All operations are atomic with respect
// to a single ID.
type Store interface {
	// Get retrieves a session by ID. Returns an error wrapping ErrNotFound
	// when the session does not exist.
	Get(ctx context.Context, id string) (*Session, error)

	// Put saves or replaces a session keyed by its ID.
	Put(ctx context.Context, s *Session) error

	// Delete removes a session by ID. Returns an error wrapping ErrNotFound
	// when the session does not exist.
	Delete(ctx context.Context, id string) error

	// ListIDs returns all stored session IDs. Diagnostics only.
	ListIDs(ctx context.Context) ([]string, error)
}
