package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cbhirsch/real-estate-agent-chatbot/internal/session"
)

// IdleLister is implemented by stores that can enumerate idle sessions.
type IdleLister interface {
	IdleSince(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Sweep deletes sessions whose last activity is older than idleFor and
// returns the number removed. Each deletion takes the session's lock, so a
// sweep never races an in-flight turn. Stores without idle tracking are
// left alone.
func (e *Engine) Sweep(ctx context.Context, idleFor time.Duration) (int, error) {
	lister, ok := e.store.(IdleLister)
	if !ok {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-idleFor)
	ids, err := lister.IdleSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		n, err := e.sweepOne(ctx, id, cutoff)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (e *Engine) sweepOne(ctx context.Context, id string, cutoff time.Time) (int, error) {
	release, err := e.locks.Acquire(ctx, id)
	if err != nil {
		return 0, err
	}
	defer release()

	// Re-check under the lock: a turn may have landed between listing and
	// locking, and an active session must not be swept.
	sess, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if !sess.LastActive.Before(cutoff) {
		return 0, nil
	}

	if err := e.store.Delete(ctx, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	e.logger.Info("idle session swept", "session_id", id)
	return 1, nil
}
