// Package engine implements the conversation turn state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cbhirsch/real-estate-agent-chatbot/internal/llm"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/prompt"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/session"
)

// DefaultTurnTimeout bounds the model call once a turn is detached from the
// caller's context.
const DefaultTurnTimeout = 60 * time.Second

// TurnCommand is the canonical, protocol-neutral request every adapter
// reduces to. SessionID may be empty (chat surface); Metadata is opaque to
// the engine and merged into the session only on first creation.
type TurnCommand struct {
	SessionID string
	Message   string
	Metadata  map[string]any
}

// TurnResult is returned on a DONE outcome.
type TurnResult struct {
	SessionID string
	Reply     string
	Usage     llm.TokenUsage
}

// Engine orchestrates one conversation turn: resolve or create the session,
// append the inbound message, assemble the context, call the model, append
// the reply, persist. The engine borrows a session from the store for one
// turn and writes the mutated copy back before releasing its lock; it never
// caches sessions across turns.
type Engine struct {
	store       session.Store
	client      llm.Client
	assembler   *prompt.Assembler
	locks       Locker
	logger      *slog.Logger
	model       string
	maxTokens   int
	temperature *float64
	turnTimeout time.Duration
}

// Option configures the Engine.
type Option func(*Engine)

// WithLocker replaces the in-process keyed mutex, e.g. with an EtcdLocker
// for multi-process deployments.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locks = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTurnTimeout bounds the detached model call.
func WithTurnTimeout(d time.Duration) Option {
	return func(e *Engine) { e.turnTimeout = d }
}

// WithTemperature sets the sampling temperature passed to the model.
func WithTemperature(t float64) Option {
	return func(e *Engine) { e.temperature = &t }
}

// New creates a conversation engine.
func New(store session.Store, client llm.Client, assembler *prompt.Assembler, model string, maxTokens int, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		client:      client,
		assembler:   assembler,
		locks:       NewKeyedMutex(),
		logger:      slog.Default(),
		model:       model,
		maxTokens:   maxTokens,
		turnTimeout: DefaultTurnTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AdvanceTurn runs the turn state machine for one inbound message.
//
// Cancellation policy: once the session lock is held, the turn runs to
// completion on a context detached from the caller's. A dropped connection
// during the model call never leaves a half-persisted turn: the user turn
// and the reply are written back together, so a client retry after a
// disconnect does not duplicate the message.
func (e *Engine) AdvanceTurn(ctx context.Context, cmd TurnCommand) (*TurnResult, error) {
	if strings.TrimSpace(cmd.Message) == "" {
		return nil, fmt.Errorf("%w: empty message", ErrValidation)
	}

	id := cmd.SessionID
	if id == "" {
		id = session.NewID()
	}

	release, err := e.locks.Acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock %q: %w", id, err)
	}
	defer release()

	// Detach from the caller once the lock is held; see cancellation policy.
	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.turnTimeout)
	defer cancel()

	// RESOLVING_SESSION: unknown or absent IDs create a fresh session,
	// never an error.
	sess, err := e.store.Get(turnCtx, id)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		sess = session.New(id)
		sess.Metadata = cmd.Metadata
		e.logger.Info("session created", "session_id", sess.ID)
	default:
		return nil, fmt.Errorf("%w: resolve session %q: %v", ErrPersist, id, err)
	}

	// APPENDING_INPUT
	sess.Append(llm.RoleUser, cmd.Message)

	// ASSEMBLING_CONTEXT
	system, msgs := e.assembler.Assemble(sess.History)

	// CALLING_MODEL
	start := time.Now()
	resp, err := e.client.Chat(turnCtx, llm.ChatRequest{
		Model:       e.model,
		Messages:    msgs,
		System:      system,
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})
	if err != nil {
		// The user turn is retained: persist it best-effort so the message
		// survives for a retry, but report the upstream failure either way.
		sess.LastActive = time.Now().UTC()
		if perr := e.store.Put(turnCtx, sess); perr != nil {
			e.logger.Error("persist after model failure", "session_id", sess.ID, "error", perr)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.Content == "" {
		sess.LastActive = time.Now().UTC()
		if perr := e.store.Put(turnCtx, sess); perr != nil {
			e.logger.Error("persist after model failure", "session_id", sess.ID, "error", perr)
		}
		return nil, fmt.Errorf("%w: empty reply from model", ErrUpstream)
	}

	// APPENDING_OUTPUT
	sess.Append(llm.RoleAssistant, resp.Content)
	sess.LastActive = time.Now().UTC()

	// PERSISTING
	if err := e.store.Put(turnCtx, sess); err != nil {
		return nil, fmt.Errorf("%w: session %q: %v", ErrPersist, sess.ID, err)
	}

	e.logger.Info("turn completed",
		"session_id", sess.ID,
		"history_len", len(sess.History),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	// DONE
	return &TurnResult{
		SessionID: sess.ID,
		Reply:     resp.Content,
		Usage:     resp.Usage,
	}, nil
}

// FetchHistory returns the ordered turn sequence for a session. It bypasses
// the turn state machine and reads the store directly.
func (e *Engine) FetchHistory(ctx context.Context, id string) (session.History, error) {
	sess, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.History, nil
}

// DeleteSession removes a session entirely: no tombstone, no soft delete.
// The session lock is taken so a concurrent in-flight turn cannot write the
// session back after removal.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	release, err := e.locks.Acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("acquire session lock %q: %w", id, err)
	}
	defer release()

	return e.store.Delete(ctx, id)
}
