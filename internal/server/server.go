// Package server exposes the conversation engine over HTTP: the chat API,
// the voice-webhook bridge, and session management endpoints.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cbhirsch/real-estate-agent-chatbot/internal/auth"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/engine"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/session"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/telemetry"
)

// Server is the HTTP server for the assistant backend.
type Server struct {
	engine     *engine.Engine
	store      session.Store
	mux        *http.ServeMux
	server     *http.Server
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	apiKeys    []string
	noAuth     bool
	vapiSecret string
	rateLimit  *auth.RateLimiter
	startTime  time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithAPIKeys sets the accepted bearer keys for the chat surface.
func WithAPIKeys(keys []string) Option {
	return func(s *Server) { s.apiKeys = keys }
}

// WithNoAuth disables bearer authentication entirely.
func WithNoAuth(noAuth bool) Option {
	return func(s *Server) { s.noAuth = noAuth }
}

// WithVapiSecret requires the voice platform's shared secret on webhook calls.
func WithVapiSecret(secret string) Option {
	return func(s *Server) { s.vapiSecret = secret }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimiter enables per-client rate limiting.
func WithRateLimiter(rl *auth.RateLimiter) Option {
	return func(s *Server) { s.rateLimit = rl }
}

// New creates the HTTP server over a conversation engine. The store is used
// only for the live-session gauge; all session access goes through the engine.
func New(eng *engine.Engine, store session.Store, opts ...Option) *Server {
	s := &Server{
		engine:    eng,
		store:     store,
		logger:    slog.Default(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /vapi/webhook", s.handleVapiWebhook)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux = mux
	return s
}

// Handler returns the full middleware-wrapped handler for use with httptest
// or custom servers. The webhook surface skips bearer auth: its trust
// boundary is the voice platform's shared secret, checked in the handler.
func (s *Server) Handler() http.Handler {
	skip := []string{"/healthz", "/metrics", "/vapi/webhook"}
	h := auth.Middleware(s.apiKeys, s.noAuth, skip, s.rateLimit)(s.mux)
	if s.rateLimit != nil {
		h = s.rateLimit.Middleware(auth.ClientIPKeyFunc)(h)
	}
	return s.correlationMiddleware(h)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("server starting", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := telemetry.WithCorrelationID(r.Context(), r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", telemetry.CorrelationID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// --- request/response shapes ---

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type vapiRequest struct {
	SessionID   string         `json:"session_id"`
	UserMessage string         `json:"user_message"`
	Context     map[string]any `json:"context,omitempty"`
}

type turnResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// --- handlers ---

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	s.runTurn(w, r, "chat", engine.TurnCommand{
		SessionID: req.SessionID,
		Message:   req.Message,
	})
}

func (s *Server) handleVapiWebhook(w http.ResponseWriter, r *http.Request) {
	if s.vapiSecret != "" {
		secret := r.Header.Get("X-Vapi-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.vapiSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid webhook secret")
			return
		}
	}

	var req vapiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	// The voice platform owns the session ID; a webhook without one is
	// malformed rather than an invitation to mint an ID.
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	s.runTurn(w, r, "voice", engine.TurnCommand{
		SessionID: req.SessionID,
		Message:   req.UserMessage,
		Metadata:  req.Context,
	})
}

// runTurn drives the engine for one inbound message and writes the
// adapter response, mapping engine error kinds to status codes. A FAILED
// outcome never produces a synthetic assistant reply.
func (s *Server) runTurn(w http.ResponseWriter, r *http.Request, surface string, cmd engine.TurnCommand) {
	logger := telemetry.RequestLogger(s.logger, r.Context(), surface)

	start := time.Now()
	result, err := s.engine.AdvanceTurn(r.Context(), cmd)
	if err != nil {
		s.recordTurn(surface, "error", start, 0, 0)
		logger.Warn("turn failed", "session_id", cmd.SessionID, "error", err)
		writeEngineError(w, err)
		return
	}

	s.recordTurn(surface, "ok", start, result.Usage.InputTokens, result.Usage.OutputTokens)
	s.updateSessionGauge(r.Context())

	writeJSON(w, http.StatusOK, turnResponse{
		Response:  result.Reply,
		SessionID: result.SessionID,
		Status:    "success",
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	history, err := s.engine.FetchHistory(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	type message struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}
	messages := make([]message, len(history))
	for i, t := range history {
		messages[i] = message{
			Role:      string(t.Role),
			Content:   t.Content,
			Timestamp: t.Timestamp,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"messages":   messages,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.engine.DeleteSession(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}

	s.updateSessionGauge(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Session deleted successfully",
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) recordTurn(surface, status string, start time.Time, inputTokens, outputTokens int) {
	if s.metrics != nil {
		s.metrics.RecordTurn(surface, status, time.Since(start), inputTokens, outputTokens)
	}
}

func (s *Server) updateSessionGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if ids, err := s.store.ListIDs(ctx); err == nil {
		s.metrics.SetLiveSessions(len(ids))
	}
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// writeEngineError maps engine error kinds to protocol status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, engine.ErrUpstream):
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	case errors.Is(err, engine.ErrPersist):
		writeError(w, http.StatusInternalServerError, "persistence_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
