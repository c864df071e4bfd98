package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Middleware returns an HTTP middleware that validates bearer-token
// authentication against the accepted key list. Requests to skipPaths
// (e.g., "/healthz", "/vapi/webhook") are allowed without authentication.
// If noAuth is true, all requests are allowed. If rateLimiter is non-nil,
// failed attempts are tracked and clients are blocked after exceeding the
// threshold (10 failures/min, 5-min block).
func Middleware(keys []string, noAuth bool, skipPaths []string, rateLimiter ...*RateLimiter) func(http.Handler) http.Handler {
	skipSet := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = true
	}

	var rl *RateLimiter
	if len(rateLimiter) > 0 {
		rl = rateLimiter[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth if disabled
			if noAuth {
				next.ServeHTTP(w, r)
				return
			}

			// Skip auth for allowed paths
			if skipSet[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			// Check auth rate limiting before validation
			clientIP := ClientIPKeyFunc(r)
			if rl != nil && rl.IsAuthBlocked(clientIP) {
				retryAfter := rl.AuthBlockRetryAfter(clientIP)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				writeAuthError(w, http.StatusTooManyRequests, "Too many failed authentication attempts. Try again later.")
				return
			}

			// No keys configured means reject all
			if len(keys) == 0 {
				writeAuthError(w, http.StatusUnauthorized, "API keys not configured")
				return
			}

			// Extract Bearer token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if rl != nil {
					rl.AuthFailure(clientIP)
				}
				writeAuthError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				if rl != nil {
					rl.AuthFailure(clientIP)
				}
				writeAuthError(w, http.StatusUnauthorized, "invalid Authorization format, expected 'Bearer <key>'")
				return
			}

			key := strings.TrimPrefix(authHeader, prefix)
			if !ValidateKey(key, keys) {
				if rl != nil {
					rl.AuthFailure(clientIP)
				}
				writeAuthError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			// Success clears failure tracking
			if rl != nil {
				rl.AuthSuccess(clientIP)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
