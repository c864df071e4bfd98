// Package auth provides bearer-token validation and HTTP authentication
// middleware for the assistant API.
package auth

import (
	"crypto/subtle"
	"os"
	"strings"
)

// DefaultEnvVar is the environment variable holding the comma-separated
// list of valid API keys.
const DefaultEnvVar = "REALTOR_API_KEYS"

// ValidateKey performs a timing-safe comparison of the provided key against
// each accepted key. Every candidate is compared so the duration does not
// reveal which key matched.
func ValidateKey(provided string, accepted []string) bool {
	matched := false
	for _, key := range accepted {
		if key == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
			matched = true
		}
	}
	return matched
}

// KeysFromEnv reads the accepted API keys from the environment variable.
// Returns nil if unset or empty.
func KeysFromEnv() []string {
	return ParseKeys(os.Getenv(DefaultEnvVar))
}

// ParseKeys splits a comma-separated key list, dropping empty entries.
func ParseKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
