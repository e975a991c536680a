// Package identity provides the deterministic and random identifiers
// the gateway attaches to machines, completions, tool calls, and
// conversations (spec §4.1, component C1).
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/user"

	"github.com/google/uuid"
)

// MachineFingerprint returns the hex SHA-256 digest of
// "{hostname}-{username}-kiro-gateway". It is deterministic within a
// host/user pair and stable across process restarts.
func MachineFingerprint() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown-host"
	}
	username := "unknown-user"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-kiro-gateway", hostname, username)))
	return hex.EncodeToString(sum[:])
}

// CompletionID returns "chatcmpl-" followed by 32 hex characters.
func CompletionID() string {
	return "chatcmpl-" + randomHex(16)
}

// ToolCallID returns "call_" followed by 8 hex characters.
func ToolCallID() string {
	return "call_" + randomHex(4)
}

// ConversationID returns a freshly generated random UUID v4.
func ConversationID() string {
	return uuid.New().String()
}

// InvocationID returns a freshly generated UUID v4, used as the
// amz-sdk-invocation-id header value on each upstream call.
func InvocationID() string {
	return uuid.New().String()
}

// randomHex returns n random bytes hex-encoded (2n hex characters).
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read failing is effectively unrecoverable; fall
		// back to a fixed-width zero buffer rather than panicking a
		// request path.
		return hex.EncodeToString(buf)
	}
	return hex.EncodeToString(buf)
}
