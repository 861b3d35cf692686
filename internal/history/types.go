// Package history persists per-session conversation turns with
// token-budgeted eviction.
//
// Turn indexes are 1-based and strictly increasing per session. Index
// allocation is serialized with a transaction-scoped advisory lock so
// concurrent writers to the same session cannot collide.
package history

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one message within a session.
type Turn struct {
	SessionID    uuid.UUID      `json:"session_id"`
	TurnIndex    int32          `json:"turn_index"`
	Role         string         `json:"role"`
	Message      string         `json:"message"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	FullResponse map[string]any `json:"full_response,omitempty"`
}

// SessionInfo summarizes one session for listings.
type SessionInfo struct {
	ID           uuid.UUID `json:"id"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
	Title        string    `json:"title"`
}
