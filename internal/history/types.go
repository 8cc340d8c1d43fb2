package history

import "context"

// Role tags one side of a conversational exchange.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable role-tagged message in a session's history. Ordering
// is insertion order and is replayed verbatim to the model backend.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store keeps ordered per-session conversation history.
//
// History never fails for unknown sessions (it reports an empty history) and
// Clear is idempotent. Turns are appended only after the owning model call
// completes, so append order follows call-completion order.
type Store interface {
	History(ctx context.Context, sessionID string) ([]Turn, error)
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Clear(ctx context.Context, sessionID string) error
	Close() error
}
