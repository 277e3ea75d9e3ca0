// Package session provides session persistence for conversation history.
//
// Sessions and their messages live in PostgreSQL. A session row carries the
// running conversation state (summary, entity memory, token totals); the
// message log is append-only with per-session sequence numbers.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/assistant/internal/compress"
	"github.com/fieldops/assistant/internal/memory"
)

const (
	// ReuseWindow is how long an idle session stays eligible for implicit
	// reuse when a request arrives without a session id.
	ReuseWindow = 30 * time.Minute

	// SessionQuota is the number of sessions kept per user; older ones are
	// pruned in the background after a new session is created.
	SessionQuota = 10

	// MaxMessageLimit caps a single message listing request.
	MaxMessageLimit = 500

	// DefaultMessageLimit applies when the caller does not set a limit.
	DefaultMessageLimit = 100

	// RecentMessageWindow is the size of the "recent" message listing.
	RecentMessageWindow = 50
)

// Session is one conversation with its accumulated state.
type Session struct {
	ID           uuid.UUID         `json:"id"`
	UserID       string            `json:"userId"`
	Title        string            `json:"title,omitempty"`
	ModelName    string            `json:"modelName,omitempty"`
	Summary      compress.Summary  `json:"summary"`
	EntityMemory *memory.Memory    `json:"entityMemory"`
	InputTokens  int64             `json:"inputTokens"`
	OutputTokens int64             `json:"outputTokens"`
	MessageCount int               `json:"messageCount"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Message is one persisted conversation message.
type Message struct {
	ID             uuid.UUID `json:"id"`
	SessionID      uuid.UUID `json:"sessionId"`
	Role           string    `json:"role"`
	Content        any       `json:"content"`
	ToolCalls      []byte    `json:"-"`
	ToolCallID     string    `json:"toolCallId,omitempty"`
	SequenceNumber int       `json:"sequenceNumber"`
	CreatedAt      time.Time `json:"createdAt"`
}

// State is the mutable session state written back after each turn.
type State struct {
	Title        string
	ModelName    string
	Summary      compress.Summary
	EntityMemory *memory.Memory
	InputTokens  int64
	OutputTokens int64
}

// MessageQuery selects a message window. Exactly one of the addressing modes
// applies: Recent wins over AfterSequence, which wins over Limit/Offset. An
// explicit Limit also sizes the Recent and AfterSequence windows.
type MessageQuery struct {
	Limit         int
	Offset        int
	AfterSequence int
	Recent        bool
}

func (q MessageQuery) normalizedLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultMessageLimit
	case q.Limit > MaxMessageLimit:
		return MaxMessageLimit
	default:
		return q.Limit
	}
}

// recentLimit sizes the Recent window: RecentMessageWindow unless the caller
// set an explicit limit.
func (q MessageQuery) recentLimit() int {
	if q.Limit > 0 {
		return q.normalizedLimit()
	}
	return RecentMessageWindow
}
