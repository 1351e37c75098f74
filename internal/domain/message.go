package domain

import "time"

// Roles a ChatMessage can carry.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// ChatMessage is one entry in a conversation history. Immutable once created.
// Timestamp is unix milliseconds; the widget script renders it directly.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// NowMillis returns the current time as unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// InboundMessage travels from a channel to the turn loop.
type InboundMessage struct {
	Channel   string
	SessionID string
	Content   string
	Timestamp time.Time
}

// OutboundMessage carries a finished turn back to the owning channel.
// Either Content/HTML are set (the webhook replied) or Err is set
// (delivery failed after all retries); never both.
type OutboundMessage struct {
	Channel   string
	SessionID string
	Content   string // raw reply text from the webhook
	HTML      string // safe rendering of Content
	Err       string // user-facing failure description
}
