package history

import (
	"context"
	"time"
)

// TurnRecord captures one completed (or cancelled) conversational turn.
type TurnRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	ResponseID   string    `json:"response_id"`
	Transcript   string    `json:"transcript"`
	ResponseText string    `json:"response_text"`
	DurationMS   int64     `json:"duration_ms"`
	Cancelled    bool      `json:"cancelled"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists and retrieves completed turns. RecentTurns serves the
// cross-session history view per user; SessionTurns returns one session's
// turns in the order they happened.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentTurns(ctx context.Context, userID string, limit int) ([]TurnRecord, error)
	SessionTurns(ctx context.Context, sessionID string) ([]TurnRecord, error)
	Close() error
}
