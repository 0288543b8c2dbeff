package history

import (
	"context"
	"strings"
)

// NewStore selects the backing store for turn history: PostgreSQL when a
// database URL is configured, the in-process store otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	if url == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, url)
}
