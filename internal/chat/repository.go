package chat

import "context"

// Repository is the append-only message and status log. Appends return the
// enriched record.
type Repository interface {
	AppendMessage(ctx context.Context, authorID int64, text string, img *string) (*Message, error)
	ListMessages(ctx context.Context) ([]Message, error)
	AppendStatus(ctx context.Context, authorID int64, img string) (*Status, error)
	ListStatuses(ctx context.Context) ([]Status, error)
}
