package comment

import "context"

type Repository interface {
	Create(ctx context.Context, c *Comment) error
	Get(ctx context.Context, cardID, id string) (*Comment, error)
	// ListByCard returns the card's comments oldest first.
	ListByCard(ctx context.Context, cardID string) ([]*Comment, error)
}
