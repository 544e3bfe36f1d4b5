package pushsubscription

import "context"

type Repository interface {
	// Save creates the subscription, replacing any earlier one the user
	// registered for the same endpoint.
	Save(ctx context.Context, s *Subscription) error
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
	Delete(ctx context.Context, userID, id string) error
	FindByEndpoint(ctx context.Context, userID, endpoint string) (*Subscription, error)
	DeleteByEndpoint(ctx context.Context, userID, endpoint string) error
}
