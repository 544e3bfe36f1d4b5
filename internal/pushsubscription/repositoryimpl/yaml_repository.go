package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/cardflow/internal/pushsubscription"
	"github.com/kazz187/cardflow/pkg/cerr"
	"github.com/kazz187/cardflow/pkg/storage"
)

const pushSubscriptionsPrefix = "push_subscriptions"

// YAMLRepository stores subscriptions under push_subscriptions/{user_id}/.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func userPrefix(userID string) string {
	return fmt.Sprintf("%s/%s", pushSubscriptionsPrefix, userID)
}

func path(userID, id string) string {
	return fmt.Sprintf("%s/%s.yaml", userPrefix(userID), id)
}

func (r *YAMLRepository) Save(ctx context.Context, s *pushsubscription.Subscription) error {
	if s.UserID == "" {
		return cerr.NewError(cerr.InvalidArgument, "push subscription requires a user", nil)
	}
	existing, err := r.FindByEndpoint(ctx, s.UserID, s.Endpoint)
	switch {
	case err == nil && existing.ID != s.ID:
		if err := r.Delete(ctx, s.UserID, existing.ID); err != nil {
			return err
		}
	case err != nil && !cerr.IsCode(err, cerr.NotFound):
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal push subscription: %w", err))
	}
	if err := r.storage.Write(ctx, path(s.UserID, s.ID), data); err != nil {
		return cerr.WrapStorageWriteError("push_subscription", err)
	}
	return nil
}

func (r *YAMLRepository) ListByUser(ctx context.Context, userID string) ([]*pushsubscription.Subscription, error) {
	paths, err := r.storage.List(ctx, userPrefix(userID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("push_subscriptions", err)
	}
	sort.Strings(paths)

	var all []*pushsubscription.Subscription
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var s pushsubscription.Subscription
		if err := yaml.Unmarshal(data, &s); err != nil {
			continue
		}
		all = append(all, &s)
	}
	return all, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, userID, id string) error {
	if err := r.storage.Delete(ctx, path(userID, id)); err != nil {
		return cerr.WrapStorageDeleteError("push_subscription", err)
	}
	return nil
}

func (r *YAMLRepository) FindByEndpoint(ctx context.Context, userID, endpoint string) (*pushsubscription.Subscription, error) {
	subs, err := r.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		if s.Endpoint == endpoint {
			return s, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "push subscription not found", nil)
}

func (r *YAMLRepository) DeleteByEndpoint(ctx context.Context, userID, endpoint string) error {
	s, err := r.FindByEndpoint(ctx, userID, endpoint)
	if err != nil {
		return err
	}
	return r.Delete(ctx, userID, s.ID)
}
