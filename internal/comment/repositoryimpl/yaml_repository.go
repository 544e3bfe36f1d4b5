package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/cardflow/internal/comment"
	"github.com/kazz187/cardflow/pkg/cerr"
	"github.com/kazz187/cardflow/pkg/storage"
)

const commentsPrefix = "comments"

// YAMLRepository stores one document per comment under comments/{card_id}/.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func cardPrefix(cardID string) string {
	return fmt.Sprintf("%s/%s", commentsPrefix, cardID)
}

func path(cardID, id string) string {
	return fmt.Sprintf("%s/%s.yaml", cardPrefix(cardID), id)
}

func (r *YAMLRepository) Create(ctx context.Context, c *comment.Comment) error {
	if c.CardID == "" {
		return cerr.NewError(cerr.InvalidArgument, "comment requires a card", nil)
	}
	exists, err := r.storage.Exists(ctx, path(c.CardID, c.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("comment", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "comment already exists", nil)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal comment: %w", err))
	}
	if err := r.storage.Write(ctx, path(c.CardID, c.ID), data); err != nil {
		return cerr.WrapStorageWriteError("comment", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, cardID, id string) (*comment.Comment, error) {
	data, err := r.storage.Read(ctx, path(cardID, id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("comment", err)
	}
	var c comment.Comment
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal comment: %w", err))
	}
	return &c, nil
}

func (r *YAMLRepository) ListByCard(ctx context.Context, cardID string) ([]*comment.Comment, error) {
	paths, err := r.storage.List(ctx, cardPrefix(cardID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("comments", err)
	}
	// ULID file names sort by creation time.
	sort.Strings(paths)

	comments := make([]*comment.Comment, 0, len(paths))
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var c comment.Comment
		if err := yaml.Unmarshal(data, &c); err != nil {
			continue
		}
		comments = append(comments, &c)
	}
	return comments, nil
}
