package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/pkg/cerr"
	"github.com/kazz187/cardflow/pkg/validation"
)

// Store is the entry point for creating and reading tasks. It deliberately
// has no update method: status changes go through Repository.Transition from
// the claim, completion and liveness paths.
type Store struct {
	repo    Repository
	bus     *eventbus.Bus
	schemas *validation.SchemaSet
	now     func() time.Time
}

type StoreOption func(*Store)

func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(repo Repository, bus *eventbus.Bus, schemas *validation.SchemaSet, opts ...StoreOption) *Store {
	s := &Store{
		repo:    repo,
		bus:     bus,
		schemas: schemas,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates t, stores it as pending and publishes task_created.
func (s *Store) Create(ctx context.Context, t *Task) (*Task, error) {
	return s.create(ctx, t, s.repo.Create)
}

// CreateUnlessActive is Create for follow-ups: it fails with AlreadyExists
// when t's card already has a pending, claimed or running task of t's type.
func (s *Store) CreateUnlessActive(ctx context.Context, t *Task) (*Task, error) {
	return s.create(ctx, t, s.repo.CreateUnlessActive)
}

func (s *Store) create(ctx context.Context, t *Task, insert func(context.Context, *Task) error) (*Task, error) {
	if t.BoardID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "board_id is required", nil)
	}
	if !t.TaskType.Valid() {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown task type %q", t.TaskType), nil)
	}
	if s.schemas != nil {
		payload := t.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		if err := s.schemas.Validate(string(t.TaskType), payload); err != nil {
			cErr := cerr.NewError(cerr.InvalidArgument, "invalid payload", err)
			var schemaErr *validation.SchemaError
			if errors.As(err, &schemaErr) {
				for _, v := range schemaErr.Violations {
					cErr.AddDetailMessageWithCode(v, "payload.schema")
				}
			}
			return nil, cErr
		}
	}

	t.ID = ulid.Make().String()
	t.Status = StatusPending
	t.CreatedAt = s.now().UTC()
	t.ClaimedByWorker = ""
	t.ClaimedAt, t.StartedAt, t.CompletedAt = nil, nil, nil
	t.ErrorSummary, t.OutputCommentID = "", ""

	if err := insert(ctx, t); err != nil {
		return nil, err
	}
	s.bus.PublishNew(eventbus.BoardChannel(t.BoardID), eventbus.TypeTaskCreated, t.EventData())
	return t, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	return s.repo.Get(ctx, id)
}

func (s *Store) List(ctx context.Context, f Filter) ([]*Task, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown status %q", f.Status), nil)
	}
	return s.repo.List(ctx, f)
}
