package worker

import (
	"context"
	"time"
)

type Repository interface {
	// Upsert inserts w or, when the user already has a worker, overwrites
	// that row keeping its ID. The stored worker is returned.
	Upsert(ctx context.Context, w *Worker) (*Worker, error)
	Get(ctx context.Context, id string) (*Worker, error)
	// Touch records a heartbeat and forces the worker online. It returns the
	// status the worker had before.
	Touch(ctx context.Context, id string, at time.Time) (Status, error)
	// Demote moves workers in one of from whose last heartbeat is before
	// cutoff to status to, returning the workers it changed.
	Demote(ctx context.Context, from []Status, to Status, cutoff time.Time) ([]*Worker, error)
	ListByStatus(ctx context.Context, status Status) ([]*Worker, error)
}
