package task

import (
	"context"
	"time"

	"github.com/kazz187/cardflow/internal/board"
)

type Filter struct {
	BoardID string
	CardID  string
	Status  Status
	Limit   int
}

type PollQuery struct {
	Owner string
	// BoardIDs are the boards whose unassigned backlog the owner may take.
	BoardIDs []string
	Limit    int
}

// Transition is a single conditional status write. It only applies when the
// task is currently in one of SourcesFor(To).
type Transition struct {
	TaskID string
	To     Status
	At     time.Time
	// WorkerID is recorded as claimed_by_worker when To is claimed. For other
	// targets a non-empty value also requires the task be held by it.
	WorkerID string
	// Claim binds an unclaimed task to WorkerID in the same write, setting
	// claimed_by_worker and claimed_at.
	Claim        bool
	ErrorSummary string
	// CardStatus, when set, updates the card's agent_status in the same
	// transaction.
	CardStatus *board.AgentStatus
}

type Repository interface {
	// Create inserts a pending task and marks its card agent_status pending.
	Create(ctx context.Context, t *Task) error
	// CreateUnlessActive is Create guarded, in the same transaction, by a
	// check that t's card has no pending, claimed or running task of t's
	// type. It fails with AlreadyExists otherwise.
	CreateUnlessActive(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f Filter) ([]*Task, error)
	// Poll returns pending tasks visible to the owner, highest priority
	// first, then oldest first.
	Poll(ctx context.Context, q PollQuery) ([]*Task, error)
	// Transition applies tr and returns the updated task. A task outside the
	// legal source states yields *TransitionError.
	Transition(ctx context.Context, tr Transition) (*Task, error)
	SetOutputComment(ctx context.Context, taskID, commentID string) error
	SetCardAgentStatus(ctx context.Context, cardID string, status board.AgentStatus) error
	// CountBySourceColumn counts every task ever created for the pair.
	CountBySourceColumn(ctx context.Context, cardID, columnID string) (int, error)
	ListActiveByWorker(ctx context.Context, workerID string) ([]*Task, error)
	ListByIDs(ctx context.Context, ids []string) ([]*Task, error)
}

// AgentStatusFor maps a task status to the card projection.
func AgentStatusFor(s Status) board.AgentStatus {
	switch s {
	case StatusPending, StatusClaimed:
		return board.AgentStatusPending
	case StatusRunning:
		return board.AgentStatusRunning
	case StatusCompleted:
		return board.AgentStatusCompleted
	case StatusFailed:
		return board.AgentStatusFailed
	default:
		return board.AgentStatusNone
	}
}
