// Package integration builds the follow-up tasks that push work to, or pull
// it from, an external tracker. The scheduler never talks to GitLab or Jira
// itself; it only queues tasks for a worker that does.
package integration

import (
	"fmt"
	"sync"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/task"
	"github.com/kazz187/cardflow/pkg/cerr"
)

// Request carries what a factory may read when building a follow-up.
type Request struct {
	Board *board.Board
	// Card is nil for board level integrations such as imports.
	Card *board.Card
	// Column is where the card landed, when relevant.
	Column *board.Column
	// Source is the task whose completion prompted the follow-up.
	Source *task.Task
	Actor  string
	Params map[string]any
}

// Factory returns the task to create. Store.Create fills in id, status and
// timestamps.
type Factory func(req Request) (*task.Task, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[task.Type]Factory
}

// NewRegistry returns a registry with the built-in gitlab and jira
// factories.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[task.Type]Factory)}
	r.Register(task.TypeGitlabPush, gitlabPush)
	r.Register(task.TypeGitlabImport, gitlabImport)
	r.Register(task.TypeJiraSync, jiraSync)
	return r
}

func (r *Registry) Register(t task.Type, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

func (r *Registry) Build(t task.Type, req Request) (*task.Task, error) {
	r.mu.RLock()
	f, ok := r.factories[t]
	r.mu.RUnlock()
	if !ok {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("no integration for task type %q", t), nil)
	}
	if req.Board == nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "integration requires a board", nil)
	}
	tk, err := f(req)
	if err != nil {
		return nil, err
	}
	tk.TaskType = t
	tk.BoardID = req.Board.ID
	if tk.CreatedBy == "" {
		tk.CreatedBy = req.Actor
	}
	return tk, nil
}

var _ task.Builder = (*Registry)(nil)

func (r *Registry) Handles(t task.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[t]
	return ok
}

// BuildTask builds a task requested directly through the API. The request
// payload becomes the factory's Params.
func (r *Registry) BuildTask(req task.BuildRequest) (*task.Task, error) {
	return r.Build(req.Type, Request{
		Board:  req.Board,
		Card:   req.Card,
		Actor:  req.Actor,
		Params: req.Params,
	})
}

func requireCard(req Request) error {
	if req.Card == nil {
		return cerr.NewError(cerr.InvalidArgument, "integration requires a card", nil)
	}
	return nil
}

// BranchName is the branch a card's work is pushed to.
func BranchName(cardID string) string {
	return "cardflow/" + cardID
}

func gitlabPush(req Request) (*task.Task, error) {
	if err := requireCard(req); err != nil {
		return nil, err
	}
	payload := map[string]any{"branch": BranchName(req.Card.ID)}
	tk := &task.Task{CardID: req.Card.ID, Payload: payload}
	if req.Source != nil {
		payload["source_task_id"] = req.Source.ID
		tk.AssignedTo = req.Source.AssignedTo
		tk.Priority = req.Source.Priority
	}
	return tk, nil
}

func gitlabImport(req Request) (*task.Task, error) {
	project, _ := req.Params["project"].(string)
	if project == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "gitlab_import requires a project", nil)
	}
	return &task.Task{
		AssignedTo: req.Actor,
		Payload:    map[string]any{"project": project},
	}, nil
}

func jiraSync(req Request) (*task.Task, error) {
	if err := requireCard(req); err != nil {
		return nil, err
	}
	payload := map[string]any{}
	if req.Column != nil {
		payload["column_id"] = req.Column.ID
		payload["column_name"] = req.Column.Name
	}
	tk := &task.Task{CardID: req.Card.ID, Payload: payload}
	if req.Source != nil {
		tk.AssignedTo = req.Source.AssignedTo
	}
	return tk, nil
}
