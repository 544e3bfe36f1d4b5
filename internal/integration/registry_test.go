package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/task"
	"github.com/kazz187/cardflow/pkg/cerr"
)

func TestRegistry_Build(t *testing.T) {
	r := NewRegistry()
	b := &board.Board{ID: "b1"}
	card := &board.Card{ID: "card-1", BoardID: "b1"}
	source := &task.Task{ID: "t1", AssignedTo: "alice", Priority: 2}

	push, err := r.Build(task.TypeGitlabPush, Request{Board: b, Card: card, Source: source, Actor: "system"})
	require.NoError(t, err)
	assert.Equal(t, task.TypeGitlabPush, push.TaskType)
	assert.Equal(t, "b1", push.BoardID)
	assert.Equal(t, "card-1", push.CardID)
	assert.Equal(t, "alice", push.AssignedTo)
	assert.Equal(t, "system", push.CreatedBy)
	assert.Equal(t, 2, push.Priority)
	assert.Equal(t, map[string]any{"branch": "cardflow/card-1", "source_task_id": "t1"}, push.Payload)

	sync, err := r.Build(task.TypeJiraSync, Request{Board: b, Card: card, Column: &board.Column{ID: "done", Name: "Done"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"column_id": "done", "column_name": "Done"}, sync.Payload)

	imp, err := r.Build(task.TypeGitlabImport, Request{Board: b, Actor: "bob", Params: map[string]any{"project": "group/app"}})
	require.NoError(t, err)
	assert.Empty(t, imp.CardID)
	assert.Equal(t, "bob", imp.AssignedTo)
}

func TestRegistry_BuildErrors(t *testing.T) {
	r := NewRegistry()
	b := &board.Board{ID: "b1"}

	tests := []struct {
		name string
		typ  task.Type
		req  Request
	}{
		{"unknown type", task.TypeAgentRun, Request{Board: b}},
		{"no board", task.TypeJiraSync, Request{Card: &board.Card{ID: "c"}}},
		{"push without card", task.TypeGitlabPush, Request{Board: b}},
		{"import without project", task.TypeGitlabImport, Request{Board: b}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Build(tt.typ, tt.req)
			assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
		})
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(task.TypeAgentRun, func(req Request) (*task.Task, error) {
		return &task.Task{PromptText: "custom"}, nil
	})
	tk, err := r.Build(task.TypeAgentRun, Request{Board: &board.Board{ID: "b1"}, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "custom", tk.PromptText)
	assert.Equal(t, "alice", tk.CreatedBy)
}

func TestRegistry_BuildTask(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Handles(task.TypeGitlabImport))
	assert.False(t, r.Handles(task.TypeBoardPlan))

	imp, err := r.BuildTask(task.BuildRequest{
		Type:   task.TypeGitlabImport,
		Board:  &board.Board{ID: "b1"},
		Actor:  "alice",
		Params: map[string]any{"project": "group/app"},
	})
	require.NoError(t, err)
	assert.Equal(t, "b1", imp.BoardID)
	assert.Equal(t, "alice", imp.CreatedBy)
	assert.Equal(t, map[string]any{"project": "group/app"}, imp.Payload)
}
