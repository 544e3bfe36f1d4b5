package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/integration"
	"github.com/kazz187/cardflow/internal/task"
	"github.com/kazz187/cardflow/pkg/cerr"
)

const (
	agentTypeCoder    = "coder"
	agentTypeReviewer = "reviewer"
)

// cardGenColumnNames are the column names card generation prefers, matched
// case-insensitively.
var cardGenColumnNames = []string{"backlog", "todo", "to do"}

func newCommentID() string {
	return ulid.Make().String()
}

// IsRejection reports whether a reviewer's output rejects the work.
func IsRejection(agentType, outputText string) bool {
	return agentType == agentTypeReviewer && strings.Contains(strings.ToLower(outputText), "rejected")
}

// chain creates the follow-ups of a completed task. Errors are logged and
// skipped.
func (o *Orchestrator) chain(ctx context.Context, b *board.Board, card *board.Card, done *task.Task, move *CardMove, actor, outputText string) []*task.Task {
	var created []*task.Task
	add := func(t *task.Task) {
		if t != nil {
			created = append(created, t)
		}
	}

	cfg := b.Integration
	if card != nil {
		if cfg.PushOnCoderComplete && cfg.Provider == "gitlab" && done.AgentType == agentTypeCoder {
			add(o.integrate(ctx, task.TypeGitlabPush, integration.Request{Board: b, Card: card, Source: done, Actor: actor}))
		}
		if cfg.SyncOnTerminalColumn && cfg.Provider == "jira" && move != nil {
			if column := o.terminalColumn(ctx, move.ToColumnID); column != nil {
				add(o.integrate(ctx, task.TypeJiraSync, integration.Request{Board: b, Card: card, Column: column, Source: done, Actor: actor}))
			}
		}
	}
	if done.TaskType == task.TypeBoardPlan && done.PayloadBool("auto_generate_cards") {
		add(o.generateCards(ctx, b, done, actor, outputText))
	}
	return created
}

// integrate creates an integration follow-up unless the card already has
// one of that type in flight.
func (o *Orchestrator) integrate(ctx context.Context, taskType task.Type, req integration.Request) *task.Task {
	t, err := o.integrations.Build(taskType, req)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build follow-up", "card_id", req.Card.ID, "task_type", taskType, "error", err)
		return nil
	}
	created, err := o.creator.CreateUnlessActive(ctx, t)
	if cerr.IsCode(err, cerr.AlreadyExists) {
		slog.InfoContext(ctx, "follow-up already in flight", "card_id", req.Card.ID, "task_type", taskType)
		return nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to create follow-up", "card_id", req.Card.ID, "task_type", taskType, "error", err)
		return nil
	}
	return created
}

// terminalColumn returns the column if nothing runs on arrival there.
func (o *Orchestrator) terminalColumn(ctx context.Context, columnID string) *board.Column {
	column, err := o.boards.GetColumn(ctx, columnID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load column", "column_id", columnID, "error", err)
		return nil
	}
	if column.Automated() {
		return nil
	}
	return column
}

// generateCards queues a card_gen task fed with the plan's output.
func (o *Orchestrator) generateCards(ctx context.Context, b *board.Board, plan *task.Task, actor, planOutput string) *task.Task {
	columns, err := o.boards.ListColumns(ctx, b.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list columns for card generation", "board_id", b.ID, "error", err)
		return nil
	}
	target := CardGenColumn(columns)
	if target == nil {
		slog.WarnContext(ctx, "board has no columns for generated cards", "board_id", b.ID)
		return nil
	}
	createdBy := plan.CreatedBy
	if createdBy == "" {
		createdBy = actor
	}
	t, err := o.creator.Create(ctx, &task.Task{
		TaskType:   task.TypeCardGen,
		BoardID:    b.ID,
		CreatedBy:  createdBy,
		AssignedTo: plan.AssignedTo,
		AgentType:  plan.AgentType,
		AgentModel: plan.AgentModel,
		PromptText: planOutput,
		Priority:   plan.Priority,
		Payload: map[string]any{
			"plan_task_id":     plan.ID,
			"target_column_id": target.ID,
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create card generation task", "plan_task_id", plan.ID, "error", err)
		return nil
	}
	return t
}

// CardGenColumn picks where generated cards go: the first column named like
// a backlog, else the first column. columns must be ordered by position.
func CardGenColumn(columns []*board.Column) *board.Column {
	for _, c := range columns {
		for _, name := range cardGenColumnNames {
			if strings.EqualFold(strings.TrimSpace(c.Name), name) {
				return c
			}
		}
	}
	if len(columns) == 0 {
		return nil
	}
	return columns[0]
}
