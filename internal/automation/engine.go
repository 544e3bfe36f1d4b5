package automation

import (
	"context"
	"log/slog"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/internal/metrics"
	"github.com/kazz187/cardflow/internal/task"
)

const DefaultMaxLoopCount = 3

type Config struct {
	// DefaultMaxLoopCount applies to columns that leave max_loop_count unset.
	DefaultMaxLoopCount int
}

// TaskCreator is satisfied by *task.Store.
type TaskCreator interface {
	Create(ctx context.Context, t *task.Task) (*task.Task, error)
}

// Engine turns a card entering an automated column into an agent_run task,
// bounded per (card, column) by the loop circuit breaker.
type Engine struct {
	boards  board.Repository
	tasks   task.Repository
	creator TaskCreator
	bus     *eventbus.Bus
	metrics *metrics.Recorder
	cfg     Config
}

func NewEngine(boards board.Repository, tasks task.Repository, creator TaskCreator, bus *eventbus.Bus, rec *metrics.Recorder, cfg Config) *Engine {
	if cfg.DefaultMaxLoopCount <= 0 {
		cfg.DefaultMaxLoopCount = DefaultMaxLoopCount
	}
	return &Engine{
		boards:  boards,
		tasks:   tasks,
		creator: creator,
		bus:     bus,
		metrics: rec,
		cfg:     cfg,
	}
}

// MaybeTrigger creates the column's task for card, or returns nil when the
// column has no automation or the loop ceiling is reached. Both are
// intentional no-ops, not errors.
func (e *Engine) MaybeTrigger(ctx context.Context, card *board.Card, column *board.Column, actor string) (*task.Task, error) {
	if !column.Automated() {
		return nil, nil
	}
	loopCount, err := e.tasks.CountBySourceColumn(ctx, card.ID, column.ID)
	if err != nil {
		return nil, err
	}
	maxLoops := column.Automation.MaxLoopCount
	if maxLoops <= 0 {
		maxLoops = e.cfg.DefaultMaxLoopCount
	}
	if loopCount >= maxLoops {
		slog.InfoContext(ctx, "automation suppressed by loop limit",
			"card_id", card.ID, "column_id", column.ID, "loop_count", loopCount, "max_loop_count", maxLoops)
		e.metrics.RecordTrigger(ctx, "suppressed")
		return nil, nil
	}

	assignee := card.Assignee
	if assignee == "" {
		assignee = actor
	}
	t, err := e.creator.Create(ctx, &task.Task{
		TaskType:        task.TypeAgentRun,
		BoardID:         card.BoardID,
		CardID:          card.ID,
		CreatedBy:       actor,
		AssignedTo:      assignee,
		AgentType:       column.Automation.AgentType,
		AgentSkill:      column.Automation.AgentSkill,
		AgentModel:      column.Automation.AgentModel,
		PromptText:      RenderPrompt(column.Automation.PromptTemplate, card, column),
		SourceColumnID:  column.ID,
		TargetColumnID:  column.Automation.OnSuccessColumnID,
		FailureColumnID: column.Automation.OnFailureColumnID,
		LoopCount:       loopCount,
		MaxLoopCount:    maxLoops,
		Priority:        cardPriority(card.Priority),
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordTrigger(ctx, "created")
	slog.InfoContext(ctx, "automation triggered", "task_id", t.ID, "card_id", card.ID,
		"column_id", column.ID, "agent_type", t.AgentType, "loop_count", loopCount)
	return t, nil
}

type MoveResult struct {
	Card         *board.Card `json:"card"`
	FromColumnID string      `json:"from_column_id"`
	ToColumnID   string      `json:"to_column_id"`
	Moved        bool        `json:"moved"`
	// Triggered is the task created on arrival, if any.
	Triggered *task.Task `json:"triggered,omitempty"`
}

// MoveCard moves card to toColumnID and, unless opts.SkipAutomation, runs
// the destination column's automation. Moving to the current column is a
// no-op. Automation errors are logged; the move stands.
func (e *Engine) MoveCard(ctx context.Context, card *board.Card, toColumnID, actor string, opts board.MoveOptions) (*MoveResult, error) {
	result := &MoveResult{Card: card, FromColumnID: card.ColumnID, ToColumnID: toColumnID}
	if toColumnID == "" || card.ColumnID == toColumnID {
		return result, nil
	}
	moved, err := e.boards.MoveCard(ctx, card.ID, toColumnID)
	if err != nil {
		return nil, err
	}
	result.Card = moved
	result.Moved = true

	e.bus.PublishNew(eventbus.BoardChannel(moved.BoardID), eventbus.TypeCardMoved, map[string]any{
		"card_id":         moved.ID,
		"from_column_id":  result.FromColumnID,
		"to_column_id":    toColumnID,
		"actor":           actor,
		"skip_automation": opts.SkipAutomation,
	})

	if opts.SkipAutomation {
		return result, nil
	}
	column, err := e.boards.GetColumn(ctx, toColumnID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load destination column", "column_id", toColumnID, "error", err)
		return result, nil
	}
	triggered, err := e.MaybeTrigger(ctx, moved, column, actor)
	if err != nil {
		slog.ErrorContext(ctx, "automation failed after card move", "card_id", moved.ID, "column_id", toColumnID, "error", err)
		return result, nil
	}
	result.Triggered = triggered
	if triggered != nil {
		result.Card.AgentStatus = board.AgentStatusPending
	}
	return result, nil
}

// CreateCard stores a new card and runs its column's automation.
func (e *Engine) CreateCard(ctx context.Context, card *board.Card, actor string) (*MoveResult, error) {
	column, err := e.boards.GetColumn(ctx, card.ColumnID)
	if err != nil {
		return nil, err
	}
	if column.BoardID != card.BoardID {
		return nil, board.ErrColumnNotOnBoard(column.ID, card.BoardID)
	}
	card.CreatedBy = actor
	card.AgentStatus = board.AgentStatusNone
	if err := e.boards.CreateCard(ctx, card); err != nil {
		return nil, err
	}
	result := &MoveResult{Card: card, ToColumnID: column.ID, Moved: true}
	e.bus.PublishNew(eventbus.BoardChannel(card.BoardID), eventbus.TypeCardMoved, map[string]any{
		"card_id":      card.ID,
		"to_column_id": column.ID,
		"actor":        actor,
	})
	triggered, err := e.MaybeTrigger(ctx, card, column, actor)
	if err != nil {
		slog.ErrorContext(ctx, "automation failed after card creation", "card_id", card.ID, "error", err)
		return result, nil
	}
	result.Triggered = triggered
	if triggered != nil {
		result.Card.AgentStatus = board.AgentStatusPending
	}
	return result, nil
}
