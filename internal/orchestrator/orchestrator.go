// Package orchestrator applies the outcome a worker reports for a task:
// the status write, the card projection, routing the card onwards and
// chaining follow-up tasks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/kazz187/cardflow/internal/automation"
	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/comment"
	"github.com/kazz187/cardflow/internal/dispatch"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/internal/integration"
	"github.com/kazz187/cardflow/internal/metrics"
	"github.com/kazz187/cardflow/internal/task"
	"github.com/kazz187/cardflow/internal/worker"
	"github.com/kazz187/cardflow/pkg/cerr"
)

const (
	SummaryReviewerRejected = "Reviewer rejected"
	SummaryWorkerOffline    = "Worker went offline"
	SummaryFailed           = "Task failed"
)

// NextAction tells the worker what to do after reporting an outcome.
type NextAction string

const (
	// NextActionPoll means the outcome queued new work.
	NextActionPoll NextAction = "poll"
	NextActionNone NextAction = "none"
)

type Config struct {
	// RearmOnFailure runs the failure column's automation when a failed or
	// rejected task routes its card there. Off by default: failure routing
	// parks the card until someone moves it.
	RearmOnFailure bool
}

// TaskCreator is satisfied by *task.Store.
type TaskCreator interface {
	automation.TaskCreator
	CreateUnlessActive(ctx context.Context, t *task.Task) (*task.Task, error)
}

// CardMover is the card move primitive, implemented by *automation.Engine.
type CardMover interface {
	MoveCard(ctx context.Context, card *board.Card, toColumnID, actor string, opts board.MoveOptions) (*automation.MoveResult, error)
}

type Progress struct {
	Text       string `json:"progress_text"`
	Step       int    `json:"step,omitempty"`
	TotalSteps int    `json:"total_steps,omitempty"`
	Phase      string `json:"phase,omitempty"`
}

// CardMove describes the card routing an outcome performed.
type CardMove struct {
	CardID       string `json:"card_id"`
	FromColumnID string `json:"from_column_id"`
	ToColumnID   string `json:"to_column_id"`
	// Automation reports whether the destination column's automation was
	// allowed to run.
	Automation      bool   `json:"automation"`
	TriggeredTaskID string `json:"triggered_task_id,omitempty"`
}

type Outcome struct {
	Task       *task.Task   `json:"task"`
	Status     task.Status  `json:"status"`
	NextAction NextAction   `json:"next_action"`
	CardMove   *CardMove    `json:"card_move,omitempty"`
	FollowUps  []*task.Task `json:"follow_ups,omitempty"`
}

type Orchestrator struct {
	tasks        task.Repository
	creator      TaskCreator
	boards       board.Repository
	mover        CardMover
	comments     comment.Repository
	integrations *integration.Registry
	workers      dispatch.Authorizer
	bus          *eventbus.Bus
	clock        clockwork.Clock
	metrics      *metrics.Recorder
	cfg          Config
}

func New(
	tasks task.Repository,
	creator TaskCreator,
	boards board.Repository,
	mover CardMover,
	comments comment.Repository,
	integrations *integration.Registry,
	workers dispatch.Authorizer,
	bus *eventbus.Bus,
	clock clockwork.Clock,
	rec *metrics.Recorder,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		tasks:        tasks,
		creator:      creator,
		boards:       boards,
		mover:        mover,
		comments:     comments,
		integrations: integrations,
		workers:      workers,
		bus:          bus,
		clock:        clock,
		metrics:      rec,
		cfg:          cfg,
	}
}

var _ worker.OfflineHandler = (*Orchestrator)(nil)

// held loads a task on behalf of the worker holding it. Reports about a
// task the worker has not claimed are refused, except that adopt lets the
// worker take a pending task it could have claimed.
func (o *Orchestrator) held(ctx context.Context, taskID, workerID, owner string, adopt bool) (*worker.Worker, *task.Task, error) {
	w, err := o.workers.Authorize(ctx, workerID, owner)
	if err != nil {
		return nil, nil, err
	}
	t, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if t.Status.Terminal() {
		return nil, nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task is already %s", t.Status), nil)
	}
	switch t.ClaimedByWorker {
	case w.ID:
		return w, t, nil
	case "":
		if !adopt || t.Status != task.StatusPending {
			return nil, nil, cerr.NewError(cerr.FailedPrecondition, "task must be claimed first", nil)
		}
		if err := dispatch.CheckVisible(ctx, o.boards, t, owner); err != nil {
			return nil, nil, err
		}
		return w, t, nil
	default:
		return nil, nil, cerr.NewError(cerr.PermissionDenied, "task is held by another worker", nil)
	}
}

func (o *Orchestrator) transition(ctx context.Context, t *task.Task, to task.Status, workerID, summary string) (*task.Task, error) {
	return o.apply(ctx, task.Transition{
		TaskID:       t.ID,
		To:           to,
		WorkerID:     workerID,
		ErrorSummary: summary,
	})
}

func (o *Orchestrator) apply(ctx context.Context, tr task.Transition) (*task.Task, error) {
	cardStatus := task.AgentStatusFor(tr.To)
	tr.At = o.clock.Now().UTC()
	tr.CardStatus = &cardStatus
	updated, err := o.tasks.Transition(ctx, tr)
	if err != nil {
		var terr *task.TransitionError
		if errors.As(err, &terr) {
			return nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task is %s", terr.Current), err)
		}
		return nil, err
	}
	o.metrics.RecordTransition(ctx, string(tr.To))
	return updated, nil
}

// ReportProgress marks the task running and relays the progress to board
// subscribers. Repeated reports only publish. A pending task the worker
// could have claimed is claimed and started in one write.
func (o *Orchestrator) ReportProgress(ctx context.Context, taskID, workerID, owner string, p Progress) (*task.Task, error) {
	w, t, err := o.held(ctx, taskID, workerID, owner, true)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusRunning {
		t, err = o.apply(ctx, task.Transition{
			TaskID:   t.ID,
			To:       task.StatusRunning,
			WorkerID: w.ID,
			Claim:    t.ClaimedByWorker == "",
		})
		if err != nil {
			return nil, err
		}
	}
	data := t.EventData()
	data["worker_id"] = w.ID
	data["progress_text"] = p.Text
	if p.Step > 0 {
		data["step"] = p.Step
	}
	if p.TotalSteps > 0 {
		data["total_steps"] = p.TotalSteps
	}
	if p.Phase != "" {
		data["phase"] = p.Phase
	}
	o.bus.PublishNew(eventbus.BoardChannel(t.BoardID), eventbus.TypeTaskProgress, data)
	return t, nil
}

// Complete records a successful run. A reviewer whose output says
// "rejected" is treated as a failure; that is decided before the write so
// the task makes a single transition.
func (o *Orchestrator) Complete(ctx context.Context, taskID, workerID, owner, outputText string, result map[string]any) (*Outcome, error) {
	w, t, err := o.held(ctx, taskID, workerID, owner, false)
	if err != nil {
		return nil, err
	}
	if IsRejection(t.AgentType, outputText) {
		return o.fail(ctx, w, t, owner, SummaryReviewerRejected, outputText)
	}

	done, err := o.transition(ctx, t, task.StatusCompleted, w.ID, "")
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "task completed", "task_id", done.ID, "worker_id", w.ID, "card_id", done.CardID)
	outcome := &Outcome{Task: done, Status: done.Status}
	o.storeOutput(ctx, done, owner, outputText)

	card := o.card(ctx, done)
	if card != nil {
		outcome.CardMove = o.route(ctx, card, done.TargetColumnID, owner, true)
	}
	if b, err := o.boards.GetBoard(ctx, done.BoardID); err != nil {
		slog.ErrorContext(ctx, "failed to load board for chaining", "task_id", done.ID, "error", err)
	} else {
		outcome.FollowUps = o.chain(ctx, b, card, done, outcome.CardMove, owner, outputText)
	}
	o.finish(ctx, outcome, eventbus.TypeTaskCompleted, result)
	return outcome, nil
}

// Fail records a failed run and parks the card in the failure column.
func (o *Orchestrator) Fail(ctx context.Context, taskID, workerID, owner, errorSummary, outputText string) (*Outcome, error) {
	w, t, err := o.held(ctx, taskID, workerID, owner, false)
	if err != nil {
		return nil, err
	}
	if errorSummary == "" {
		errorSummary = SummaryFailed
	}
	return o.fail(ctx, w, t, owner, errorSummary, outputText)
}

func (o *Orchestrator) fail(ctx context.Context, w *worker.Worker, t *task.Task, owner, summary, outputText string) (*Outcome, error) {
	failed, err := o.transition(ctx, t, task.StatusFailed, w.ID, summary)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "task failed", "task_id", failed.ID, "worker_id", w.ID, "error_summary", summary)
	outcome := &Outcome{Task: failed, Status: failed.Status}
	o.storeOutput(ctx, failed, owner, outputText)
	if card := o.card(ctx, failed); card != nil {
		outcome.CardMove = o.route(ctx, card, failed.FailureColumnID, owner, o.cfg.RearmOnFailure)
	}
	o.finish(ctx, outcome, eventbus.TypeTaskFailed, nil)
	return outcome, nil
}

// Cancel stops a task that has not finished. The worker learns about it
// from its next heartbeat.
func (o *Orchestrator) Cancel(ctx context.Context, taskID, actor string) (*task.Task, error) {
	t, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := board.RequireMember(ctx, o.boards, t.BoardID, actor); err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("cannot cancel a %s task", t.Status), nil)
	}
	cancelled, err := o.transition(ctx, t, task.StatusCancelled, "", "")
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "task cancelled", "task_id", cancelled.ID, "actor", actor)
	data := cancelled.EventData()
	data["actor"] = actor
	o.bus.PublishNew(eventbus.BoardChannel(cancelled.BoardID), eventbus.TypeTaskCancelled, data)
	return cancelled, nil
}

// HandleWorkerOffline fails every task the worker still holds. Tasks that
// already reached a terminal state in the meantime are skipped.
func (o *Orchestrator) HandleWorkerOffline(ctx context.Context, w *worker.Worker) (int, error) {
	held, err := o.tasks.ListActiveByWorker(ctx, w.ID)
	if err != nil {
		return 0, err
	}
	failedCount := 0
	for _, t := range held {
		failed, err := o.transition(ctx, t, task.StatusFailed, w.ID, SummaryWorkerOffline)
		if err != nil {
			if cerr.IsCode(err, cerr.FailedPrecondition) {
				continue
			}
			return failedCount, err
		}
		failedCount++
		slog.WarnContext(ctx, "task failed with offline worker", "task_id", failed.ID, "worker_id", w.ID)
		data := failed.EventData()
		data["worker_id"] = w.ID
		o.bus.PublishNew(eventbus.BoardChannel(failed.BoardID), eventbus.TypeTaskFailed, data)
	}
	return failedCount, nil
}

func (o *Orchestrator) card(ctx context.Context, t *task.Task) *board.Card {
	if t.CardID == "" {
		return nil
	}
	card, err := o.boards.GetCard(ctx, t.CardID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load card", "task_id", t.ID, "card_id", t.CardID, "error", err)
		return nil
	}
	return card
}

// route moves the card and reports what happened. Failures are logged:
// the task outcome is already committed.
func (o *Orchestrator) route(ctx context.Context, card *board.Card, toColumnID, actor string, automate bool) *CardMove {
	if toColumnID == "" || toColumnID == card.ColumnID {
		return nil
	}
	res, err := o.mover.MoveCard(ctx, card, toColumnID, actor, board.MoveOptions{SkipAutomation: !automate})
	if err != nil {
		slog.ErrorContext(ctx, "failed to route card", "card_id", card.ID, "to_column_id", toColumnID, "error", err)
		return nil
	}
	move := &CardMove{
		CardID:       card.ID,
		FromColumnID: res.FromColumnID,
		ToColumnID:   res.ToColumnID,
		Automation:   automate,
	}
	if res.Triggered != nil {
		move.TriggeredTaskID = res.Triggered.ID
	}
	*card = *res.Card
	return move
}

func (o *Orchestrator) storeOutput(ctx context.Context, t *task.Task, author, outputText string) {
	if outputText == "" || t.CardID == "" || o.comments == nil {
		return
	}
	c := &comment.Comment{
		ID:        newCommentID(),
		CardID:    t.CardID,
		TaskID:    t.ID,
		Author:    author,
		Body:      outputText,
		CreatedAt: o.clock.Now().UTC(),
	}
	if err := o.comments.Create(ctx, c); err != nil {
		slog.ErrorContext(ctx, "failed to store task output", "task_id", t.ID, "error", err)
		return
	}
	if err := o.tasks.SetOutputComment(ctx, t.ID, c.ID); err != nil {
		slog.ErrorContext(ctx, "failed to link task output", "task_id", t.ID, "comment_id", c.ID, "error", err)
		return
	}
	t.OutputCommentID = c.ID
}

func (o *Orchestrator) finish(ctx context.Context, outcome *Outcome, eventType eventbus.EventType, result map[string]any) {
	outcome.NextAction = NextActionNone
	if len(outcome.FollowUps) > 0 || (outcome.CardMove != nil && outcome.CardMove.TriggeredTaskID != "") {
		outcome.NextAction = NextActionPoll
	}
	data := outcome.Task.EventData()
	if outcome.Task.OutputCommentID != "" {
		data["output_comment_id"] = outcome.Task.OutputCommentID
	}
	if outcome.CardMove != nil {
		data["card_move"] = outcome.CardMove
	}
	if len(result) > 0 {
		data["result"] = result
	}
	o.bus.PublishNew(eventbus.BoardChannel(outcome.Task.BoardID), eventType, data)
}
