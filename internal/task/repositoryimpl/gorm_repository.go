package repositoryimpl

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/task"
	"github.com/kazz187/cardflow/pkg/cerr"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func Models() []any {
	return []any{&task.Task{}}
}

func setCardStatus(tx *gorm.DB, cardID string, status board.AgentStatus) error {
	if cardID == "" {
		return nil
	}
	return tx.Model(&board.Card{}).Where("id = ?", cardID).Update("agent_status", status).Error
}

func (r *GormRepository) Create(ctx context.Context, t *task.Task) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return setCardStatus(tx, t.CardID, board.AgentStatusPending)
	})
	if err != nil {
		return cerr.WrapDBError("task", err)
	}
	return nil
}

// CreateUnlessActive locks the card row before the check so concurrent
// callers for the same card queue behind each other. sqlite has no row
// locks; its single connection serializes the transactions instead.
func (r *GormRepository) CreateUnlessActive(ctx context.Context, t *task.Task) error {
	if t.CardID == "" {
		return cerr.NewError(cerr.InvalidArgument, "card_id is required", nil)
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cards []board.Card
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").Where("id = ?", t.CardID).Find(&cards).Error; err != nil {
			return err
		}
		var n int64
		err := tx.Model(&task.Task{}).
			Where("card_id = ? AND task_type = ? AND status IN ?", t.CardID, t.TaskType, task.ActiveStatuses).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			return cerr.NewError(cerr.AlreadyExists, fmt.Sprintf("card %s already has an active %s task", t.CardID, t.TaskType), nil)
		}
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return setCardStatus(tx, t.CardID, board.AgentStatusPending)
	})
	if err != nil {
		if cerr.IsCode(err, cerr.AlreadyExists) {
			return err
		}
		return cerr.WrapDBError("task", err)
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	var t task.Task
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, cerr.WrapDBError("task", err)
	}
	return &t, nil
}

func (r *GormRepository) List(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	q := r.db.WithContext(ctx).Model(&task.Task{})
	if f.BoardID != "" {
		q = q.Where("board_id = ?", f.BoardID)
	}
	if f.CardID != "" {
		q = q.Where("card_id = ?", f.CardID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	var tasks []*task.Task
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, cerr.WrapDBError("tasks", err)
	}
	return tasks, nil
}

func (r *GormRepository) Poll(ctx context.Context, pq task.PollQuery) ([]*task.Task, error) {
	q := r.db.WithContext(ctx).Where("status = ?", task.StatusPending)
	if len(pq.BoardIDs) > 0 {
		q = q.Where(
			r.db.Where("assigned_to = ?", pq.Owner).
				Or("assigned_to = ? AND board_id IN ?", "", pq.BoardIDs),
		)
	} else {
		q = q.Where("assigned_to = ?", pq.Owner)
	}

	var tasks []*task.Task
	err := q.Order("priority DESC").Order("created_at ASC").Order("id ASC").
		Limit(pq.Limit).
		Find(&tasks).Error
	if err != nil {
		return nil, cerr.WrapDBError("tasks", err)
	}
	return tasks, nil
}

// Transition issues one UPDATE ... WHERE id = ? AND status IN (...) so that
// concurrent writers are serialized by the database: at most one of them
// sees a changed row.
func (r *GormRepository) Transition(ctx context.Context, tr task.Transition) (*task.Task, error) {
	sources := task.SourcesFor(tr.To)
	if len(sources) == 0 {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("cannot transition to %s", tr.To), nil)
	}

	updates := map[string]any{"status": tr.To}
	switch tr.To {
	case task.StatusClaimed:
		updates["claimed_by_worker"] = tr.WorkerID
		updates["claimed_at"] = tr.At
	case task.StatusRunning:
		updates["started_at"] = tr.At
	default:
		updates["completed_at"] = tr.At
	}
	if tr.Claim {
		updates["claimed_by_worker"] = tr.WorkerID
		updates["claimed_at"] = tr.At
	}
	if tr.ErrorSummary != "" {
		updates["error_summary"] = tr.ErrorSummary
	}

	var updated task.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&task.Task{}).Where("id = ? AND status IN ?", tr.TaskID, sources)
		switch {
		case tr.Claim:
			q = q.Where("claimed_by_worker = ?", "")
		case tr.WorkerID != "" && tr.To != task.StatusClaimed:
			q = q.Where("claimed_by_worker = ?", tr.WorkerID)
		}
		res := q.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if err := tx.First(&updated, "id = ?", tr.TaskID).Error; err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return &task.TransitionError{TaskID: tr.TaskID, Current: updated.Status, Target: tr.To}
		}
		if tr.CardStatus != nil {
			return setCardStatus(tx, updated.CardID, *tr.CardStatus)
		}
		return nil
	})
	if err != nil {
		var terr *task.TransitionError
		if errors.As(err, &terr) {
			return nil, terr
		}
		return nil, cerr.WrapDBError("task", err)
	}
	return &updated, nil
}

func (r *GormRepository) SetOutputComment(ctx context.Context, taskID, commentID string) error {
	res := r.db.WithContext(ctx).Model(&task.Task{}).Where("id = ?", taskID).Update("output_comment_id", commentID)
	if res.Error != nil {
		return cerr.WrapDBError("task", res.Error)
	}
	if res.RowsAffected == 0 {
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return nil
}

func (r *GormRepository) SetCardAgentStatus(ctx context.Context, cardID string, status board.AgentStatus) error {
	if err := setCardStatus(r.db.WithContext(ctx), cardID, status); err != nil {
		return cerr.WrapDBError("card", err)
	}
	return nil
}

func (r *GormRepository) CountBySourceColumn(ctx context.Context, cardID, columnID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&task.Task{}).
		Where("card_id = ? AND source_column_id = ?", cardID, columnID).
		Count(&n).Error
	if err != nil {
		return 0, cerr.WrapDBError("tasks", err)
	}
	return int(n), nil
}

func (r *GormRepository) ListActiveByWorker(ctx context.Context, workerID string) ([]*task.Task, error) {
	var tasks []*task.Task
	err := r.db.WithContext(ctx).
		Where("claimed_by_worker = ? AND status IN ?", workerID, []task.Status{task.StatusClaimed, task.StatusRunning}).
		Order("id").
		Find(&tasks).Error
	if err != nil {
		return nil, cerr.WrapDBError("tasks", err)
	}
	return tasks, nil
}

func (r *GormRepository) ListByIDs(ctx context.Context, ids []string) ([]*task.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tasks []*task.Task
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&tasks).Error; err != nil {
		return nil, cerr.WrapDBError("tasks", err)
	}
	return tasks, nil
}
