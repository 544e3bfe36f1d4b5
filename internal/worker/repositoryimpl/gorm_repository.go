package repositoryimpl

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kazz187/cardflow/internal/worker"
	"github.com/kazz187/cardflow/pkg/cerr"
)

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func Models() []any {
	return []any{&worker.Worker{}}
}

func (r *GormRepository) Upsert(ctx context.Context, w *worker.Worker) (*worker.Worker, error) {
	var stored worker.Worker
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"hostname", "worker_version", "capabilities", "status", "last_heartbeat", "registered_at",
			}),
		}).Create(w).Error
		if err != nil {
			return err
		}
		return tx.First(&stored, "user_id = ?", w.UserID).Error
	})
	if err != nil {
		return nil, cerr.WrapDBError("worker", err)
	}
	return &stored, nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (*worker.Worker, error) {
	var w worker.Worker
	if err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, cerr.WrapDBError("worker", err)
	}
	return &w, nil
}

func (r *GormRepository) Touch(ctx context.Context, id string, at time.Time) (worker.Status, error) {
	var prev worker.Status
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w worker.Worker
		if err := tx.Select("status").First(&w, "id = ?", id).Error; err != nil {
			return err
		}
		prev = w.Status
		return tx.Model(&worker.Worker{}).Where("id = ?", id).Updates(map[string]any{
			"status":         worker.StatusOnline,
			"last_heartbeat": at,
		}).Error
	})
	if err != nil {
		return "", cerr.WrapDBError("worker", err)
	}
	return prev, nil
}

// Demote re-checks the condition per row so a heartbeat landing between the
// scan and the write keeps the worker where it is.
func (r *GormRepository) Demote(ctx context.Context, from []worker.Status, to worker.Status, cutoff time.Time) ([]*worker.Worker, error) {
	var demoted []*worker.Worker
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []*worker.Worker
		if err := tx.Where("status IN ? AND last_heartbeat < ?", from, cutoff).Order("id").Find(&candidates).Error; err != nil {
			return err
		}
		for _, w := range candidates {
			res := tx.Model(&worker.Worker{}).
				Where("id = ? AND status IN ? AND last_heartbeat < ?", w.ID, from, cutoff).
				Update("status", to)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				w.Status = to
				demoted = append(demoted, w)
			}
		}
		return nil
	})
	if err != nil {
		return nil, cerr.WrapDBError("workers", err)
	}
	return demoted, nil
}

func (r *GormRepository) ListByStatus(ctx context.Context, status worker.Status) ([]*worker.Worker, error) {
	var workers []*worker.Worker
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("id").Find(&workers).Error; err != nil {
		return nil, cerr.WrapDBError("workers", err)
	}
	return workers, nil
}
