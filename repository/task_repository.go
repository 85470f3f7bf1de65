package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/mediaguard/reviewcenter/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TaskRepository interface {
	BaseRepository[models.ReviewTask]
	GetWithFiles(id uuid.UUID) (*models.ReviewTask, error)
	ListByStatus(status models.TaskStatus, limit, offset int) ([]*models.ReviewTask, error)
	UpdateFields(id uuid.UUID, updates map[string]interface{}) error

	// TransitionStatus moves the task to the given status only when its
	// current status is one of from. Returns false when the guard did not
	// match, leaving the row unchanged.
	TransitionStatus(id uuid.UUID, to models.TaskStatus, from ...models.TaskStatus) (bool, error)

	// IncrementProcessed atomically counts one more terminal file, adds its
	// violations, recomputes progress and returns the fresh row. Serialized
	// with a row lock so concurrent file completions are never lost.
	IncrementProcessed(id uuid.UUID, violations int) (*models.ReviewTask, error)

	// AddFiles registers n more files on the task.
	AddFiles(id uuid.UUID, n int) error

	// DeleteCascade removes the task with all its files and their results in
	// one transaction.
	DeleteCascade(id uuid.UUID) error
}

type TaskRepositoryImpl struct {
	*BaseRepositoryImpl[models.ReviewTask]
}

func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &TaskRepositoryImpl{
		BaseRepositoryImpl: NewBaseRepository[models.ReviewTask](db),
	}
}

func (r *TaskRepositoryImpl) GetWithFiles(id uuid.UUID) (*models.ReviewTask, error) {
	var task models.ReviewTask
	err := r.db.Preload("Files").First(&task, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepositoryImpl) ListByStatus(status models.TaskStatus, limit, offset int) ([]*models.ReviewTask, error) {
	var tasks []*models.ReviewTask
	err := paginate(r.db.Where("status = ?", status).Order("created_at ASC"), limit, offset).
		Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepositoryImpl) UpdateFields(id uuid.UUID, updates map[string]interface{}) error {
	return r.db.Model(&models.ReviewTask{}).Where("id = ?", id).Updates(updates).Error
}

func (r *TaskRepositoryImpl) TransitionStatus(id uuid.UUID, to models.TaskStatus, from ...models.TaskStatus) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if to.Terminal() {
		updates["completed_at"] = time.Now().UTC()
	}
	res := r.db.Model(&models.ReviewTask{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *TaskRepositoryImpl) IncrementProcessed(id uuid.UUID, violations int) (*models.ReviewTask, error) {
	var task models.ReviewTask
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&task, "id = ?", id).Error; err != nil {
			return err
		}
		task.ProcessedFiles++
		task.ViolationCount += violations
		task.Progress = models.ComputeProgress(task.ProcessedFiles, task.TotalFiles)
		return tx.Model(&models.ReviewTask{}).Where("id = ?", id).Updates(map[string]interface{}{
			"processed_files": task.ProcessedFiles,
			"violation_count": task.ViolationCount,
			"progress":        task.Progress,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepositoryImpl) AddFiles(id uuid.UUID, n int) error {
	return r.db.Model(&models.ReviewTask{}).Where("id = ?", id).
		Update("total_files", gorm.Expr("total_files + ?", n)).Error
}

func (r *TaskRepositoryImpl) DeleteCascade(id uuid.UUID) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var fileIDs []uuid.UUID
		if err := tx.Model(&models.ReviewFile{}).
			Where("task_id = ?", id).
			Pluck("id", &fileIDs).Error; err != nil {
			return err
		}
		if len(fileIDs) > 0 {
			if err := tx.Where("file_id IN ?", fileIDs).
				Delete(&models.ReviewResult{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("task_id = ?", id).
			Delete(&models.ReviewFile{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.ReviewTask{}, "id = ?", id).Error
	})
}
