package repository

import (
	"github.com/google/uuid"
	"github.com/mediaguard/reviewcenter/models"
	"gorm.io/gorm"
)

type FileRepository interface {
	BaseRepository[models.ReviewFile]
	ListByTask(taskID uuid.UUID) ([]*models.ReviewFile, error)
	ListByTaskAndStatus(taskID uuid.UUID, status models.FileStatus) ([]*models.ReviewFile, error)
	GetByContentHash(taskID uuid.UUID, hash string) (*models.ReviewFile, error)
	UpdateFields(id uuid.UUID, updates map[string]interface{}) error

	// TransitionStatus moves the file forward only when its current status is
	// one of from; the stage machine never re-enters an earlier state.
	TransitionStatus(id uuid.UUID, to models.FileStatus, from ...models.FileStatus) (bool, error)

	// CountUnfinished counts files of the task not yet in a terminal state.
	CountUnfinished(taskID uuid.UUID) (int64, error)
	CountByTaskAndStatus(taskID uuid.UUID, status models.FileStatus) (int64, error)
}

type FileRepositoryImpl struct {
	*BaseRepositoryImpl[models.ReviewFile]
}

func NewFileRepository(db *gorm.DB) FileRepository {
	return &FileRepositoryImpl{
		BaseRepositoryImpl: NewBaseRepository[models.ReviewFile](db),
	}
}

func (r *FileRepositoryImpl) ListByTask(taskID uuid.UUID) ([]*models.ReviewFile, error) {
	var files []*models.ReviewFile
	err := r.db.Where("task_id = ?", taskID).
		Order("created_at ASC").
		Find(&files).Error
	return files, err
}

func (r *FileRepositoryImpl) ListByTaskAndStatus(taskID uuid.UUID, status models.FileStatus) ([]*models.ReviewFile, error) {
	var files []*models.ReviewFile
	err := r.db.Where("task_id = ? AND status = ?", taskID, status).
		Order("created_at ASC").
		Find(&files).Error
	return files, err
}

func (r *FileRepositoryImpl) GetByContentHash(taskID uuid.UUID, hash string) (*models.ReviewFile, error) {
	var file models.ReviewFile
	err := r.db.Where("task_id = ? AND content_hash = ?", taskID, hash).
		First(&file).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *FileRepositoryImpl) UpdateFields(id uuid.UUID, updates map[string]interface{}) error {
	return r.db.Model(&models.ReviewFile{}).Where("id = ?", id).Updates(updates).Error
}

func (r *FileRepositoryImpl) TransitionStatus(id uuid.UUID, to models.FileStatus, from ...models.FileStatus) (bool, error) {
	res := r.db.Model(&models.ReviewFile{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *FileRepositoryImpl) CountUnfinished(taskID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.Model(&models.ReviewFile{}).
		Where("task_id = ? AND status NOT IN ?", taskID, []models.FileStatus{
			models.FileStatusCompleted, models.FileStatusFailed, models.FileStatusCancelled,
		}).
		Count(&count).Error
	return count, err
}

func (r *FileRepositoryImpl) CountByTaskAndStatus(taskID uuid.UUID, status models.FileStatus) (int64, error) {
	var count int64
	err := r.db.Model(&models.ReviewFile{}).
		Where("task_id = ? AND status = ?", taskID, status).
		Count(&count).Error
	return count, err
}
