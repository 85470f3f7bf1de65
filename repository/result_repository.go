package repository

import (
	"github.com/google/uuid"
	"github.com/mediaguard/reviewcenter/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ResultRepository interface {
	BaseRepository[models.ReviewResult]
	CreateBatch(results []*models.ReviewResult) error
	ListByFile(fileID uuid.UUID, limit, offset int) ([]*models.ReviewResult, error)
	CountByFile(fileID uuid.UUID) (int64, error)

	// PendingReview returns unreviewed results that need human adjudication:
	// confidence below the threshold or a forced violation category. Ordered
	// by confidence ascending with forced categories breaking ties first.
	PendingReview(threshold float64, limit, offset int) ([]*models.ReviewResult, error)

	UpdateReview(id uuid.UUID, updates map[string]interface{}) error

	// CountConfirmedByTask aggregates per-type finding counts across all files
	// of a task for violation reporting. Findings a reviewer rejected are
	// excluded; rejection keeps the row for audit but removes it from every
	// confirmed count.
	CountConfirmedByTask(taskID uuid.UUID) (map[models.ViolationType]int64, error)
}

type ResultRepositoryImpl struct {
	*BaseRepositoryImpl[models.ReviewResult]
}

func NewResultRepository(db *gorm.DB) ResultRepository {
	return &ResultRepositoryImpl{
		BaseRepositoryImpl: NewBaseRepository[models.ReviewResult](db),
	}
}

func (r *ResultRepositoryImpl) CreateBatch(results []*models.ReviewResult) error {
	if len(results) == 0 {
		return nil
	}
	return r.db.Create(results).Error
}

func (r *ResultRepositoryImpl) ListByFile(fileID uuid.UUID, limit, offset int) ([]*models.ReviewResult, error) {
	var results []*models.ReviewResult
	err := paginate(r.db.Where("file_id = ?", fileID).Order("created_at ASC"), limit, offset).
		Find(&results).Error
	return results, err
}

func (r *ResultRepositoryImpl) CountByFile(fileID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.Model(&models.ReviewResult{}).
		Where("file_id = ?", fileID).
		Count(&count).Error
	return count, err
}

func forcedTypes() []models.ViolationType {
	var forced []models.ViolationType
	for _, v := range models.AllViolationTypes() {
		if v.ForcedReview() {
			forced = append(forced, v)
		}
	}
	return forced
}

func (r *ResultRepositoryImpl) PendingReview(threshold float64, limit, offset int) ([]*models.ReviewResult, error) {
	forced := forcedTypes()
	var results []*models.ReviewResult
	q := r.db.
		Where("is_reviewed = ?", false).
		Where("confidence < ? OR violation_type IN ?", threshold, forced).
		Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:  "confidence ASC, CASE WHEN violation_type IN ? THEN 0 ELSE 1 END, created_at ASC",
			Vars: []interface{}{forced},
		}})
	return results, paginate(q, limit, offset).Find(&results).Error
}

func (r *ResultRepositoryImpl) UpdateReview(id uuid.UUID, updates map[string]interface{}) error {
	return r.db.Model(&models.ReviewResult{}).Where("id = ?", id).Updates(updates).Error
}

func (r *ResultRepositoryImpl) CountConfirmedByTask(taskID uuid.UUID) (map[models.ViolationType]int64, error) {
	var rows []struct {
		ViolationType models.ViolationType
		Total         int64
	}
	err := r.db.Model(&models.ReviewResult{}).
		Select("violation_type, COUNT(*) AS total").
		Joins("JOIN review_files ON review_files.id = review_results.file_id").
		Where("review_files.task_id = ?", taskID).
		Where("review_results.review_result IS NULL OR review_results.review_result <> ?", models.VerdictRejected).
		Group("violation_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.ViolationType]int64, len(rows))
	for _, row := range rows {
		out[row.ViolationType] = row.Total
	}
	return out, nil
}
