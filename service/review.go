package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/mediaguard/reviewcenter/models"
	"github.com/mediaguard/reviewcenter/repository"
	"github.com/sirupsen/logrus"
)

// ReviewThreshold is the confidence below which an automatic classification
// is treated as unreliable and routed to human review.
const ReviewThreshold = 0.6

// NeedsReview reports whether a result requires human adjudication: low
// confidence, or a forced violation category regardless of confidence.
func NeedsReview(r *models.ReviewResult) bool {
	return r.Confidence < ReviewThreshold || r.ViolationType.ForcedReview()
}

// ReviewRouter owns the human-review queue: it decides which results need
// adjudication and records adjudication outcomes. It is the only component
// that mutates the review fields of a result.
type ReviewRouter struct {
	results repository.ResultRepository
	log     *logrus.Logger
	now     func() time.Time
}

func NewReviewRouter(results repository.ResultRepository, log *logrus.Logger) *ReviewRouter {
	return &ReviewRouter{
		results: results,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// MarkReviewed records a human verdict. A rejected result is kept for audit;
// reporting excludes it downstream. Re-reviewing an already-reviewed result
// overwrites the verdict and re-stamps the review time.
func (r *ReviewRouter) MarkReviewed(id uuid.UUID, reviewerID string, verdict models.ReviewVerdict, comment string) error {
	if !verdict.Valid() {
		return &ValidationError{Reason: "unknown review verdict " + string(verdict)}
	}
	if reviewerID == "" {
		return &ValidationError{Reason: "reviewer id required"}
	}
	if _, err := r.results.GetByID(id); err != nil {
		return err
	}
	err := r.results.UpdateReview(id, map[string]interface{}{
		"is_reviewed":    true,
		"reviewer_id":    reviewerID,
		"review_result":  verdict,
		"review_comment": comment,
		"review_time":    r.now(),
	})
	if err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{
		"result_id": id,
		"reviewer":  reviewerID,
		"verdict":   verdict,
	}).Info("result reviewed")
	return nil
}

// PendingReview lists unreviewed results needing adjudication, most
// uncertain first.
func (r *ReviewRouter) PendingReview(limit, offset int) ([]*models.ReviewResult, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.results.PendingReview(ReviewThreshold, limit, offset)
}

// ConfirmedViolations reports per-type finding counts for a task. Rejected
// findings stay in storage for audit but never appear here.
func (r *ReviewRouter) ConfirmedViolations(taskID uuid.UUID) (map[models.ViolationType]int64, error) {
	return r.results.CountConfirmedByTask(taskID)
}
