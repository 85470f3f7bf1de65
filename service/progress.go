package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/mediaguard/reviewcenter/events"
	"github.com/mediaguard/reviewcenter/models"
	"github.com/mediaguard/reviewcenter/repository"
	"github.com/sirupsen/logrus"
)

// ProgressTracker accounts task progress as files reach terminal states. The
// counter update is serialized inside the task repository (row lock), so
// concurrent completions from many file workers are never lost.
type ProgressTracker struct {
	tasks     repository.TaskRepository
	publisher events.Publisher
	log       *logrus.Logger
}

func NewProgressTracker(tasks repository.TaskRepository, publisher events.Publisher, log *logrus.Logger) *ProgressTracker {
	return &ProgressTracker{
		tasks:     tasks,
		publisher: publisher,
		log:       log,
	}
}

// FileFinished counts one terminal file. violations must be zero for failed
// and cancelled files: they advance progress but never violation accounting.
func (t *ProgressTracker) FileFinished(ctx context.Context, taskID uuid.UUID, violations int) (*models.ReviewTask, error) {
	task, err := t.tasks.IncrementProcessed(taskID, violations)
	if err != nil {
		return nil, &StoreUnavailableError{Err: err}
	}
	_ = t.publisher.Publish(ctx, events.Event{
		Type:           events.TaskProgressUpdated,
		TaskID:         taskID.String(),
		Status:         string(task.Status),
		Progress:       task.Progress,
		ProcessedFiles: task.ProcessedFiles,
		TotalFiles:     task.TotalFiles,
		ViolationCount: task.ViolationCount,
	})
	t.log.WithFields(logrus.Fields{
		"task_id":   taskID,
		"processed": task.ProcessedFiles,
		"total":     task.TotalFiles,
		"progress":  task.Progress,
	}).Debug("task progress updated")
	return task, nil
}
