package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediaguard/reviewcenter/events"
	"github.com/mediaguard/reviewcenter/metrics"
	"github.com/mediaguard/reviewcenter/models"
	"github.com/mediaguard/reviewcenter/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"
)

// TaskSpec is the creation request for a review task.
type TaskSpec struct {
	Name          string
	Description   string
	StrategyTypes []models.ViolationType
	StrategyRules string
	FrameInterval int
	CreatorID     string
}

// TaskOrchestrator owns the task lifecycle: it validates and creates tasks,
// fans their files out to the file processor over a shared worker pool, and
// settles the terminal task state once every file is terminal.
type TaskOrchestrator struct {
	tasks     repository.TaskRepository
	files     repository.FileRepository
	processor *FileProcessor
	publisher events.Publisher
	log       *logrus.Logger
	now       func() time.Time

	workers *semaphore.Weighted

	mu        sync.Mutex
	cancels   map[uuid.UUID]context.CancelFunc
	cancelled map[uuid.UUID]bool
	wg        sync.WaitGroup
}

func NewTaskOrchestrator(
	tasks repository.TaskRepository,
	files repository.FileRepository,
	processor *FileProcessor,
	publisher events.Publisher,
	workerCount int,
	log *logrus.Logger,
) *TaskOrchestrator {
	if workerCount <= 0 {
		workerCount = 8
	}
	return &TaskOrchestrator{
		tasks:     tasks,
		files:     files,
		processor: processor,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		workers:   semaphore.NewWeighted(int64(workerCount)),
		cancels:   make(map[uuid.UUID]context.CancelFunc),
		cancelled: make(map[uuid.UUID]bool),
	}
}

// Create validates the request and persists a pending task with no files.
func (o *TaskOrchestrator) Create(ctx context.Context, spec TaskSpec) (*models.ReviewTask, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, &ValidationError{Reason: "task name required"}
	}
	if len(spec.StrategyTypes) == 0 && strings.TrimSpace(spec.StrategyRules) == "" {
		return nil, &ValidationError{Reason: "strategy must not be empty"}
	}
	for _, t := range spec.StrategyTypes {
		if !t.Valid() {
			return nil, &ValidationError{Reason: "unknown violation type " + string(t)}
		}
	}
	if spec.FrameInterval <= 0 {
		spec.FrameInterval = 5
	}

	task := &models.ReviewTask{
		Name:          spec.Name,
		Description:   spec.Description,
		StrategyTypes: datatypes.NewJSONSlice(spec.StrategyTypes),
		StrategyRules: spec.StrategyRules,
		FrameInterval: spec.FrameInterval,
		Status:        models.TaskStatusPending,
		CreatorID:     spec.CreatorID,
	}
	if err := o.tasks.Create(task); err != nil {
		return nil, &StoreUnavailableError{Err: err}
	}
	_ = o.publisher.Publish(ctx, events.Event{
		Type:   events.TaskCreated,
		TaskID: task.ID.String(),
		Status: string(task.Status),
	})
	o.log.WithFields(logrus.Fields{"task_id": task.ID, "name": task.Name}).Info("task created")
	return task, nil
}

// AttachFile registers an uploaded file on a pending task and bumps
// total_files.
func (o *TaskOrchestrator) AttachFile(ctx context.Context, taskID uuid.UUID, file *models.ReviewFile) error {
	task, err := o.tasks.GetByID(taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusPending {
		return &InvalidStateError{Entity: "task", Current: string(task.Status), Op: "attach file to"}
	}
	if !file.FileType.Valid() {
		return &ValidationError{Reason: "unknown file type " + string(file.FileType)}
	}
	if file.ContentHash != "" {
		if dup, err := o.files.GetByContentHash(taskID, file.ContentHash); err == nil {
			return &ValidationError{Reason: "duplicate of " + dup.OriginalName}
		}
	}
	file.TaskID = taskID
	file.Status = models.FileStatusPending
	if err := o.files.Create(file); err != nil {
		return &StoreUnavailableError{Err: err}
	}
	if err := o.tasks.AddFiles(taskID, 1); err != nil {
		return &StoreUnavailableError{Err: err}
	}
	return nil
}

// Start transitions a pending task with at least one file to processing and
// dispatches its files to the worker pool.
func (o *TaskOrchestrator) Start(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.tasks.GetWithFiles(taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusPending {
		return &InvalidStateError{Entity: "task", Current: string(task.Status), Op: "start"}
	}
	if len(task.Files) == 0 {
		return &ValidationError{Reason: "task has no files"}
	}

	moved, err := o.tasks.TransitionStatus(taskID, models.TaskStatusProcessing, models.TaskStatusPending)
	if err != nil {
		return &StoreUnavailableError{Err: err}
	}
	if !moved {
		return &InvalidStateError{Entity: "task", Current: string(task.Status), Op: "start"}
	}
	if err := o.tasks.UpdateFields(taskID, map[string]interface{}{"started_at": o.now()}); err != nil {
		return &StoreUnavailableError{Err: err}
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[taskID] = cancel
	o.mu.Unlock()
	metrics.TasksActive.Inc()

	_ = o.publisher.Publish(ctx, events.Event{
		Type:       events.TaskStarted,
		TaskID:     taskID.String(),
		Status:     string(models.TaskStatusProcessing),
		TotalFiles: task.TotalFiles,
	})
	o.log.WithFields(logrus.Fields{"task_id": taskID, "files": len(task.Files)}).Info("task started")

	for i := range task.Files {
		file := task.Files[i]
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runFile(taskCtx, task, &file)
		}()
	}
	return nil
}

func (o *TaskOrchestrator) runFile(ctx context.Context, task *models.ReviewTask, file *models.ReviewFile) {
	// Admission to the shared pool; blocks rather than dropping work.
	if err := o.workers.Acquire(ctx, 1); err != nil {
		// Task cancelled while queued.
		if err := o.processor.cancelFile(file); err != nil {
			o.log.WithError(err).WithField("file_id", file.ID).Error("cancel queued file")
		}
		o.finalizeIfDone(task.ID)
		return
	}

	err := o.processor.Process(ctx, task, file)
	o.workers.Release(1)
	if err != nil {
		o.log.WithError(err).WithFields(logrus.Fields{
			"task_id": task.ID,
			"file_id": file.ID,
		}).Error("file processing error")
	}
	o.finalizeIfDone(task.ID)
}

// Cancel stops a pending or processing task. Files still pending are marked
// cancelled immediately; in-flight files observe the signal at their next
// stage boundary.
func (o *TaskOrchestrator) Cancel(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.tasks.GetByID(taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusPending && task.Status != models.TaskStatusProcessing {
		return &InvalidStateError{Entity: "task", Current: string(task.Status), Op: "cancel"}
	}

	// Signal in-flight workers first so no new stage begins.
	o.mu.Lock()
	o.cancelled[taskID] = true
	if cancel, ok := o.cancels[taskID]; ok {
		cancel()
	}
	o.mu.Unlock()

	pending, err := o.files.ListByTaskAndStatus(taskID, models.FileStatusPending)
	if err != nil {
		return &StoreUnavailableError{Err: err}
	}
	for _, file := range pending {
		if err := o.processor.cancelFile(file); err != nil {
			o.log.WithError(err).WithField("file_id", file.ID).Error("cancel pending file")
		}
	}

	if task.Status == models.TaskStatusPending {
		// Never started: settle immediately.
		moved, err := o.tasks.TransitionStatus(taskID, models.TaskStatusCancelled, models.TaskStatusPending)
		if err != nil {
			return &StoreUnavailableError{Err: err}
		}
		if moved {
			_ = o.publisher.Publish(ctx, events.Event{
				Type:   events.TaskCancelled,
				TaskID: taskID.String(),
				Status: string(models.TaskStatusCancelled),
			})
		}
		o.mu.Lock()
		delete(o.cancelled, taskID)
		o.mu.Unlock()
		return nil
	}

	o.log.WithField("task_id", taskID).Info("task cancel requested")
	o.finalizeIfDone(taskID)
	return nil
}

// Delete removes a task with all its files and results. Running tasks must be
// cancelled first.
func (o *TaskOrchestrator) Delete(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.tasks.GetByID(taskID)
	if err != nil {
		return err
	}
	if task.Status == models.TaskStatusProcessing {
		return &InvalidStateError{Entity: "task", Current: string(task.Status), Op: "delete"}
	}
	if err := o.tasks.DeleteCascade(taskID); err != nil {
		return &StoreUnavailableError{Err: err}
	}
	o.log.WithField("task_id", taskID).Info("task deleted")
	return nil
}

// finalizeIfDone settles the terminal task state once every owned file is
// terminal. Safe to call concurrently from many workers: the status
// transition is guarded, only one caller wins.
func (o *TaskOrchestrator) finalizeIfDone(taskID uuid.UUID) {
	unfinished, err := o.files.CountUnfinished(taskID)
	if err != nil {
		o.log.WithError(err).WithField("task_id", taskID).Error("count unfinished files")
		return
	}
	if unfinished > 0 {
		return
	}

	o.mu.Lock()
	cancelRequested := o.cancelled[taskID]
	o.mu.Unlock()

	completed, err := o.files.CountByTaskAndStatus(taskID, models.FileStatusCompleted)
	if err != nil {
		o.log.WithError(err).WithField("task_id", taskID).Error("count completed files")
		return
	}

	final := models.TaskStatusFailed
	eventType := events.TaskFailed
	switch {
	case cancelRequested:
		final = models.TaskStatusCancelled
		eventType = events.TaskCancelled
	case completed > 0:
		final = models.TaskStatusCompleted
		eventType = events.TaskCompleted
	}

	moved, err := o.tasks.TransitionStatus(taskID, final, models.TaskStatusProcessing)
	if err != nil {
		o.log.WithError(err).WithField("task_id", taskID).Error("finalize task")
		return
	}
	if !moved {
		return
	}
	if final == models.TaskStatusFailed {
		_ = o.tasks.UpdateFields(taskID, map[string]interface{}{
			"error_message": "no files completed successfully",
		})
	}

	o.mu.Lock()
	if cancel, ok := o.cancels[taskID]; ok {
		cancel()
		delete(o.cancels, taskID)
	}
	delete(o.cancelled, taskID)
	o.mu.Unlock()
	metrics.TasksActive.Dec()

	task, err := o.tasks.GetByID(taskID)
	if err != nil {
		o.log.WithError(err).WithField("task_id", taskID).Error("load finalized task")
		return
	}
	_ = o.publisher.Publish(context.Background(), events.Event{
		Type:           eventType,
		TaskID:         taskID.String(),
		Status:         string(final),
		Progress:       task.Progress,
		ProcessedFiles: task.ProcessedFiles,
		TotalFiles:     task.TotalFiles,
		ViolationCount: task.ViolationCount,
		Error:          task.ErrorMessage,
	})
	o.log.WithFields(logrus.Fields{"task_id": taskID, "status": final}).Info("task finished")
}

// Shutdown waits for in-flight files to reach their next checkpoint.
func (o *TaskOrchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
