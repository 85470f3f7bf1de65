package service

import (
	"context"
	"time"

	"github.com/mediaguard/reviewcenter/metrics"
	"github.com/mediaguard/reviewcenter/models"
	"github.com/mediaguard/reviewcenter/repository"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// FileProcessor drives one file through Extract → Score → Aggregate. Stages
// run strictly in order; cancellation is honored only at stage boundaries, so
// an external call that is already in flight always runs to completion (or
// its own timeout) and its result is discarded.
type FileProcessor struct {
	files      repository.FileRepository
	results    repository.ResultRepository
	blobs      BlobStore
	extractor  ContentExtractor
	vision     VisionScorer
	text       TextScorer
	aggregator *ResultAggregator
	progress   *ProgressTracker

	visionGate *semaphore.Weighted
	textGate   *semaphore.Weighted

	maxAttempts uint64
	callTimeout time.Duration
	extractOpts ExtractOptions

	log *logrus.Logger
	now func() time.Time
}

type FileProcessorConfig struct {
	VisionConcurrency int
	TextConcurrency   int
	MaxAttempts       int
	CallTimeout       time.Duration
	FrameInterval     int
	MaxVideoFrames    int
}

func NewFileProcessor(
	files repository.FileRepository,
	results repository.ResultRepository,
	blobs BlobStore,
	extractor ContentExtractor,
	vision VisionScorer,
	text TextScorer,
	aggregator *ResultAggregator,
	progress *ProgressTracker,
	cfg FileProcessorConfig,
	log *logrus.Logger,
) *FileProcessor {
	if cfg.VisionConcurrency <= 0 {
		cfg.VisionConcurrency = 4
	}
	if cfg.TextConcurrency <= 0 {
		cfg.TextConcurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &FileProcessor{
		files:       files,
		results:     results,
		blobs:       blobs,
		extractor:   extractor,
		vision:      vision,
		text:        text,
		aggregator:  aggregator,
		progress:    progress,
		visionGate:  semaphore.NewWeighted(int64(cfg.VisionConcurrency)),
		textGate:    semaphore.NewWeighted(int64(cfg.TextConcurrency)),
		maxAttempts: uint64(cfg.MaxAttempts),
		callTimeout: cfg.CallTimeout,
		extractOpts: ExtractOptions{FrameInterval: cfg.FrameInterval, MaxFrames: cfg.MaxVideoFrames},
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// StrategyFromTask builds the scorer strategy from the task configuration.
func StrategyFromTask(task *models.ReviewTask) Strategy {
	return Strategy{
		Types: []models.ViolationType(task.StrategyTypes),
		Rules: task.StrategyRules,
	}
}

// Process runs the stage machine for one file. Every exit path leaves the
// file in a terminal state and counted in task progress; the returned error
// is informational for the worker log.
func (p *FileProcessor) Process(ctx context.Context, task *models.ReviewTask, file *models.ReviewFile) error {
	logger := p.log.WithFields(logrus.Fields{
		"task_id": task.ID,
		"file_id": file.ID,
		"file":    file.OriginalName,
	})

	// Checkpoint before claiming: a cancel that arrived while the file was
	// queued wins.
	if ctx.Err() != nil {
		return p.cancelFile(file)
	}

	claimed, err := p.files.TransitionStatus(file.ID, models.FileStatusExtracting, models.FileStatusPending)
	if err != nil {
		return &StoreUnavailableError{Err: err}
	}
	if !claimed {
		// Already cancelled or picked up elsewhere; whoever moved it owns the
		// progress accounting.
		logger.Debug("file already claimed, skipping")
		return nil
	}
	_ = p.files.UpdateFields(file.ID, map[string]interface{}{"progress": 10})

	// Stage 1: Extract.
	blocks, err := p.extract(ctx, task, file)
	if err != nil {
		if IsValidation(err) {
			logger.WithError(err).Warn("file rejected by extraction")
		} else {
			logger.WithError(err).Warn("extraction failed")
		}
		return p.failFile(ctx, file, err.Error())
	}

	if ctx.Err() != nil {
		return p.cancelClaimed(ctx, file)
	}

	// Stage 2: Score.
	if _, err := p.files.TransitionStatus(file.ID, models.FileStatusScoring, models.FileStatusExtracting); err != nil {
		return &StoreUnavailableError{Err: err}
	}
	_ = p.files.UpdateFields(file.ID, map[string]interface{}{"progress": 40})

	candidates, err := p.score(ctx, task, blocks)
	if ctx.Err() != nil {
		// In-flight scorer results are discarded on cancellation.
		return p.cancelClaimed(ctx, file)
	}
	if err != nil {
		logger.WithError(err).Warn("scoring failed")
		return p.failFile(ctx, file, "scoring failed: "+err.Error())
	}

	if ctx.Err() != nil {
		return p.cancelClaimed(ctx, file)
	}

	// Stage 3: Aggregate.
	if _, err := p.files.TransitionStatus(file.ID, models.FileStatusAggregating, models.FileStatusScoring); err != nil {
		return &StoreUnavailableError{Err: err}
	}
	_ = p.files.UpdateFields(file.ID, map[string]interface{}{"progress": 80})

	merged := p.aggregator.Merge(candidates)
	rows := make([]*models.ReviewResult, 0, len(merged))
	for _, f := range merged {
		rows = append(rows, &models.ReviewResult{
			FileID:        file.ID,
			ViolationType: f.ViolationType,
			SourceType:    f.SourceType,
			Confidence:    f.Confidence,
			Evidence:      f.Evidence,
			Position:      f.Position,
			ModelName:     f.ModelName,
			ModelVersion:  f.ModelVersion,
			RawResponse:   []byte(f.RawResponse),
			IsReviewed:    false,
		})
	}
	if err := p.results.CreateBatch(rows); err != nil {
		logger.WithError(err).Error("persist results")
		return p.failFile(ctx, file, "failed to persist results: "+err.Error())
	}

	ocr, text, image := countBlocks(blocks)
	if _, err := p.files.TransitionStatus(file.ID, models.FileStatusCompleted,
		models.FileStatusAggregating); err != nil {
		return &StoreUnavailableError{Err: err}
	}
	_ = p.files.UpdateFields(file.ID, map[string]interface{}{
		"progress":           100,
		"ocr_blocks_count":   ocr,
		"text_blocks_count":  text,
		"image_blocks_count": image,
		"violation_count":    len(rows),
		"processed_at":       p.now(),
	})

	for _, f := range merged {
		metrics.ViolationsFound.WithLabelValues(string(f.ViolationType)).Inc()
	}
	metrics.FilesProcessed.WithLabelValues(string(file.FileType), string(models.FileStatusCompleted)).Inc()

	if _, err := p.progress.FileFinished(ctx, task.ID, len(rows)); err != nil {
		return err
	}
	logger.WithField("violations", len(rows)).Info("file completed")
	return nil
}

func (p *FileProcessor) extract(ctx context.Context, task *models.ReviewTask, file *models.ReviewFile) ([]Block, error) {
	opts := p.extractOpts
	if task.FrameInterval > 0 {
		opts.FrameInterval = task.FrameInterval
	}

	var blocks []Block
	err := p.withRetry(ctx, func(ctx context.Context) error {
		callCtx, cancel := p.callContext(ctx)
		defer cancel()

		data, err := p.blobs.Fetch(callCtx, file.FilePath)
		if err != nil {
			return err
		}
		blocks, err = p.extractor.Extract(callCtx, file, data, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

func (p *FileProcessor) score(ctx context.Context, task *models.ReviewTask, blocks []Block) ([]Finding, error) {
	strategy := StrategyFromTask(task)
	found := make([][]Finding, len(blocks))

	g, gctx := errgroup.WithContext(ctx)
	for i, block := range blocks {
		i, block := i, block
		g.Go(func() error {
			gate, scorer := p.textGate, "text"
			if block.Kind == BlockImage {
				gate, scorer = p.visionGate, "vision"
			}
			if err := gate.Acquire(gctx, 1); err != nil {
				return err
			}
			defer gate.Release(1)

			var out []Finding
			err := p.withRetry(gctx, func(ctx context.Context) error {
				callCtx, cancel := p.callContext(ctx)
				defer cancel()

				start := time.Now()
				var serr error
				if block.Kind == BlockImage {
					out, serr = p.vision.ScoreImage(callCtx, block, strategy)
				} else {
					out, serr = p.text.ScoreText(callCtx, block, strategy)
				}
				metrics.ScorerDuration.WithLabelValues(scorer).Observe(time.Since(start).Seconds())
				if serr != nil {
					metrics.ScorerRequests.WithLabelValues(scorer, "error").Inc()
				} else {
					metrics.ScorerRequests.WithLabelValues(scorer, "ok").Inc()
				}
				return serr
			})
			if err != nil {
				return err
			}
			found[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Finding
	for _, fs := range found {
		all = append(all, fs...)
	}
	return all, nil
}

// withRetry retries transient failures with exponential backoff and jitter up
// to the attempt budget. Validation and state errors pass through untouched.
func (p *FileProcessor) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	b := retry.NewExponential(500 * time.Millisecond)
	b = retry.WithJitter(250*time.Millisecond, b)
	b = retry.WithMaxRetries(p.maxAttempts, b)
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// callContext bounds one external call with its own timeout, detached from
// pipeline cancellation so an in-flight call is never cut off mid-request.
func (p *FileProcessor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.callTimeout)
}

// failFile moves the file to failed from any non-terminal stage, records the
// message and counts the file as processed.
func (p *FileProcessor) failFile(ctx context.Context, file *models.ReviewFile, message string) error {
	moved, err := p.files.TransitionStatus(file.ID, models.FileStatusFailed,
		models.FileStatusPending, models.FileStatusExtracting,
		models.FileStatusScoring, models.FileStatusAggregating)
	if err != nil {
		return &StoreUnavailableError{Err: err}
	}
	if !moved {
		return nil
	}
	_ = p.files.UpdateFields(file.ID, map[string]interface{}{
		"error_message": message,
		"processed_at":  p.now(),
	})
	metrics.FilesProcessed.WithLabelValues(string(file.FileType), string(models.FileStatusFailed)).Inc()
	_, err = p.progress.FileFinished(ctx, file.TaskID, 0)
	return err
}

// cancelFile handles a file whose cancel arrived before it was claimed.
func (p *FileProcessor) cancelFile(file *models.ReviewFile) error {
	moved, err := p.files.TransitionStatus(file.ID, models.FileStatusCancelled, models.FileStatusPending)
	if err != nil {
		return &StoreUnavailableError{Err: err}
	}
	if !moved {
		return nil
	}
	metrics.FilesProcessed.WithLabelValues(string(file.FileType), string(models.FileStatusCancelled)).Inc()
	_, err = p.progress.FileFinished(context.Background(), file.TaskID, 0)
	return err
}

// cancelClaimed halts an in-flight file at a stage boundary.
func (p *FileProcessor) cancelClaimed(ctx context.Context, file *models.ReviewFile) error {
	moved, err := p.files.TransitionStatus(file.ID, models.FileStatusCancelled,
		models.FileStatusExtracting, models.FileStatusScoring, models.FileStatusAggregating)
	if err != nil {
		return &StoreUnavailableError{Err: err}
	}
	if !moved {
		return nil
	}
	_ = p.files.UpdateFields(file.ID, map[string]interface{}{"processed_at": p.now()})
	metrics.FilesProcessed.WithLabelValues(string(file.FileType), string(models.FileStatusCancelled)).Inc()
	_, err = p.progress.FileFinished(context.Background(), file.TaskID, 0)
	return err
}

func countBlocks(blocks []Block) (ocr, text, image int) {
	for _, b := range blocks {
		switch {
		case b.Kind == BlockImage:
			image++
		case b.OCR:
			ocr++
		default:
			text++
		}
	}
	return ocr, text, image
}
