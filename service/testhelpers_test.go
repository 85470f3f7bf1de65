package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mediaguard/reviewcenter/events"
	"github.com/mediaguard/reviewcenter/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// ---- fake repositories ----

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.ReviewTask
	files *fakeFileRepo
}

func newFakeTaskRepo(files *fakeFileRepo) *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[uuid.UUID]*models.ReviewTask), files: files}
}

func (r *fakeTaskRepo) Create(task *models.ReviewTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

func (r *fakeTaskRepo) GetByID(id uuid.UUID) (*models.ReviewTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *task
	return &cp, nil
}

func (r *fakeTaskRepo) Update(task *models.ReviewTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

func (r *fakeTaskRepo) Delete(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
	return nil
}

func (r *fakeTaskRepo) List(limit, offset int) ([]*models.ReviewTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ReviewTask
	for _, t := range r.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeTaskRepo) Count() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.tasks)), nil
}

func (r *fakeTaskRepo) GetWithFiles(id uuid.UUID) (*models.ReviewTask, error) {
	task, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}
	files, err := r.files.ListByTask(id)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		task.Files = append(task.Files, *f)
	}
	return task, nil
}

func (r *fakeTaskRepo) ListByStatus(status models.TaskStatus, limit, offset int) ([]*models.ReviewTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ReviewTask
	for _, t := range r.tasks {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) UpdateFields(id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	applyTaskUpdates(task, updates)
	return nil
}

func applyTaskUpdates(task *models.ReviewTask, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "started_at":
			ts := v.(time.Time)
			task.StartedAt = &ts
		case "completed_at":
			ts := v.(time.Time)
			task.CompletedAt = &ts
		case "error_message":
			task.ErrorMessage = v.(string)
		case "processed_files":
			task.ProcessedFiles = v.(int)
		case "violation_count":
			task.ViolationCount = v.(int)
		case "progress":
			task.Progress = v.(int)
		case "status":
			task.Status = v.(models.TaskStatus)
		}
	}
}

func (r *fakeTaskRepo) TransitionStatus(id uuid.UUID, to models.TaskStatus, from ...models.TaskStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	for _, f := range from {
		if task.Status == f {
			task.Status = to
			if to.Terminal() {
				now := time.Now().UTC()
				task.CompletedAt = &now
			}
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTaskRepo) IncrementProcessed(id uuid.UUID, violations int) (*models.ReviewTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	task.ProcessedFiles++
	task.ViolationCount += violations
	task.Progress = models.ComputeProgress(task.ProcessedFiles, task.TotalFiles)
	cp := *task
	return &cp, nil
}

func (r *fakeTaskRepo) AddFiles(id uuid.UUID, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	task.TotalFiles += n
	return nil
}

func (r *fakeTaskRepo) DeleteCascade(id uuid.UUID) error {
	files, _ := r.files.ListByTask(id)
	for _, f := range files {
		if r.files.results != nil {
			rows, _ := r.files.results.ListByFile(f.ID, 0, 0)
			for _, res := range rows {
				_ = r.files.results.Delete(res.ID)
			}
		}
		_ = r.files.Delete(f.ID)
	}
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
	return nil
}

type fakeFileRepo struct {
	mu      sync.Mutex
	files   map[uuid.UUID]*models.ReviewFile
	results *fakeResultRepo
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{files: make(map[uuid.UUID]*models.ReviewFile)}
}

func (r *fakeFileRepo) Create(file *models.ReviewFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	file.CreatedAt = time.Now().UTC()
	cp := *file
	r.files[file.ID] = &cp
	return nil
}

func (r *fakeFileRepo) GetByID(id uuid.UUID) (*models.ReviewFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *file
	return &cp, nil
}

func (r *fakeFileRepo) Update(file *models.ReviewFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *file
	r.files[file.ID] = &cp
	return nil
}

func (r *fakeFileRepo) Delete(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, id)
	return nil
}

func (r *fakeFileRepo) List(limit, offset int) ([]*models.ReviewFile, error) {
	return r.ListByTask(uuid.Nil)
}

func (r *fakeFileRepo) Count() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.files)), nil
}

func (r *fakeFileRepo) ListByTask(taskID uuid.UUID) ([]*models.ReviewFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ReviewFile
	for _, f := range r.files {
		if taskID == uuid.Nil || f.TaskID == taskID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeFileRepo) ListByTaskAndStatus(taskID uuid.UUID, status models.FileStatus) ([]*models.ReviewFile, error) {
	all, _ := r.ListByTask(taskID)
	var out []*models.ReviewFile
	for _, f := range all {
		if f.Status == status {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFileRepo) GetByContentHash(taskID uuid.UUID, hash string) (*models.ReviewFile, error) {
	all, _ := r.ListByTask(taskID)
	for _, f := range all {
		if f.ContentHash == hash {
			return f, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeFileRepo) UpdateFields(id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for k, v := range updates {
		switch k {
		case "progress":
			file.Progress = v.(int)
		case "error_message":
			file.ErrorMessage = v.(string)
		case "processed_at":
			ts := v.(time.Time)
			file.ProcessedAt = &ts
		case "ocr_blocks_count":
			file.OCRBlocks = v.(int)
		case "text_blocks_count":
			file.TextBlocks = v.(int)
		case "image_blocks_count":
			file.ImageBlocks = v.(int)
		case "violation_count":
			file.ViolationCount = v.(int)
		}
	}
	return nil
}

func (r *fakeFileRepo) TransitionStatus(id uuid.UUID, to models.FileStatus, from ...models.FileStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	for _, f := range from {
		if file.Status == f {
			file.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeFileRepo) CountUnfinished(taskID uuid.UUID) (int64, error) {
	all, _ := r.ListByTask(taskID)
	var n int64
	for _, f := range all {
		if !f.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (r *fakeFileRepo) CountByTaskAndStatus(taskID uuid.UUID, status models.FileStatus) (int64, error) {
	all, _ := r.ListByTaskAndStatus(taskID, status)
	return int64(len(all)), nil
}

type fakeResultRepo struct {
	mu      sync.Mutex
	results map[uuid.UUID]*models.ReviewResult
	order   []uuid.UUID
	files   *fakeFileRepo
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{results: make(map[uuid.UUID]*models.ReviewResult)}
}

func (r *fakeResultRepo) Create(res *models.ReviewResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	cp := *res
	r.results[res.ID] = &cp
	r.order = append(r.order, res.ID)
	return nil
}

func (r *fakeResultRepo) GetByID(id uuid.UUID) (*models.ReviewResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *res
	return &cp, nil
}

func (r *fakeResultRepo) Update(res *models.ReviewResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *res
	r.results[res.ID] = &cp
	return nil
}

func (r *fakeResultRepo) Delete(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.results, id)
	return nil
}

func (r *fakeResultRepo) List(limit, offset int) ([]*models.ReviewResult, error) {
	return r.all(), nil
}

func (r *fakeResultRepo) Count() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.results)), nil
}

func (r *fakeResultRepo) all() []*models.ReviewResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ReviewResult
	for _, id := range r.order {
		if res, ok := r.results[id]; ok {
			cp := *res
			out = append(out, &cp)
		}
	}
	return out
}

func (r *fakeResultRepo) CreateBatch(results []*models.ReviewResult) error {
	for _, res := range results {
		if err := r.Create(res); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeResultRepo) ListByFile(fileID uuid.UUID, limit, offset int) ([]*models.ReviewResult, error) {
	var out []*models.ReviewResult
	for _, res := range r.all() {
		if res.FileID == fileID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *fakeResultRepo) CountByFile(fileID uuid.UUID) (int64, error) {
	out, _ := r.ListByFile(fileID, 0, 0)
	return int64(len(out)), nil
}

func (r *fakeResultRepo) PendingReview(threshold float64, limit, offset int) ([]*models.ReviewResult, error) {
	var out []*models.ReviewResult
	for _, res := range r.all() {
		if res.IsReviewed {
			continue
		}
		if res.Confidence < threshold || res.ViolationType.ForcedReview() {
			out = append(out, res)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence < out[j].Confidence
		}
		fi, fj := out[i].ViolationType.ForcedReview(), out[j].ViolationType.ForcedReview()
		if fi != fj {
			return fi
		}
		return false
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeResultRepo) CountConfirmedByTask(taskID uuid.UUID) (map[models.ViolationType]int64, error) {
	out := make(map[models.ViolationType]int64)
	for _, res := range r.all() {
		if res.Verdict == models.VerdictRejected {
			continue
		}
		if r.files != nil {
			file, err := r.files.GetByID(res.FileID)
			if err != nil || file.TaskID != taskID {
				continue
			}
		}
		out[res.ViolationType]++
	}
	return out, nil
}

func (r *fakeResultRepo) UpdateReview(id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for k, v := range updates {
		switch k {
		case "is_reviewed":
			res.IsReviewed = v.(bool)
		case "reviewer_id":
			res.ReviewerID = v.(string)
		case "review_result":
			res.Verdict = v.(models.ReviewVerdict)
		case "review_comment":
			res.ReviewComment = v.(string)
		case "review_time":
			ts := v.(time.Time)
			res.ReviewTime = &ts
		}
	}
	return nil
}

// ---- fake adapters ----

type fakeBlob struct {
	data map[string][]byte
}

func (b *fakeBlob) Fetch(ctx context.Context, path string) ([]byte, error) {
	if data, ok := b.data[path]; ok {
		return data, nil
	}
	return []byte("content"), nil
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(file *models.ReviewFile) ([]Block, error)
}

func (e *fakeExtractor) Extract(ctx context.Context, file *models.ReviewFile, data []byte, opts ExtractOptions) ([]Block, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.fn(file)
}

func (e *fakeExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeVisionScorer struct {
	fn func(block Block) ([]Finding, error)
}

func (s *fakeVisionScorer) ScoreImage(ctx context.Context, block Block, strategy Strategy) ([]Finding, error) {
	return s.fn(block)
}

type fakeTextScorer struct {
	mu    sync.Mutex
	calls int
	fn    func(block Block) ([]Finding, error)
}

func (s *fakeTextScorer) ScoreText(ctx context.Context, block Block, strategy Strategy) ([]Finding, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(block)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) byType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
