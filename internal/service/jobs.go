// Package service runs import batches in the background and tracks their progress.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/kbstudio/internal/importer"
	"github.com/raphaelgruber/kbstudio/internal/models"
)

// ErrAlreadyRunning is returned when a batch for the import is already in flight.
var ErrAlreadyRunning = errors.New("import is already being processed")

// ErrUnknownRun is returned by Wait for imports with no tracked run.
var ErrUnknownRun = errors.New("no run tracked for import")

// RunStatus represents the state of a background run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Runner executes one import batch.
type Runner interface {
	Run(ctx context.Context, jobID string, opts importer.RunOptions) (*importer.Summary, error)
}

// JobLister finds imports to resume at startup.
type JobLister interface {
	ListImportJobs(ctx context.Context, limit int) ([]models.ImportJob, error)
}

// Run is a snapshot of one batch over an import job.
type Run struct {
	ImportID    string            `json:"importId"`
	Status      RunStatus         `json:"status"`
	Progress    int               `json:"progress"`
	Total       int               `json:"total"`
	Summary     *importer.Summary `json:"summary,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// Terminal reports whether the run has finished.
func (r Run) Terminal() bool {
	return r.Status != RunStatusRunning
}

// tracked is the mutable state behind a Run.
type tracked struct {
	mu              sync.RWMutex
	run             Run
	lastProgressLog time.Time
	done            chan struct{}
	cancel          context.CancelFunc
	err             error
}

// snapshot returns a thread-safe copy of run state.
func (t *tracked) snapshot() Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.run
}

func (t *tracked) active() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.run.Status == RunStatusRunning
}

// JobManager tracks and manages background import runs. At most one run per
// import is active at a time.
type JobManager struct {
	runner Runner
	logger *slog.Logger

	mu   sync.RWMutex
	runs map[string]*tracked

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewJobManager creates a job manager that executes batches with runner.
func NewJobManager(runner Runner, logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &JobManager{
		runner:  runner,
		logger:  logger,
		runs:    make(map[string]*tracked),
		baseCtx: ctx,
		stop:    stop,
	}
}

// claim registers a new active run or reports the one already in flight.
func (m *JobManager) claim(importID string, cancel context.CancelFunc) (*tracked, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.runs[importID]; ok && existing.active() {
		return existing, ErrAlreadyRunning
	}
	t := &tracked{
		run: Run{
			ImportID:  importID,
			Status:    RunStatusRunning,
			StartedAt: time.Now(),
		},
		done:   make(chan struct{}),
		cancel: cancel,
	}
	m.runs[importID] = t
	return t, nil
}

// Start launches a batch in the background. The run is detached from ctx;
// it stops on Cancel or Shutdown.
func (m *JobManager) Start(_ context.Context, importID string) (Run, error) {
	runCtx, cancel := context.WithCancel(m.baseCtx)
	t, err := m.claim(importID, cancel)
	if err != nil {
		cancel()
		return t.snapshot(), err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("import run panicked", "import_id", importID, "panic", r)
				m.finish(t, nil, fmt.Errorf("internal panic: %v", r))
			}
		}()
		summary, err := m.runner.Run(runCtx, importID, importer.RunOptions{
			OnProgress: func(done, total int) { m.updateProgress(t, done, total) },
		})
		m.finish(t, summary, err)
	}()

	m.logger.Info("import run started", "import_id", importID)
	return t.snapshot(), nil
}

// RunSync executes a batch in the caller's goroutine with the same
// single-flight guarantee as Start.
func (m *JobManager) RunSync(ctx context.Context, importID string) (*importer.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t, err := m.claim(importID, cancel)
	if err != nil {
		return nil, err
	}

	summary, err := m.runner.Run(runCtx, importID, importer.RunOptions{
		OnProgress: func(done, total int) { m.updateProgress(t, done, total) },
	})
	m.finish(t, summary, err)
	return summary, err
}

// updateProgress records progress; log lines are debounced.
func (m *JobManager) updateProgress(t *tracked, done, total int) {
	t.mu.Lock()
	if done < t.run.Progress {
		t.mu.Unlock()
		return
	}
	t.run.Progress = done
	t.run.Total = total
	shouldLog := time.Since(t.lastProgressLog) > 5*time.Second || done%10 == 0 || done == total
	if shouldLog {
		t.lastProgressLog = time.Now()
	}
	t.mu.Unlock()

	if shouldLog {
		m.logger.Debug("import progress", "import_id", t.run.ImportID, "done", done, "total", total)
	}
}

func (m *JobManager) finish(t *tracked, summary *importer.Summary, err error) {
	t.mu.Lock()
	if t.run.Status != RunStatusRunning {
		t.mu.Unlock()
		return
	}
	now := time.Now()
	t.run.CompletedAt = &now
	t.run.Summary = summary
	t.err = err
	if err != nil {
		t.run.Status = RunStatusFailed
		t.run.Error = err.Error()
	} else {
		t.run.Status = RunStatusCompleted
	}
	if summary != nil && !summary.Skipped {
		t.run.Total = summary.ProcessedCount + summary.ErrorCount + summary.PendingCount
		t.run.Progress = summary.ProcessedCount + summary.ErrorCount
	}
	importID := t.run.ImportID
	t.mu.Unlock()
	close(t.done)

	if err != nil {
		m.logger.Error("import run failed", "import_id", importID, "error", err)
		return
	}
	m.logger.Info("import run completed", "import_id", importID,
		"processed", summary.ProcessedCount, "errors", summary.ErrorCount)
}

func (m *JobManager) lookup(importID string) (*tracked, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.runs[importID]
	return t, ok
}

// Get returns a snapshot of the latest run for an import.
func (m *JobManager) Get(importID string) (Run, bool) {
	t, ok := m.lookup(importID)
	if !ok {
		return Run{}, false
	}
	return t.snapshot(), true
}

// List returns snapshots of all tracked runs, most recent first.
func (m *JobManager) List() []Run {
	m.mu.RLock()
	all := make([]*tracked, 0, len(m.runs))
	for _, t := range m.runs {
		all = append(all, t)
	}
	m.mu.RUnlock()

	out := make([]Run, 0, len(all))
	for _, t := range all {
		out = append(out, t.snapshot())
	}
	slices.SortFunc(out, func(a, b Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out
}

// Wait blocks until the latest run for the import finishes or ctx is done.
// The returned error is the run's own error once it has finished.
func (m *JobManager) Wait(ctx context.Context, importID string) (Run, error) {
	t, ok := m.lookup(importID)
	if !ok {
		return Run{}, ErrUnknownRun
	}
	select {
	case <-t.done:
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.run, t.err
	case <-ctx.Done():
		return t.snapshot(), ctx.Err()
	}
}

// Cancel stops the active run for an import. Reports whether one was running.
func (m *JobManager) Cancel(importID string) bool {
	t, ok := m.lookup(importID)
	if !ok || !t.active() {
		return false
	}
	t.cancel()
	return true
}

// ResumeInterrupted restarts imports left in processing state by a previous process.
func (m *JobManager) ResumeInterrupted(ctx context.Context, jobs JobLister) (int, error) {
	list, err := jobs.ListImportJobs(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list imports: %w", err)
	}

	resumed := 0
	for _, job := range list {
		if job.Status != models.JobStatusProcessing {
			continue
		}
		if _, err := m.Start(ctx, job.ID); err != nil {
			m.logger.Warn("failed to resume import", "import_id", job.ID, "error", err)
			continue
		}
		resumed++
	}
	if resumed == 0 {
		m.logger.Info("no interrupted imports to resume")
	} else {
		m.logger.Info("resumed interrupted imports", "count", resumed)
	}
	return resumed, nil
}

// Shutdown cancels in-flight runs and waits for them to record their state.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
