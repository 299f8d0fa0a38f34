package importer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/kbstudio/internal/mapping"
	"github.com/raphaelgruber/kbstudio/internal/models"
)

// DefaultMaxErrors caps the error messages kept in a summary.
const DefaultMaxErrors = 10

// Summary aggregates the outcome of one batch run.
type Summary struct {
	ProcessedCount int      `json:"processedCount"`
	ErrorCount     int      `json:"errorCount"`
	PartialCount   int      `json:"partialCount,omitempty"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings,omitempty"`
	Skipped        bool     `json:"skipped,omitempty"`     // No pending rows; job untouched
	Interrupted    bool     `json:"interrupted,omitempty"` // Cancelled or timed out between rows
	PendingCount   int      `json:"pendingCount,omitempty"`
	DurationMs     int64    `json:"durationMs"`
}

// Config configures an Orchestrator.
type Config struct {
	Logger   *slog.Logger
	Recorder Recorder
	// Concurrency is the number of row workers. Values below 2 process rows sequentially.
	Concurrency int
	// Timeout bounds a whole batch; zero means no limit.
	Timeout time.Duration
	// MaxErrors caps Summary.Errors and Summary.Warnings. Defaults to DefaultMaxErrors.
	MaxErrors int
	// ResolverOptions are applied to the per-batch taxonomy resolver.
	ResolverOptions []ResolverOption
}

// RunOptions carries per-run hooks.
type RunOptions struct {
	// OnProgress is called after each attempted row with the attempted count and the total.
	OnProgress func(done, total int)
}

// Orchestrator runs import batches over pending staging rows.
type Orchestrator struct {
	store Store
	cfg   Config
}

// NewOrchestrator creates an orchestrator over store.
func NewOrchestrator(store Store, cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultMaxErrors
	}
	return &Orchestrator{store: store, cfg: cfg}
}

// Run processes every pending row of the job.
// Only job-level errors are returned: ErrJobNotFound, *ConfigError, store
// failures while loading, and ErrInterrupted. Row failures are counted in the summary.
func (o *Orchestrator) Run(ctx context.Context, jobID string, opts RunOptions) (*Summary, error) {
	start := time.Now()
	logger := o.cfg.Logger.With("import_id", jobID)

	job, err := o.store.GetImportJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("load import %s: %w", jobID, ErrJobNotFound)
		}
		return nil, fmt.Errorf("load import %s: %w", jobID, err)
	}

	if cfgErr := validateJob(job); cfgErr != nil {
		logger.Error("import misconfigured", "error", cfgErr)
		if err := o.store.UpdateImportJobStatus(ctx, job.ID, models.JobStatusFailed,
			models.NewLogEntry(models.LogLevelError, cfgErr.Reason)); err != nil {
			logger.Warn("failed to record import failure", "error", err)
		}
		o.cfg.Recorder.RecordBatch(string(models.JobStatusFailed), time.Since(start))
		return nil, cfgErr
	}

	rows, err := o.store.ListStagingRows(ctx, job.ID, models.RowStatusPending)
	if err != nil {
		return nil, fmt.Errorf("load pending rows: %w", err)
	}
	if len(rows) == 0 {
		logger.Info("no pending rows, nothing to do")
		return &Summary{Skipped: true, Errors: []string{}, DurationMs: time.Since(start).Milliseconds()}, nil
	}

	if err := o.store.UpdateImportJobStatus(ctx, job.ID, models.JobStatusProcessing,
		models.NewLogEntry(models.LogLevelInfo, fmt.Sprintf("processing %d pending rows", len(rows)))); err != nil {
		return nil, fmt.Errorf("mark import processing: %w", err)
	}
	logger.Info("import started", "rows", len(rows), "concurrency", o.workers())

	runCtx := ctx
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	resolver := NewResolver(o.store, append([]ResolverOption{
		WithResolverLogger(logger),
		WithResolverRecorder(o.cfg.Recorder),
	}, o.cfg.ResolverOptions...)...)
	proc := NewProcessor(o.store, o.store, resolver, logger, o.cfg.Recorder)

	acc := newAccumulator(len(rows), o.cfg.MaxErrors, opts.OnProgress)
	o.dispatch(runCtx, job, rows, proc, acc)

	summary := acc.summary()
	summary.DurationMs = time.Since(start).Milliseconds()

	// Bookkeeping must land even when the batch context is done.
	finishCtx := context.WithoutCancel(ctx)

	if summary.PendingCount > 0 {
		cause := runCtx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		summary.Interrupted = true
		msg := fmt.Sprintf("import interrupted: %d processed, %d failed, %d still pending (%v)",
			summary.ProcessedCount, summary.ErrorCount, summary.PendingCount, cause)
		if err := o.store.UpdateImportJobStatus(finishCtx, job.ID, models.JobStatusFailed,
			models.NewLogEntry(models.LogLevelError, msg)); err != nil {
			logger.Warn("failed to record interrupted import", "error", err)
		}
		logger.Warn("import interrupted", "processed", summary.ProcessedCount, "errors", summary.ErrorCount, "pending", summary.PendingCount)
		o.cfg.Recorder.RecordBatch(string(models.JobStatusFailed), time.Since(start))
		return summary, fmt.Errorf("%w: %w", ErrInterrupted, cause)
	}

	status := models.JobStatusCompleted
	level := models.LogLevelInfo
	if summary.ErrorCount > 0 {
		status = models.JobStatusCompletedWithErrors
		level = models.LogLevelWarn
	}
	msg := fmt.Sprintf("import finished: %d processed, %d failed", summary.ProcessedCount, summary.ErrorCount)
	if summary.PartialCount > 0 {
		msg += fmt.Sprintf(", %d with use case warnings", summary.PartialCount)
	}
	if err := o.store.UpdateImportJobStatus(finishCtx, job.ID, status, models.NewLogEntry(level, msg)); err != nil {
		return summary, fmt.Errorf("mark import %s: %w", status, err)
	}

	logger.Info("import finished", "status", status, "processed", summary.ProcessedCount,
		"errors", summary.ErrorCount, "partial", summary.PartialCount, "duration_ms", summary.DurationMs)
	o.cfg.Recorder.RecordBatch(string(status), time.Since(start))
	return summary, nil
}

func validateJob(job *models.ImportJob) *ConfigError {
	if len(job.MappingConfig.FieldMappings) == 0 {
		return &ConfigError{JobID: job.ID, Reason: "no field mappings configured"}
	}
	target := job.TargetEntity
	if target == "" {
		target = models.TargetKnowledgeItems
	}
	if target != models.TargetKnowledgeItems {
		return &ConfigError{JobID: job.ID, Reason: fmt.Sprintf("unsupported target entity %q", job.TargetEntity)}
	}
	return nil
}

func (o *Orchestrator) workers() int {
	if o.cfg.Concurrency < 2 {
		return 1
	}
	return o.cfg.Concurrency
}

// dispatch feeds rows to a fixed worker set. Rows sharing a category slug go
// to the same worker so their first-seen taxonomy writes stay ordered.
func (o *Orchestrator) dispatch(ctx context.Context, job *models.ImportJob, rows []models.StagingRow, proc *Processor, acc *accumulator) {
	workers := min(o.workers(), len(rows))

	queues := make([]chan models.StagingRow, workers)
	for i := range queues {
		queues[i] = make(chan models.StagingRow, len(rows))
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for row := range queues[workerID] {
				if ctx.Err() != nil {
					return
				}
				acc.add(proc.Process(ctx, job, row))
			}
		}(i)
	}

	for _, row := range rows {
		queues[partition(job, row, workers)] <- row
	}
	for _, q := range queues {
		close(q)
	}
	wg.Wait()
}

func partition(job *models.ImportJob, row models.StagingRow, workers int) int {
	if workers == 1 {
		return 0
	}
	key := models.Slugify(RowData(job, row)[mapping.FieldCategoryName])
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(workers))
}

// accumulator collects row results from concurrent workers.
type accumulator struct {
	mu         sync.Mutex
	total      int
	done       int
	maxErrors  int
	onProgress func(done, total int)
	s          Summary
}

func newAccumulator(total, maxErrors int, onProgress func(done, total int)) *accumulator {
	return &accumulator{
		total:      total,
		maxErrors:  maxErrors,
		onProgress: onProgress,
		s:          Summary{Errors: []string{}},
	}
}

func (a *accumulator) add(res RowResult) {
	a.mu.Lock()
	switch res.Outcome {
	case OutcomeProcessed:
		a.s.ProcessedCount++
	case OutcomePartialSuccess:
		a.s.ProcessedCount++
		a.s.PartialCount++
		for _, w := range res.Warnings {
			if len(a.s.Warnings) < a.maxErrors {
				a.s.Warnings = append(a.s.Warnings, fmt.Sprintf("row %d: %s", res.RowNumber, w))
			}
		}
	case OutcomeFailed:
		a.s.ErrorCount++
		if len(a.s.Errors) < a.maxErrors {
			a.s.Errors = append(a.s.Errors, fmt.Sprintf("row %d: %v", res.RowNumber, res.Err))
		}
	case OutcomeSkipped:
		a.mu.Unlock()
		return
	}
	a.done++
	// Called under the lock so callers observe done in increasing order.
	if a.onProgress != nil {
		a.onProgress(a.done, a.total)
	}
	a.mu.Unlock()
}

func (a *accumulator) summary() *Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.s
	s.PendingCount = a.total - a.done
	return &s
}
