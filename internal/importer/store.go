// Package importer implements the spreadsheet import pipeline: taxonomy
// resolution, per-row normalization and batch orchestration over a staging table.
package importer

import (
	"context"
	"time"

	"github.com/raphaelgruber/kbstudio/internal/models"
)

// JobStore persists import jobs and their staged rows.
type JobStore interface {
	CreateImportJob(ctx context.Context, job *models.ImportJob) error
	// GetImportJob returns models.ErrNotFound when the job does not exist.
	GetImportJob(ctx context.Context, id string) (*models.ImportJob, error)
	ListImportJobs(ctx context.Context, limit int) ([]models.ImportJob, error)
	// UpdateImportJobStatus sets the status and appends entries to the processing log.
	UpdateImportJobStatus(ctx context.Context, id string, status models.JobStatus, entries ...models.LogEntry) error

	InsertStagingRows(ctx context.Context, rows []models.StagingRow) error
	// ListStagingRows returns rows ordered by row number. An empty status lists all rows.
	ListStagingRows(ctx context.Context, importID string, status models.RowStatus) ([]models.StagingRow, error)
	// MarkRowProcessed and MarkRowFailed only transition pending rows and
	// return models.ErrConflict for rows already in a terminal state.
	MarkRowProcessed(ctx context.Context, rowID, targetID string) error
	MarkRowFailed(ctx context.Context, rowID string, errs []string) error
}

// TaxonomyStore persists reference entities.
type TaxonomyStore interface {
	// UpsertTaxonomy atomically inserts the entity unless one with the same
	// kind and slug exists, in which case the existing row is returned unchanged.
	// For planning layers the store assigns DisplayOrder on insert.
	UpsertTaxonomy(ctx context.Context, entity models.TaxonomyEntity) (*models.TaxonomyEntity, bool, error)
}

// ItemStore persists target records.
type ItemStore interface {
	// CreateKnowledgeItem returns models.ErrConflict if the ID already exists.
	CreateKnowledgeItem(ctx context.Context, item *models.KnowledgeItem) error
	// CreateUseCase returns models.ErrConflict if the ID already exists.
	CreateUseCase(ctx context.Context, uc *models.UseCase) error
}

// Store is the full persistence surface used by the pipeline.
type Store interface {
	JobStore
	TaxonomyStore
	ItemStore
}

// BlobStore keeps uploaded source files.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Recorder receives pipeline metrics.
type Recorder interface {
	RecordRow(outcome string, d time.Duration)
	RecordTaxonomy(kind string, created bool, d time.Duration)
	RecordBatch(status string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordRow(string, time.Duration)            {}
func (nopRecorder) RecordTaxonomy(string, bool, time.Duration) {}
func (nopRecorder) RecordBatch(string, time.Duration)          {}
