package importer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/kbstudio/internal/mapping"
	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/raphaelgruber/kbstudio/internal/spreadsheet"
)

// UploadInput is one spreadsheet handed to the stager.
type UploadInput struct {
	Filename     string
	TargetEntity string // Defaults to models.TargetKnowledgeItems
	SheetName    string // Optional worksheet for .xlsx files
	Content      []byte
}

// Stager turns an uploaded spreadsheet into an import job with pending staging rows.
type Stager struct {
	jobs   JobStore
	blobs  BlobStore
	mapper *mapping.Mapper
	logger *slog.Logger
}

// NewStager creates a stager. blobs may be nil, in which case source files are not kept.
func NewStager(jobs JobStore, blobs BlobStore, mapper *mapping.Mapper, logger *slog.Logger) *Stager {
	if mapper == nil {
		mapper = mapping.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stager{jobs: jobs, blobs: blobs, mapper: mapper, logger: logger}
}

// SourceKey returns the blob key an upload is stored under.
func SourceKey(jobID, filename string) string {
	return fmt.Sprintf("imports/%s/%s", jobID, filepath.Base(filename))
}

// Parse reads and validates an upload without staging it.
func (s *Stager) Parse(in UploadInput) (*spreadsheet.Sheet, error) {
	sheet, err := spreadsheet.Read(in.Filename, bytes.NewReader(in.Content), spreadsheet.Options{SheetName: in.SheetName})
	if err != nil {
		return nil, err
	}
	if err := s.mapper.ValidateHeaders(sheet.Headers); err != nil {
		return nil, err
	}
	return sheet, nil
}

// Stage parses the upload, validates its headers, stores the source file,
// creates the job and inserts one pending staging row per data row.
func (s *Stager) Stage(ctx context.Context, in UploadInput) (*models.ImportJob, error) {
	target := in.TargetEntity
	if target == "" {
		target = models.TargetKnowledgeItems
	}
	if target != models.TargetKnowledgeItems {
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported target entity %q", target)}
	}

	sheet, err := s.Parse(in)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.ImportJob{
		ID:            uuid.NewString(),
		Filename:      filepath.Base(in.Filename),
		TargetEntity:  target,
		MappingConfig: models.MappingConfig{FieldMappings: s.mapper.FieldMappings()},
		Status:        models.JobStatusUploaded,
		TotalRows:     len(sheet.Rows),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if s.blobs != nil {
		key := SourceKey(job.ID, job.Filename)
		if err := s.blobs.Put(ctx, key, in.Content, contentType(job.Filename)); err != nil {
			return nil, fmt.Errorf("store source file: %w", err)
		}
		job.SourceKey = key
	}

	job.ProcessingLog = []models.LogEntry{
		models.NewLogEntry(models.LogLevelInfo, fmt.Sprintf("uploaded %s with %d rows", job.Filename, len(sheet.Rows))),
	}
	if err := s.jobs.CreateImportJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create import job: %w", err)
	}

	rows := make([]models.StagingRow, 0, len(sheet.Rows))
	for _, r := range sheet.Rows {
		rows = append(rows, models.StagingRow{
			ID:         uuid.NewString(),
			ImportID:   job.ID,
			RowNumber:  r.Number,
			RawData:    r.Values,
			MappedData: s.mapper.Map(r.Values),
			Status:     models.RowStatusPending,
		})
	}
	if err := s.jobs.InsertStagingRows(ctx, rows); err != nil {
		entry := models.NewLogEntry(models.LogLevelError, fmt.Sprintf("staging rows failed: %v", err))
		if uerr := s.jobs.UpdateImportJobStatus(context.WithoutCancel(ctx), job.ID, models.JobStatusFailed, entry); uerr != nil {
			s.logger.Error("failed to mark import failed", "import_id", job.ID, "error", uerr)
		}
		return nil, fmt.Errorf("stage rows: %w", err)
	}

	s.logger.Info("import staged", "import_id", job.ID, "filename", job.Filename, "rows", len(rows))
	return job, nil
}

func contentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	}
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}
