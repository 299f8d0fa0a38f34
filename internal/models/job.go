// Package models defines data structures for the kbstudio import pipeline.
package models

import "time"

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobStatusUploaded            JobStatus = "uploaded"
	JobStatusProcessing          JobStatus = "processing"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
)

// Terminal reports whether no further transition is expected without a new run.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed:
		return true
	}
	return false
}

// TargetKnowledgeItems is the only target entity the pipeline can populate.
const TargetKnowledgeItems = "knowledge_items"

// Log levels used in the job processing log.
const (
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogEntry is one timestamped line of a job's processing log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// MappingConfig is the header to field dictionary captured at upload time.
type MappingConfig struct {
	FieldMappings map[string]string `json:"field_mappings"`
}

// ImportJob represents one spreadsheet upload and its processing lifecycle.
type ImportJob struct {
	ID            string        `json:"id"`
	Filename      string        `json:"filename"`
	TargetEntity  string        `json:"target_entity"`
	MappingConfig MappingConfig `json:"mapping_config"`
	Status        JobStatus     `json:"status"`
	ProcessingLog []LogEntry    `json:"processing_log"`
	SourceKey     string        `json:"source_key,omitempty"` // Object storage key of the uploaded file
	TotalRows     int           `json:"total_rows"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewLogEntry builds a log entry stamped with the current time.
func NewLogEntry(level, message string) LogEntry {
	return LogEntry{Timestamp: time.Now().UTC(), Level: level, Message: message}
}
