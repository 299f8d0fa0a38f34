package models

import "time"

// RowStatus is the processing state of a staged row.
type RowStatus string

const (
	RowStatusPending   RowStatus = "pending"
	RowStatusProcessed RowStatus = "processed"
	RowStatusFailed    RowStatus = "failed"
)

// StagingRow is one parsed spreadsheet row awaiting normalization.
// It reaches a terminal status exactly once.
type StagingRow struct {
	ID             string            `json:"id"`
	ImportID       string            `json:"import_id"`
	RowNumber      int               `json:"row_number"`
	RawData        map[string]string `json:"raw_data"`    // Header -> cell, exactly as parsed
	MappedData     map[string]string `json:"mapped_data"` // Field -> value, via the column mapper
	Status         RowStatus         `json:"processing_status"`
	TargetRecordID *string           `json:"target_record_id,omitempty"`
	Errors         []string          `json:"errors,omitempty"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
}
