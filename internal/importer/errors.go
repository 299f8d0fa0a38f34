package importer

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/kbstudio/internal/models"
)

var (
	// ErrJobNotFound indicates the import job does not exist. It also matches models.ErrNotFound.
	ErrJobNotFound = fmt.Errorf("import job %w", models.ErrNotFound)

	// ErrInterrupted indicates the batch stopped before every pending row was attempted.
	ErrInterrupted = errors.New("import interrupted")

	// ErrEmptyTaxonomyName indicates a taxonomy name that slugifies to nothing.
	ErrEmptyTaxonomyName = errors.New("taxonomy name has no usable characters")
)

// ConfigError is a job-level configuration problem that is fatal to the batch.
type ConfigError struct {
	JobID  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.JobID == "" {
		return "import configuration: " + e.Reason
	}
	return fmt.Sprintf("import %s configuration: %s", e.JobID, e.Reason)
}

// ValidationError is a row-scoped data problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrNameRequired is returned for rows without a knowledge item name.
var ErrNameRequired = &ValidationError{Field: "name", Message: "name is required"}
