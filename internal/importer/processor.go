package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/kbstudio/internal/mapping"
	"github.com/raphaelgruber/kbstudio/internal/models"
)

// Outcome is the result class of processing one staged row.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	// OutcomePartialSuccess means the item was created but a use-case child record was not.
	OutcomePartialSuccess Outcome = "partial_success"
	OutcomeFailed         Outcome = "failed"
	// OutcomeSkipped means processing was cancelled; the row stays pending.
	OutcomeSkipped Outcome = "skipped"
)

// RowResult describes what happened to one staged row.
type RowResult struct {
	RowID     string
	RowNumber int
	Outcome   Outcome
	ItemID    string
	Err       error
	Warnings  []string
}

// rowNamespace seeds deterministic record IDs so a retried row can never
// produce a second knowledge item.
var rowNamespace = uuid.MustParse("8f0c1e0a-4b7e-4d7c-9a44-0b6f3a6c2d11")

// ItemIDForRow returns the knowledge item ID a staging row produces.
func ItemIDForRow(rowID string) string {
	return uuid.NewSHA1(rowNamespace, []byte("item:"+rowID)).String()
}

func useCaseIDForRow(rowID string, kind models.UseCaseKind) string {
	return uuid.NewSHA1(rowNamespace, []byte("use_case:"+string(kind)+":"+rowID)).String()
}

// Processor normalizes staged rows into knowledge items.
type Processor struct {
	jobs     JobStore
	items    ItemStore
	resolver *Resolver
	logger   *slog.Logger
	recorder Recorder
}

// NewProcessor creates a row processor. A nil logger or recorder selects defaults.
func NewProcessor(jobs JobStore, items ItemStore, resolver *Resolver, logger *slog.Logger, recorder Recorder) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Processor{
		jobs:     jobs,
		items:    items,
		resolver: resolver,
		logger:   logger,
		recorder: recorder,
	}
}

// RowData returns the mapped field values of a row, re-deriving them from the
// raw cells with the job's field mappings when the row was staged without them.
func RowData(job *models.ImportJob, row models.StagingRow) map[string]string {
	if len(row.MappedData) > 0 {
		return row.MappedData
	}
	var fields map[string]string
	if job != nil {
		fields = job.MappingConfig.FieldMappings
	}
	return mapping.New(fields, nil).Map(row.RawData)
}

// Process normalizes one pending row and records its terminal state.
// Row-level failures are reported in the result, never returned.
func (p *Processor) Process(ctx context.Context, job *models.ImportJob, row models.StagingRow) RowResult {
	start := time.Now()
	res := p.process(ctx, job, row)
	p.recorder.RecordRow(string(res.Outcome), time.Since(start))
	return res
}

func (p *Processor) process(ctx context.Context, job *models.ImportJob, row models.StagingRow) RowResult {
	res := RowResult{RowID: row.ID, RowNumber: row.RowNumber}

	itemID, warnings, err := p.build(ctx, job, row)
	if err != nil {
		if ctx.Err() != nil {
			res.Outcome = OutcomeSkipped
			res.Err = err
			return res
		}
		res.Outcome = OutcomeFailed
		res.Err = err
		if markErr := p.jobs.MarkRowFailed(ctx, row.ID, []string{err.Error()}); markErr != nil {
			res.Err = fmt.Errorf("%w (recording failure: %v)", err, markErr)
		}
		p.logger.Warn("row failed", "import_id", row.ImportID, "row", row.RowNumber, "error", err)
		return res
	}

	if err := p.jobs.MarkRowProcessed(ctx, row.ID, itemID); err != nil {
		res.Outcome = OutcomeFailed
		if ctx.Err() != nil {
			res.Outcome = OutcomeSkipped
		}
		res.ItemID = itemID
		res.Err = fmt.Errorf("record row outcome: %w", err)
		p.logger.Error("failed to mark row processed", "import_id", row.ImportID, "row", row.RowNumber, "item_id", itemID, "error", err)
		return res
	}

	res.ItemID = itemID
	res.Warnings = warnings
	res.Outcome = OutcomeProcessed
	if len(warnings) > 0 {
		res.Outcome = OutcomePartialSuccess
	}
	return res
}

// build resolves taxonomy, inserts the item and its use cases.
// Returns the item ID and any child-record warnings.
func (p *Processor) build(ctx context.Context, job *models.ImportJob, row models.StagingRow) (string, []string, error) {
	data := RowData(job, row)

	name := strings.TrimSpace(data[mapping.FieldName])
	if name == "" {
		return "", nil, ErrNameRequired
	}

	itemID := ItemIDForRow(row.ID)
	item := &models.KnowledgeItem{
		ID:                    itemID,
		Name:                  name,
		Slug:                  models.ItemSlug(name, row.RowNumber),
		Description:           optional(data, mapping.FieldDescription),
		Background:            optional(data, mapping.FieldBackground),
		Source:                optional(data, mapping.FieldSource),
		DurationMinutes:       mapping.Int(data[mapping.FieldDurationMinutes]),
		TeamSizeMin:           mapping.Int(data[mapping.FieldTeamSizeMin]),
		TeamSizeMax:           mapping.Int(data[mapping.FieldTeamSizeMax]),
		DifficultyLevel:       optional(data, mapping.FieldDifficultyLevel),
		Tags:                  mapping.List(data[mapping.FieldTags]),
		IsFeatured:            mapping.Bool(data[mapping.FieldIsFeatured]),
		IsFacilitatorRequired: mapping.Bool(data[mapping.FieldIsFacilitatorRequired]),
		CreatedAt:             time.Now().UTC(),
	}
	if row.ImportID != "" {
		importID := row.ImportID
		item.ImportID = &importID
	}

	taxonomy := []struct {
		kind        models.TaxonomyKind
		nameField   string
		descField   string
		destination **string
	}{
		{models.TaxonomyCategory, mapping.FieldCategoryName, mapping.FieldCategoryDescription, &item.CategoryID},
		{models.TaxonomyDomain, mapping.FieldDomainName, mapping.FieldDomainDescription, &item.DomainID},
		{models.TaxonomyPlanningLayer, mapping.FieldPlanningLayerName, mapping.FieldPlanningLayerDescription, &item.PlanningLayerID},
	}
	for _, t := range taxonomy {
		taxName := strings.TrimSpace(data[t.nameField])
		if taxName == "" {
			continue
		}
		id, err := p.resolver.Resolve(ctx, t.kind, taxName, optional(data, t.descField))
		if err != nil {
			return "", nil, err
		}
		*t.destination = &id
	}

	if err := p.items.CreateKnowledgeItem(ctx, item); err != nil {
		// A previous attempt created the item but never recorded the row.
		if !errors.Is(err, models.ErrConflict) {
			return "", nil, fmt.Errorf("create knowledge item: %w", err)
		}
		p.logger.Info("knowledge item already exists for row", "row", row.RowNumber, "item_id", itemID)
	}

	var warnings []string
	for _, uc := range buildUseCases(row.ID, itemID, data) {
		if err := p.items.CreateUseCase(ctx, uc); err != nil && !errors.Is(err, models.ErrConflict) {
			msg := fmt.Sprintf("%s use case: %v", uc.Kind, err)
			p.logger.Warn("use case insert failed", "row", row.RowNumber, "item_id", itemID, "kind", uc.Kind, "error", err)
			warnings = append(warnings, msg)
		}
	}

	return itemID, warnings, nil
}

// buildUseCases constructs up to two W5H child records; blocks without any
// values are omitted.
func buildUseCases(rowID, itemID string, data map[string]string) []*models.UseCase {
	var out []*models.UseCase
	blocks := []struct {
		kind   models.UseCaseKind
		prefix string
	}{
		{models.UseCaseGeneric, mapping.GenericPrefix},
		{models.UseCaseExample, mapping.ExamplePrefix},
	}
	for _, b := range blocks {
		uc := &models.UseCase{
			ID:              useCaseIDForRow(rowID, b.kind),
			KnowledgeItemID: itemID,
			Kind:            b.kind,
			CreatedAt:       time.Now().UTC(),
		}
		parts := map[string]**string{
			"who":      &uc.Who,
			"what":     &uc.What,
			"when":     &uc.When,
			"where":    &uc.Where,
			"why":      &uc.Why,
			"how":      &uc.How,
			"how_much": &uc.HowMuch,
			"summary":  &uc.Summary,
		}
		filled := false
		for _, part := range mapping.W5HParts {
			if v := optional(data, b.prefix+part); v != nil {
				*parts[part] = v
				filled = true
			}
		}
		if filled {
			out = append(out, uc)
		}
	}
	return out
}

func optional(data map[string]string, field string) *string {
	v := strings.TrimSpace(data[field])
	if v == "" {
		return nil
	}
	return &v
}
