package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/kbstudio/internal/importer"
	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// recordKey extracts the string key of a record ID.
func recordKey(id surrealmodels.RecordID) string {
	if s, ok := id.ID.(string); ok {
		return s
	}
	return fmt.Sprint(id.ID)
}

// jobRecord is the stored shape of an import job.
type jobRecord struct {
	ID            surrealmodels.RecordID `json:"id"`
	Filename      string                 `json:"filename"`
	TargetEntity  string                 `json:"target_entity"`
	MappingConfig models.MappingConfig   `json:"mapping_config"`
	Status        models.JobStatus       `json:"status"`
	ProcessingLog []models.LogEntry      `json:"processing_log"`
	SourceKey     string                 `json:"source_key"`
	TotalRows     int                    `json:"total_rows"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (r *jobRecord) model() models.ImportJob {
	return models.ImportJob{
		ID:            recordKey(r.ID),
		Filename:      r.Filename,
		TargetEntity:  r.TargetEntity,
		MappingConfig: r.MappingConfig,
		Status:        r.Status,
		ProcessingLog: r.ProcessingLog,
		SourceKey:     r.SourceKey,
		TotalRows:     r.TotalRows,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// rowRecord is the stored shape of a staging row.
type rowRecord struct {
	ID             surrealmodels.RecordID `json:"id"`
	ImportID       string                 `json:"import_id"`
	RowNumber      int                    `json:"row_number"`
	RawData        map[string]string      `json:"raw_data"`
	MappedData     map[string]string      `json:"mapped_data"`
	Status         models.RowStatus       `json:"processing_status"`
	TargetRecordID *string                `json:"target_record_id"`
	Errors         []string               `json:"errors"`
	ProcessedAt    *time.Time             `json:"processed_at"`
}

func (r *rowRecord) model() models.StagingRow {
	return models.StagingRow{
		ID:             recordKey(r.ID),
		ImportID:       r.ImportID,
		RowNumber:      r.RowNumber,
		RawData:        r.RawData,
		MappedData:     r.MappedData,
		Status:         r.Status,
		TargetRecordID: r.TargetRecordID,
		Errors:         r.Errors,
		ProcessedAt:    r.ProcessedAt,
	}
}

// taxonomyRecord is the stored shape of a category, planning layer or domain.
type taxonomyRecord struct {
	ID           surrealmodels.RecordID `json:"id"`
	Name         string                 `json:"name"`
	Slug         string                 `json:"slug"`
	Description  *string                `json:"description"`
	Color        string                 `json:"color"`
	DisplayOrder *int                   `json:"display_order"`
	CreatedAt    time.Time              `json:"created_at"`
}

func (r *taxonomyRecord) model(kind models.TaxonomyKind) *models.TaxonomyEntity {
	return &models.TaxonomyEntity{
		ID:           recordKey(r.ID),
		Kind:         kind,
		Name:         r.Name,
		Slug:         r.Slug,
		Description:  r.Description,
		Color:        r.Color,
		DisplayOrder: r.DisplayOrder,
		CreatedAt:    r.CreatedAt,
	}
}

// =============================================================================
// Import jobs
// =============================================================================

// CreateImportJob stores a new job. Returns models.ErrConflict if the ID is taken.
func (c *Client) CreateImportJob(ctx context.Context, job *models.ImportJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	log := job.ProcessingLog
	if log == nil {
		log = []models.LogEntry{}
	}
	mappings := job.MappingConfig.FieldMappings
	if mappings == nil {
		mappings = map[string]string{}
	}

	_, err := query[[]jobRecord](ctx, c, `
		CREATE type::record("data_imports", $id) CONTENT {
			filename: $filename,
			target_entity: $target_entity,
			mapping_config: { field_mappings: $field_mappings },
			status: $status,
			processing_log: $processing_log,
			source_key: $source_key,
			total_rows: $total_rows,
			created_at: $created_at,
			updated_at: $updated_at
		}
	`, map[string]any{
		"id":             job.ID,
		"filename":       job.Filename,
		"target_entity":  job.TargetEntity,
		"field_mappings": mappings,
		"status":         string(job.Status),
		"processing_log": log,
		"source_key":     job.SourceKey,
		"total_rows":     job.TotalRows,
		"created_at":     job.CreatedAt,
		"updated_at":     job.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

// GetImportJob retrieves a job by ID. Returns models.ErrNotFound if missing.
func (c *Client) GetImportJob(ctx context.Context, id string) (*models.ImportJob, error) {
	results, err := query[[]jobRecord](ctx, c, `
		SELECT * FROM type::record("data_imports", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	rec, ok := first(results)
	if !ok {
		return nil, fmt.Errorf("import job %s: %w", id, models.ErrNotFound)
	}
	job := rec.model()
	return &job, nil
}

// ListImportJobs returns jobs newest first. A limit of 0 returns all jobs.
func (c *Client) ListImportJobs(ctx context.Context, limit int) ([]models.ImportJob, error) {
	sql := `SELECT * FROM data_imports ORDER BY created_at DESC`
	vars := map[string]any{}
	if limit > 0 {
		sql += ` LIMIT $limit`
		vars["limit"] = limit
	}
	results, err := query[[]jobRecord](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	jobs := []models.ImportJob{}
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			jobs = append(jobs, (*results)[0].Result[i].model())
		}
	}
	return jobs, nil
}

// UpdateImportJobStatus sets the status and appends entries to the processing log.
func (c *Client) UpdateImportJobStatus(ctx context.Context, id string, status models.JobStatus, entries ...models.LogEntry) error {
	if entries == nil {
		entries = []models.LogEntry{}
	}
	results, err := query[[]jobRecord](ctx, c, `
		UPDATE type::record("data_imports", $id) SET
			status = $status,
			processing_log = array::concat(processing_log ?? [], $entries),
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"id":      id,
		"status":  string(status),
		"entries": entries,
	})
	if err != nil {
		return fmt.Errorf("update import job status: %w", err)
	}
	if _, ok := first(results); !ok {
		return fmt.Errorf("import job %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// =============================================================================
// Staging rows
// =============================================================================

// InsertStagingRows stores rows in a single INSERT statement.
func (c *Client) InsertStagingRows(ctx context.Context, rows []models.StagingRow) error {
	if len(rows) == 0 {
		return nil
	}
	docs := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		status := r.Status
		if status == "" {
			status = models.RowStatusPending
		}
		docs = append(docs, map[string]any{
			"id":                r.ID,
			"import_id":         r.ImportID,
			"row_number":        r.RowNumber,
			"raw_data":          r.RawData,
			"mapped_data":       r.MappedData,
			"processing_status": string(status),
		})
	}
	if _, err := query[any](ctx, c, `INSERT INTO staging_data $rows`, map[string]any{"rows": docs}); err != nil {
		return fmt.Errorf("insert staging rows: %w", err)
	}
	return nil
}

// ListStagingRows returns rows of an import ordered by row number.
func (c *Client) ListStagingRows(ctx context.Context, importID string, status models.RowStatus) ([]models.StagingRow, error) {
	sql := `SELECT * FROM staging_data WHERE import_id = $import_id`
	vars := map[string]any{"import_id": importID}
	if status != "" {
		sql += ` AND processing_status = $status`
		vars["status"] = string(status)
	}
	sql += ` ORDER BY row_number ASC`

	results, err := query[[]rowRecord](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list staging rows: %w", err)
	}
	rows := []models.StagingRow{}
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			rows = append(rows, (*results)[0].Result[i].model())
		}
	}
	return rows, nil
}

// MarkRowProcessed links a pending row to its knowledge item.
func (c *Client) MarkRowProcessed(ctx context.Context, rowID, targetID string) error {
	results, err := query[[]rowRecord](ctx, c, `
		UPDATE type::record("staging_data", $id) SET
			processing_status = "processed",
			target_record_id = $target,
			errors = [],
			processed_at = time::now()
		WHERE processing_status = "pending"
		RETURN AFTER
	`, map[string]any{"id": rowID, "target": targetID})
	if err != nil {
		return fmt.Errorf("mark row processed: %w", err)
	}
	return c.checkTransition(ctx, rowID, results)
}

// MarkRowFailed records validation or write errors on a pending row.
func (c *Client) MarkRowFailed(ctx context.Context, rowID string, errs []string) error {
	if errs == nil {
		errs = []string{}
	}
	results, err := query[[]rowRecord](ctx, c, `
		UPDATE type::record("staging_data", $id) SET
			processing_status = "failed",
			errors = $errors,
			processed_at = time::now()
		WHERE processing_status = "pending"
		RETURN AFTER
	`, map[string]any{"id": rowID, "errors": errs})
	if err != nil {
		return fmt.Errorf("mark row failed: %w", err)
	}
	return c.checkTransition(ctx, rowID, results)
}

// checkTransition tells a missing row apart from one that is no longer pending.
func (c *Client) checkTransition(ctx context.Context, rowID string, updated *[]surrealdb.QueryResult[[]rowRecord]) error {
	if _, ok := first(updated); ok {
		return nil
	}
	results, err := query[[]rowRecord](ctx, c, `
		SELECT * FROM type::record("staging_data", $id)
	`, map[string]any{"id": rowID})
	if err != nil {
		return fmt.Errorf("get staging row: %w", err)
	}
	rec, ok := first(results)
	if !ok {
		return fmt.Errorf("staging row %s: %w", rowID, models.ErrNotFound)
	}
	return fmt.Errorf("staging row %s is %s: %w", rowID, rec.Status, models.ErrConflict)
}

// =============================================================================
// Taxonomy
// =============================================================================

// UpsertTaxonomy creates the entity keyed by its slug, or returns the stored
// one unchanged. Planning layers get display_order = max + 1 in the same
// statement.
func (c *Client) UpsertTaxonomy(ctx context.Context, e models.TaxonomyEntity) (*models.TaxonomyEntity, bool, error) {
	if !e.Kind.Valid() {
		return nil, false, fmt.Errorf("upsert taxonomy: unknown kind %q", e.Kind)
	}
	table := e.Kind.Table()

	order := "NONE"
	if e.Kind == models.TaxonomyPlanningLayer {
		order = fmt.Sprintf("(math::max((SELECT VALUE display_order FROM %s)) ?? 0) + 1", table)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	results, err := query[[]taxonomyRecord](ctx, c, fmt.Sprintf(`
		CREATE type::record(%q, $slug) CONTENT {
			name: $name,
			slug: $slug,
			description: $description,
			color: $color,
			display_order: %s,
			created_at: $created_at
		} RETURN AFTER
	`, table, order), map[string]any{
		"slug":        e.Slug,
		"name":        e.Name,
		"description": e.Description,
		"color":       e.Color,
		"created_at":  createdAt,
	})
	if err == nil {
		rec, ok := first(results)
		if !ok {
			return nil, false, fmt.Errorf("upsert taxonomy: no result returned")
		}
		return rec.model(e.Kind), true, nil
	}
	if !errors.Is(err, models.ErrConflict) {
		return nil, false, fmt.Errorf("upsert taxonomy: %w", err)
	}

	existing, err := query[[]taxonomyRecord](ctx, c, fmt.Sprintf(`
		SELECT * FROM type::record(%q, $slug)
	`, table), map[string]any{"slug": e.Slug})
	if err != nil {
		return nil, false, fmt.Errorf("get taxonomy: %w", err)
	}
	rec, ok := first(existing)
	if !ok {
		return nil, false, fmt.Errorf("taxonomy %s/%s vanished after conflict", table, e.Slug)
	}
	return rec.model(e.Kind), false, nil
}

// ListTaxonomy returns every entity of a kind ordered by name.
func (c *Client) ListTaxonomy(ctx context.Context, kind models.TaxonomyKind) ([]models.TaxonomyEntity, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("list taxonomy: unknown kind %q", kind)
	}
	results, err := query[[]taxonomyRecord](ctx, c, fmt.Sprintf(`SELECT * FROM %s ORDER BY name`, kind.Table()), nil)
	if err != nil {
		return nil, fmt.Errorf("list taxonomy: %w", err)
	}
	out := []models.TaxonomyEntity{}
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, *(*results)[0].Result[i].model(kind))
		}
	}
	return out, nil
}

// =============================================================================
// Knowledge items
// =============================================================================

// CreateKnowledgeItem stores an item. Returns models.ErrConflict if the ID exists.
func (c *Client) CreateKnowledgeItem(ctx context.Context, item *models.KnowledgeItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := query[any](ctx, c, `
		CREATE type::record("knowledge_items", $id) CONTENT {
			name: $name,
			slug: $slug,
			description: $description,
			background: $background,
			source: $source,
			category_id: $category_id,
			planning_layer_id: $planning_layer_id,
			domain_id: $domain_id,
			duration_minutes: $duration_minutes,
			team_size_min: $team_size_min,
			team_size_max: $team_size_max,
			difficulty_level: $difficulty_level,
			tags: $tags,
			is_featured: $is_featured,
			is_facilitator_required: $is_facilitator_required,
			import_id: $import_id,
			created_at: $created_at
		}
	`, map[string]any{
		"id":                      item.ID,
		"name":                    item.Name,
		"slug":                    item.Slug,
		"description":             item.Description,
		"background":              item.Background,
		"source":                  item.Source,
		"category_id":             item.CategoryID,
		"planning_layer_id":       item.PlanningLayerID,
		"domain_id":               item.DomainID,
		"duration_minutes":        item.DurationMinutes,
		"team_size_min":           item.TeamSizeMin,
		"team_size_max":           item.TeamSizeMax,
		"difficulty_level":        item.DifficultyLevel,
		"tags":                    tags,
		"is_featured":             item.IsFeatured,
		"is_facilitator_required": item.IsFacilitatorRequired,
		"import_id":               item.ImportID,
		"created_at":              item.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("create knowledge item: %w", err)
	}
	return nil
}

// CreateUseCase stores a use case under an existing knowledge item.
func (c *Client) CreateUseCase(ctx context.Context, uc *models.UseCase) error {
	if uc.CreatedAt.IsZero() {
		uc.CreatedAt = time.Now().UTC()
	}
	results, err := query[[]struct {
		C int `json:"c"`
	}](ctx, c, `
		SELECT count() AS c FROM type::record("knowledge_items", $id)
	`, map[string]any{"id": uc.KnowledgeItemID})
	if err != nil {
		return fmt.Errorf("check knowledge item: %w", err)
	}
	if parent, ok := first(results); !ok || parent.C == 0 {
		return fmt.Errorf("knowledge item %s: %w", uc.KnowledgeItemID, models.ErrNotFound)
	}

	_, err = query[any](ctx, c, `
		CREATE type::record("knowledge_use_cases", $id) CONTENT {
			knowledge_item_id: $item_id,
			use_case_type: $kind,
			"who": $uc_who,
			"what": $uc_what,
			"when": $uc_when,
			"where": $uc_where,
			"why": $uc_why,
			"how": $uc_how,
			"how_much": $uc_how_much,
			"summary": $uc_summary,
			created_at: $created_at
		}
	`, map[string]any{
		"id":          uc.ID,
		"item_id":     uc.KnowledgeItemID,
		"kind":        string(uc.Kind),
		"uc_who":      uc.Who,
		"uc_what":     uc.What,
		"uc_when":     uc.When,
		"uc_where":    uc.Where,
		"uc_why":      uc.Why,
		"uc_how":      uc.How,
		"uc_how_much": uc.HowMuch,
		"uc_summary":  uc.Summary,
		"created_at":  uc.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("create use case: %w", err)
	}
	return nil
}

// CountKnowledgeItems returns the number of items created by an import.
func (c *Client) CountKnowledgeItems(ctx context.Context, importID string) (int, error) {
	results, err := query[[]struct {
		C int `json:"c"`
	}](ctx, c, `
		SELECT count() AS c FROM knowledge_items WHERE import_id = $import_id GROUP ALL
	`, map[string]any{"import_id": importID})
	if err != nil {
		return 0, fmt.Errorf("count knowledge items: %w", err)
	}
	if rec, ok := first(results); ok {
		return rec.C, nil
	}
	return 0, nil
}

var _ importer.Store = (*Client)(nil)
