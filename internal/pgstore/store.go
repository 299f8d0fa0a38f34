// Package pgstore stores imports, taxonomy and knowledge items in Postgres.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/raphaelgruber/kbstudio/internal/importer"
	"github.com/raphaelgruber/kbstudio/internal/models"
)

// Postgres error codes mapped to store sentinels.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store implements importer.Store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ importer.Store = (*Store)(nil)

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("Postgres connection established", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InitSchema creates tables and indexes if missing.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Truncate deletes all data. Use for testing only.
func (s *Store) Truncate(ctx context.Context) error {
	s.logger.Warn("truncating all import tables")
	if _, err := s.pool.Exec(ctx, "TRUNCATE "+strings.Join(dataTables, ", ")+" CASCADE"); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

// mapError translates constraint violations into store sentinels.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", models.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

// =============================================================================
// Import jobs
// =============================================================================

const jobColumns = `id, filename, target_entity, mapping_config, status, processing_log, source_key, total_rows, created_at, updated_at`

func scanJob(row pgx.Row) (*models.ImportJob, error) {
	var job models.ImportJob
	err := row.Scan(&job.ID, &job.Filename, &job.TargetEntity, &job.MappingConfig, &job.Status,
		&job.ProcessingLog, &job.SourceKey, &job.TotalRows, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateImportJob inserts a job. Returns models.ErrConflict if the ID is taken.
func (s *Store) CreateImportJob(ctx context.Context, job *models.ImportJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.ProcessingLog == nil {
		job.ProcessingLog = []models.LogEntry{}
	}
	if job.MappingConfig.FieldMappings == nil {
		job.MappingConfig.FieldMappings = map[string]string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO data_imports (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, job.ID, job.Filename, job.TargetEntity, job.MappingConfig, string(job.Status),
		job.ProcessingLog, job.SourceKey, job.TotalRows, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create import job: %w", mapError(err))
	}
	return nil
}

// GetImportJob returns models.ErrNotFound when the job does not exist.
func (s *Store) GetImportJob(ctx context.Context, id string) (*models.ImportJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM data_imports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("import job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	return job, nil
}

// ListImportJobs returns jobs newest first. A limit of 0 returns all jobs.
func (s *Store) ListImportJobs(ctx context.Context, limit int) ([]models.ImportJob, error) {
	sql := `SELECT ` + jobColumns + ` FROM data_imports ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		sql += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.ImportJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// UpdateImportJobStatus sets the status and appends entries to the processing log.
func (s *Store) UpdateImportJobStatus(ctx context.Context, id string, status models.JobStatus, entries ...models.LogEntry) error {
	if entries == nil {
		entries = []models.LogEntry{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE data_imports
		SET status = $2, processing_log = processing_log || $3::jsonb, updated_at = now()
		WHERE id = $1
	`, id, string(status), entries)
	if err != nil {
		return fmt.Errorf("update import job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import job %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// =============================================================================
// Staging rows
// =============================================================================

// InsertStagingRows bulk-loads rows with COPY.
func (s *Store) InsertStagingRows(ctx context.Context, rows []models.StagingRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"staging_data"},
		[]string{"id", "import_id", "row_number", "raw_data", "mapped_data", "processing_status"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			status := r.Status
			if status == "" {
				status = models.RowStatusPending
			}
			raw, mapped := r.RawData, r.MappedData
			if raw == nil {
				raw = map[string]string{}
			}
			if mapped == nil {
				mapped = map[string]string{}
			}
			return []any{r.ID, r.ImportID, r.RowNumber, raw, mapped, string(status)}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("insert staging rows: %w", mapError(err))
	}
	return nil
}

// ListStagingRows returns rows ordered by row number. An empty status lists all rows.
func (s *Store) ListStagingRows(ctx context.Context, importID string, status models.RowStatus) ([]models.StagingRow, error) {
	sql := `
		SELECT id, import_id, row_number, raw_data, mapped_data, processing_status,
		       target_record_id, errors, processed_at
		FROM staging_data
		WHERE import_id = $1`
	args := []any{importID}
	if status != "" {
		sql += ` AND processing_status = $2`
		args = append(args, string(status))
	}
	sql += ` ORDER BY row_number`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list staging rows: %w", err)
	}
	defer rows.Close()

	out := []models.StagingRow{}
	for rows.Next() {
		var r models.StagingRow
		if err := rows.Scan(&r.ID, &r.ImportID, &r.RowNumber, &r.RawData, &r.MappedData, &r.Status,
			&r.TargetRecordID, &r.Errors, &r.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan staging row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRowProcessed links a pending row to its knowledge item.
func (s *Store) MarkRowProcessed(ctx context.Context, rowID, targetID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE staging_data
		SET processing_status = 'processed', target_record_id = $2, errors = '[]'::jsonb, processed_at = now()
		WHERE id = $1 AND processing_status = 'pending'
	`, rowID, targetID)
	if err != nil {
		return fmt.Errorf("mark row processed: %w", err)
	}
	return s.checkTransition(ctx, rowID, tag)
}

// MarkRowFailed records errors on a pending row.
func (s *Store) MarkRowFailed(ctx context.Context, rowID string, errs []string) error {
	if errs == nil {
		errs = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE staging_data
		SET processing_status = 'failed', errors = $2::jsonb, processed_at = now()
		WHERE id = $1 AND processing_status = 'pending'
	`, rowID, errs)
	if err != nil {
		return fmt.Errorf("mark row failed: %w", err)
	}
	return s.checkTransition(ctx, rowID, tag)
}

func (s *Store) checkTransition(ctx context.Context, rowID string, tag pgconn.CommandTag) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err := s.pool.QueryRow(ctx, `SELECT processing_status FROM staging_data WHERE id = $1`, rowID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("staging row %s: %w", rowID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get staging row: %w", err)
	}
	return fmt.Errorf("staging row %s is %s: %w", rowID, status, models.ErrConflict)
}

// =============================================================================
// Taxonomy
// =============================================================================

func taxonomyColumns(kind models.TaxonomyKind) string {
	if kind == models.TaxonomyPlanningLayer {
		return `id, name, slug, description, color, display_order, created_at`
	}
	return `id, name, slug, description, color, NULL::integer, created_at`
}

func scanTaxonomy(row pgx.Row, kind models.TaxonomyKind) (*models.TaxonomyEntity, error) {
	e := models.TaxonomyEntity{Kind: kind}
	if err := row.Scan(&e.ID, &e.Name, &e.Slug, &e.Description, &e.Color, &e.DisplayOrder, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertTaxonomy inserts unless the slug exists, then returns the stored row.
// Planning layer inserts serialize on an advisory lock so display_order stays dense.
func (s *Store) UpsertTaxonomy(ctx context.Context, e models.TaxonomyEntity) (*models.TaxonomyEntity, bool, error) {
	if !e.Kind.Valid() {
		return nil, false, fmt.Errorf("upsert taxonomy: unknown kind %q", e.Kind)
	}
	table := e.Kind.Table()
	cols := taxonomyColumns(e.Kind)

	var (
		out     *models.TaxonomyEntity
		created bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var row pgx.Row
		if e.Kind == models.TaxonomyPlanningLayer {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, table); err != nil {
				return fmt.Errorf("lock %s: %w", table, err)
			}
			row = tx.QueryRow(ctx, `
				INSERT INTO planning_layers (name, slug, description, color, display_order)
				VALUES ($1, $2, $3, $4, (SELECT COALESCE(MAX(display_order), 0) + 1 FROM planning_layers))
				ON CONFLICT (slug) DO NOTHING
				RETURNING `+cols, e.Name, e.Slug, e.Description, e.Color)
		} else {
			row = tx.QueryRow(ctx, `
				INSERT INTO `+table+` (name, slug, description, color)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (slug) DO NOTHING
				RETURNING `+cols, e.Name, e.Slug, e.Description, e.Color)
		}

		inserted, err := scanTaxonomy(row, e.Kind)
		if err == nil {
			out, created = inserted, true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("insert %s: %w", table, err)
		}

		existing, err := scanTaxonomy(tx.QueryRow(ctx, `SELECT `+cols+` FROM `+table+` WHERE slug = $1`, e.Slug), e.Kind)
		if err != nil {
			return fmt.Errorf("select %s: %w", table, err)
		}
		out = existing
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert taxonomy: %w", err)
	}
	return out, created, nil
}

// ListTaxonomy returns every entity of a kind ordered by name.
func (s *Store) ListTaxonomy(ctx context.Context, kind models.TaxonomyKind) ([]models.TaxonomyEntity, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("list taxonomy: unknown kind %q", kind)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+taxonomyColumns(kind)+` FROM `+kind.Table()+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list taxonomy: %w", err)
	}
	defer rows.Close()

	out := []models.TaxonomyEntity{}
	for rows.Next() {
		e, err := scanTaxonomy(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan taxonomy: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// =============================================================================
// Knowledge items
// =============================================================================

// CreateKnowledgeItem returns models.ErrConflict if the ID already exists.
func (s *Store) CreateKnowledgeItem(ctx context.Context, item *models.KnowledgeItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO knowledge_items (
			id, name, slug, description, background, source,
			category_id, planning_layer_id, domain_id,
			duration_minutes, team_size_min, team_size_max, difficulty_level, tags,
			is_featured, is_facilitator_required, import_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, item.ID, item.Name, item.Slug, item.Description, item.Background, item.Source,
		item.CategoryID, item.PlanningLayerID, item.DomainID,
		item.DurationMinutes, item.TeamSizeMin, item.TeamSizeMax, item.DifficultyLevel, tags,
		item.IsFeatured, item.IsFacilitatorRequired, item.ImportID, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("create knowledge item: %w", mapError(err))
	}
	return nil
}

// CreateUseCase returns models.ErrConflict if the ID exists and
// models.ErrNotFound if the parent item is missing.
func (s *Store) CreateUseCase(ctx context.Context, uc *models.UseCase) error {
	if uc.CreatedAt.IsZero() {
		uc.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO knowledge_use_cases (
			id, knowledge_item_id, use_case_type, who, what, "when", "where", why, how, how_much, summary, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, uc.ID, uc.KnowledgeItemID, string(uc.Kind), uc.Who, uc.What, uc.When, uc.Where,
		uc.Why, uc.How, uc.HowMuch, uc.Summary, uc.CreatedAt)
	if err != nil {
		return fmt.Errorf("create use case: %w", mapError(err))
	}
	return nil
}

// CountKnowledgeItems returns the number of items created by an import.
func (s *Store) CountKnowledgeItems(ctx context.Context, importID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM knowledge_items WHERE import_id = $1`, importID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count knowledge items: %w", err)
	}
	return n, nil
}
