// Package memstore is an in-memory implementation of the import pipeline store.
// It is used by tests, dry runs and STORE_BACKEND=memory.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/kbstudio/internal/models"
)

// Store holds every table in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	jobs     map[string]*models.ImportJob
	rows     map[string]*models.StagingRow
	taxonomy map[models.TaxonomyKind]map[string]*models.TaxonomyEntity // kind -> slug -> entity
	items    map[string]*models.KnowledgeItem
	useCases map[string]*models.UseCase
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		jobs:     make(map[string]*models.ImportJob),
		rows:     make(map[string]*models.StagingRow),
		taxonomy: make(map[models.TaxonomyKind]map[string]*models.TaxonomyEntity),
		items:    make(map[string]*models.KnowledgeItem),
		useCases: make(map[string]*models.UseCase),
	}
	for _, k := range models.TaxonomyKinds {
		s.taxonomy[k] = make(map[string]*models.TaxonomyEntity)
	}
	return s
}

func (s *Store) CreateImportJob(_ context.Context, job *models.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("import job %s: %w", job.ID, models.ErrConflict)
	}
	cp := cloneJob(job)
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.jobs[job.ID] = cp
	return nil
}

func (s *Store) GetImportJob(_ context.Context, id string) (*models.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneJob(job), nil
}

// ListImportJobs returns jobs newest first.
func (s *Store) ListImportJobs(_ context.Context, limit int) ([]models.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ImportJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateImportJobStatus(_ context.Context, id string, status models.JobStatus, entries ...models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	job.Status = status
	job.ProcessingLog = append(job.ProcessingLog, entries...)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) InsertStagingRows(_ context.Context, rows []models.StagingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if _, ok := s.rows[r.ID]; ok {
			return fmt.Errorf("staging row %s: %w", r.ID, models.ErrConflict)
		}
	}
	for _, r := range rows {
		cp := cloneRow(&r)
		if cp.Status == "" {
			cp.Status = models.RowStatusPending
		}
		s.rows[r.ID] = cp
	}
	return nil
}

func (s *Store) ListStagingRows(_ context.Context, importID string, status models.RowStatus) ([]models.StagingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StagingRow
	for _, r := range s.rows {
		if r.ImportID != importID || (status != "" && r.Status != status) {
			continue
		}
		out = append(out, *cloneRow(r))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].RowNumber < out[k].RowNumber })
	return out, nil
}

func (s *Store) MarkRowProcessed(_ context.Context, rowID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.pendingRow(rowID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	r.Status = models.RowStatusProcessed
	r.TargetRecordID = &targetID
	r.Errors = nil
	r.ProcessedAt = &now
	return nil
}

func (s *Store) MarkRowFailed(_ context.Context, rowID string, errs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.pendingRow(rowID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	r.Status = models.RowStatusFailed
	r.Errors = slices.Clone(errs)
	r.ProcessedAt = &now
	return nil
}

func (s *Store) pendingRow(id string) (*models.StagingRow, error) {
	r, ok := s.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.Status != models.RowStatusPending {
		return nil, fmt.Errorf("staging row %s is %s: %w", id, r.Status, models.ErrConflict)
	}
	return r, nil
}

// UpsertTaxonomy inserts the entity unless its slug exists for the kind.
// Planning layers get display_order = max + 1.
func (s *Store) UpsertTaxonomy(_ context.Context, e models.TaxonomyEntity) (*models.TaxonomyEntity, bool, error) {
	if !e.Kind.Valid() {
		return nil, false, fmt.Errorf("upsert taxonomy: unknown kind %q", e.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.taxonomy[e.Kind]
	if existing, ok := table[e.Slug]; ok {
		cp := *existing
		return &cp, false, nil
	}

	if e.Kind == models.TaxonomyPlanningLayer {
		next := 1
		for _, t := range table {
			if t.DisplayOrder != nil && *t.DisplayOrder >= next {
				next = *t.DisplayOrder + 1
			}
		}
		e.DisplayOrder = &next
	} else {
		e.DisplayOrder = nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	stored := e
	table[e.Slug] = &stored
	return &e, true, nil
}

// Taxonomy lists the entities of a kind ordered by slug.
func (s *Store) Taxonomy(kind models.TaxonomyKind) []models.TaxonomyEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TaxonomyEntity, 0, len(s.taxonomy[kind]))
	for _, t := range s.taxonomy[kind] {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Slug < out[k].Slug })
	return out
}

func (s *Store) CreateKnowledgeItem(_ context.Context, item *models.KnowledgeItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return fmt.Errorf("knowledge item %s: %w", item.ID, models.ErrConflict)
	}
	cp := *item
	cp.Tags = slices.Clone(item.Tags)
	s.items[item.ID] = &cp
	return nil
}

func (s *Store) CreateUseCase(_ context.Context, uc *models.UseCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[uc.KnowledgeItemID]; !ok {
		return fmt.Errorf("use case parent %s: %w", uc.KnowledgeItemID, models.ErrNotFound)
	}
	if _, ok := s.useCases[uc.ID]; ok {
		return fmt.Errorf("use case %s: %w", uc.ID, models.ErrConflict)
	}
	cp := *uc
	s.useCases[uc.ID] = &cp
	return nil
}

// KnowledgeItems lists every item ordered by slug then ID.
func (s *Store) KnowledgeItems() []models.KnowledgeItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.KnowledgeItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Slug == out[k].Slug {
			return out[i].ID < out[k].ID
		}
		return out[i].Slug < out[k].Slug
	})
	return out
}

// UseCases lists the use cases of an item ordered by kind.
func (s *Store) UseCases(itemID string) []models.UseCase {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UseCase
	for _, uc := range s.useCases {
		if uc.KnowledgeItemID == itemID {
			out = append(out, *uc)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Kind < out[k].Kind })
	return out
}

func cloneJob(j *models.ImportJob) *models.ImportJob {
	cp := *j
	cp.MappingConfig.FieldMappings = maps.Clone(j.MappingConfig.FieldMappings)
	cp.ProcessingLog = slices.Clone(j.ProcessingLog)
	return &cp
}

func cloneRow(r *models.StagingRow) *models.StagingRow {
	cp := *r
	cp.RawData = maps.Clone(r.RawData)
	cp.MappedData = maps.Clone(r.MappedData)
	cp.Errors = slices.Clone(r.Errors)
	if r.TargetRecordID != nil {
		id := *r.TargetRecordID
		cp.TargetRecordID = &id
	}
	return &cp
}
