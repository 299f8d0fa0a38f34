package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertTaxonomy_ReturnsExistingUnchanged(t *testing.T) {
	s := New()
	ctx := context.Background()
	desc := "first"

	first, created, err := s.UpsertTaxonomy(ctx, models.TaxonomyEntity{
		ID: "a", Kind: models.TaxonomyCategory, Name: "Team Building", Slug: "team-building", Description: &desc, Color: "#111111",
	})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.UpsertTaxonomy(ctx, models.TaxonomyEntity{
		ID: "b", Kind: models.TaxonomyCategory, Name: "TEAM building", Slug: "team-building", Color: "#222222",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Team Building", second.Name)
	assert.Equal(t, "#111111", second.Color)
	require.NotNil(t, second.Description)
	assert.Equal(t, "first", *second.Description)
	assert.Len(t, s.Taxonomy(models.TaxonomyCategory), 1)
}

func TestUpsertTaxonomy_KindsAreSeparate(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, created, err := s.UpsertTaxonomy(ctx, models.TaxonomyEntity{ID: "a", Kind: models.TaxonomyCategory, Slug: "strategy"})
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = s.UpsertTaxonomy(ctx, models.TaxonomyEntity{ID: "b", Kind: models.TaxonomyDomain, Slug: "strategy"})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestUpsertTaxonomy_PlanningLayerDisplayOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, slug := range []string{"strategic", "tactical", "operational", "individual"} {
		wg.Add(1)
		go func(slug string) {
			defer wg.Done()
			_, _, err := s.UpsertTaxonomy(ctx, models.TaxonomyEntity{ID: slug, Kind: models.TaxonomyPlanningLayer, Slug: slug})
			assert.NoError(t, err)
		}(slug)
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, l := range s.Taxonomy(models.TaxonomyPlanningLayer) {
		require.NotNil(t, l.DisplayOrder)
		seen[*l.DisplayOrder] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true, 4: true}, seen)

	cat, _, err := s.UpsertTaxonomy(ctx, models.TaxonomyEntity{ID: "c", Kind: models.TaxonomyCategory, Slug: "x"})
	require.NoError(t, err)
	assert.Nil(t, cat.DisplayOrder)
}

func TestUpsertTaxonomy_UnknownKind(t *testing.T) {
	_, _, err := New().UpsertTaxonomy(context.Background(), models.TaxonomyEntity{Kind: "bogus", Slug: "x"})
	assert.Error(t, err)
}

func TestRowTransitions(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateImportJob(ctx, &models.ImportJob{ID: "job", Status: models.JobStatusUploaded}))
	require.NoError(t, s.InsertStagingRows(ctx, []models.StagingRow{
		{ID: "r2", ImportID: "job", RowNumber: 2},
		{ID: "r1", ImportID: "job", RowNumber: 1},
		{ID: "other", ImportID: "other-job", RowNumber: 1},
	}))

	rows, err := s.ListStagingRows(ctx, "job", models.RowStatusPending)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "r1", rows[0].ID)
	assert.Equal(t, "r2", rows[1].ID)

	require.NoError(t, s.MarkRowProcessed(ctx, "r1", "item-1"))
	require.NoError(t, s.MarkRowFailed(ctx, "r2", []string{"name is required"}))

	assert.ErrorIs(t, s.MarkRowProcessed(ctx, "r1", "item-2"), models.ErrConflict)
	assert.ErrorIs(t, s.MarkRowFailed(ctx, "r1", nil), models.ErrConflict)
	assert.ErrorIs(t, s.MarkRowProcessed(ctx, "missing", "x"), models.ErrNotFound)

	processed, err := s.ListStagingRows(ctx, "job", models.RowStatusProcessed)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	require.NotNil(t, processed[0].TargetRecordID)
	assert.Equal(t, "item-1", *processed[0].TargetRecordID)
	assert.NotNil(t, processed[0].ProcessedAt)

	failed, err := s.ListStagingRows(ctx, "job", models.RowStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, []string{"name is required"}, failed[0].Errors)

	all, err := s.ListStagingRows(ctx, "job", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateImportJobStatus_AppendsLog(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateImportJob(ctx, &models.ImportJob{ID: "job", Status: models.JobStatusUploaded}))

	require.NoError(t, s.UpdateImportJobStatus(ctx, "job", models.JobStatusProcessing, models.NewLogEntry(models.LogLevelInfo, "start")))
	require.NoError(t, s.UpdateImportJobStatus(ctx, "job", models.JobStatusCompleted, models.NewLogEntry(models.LogLevelInfo, "done")))

	job, err := s.GetImportJob(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.Len(t, job.ProcessingLog, 2)
	assert.Equal(t, "start", job.ProcessingLog[0].Message)
	assert.Equal(t, "done", job.ProcessingLog[1].Message)

	assert.ErrorIs(t, s.UpdateImportJobStatus(ctx, "missing", models.JobStatusFailed), models.ErrNotFound)
	_, err = s.GetImportJob(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateKnowledgeItem_DuplicateID(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateKnowledgeItem(ctx, &models.KnowledgeItem{ID: "i", Name: "A", Slug: "a"}))
	assert.ErrorIs(t, s.CreateKnowledgeItem(ctx, &models.KnowledgeItem{ID: "i", Name: "B", Slug: "b"}), models.ErrConflict)

	require.NoError(t, s.CreateUseCase(ctx, &models.UseCase{ID: "u", KnowledgeItemID: "i", Kind: models.UseCaseGeneric}))
	assert.ErrorIs(t, s.CreateUseCase(ctx, &models.UseCase{ID: "u", KnowledgeItemID: "i"}), models.ErrConflict)
	assert.ErrorIs(t, s.CreateUseCase(ctx, &models.UseCase{ID: "v", KnowledgeItemID: "nope"}), models.ErrNotFound)
	assert.Len(t, s.UseCases("i"), 1)
}

func TestListImportJobs_NewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()
	require.NoError(t, s.CreateImportJob(ctx, &models.ImportJob{ID: "old", CreatedAt: base.Add(-time.Minute)}))
	require.NoError(t, s.CreateImportJob(ctx, &models.ImportJob{ID: "new", CreatedAt: base}))

	jobs, err := s.ListImportJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "new", jobs[0].ID)

	jobs, err = s.ListImportJobs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
