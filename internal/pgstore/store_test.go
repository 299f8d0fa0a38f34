//go:build integration

package pgstore

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/kbstudio/internal/importer"
	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testStore *Store

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "kbstudio",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start Postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	url := fmt.Sprintf("postgres://postgres:postgres@%s:%s/kbstudio?sslmode=disable", host, port.Port())
	testStore, err = Open(ctx, url, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	if err := testStore.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	testStore.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func reset(t *testing.T) context.Context {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, testStore.Truncate(ctx))
	return ctx
}

func TestImportJobs(t *testing.T) {
	ctx := reset(t)

	job := &models.ImportJob{
		ID:            "job-1",
		Filename:      "methods.csv",
		TargetEntity:  models.TargetKnowledgeItems,
		MappingConfig: models.MappingConfig{FieldMappings: map[string]string{"Knowledge Item": "name"}},
		Status:        models.JobStatusUploaded,
		TotalRows:     3,
	}
	require.NoError(t, testStore.CreateImportJob(ctx, job))
	assert.ErrorIs(t, testStore.CreateImportJob(ctx, job), models.ErrConflict)

	require.NoError(t, testStore.UpdateImportJobStatus(ctx, "job-1", models.JobStatusProcessing,
		models.NewLogEntry(models.LogLevelInfo, "processing 3 pending rows")))

	got, err := testStore.GetImportJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.Equal(t, "name", got.MappingConfig.FieldMappings["Knowledge Item"])
	require.Len(t, got.ProcessingLog, 1)
	assert.Equal(t, models.LogLevelInfo, got.ProcessingLog[0].Level)

	_, err = testStore.GetImportJob(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, testStore.UpdateImportJobStatus(ctx, "missing", models.JobStatusFailed), models.ErrNotFound)

	jobs, err := testStore.ListImportJobs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestStagingRows(t *testing.T) {
	ctx := reset(t)
	require.NoError(t, testStore.CreateImportJob(ctx, &models.ImportJob{ID: "job", Status: models.JobStatusUploaded}))
	require.NoError(t, testStore.InsertStagingRows(ctx, []models.StagingRow{
		{ID: "r3", ImportID: "job", RowNumber: 3, RawData: map[string]string{"Knowledge Item": "C"}},
		{ID: "r1", ImportID: "job", RowNumber: 1, MappedData: map[string]string{"name": "A"}},
	}))

	rows, err := testStore.ListStagingRows(ctx, "job", models.RowStatusPending)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].RowNumber)
	assert.Equal(t, "A", rows[0].MappedData["name"])
	assert.Equal(t, "C", rows[1].RawData["Knowledge Item"])

	require.NoError(t, testStore.MarkRowProcessed(ctx, "r1", "item"))
	require.NoError(t, testStore.MarkRowFailed(ctx, "r3", []string{"name is required"}))
	assert.ErrorIs(t, testStore.MarkRowFailed(ctx, "r1", nil), models.ErrConflict)
	assert.ErrorIs(t, testStore.MarkRowProcessed(ctx, "ghost", "x"), models.ErrNotFound)

	failed, err := testStore.ListStagingRows(ctx, "job", models.RowStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, []string{"name is required"}, failed[0].Errors)
	assert.NotNil(t, failed[0].ProcessedAt)
}

func TestUpsertTaxonomy(t *testing.T) {
	ctx := reset(t)

	var wg sync.WaitGroup
	results := make([]*models.TaxonomyEntity, 10)
	createdFlags := make([]bool, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, created, err := testStore.UpsertTaxonomy(ctx, models.TaxonomyEntity{
				Kind: models.TaxonomyDomain, Name: "Quality", Slug: "quality", Color: "#F59E0B",
			})
			require.NoError(t, err)
			results[i], createdFlags[i] = e, created
		}(i)
	}
	wg.Wait()

	created := 0
	for i, e := range results {
		assert.Equal(t, results[0].ID, e.ID)
		if createdFlags[i] {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Nil(t, results[0].DisplayOrder)

	for i, name := range []string{"Strategic", "Operational"} {
		e, created, err := testStore.UpsertTaxonomy(ctx, models.TaxonomyEntity{
			Kind: models.TaxonomyPlanningLayer, Name: name, Slug: models.Slugify(name),
		})
		require.NoError(t, err)
		assert.True(t, created)
		require.NotNil(t, e.DisplayOrder)
		assert.Equal(t, i+1, *e.DisplayOrder)
	}

	layers, err := testStore.ListTaxonomy(ctx, models.TaxonomyPlanningLayer)
	require.NoError(t, err)
	assert.Len(t, layers, 2)
}

func TestItemsAndUseCases(t *testing.T) {
	ctx := reset(t)

	cat, _, err := testStore.UpsertTaxonomy(ctx, models.TaxonomyEntity{Kind: models.TaxonomyCategory, Name: "Problem Solving", Slug: "problem-solving"})
	require.NoError(t, err)

	item := &models.KnowledgeItem{ID: "item-1", Name: "5 Whys", Slug: "5-whys", CategoryID: &cat.ID, Tags: []string{"rca", "lean"}}
	require.NoError(t, testStore.CreateKnowledgeItem(ctx, item))
	assert.ErrorIs(t, testStore.CreateKnowledgeItem(ctx, item), models.ErrConflict)

	why := "Find root causes"
	require.NoError(t, testStore.CreateUseCase(ctx, &models.UseCase{ID: "uc", KnowledgeItemID: "item-1", Kind: models.UseCaseGeneric, Why: &why}))
	assert.ErrorIs(t, testStore.CreateUseCase(ctx, &models.UseCase{ID: "uc", KnowledgeItemID: "item-1", Kind: models.UseCaseGeneric}), models.ErrConflict)
	assert.ErrorIs(t, testStore.CreateUseCase(ctx, &models.UseCase{ID: "uc2", KnowledgeItemID: "ghost", Kind: models.UseCaseExample}), models.ErrNotFound)
}

func TestOrchestratorAgainstPostgres(t *testing.T) {
	ctx := reset(t)
	require.NoError(t, testStore.CreateImportJob(ctx, &models.ImportJob{
		ID:           "run",
		TargetEntity: models.TargetKnowledgeItems,
		MappingConfig: models.MappingConfig{FieldMappings: map[string]string{
			"Knowledge Item": "name", "Category": "category_name", "Planning Focus": "planning_layer_name",
		}},
		Status: models.JobStatusUploaded,
	}))
	require.NoError(t, testStore.InsertStagingRows(ctx, []models.StagingRow{
		{ID: "a", ImportID: "run", RowNumber: 1, MappedData: map[string]string{"name": "5 Whys", "category_name": "Problem Solving", "planning_layer_name": "Operational"}},
		{ID: "b", ImportID: "run", RowNumber: 2, MappedData: map[string]string{"name": "Fishbone", "category_name": "problem solving", "planning_layer_name": "Operational"}},
	}))

	summary, err := importer.NewOrchestrator(testStore, importer.Config{Concurrency: 2}).Run(ctx, "run", importer.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ProcessedCount)

	n, err := testStore.CountKnowledgeItems(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cats, err := testStore.ListTaxonomy(ctx, models.TaxonomyCategory)
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}
