package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raphaelgruber/kbstudio/internal/importer"
	"github.com/raphaelgruber/kbstudio/internal/memstore"
	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/raphaelgruber/kbstudio/internal/server"
	"github.com/raphaelgruber/kbstudio/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const methodsCSV = "Knowledge Item,Category,Planning Focus,Domain of Interest\n" +
	"5 Whys,Problem Solving,Operational,Quality\n" +
	",Problem Solving,Operational,Quality\n"

func newTestClient(t *testing.T) (*Client, *memstore.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	manager := service.NewJobManager(importer.NewOrchestrator(store, importer.Config{Logger: logger}), logger)
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	s := server.New(server.Deps{
		Jobs:    store,
		Stager:  importer.NewStager(store, nil, nil, logger),
		Manager: manager,
		Logger:  logger,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL), store
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNew_Defaults(t *testing.T) {
	t.Setenv("KBSTUDIO_SERVER_URL", "")
	t.Setenv("KBSTUDIO_CLIENT_TIMEOUT", "")
	c := New("")
	assert.Equal(t, DefaultServerURL, c.Endpoint())
	assert.Equal(t, 10*time.Minute, c.httpClient.Timeout)

	t.Setenv("KBSTUDIO_SERVER_URL", "http://example.test:9000/")
	t.Setenv("KBSTUDIO_CLIENT_TIMEOUT", "30s")
	c = New("")
	assert.Equal(t, "http://example.test:9000", c.Endpoint())
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)
}

func TestUploadProcessAndInspect(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := testCtx(t)

	require.NoError(t, c.Health(ctx))

	state, err := c.Upload(ctx, UploadInput{Filename: "methods.csv", Content: []byte(methodsCSV)})
	require.NoError(t, err)
	require.NotNil(t, state.Job)
	assert.Equal(t, 2, state.Job.TotalRows)
	assert.Nil(t, state.Run)

	resp, err := c.Process(ctx, state.Job.ID)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Details)
	assert.Equal(t, 1, resp.Details.ProcessedCount)
	assert.Equal(t, 1, resp.Details.ErrorCount)

	got, err := c.GetImport(ctx, state.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompletedWithErrors, got.Job.Status)
	require.NotNil(t, got.Run)
	assert.Equal(t, service.RunStatusCompleted, got.Run.Status)

	failed, err := c.ListRows(ctx, state.Job.ID, models.RowStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].RowNumber)

	jobs, err := c.ListImports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, state.Job.ID, jobs[0].ID)
}

func TestRunAndWatchProgress(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := testCtx(t)

	state, err := c.Upload(ctx, UploadInput{Filename: "methods.csv", Content: []byte(methodsCSV)})
	require.NoError(t, err)

	_, err = c.Run(ctx, state.Job.ID)
	require.NoError(t, err)

	var last server.ProgressEvent
	err = c.WatchProgress(ctx, state.Job.ID, func(ev server.ProgressEvent) error {
		last = ev
		return nil
	})
	require.NoError(t, err)
	assert.True(t, last.Done)
	assert.Equal(t, state.Job.ID, last.ImportID)

	ev, err := c.Progress(ctx, state.Job.ID)
	require.NoError(t, err)
	assert.True(t, ev.Done)
	assert.Equal(t, models.JobStatusCompletedWithErrors, ev.JobStatus)
}

func TestErrors(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := testCtx(t)

	_, err := c.GetImport(ctx, "missing")
	assert.True(t, IsNotFound(err))

	_, err = c.Process(ctx, "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	err = c.WatchProgress(ctx, "missing", func(server.ProgressEvent) error { return nil })
	assert.True(t, IsNotFound(err))

	_, err = c.Upload(ctx, UploadInput{Filename: "bad.csv", Content: []byte("Category\nx\n")})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Missing, "Knowledge Item")
}
