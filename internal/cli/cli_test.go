package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/raphaelgruber/kbstudio/internal/importer"
	"github.com/raphaelgruber/kbstudio/internal/memstore"
	"github.com/raphaelgruber/kbstudio/internal/server"
	"github.com/raphaelgruber/kbstudio/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const methodsCSV = "Knowledge Item,Category,Planning Focus,Domain of Interest\n" +
	"5 Whys,Problem Solving,Operational,Quality\n" +
	",Problem Solving,Operational,Quality\n"

func startServer(t *testing.T) (string, *memstore.Store) {
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
	return srv.URL, store
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with fresh flag values.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("MAPPING_FILE", "")

	serverURL, verbose = "", false
	uploadTarget, uploadSheet, uploadRun, uploadWait = "", "", false, false
	runAsync, runWatch = false, false
	jobsLimit, rowsStatus = 20, ""
	validateSheet, validateMapping, mappingFile = "", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func onlyJobID(t *testing.T, store *memstore.Store) string {
	t.Helper()
	jobs, err := store.ListImportJobs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0].ID
}

func TestUploadThenRun(t *testing.T) {
	url, store := startServer(t)
	path := writeFile(t, "methods.csv", methodsCSV)

	out, err := execute(t, "upload", path, "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Staged methods.csv as import")
	assert.Contains(t, out, "(2 rows)")
	id := onlyJobID(t, store)

	out, err = execute(t, "run", id, "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Rows processed: 1")
	assert.Contains(t, out, "Rows failed:    1")

	out, err = execute(t, "rows", id, "--status", "failed", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "name is required")
	assert.NotContains(t, out, "5 Whys")

	out, err = execute(t, "jobs", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "completed_with_errors")

	out, err = execute(t, "jobs", id, "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "File: methods.csv")
	assert.Contains(t, out, "Processing log")
}

func TestUploadRunWait(t *testing.T) {
	url, store := startServer(t)
	path := writeFile(t, "methods.csv", methodsCSV)

	out, err := execute(t, "upload", path, "--run", "--wait", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "completed_with_errors")
	assert.Contains(t, out, "Rows processed:  1")

	onlyJobID(t, store)
	assert.Len(t, store.KnowledgeItems(), 1)
}

func TestRowsRejectsUnknownStatus(t *testing.T) {
	url, _ := startServer(t)
	_, err := execute(t, "rows", "some-id", "--status", "done", "--server", url)
	assert.ErrorContains(t, err, "invalid status")
}

func TestCancelWithoutActiveRun(t *testing.T) {
	url, store := startServer(t)
	path := writeFile(t, "methods.csv", methodsCSV)
	_, err := execute(t, "upload", path, "--server", url)
	require.NoError(t, err)

	_, err = execute(t, "cancel", onlyJobID(t, store), "--server", url)
	assert.ErrorContains(t, err, "no active run")
}

func TestJobsNotFound(t *testing.T) {
	url, _ := startServer(t)
	_, err := execute(t, "jobs", "missing", "--server", url)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	path := writeFile(t, "methods.csv", methodsCSV+"Fishbone,Problem Solving,Strategic,Quality\n")

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "3 data rows")
	assert.Contains(t, out, "Categories:      1")
	assert.Contains(t, out, "Planning layers: 2")
	assert.Contains(t, out, "row 2: name is required")
}

func TestValidate_MissingHeaders(t *testing.T) {
	path := writeFile(t, "bad.csv", "Title,Category\nA,B\n")

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "Missing required headers: Knowledge Item")
}

func TestMappingPrintsOverrides(t *testing.T) {
	overrides := writeFile(t, "mapping.yaml", "field_mappings:\n  \"Title\": name\n")

	out, err := execute(t, "mapping", "--file", overrides)
	require.NoError(t, err)
	assert.Contains(t, out, "Title: name")
	assert.Contains(t, out, "Knowledge Item: name")
	assert.Contains(t, out, "required_headers:")
}
