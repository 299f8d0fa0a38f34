package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/kbstudio/internal/importer"
	"github.com/raphaelgruber/kbstudio/internal/memstore"
	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner runs fn for every batch.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, jobID string, opts importer.RunOptions) (*importer.Summary, error)
}

func (f *fakeRunner) Run(ctx context.Context, jobID string, opts importer.RunOptions) (*importer.Summary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, jobID)
	f.mu.Unlock()
	return f.fn(ctx, jobID, opts)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStart_CompletesWithSummary(t *testing.T) {
	runner := &fakeRunner{fn: func(_ context.Context, _ string, opts importer.RunOptions) (*importer.Summary, error) {
		opts.OnProgress(1, 2)
		opts.OnProgress(2, 2)
		return &importer.Summary{ProcessedCount: 2, Errors: []string{}}, nil
	}}
	m := NewJobManager(runner, nil)

	run, err := m.Start(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", run.ImportID)

	final, err := m.Wait(waitCtx(t), "job-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, final.Status)
	assert.True(t, final.Terminal())
	assert.Equal(t, 2, final.Progress)
	assert.Equal(t, 2, final.Total)
	require.NotNil(t, final.Summary)
	assert.Equal(t, 2, final.Summary.ProcessedCount)
	assert.NotNil(t, final.CompletedAt)
}

func TestProgressNeverMovesBackwards(t *testing.T) {
	var mid Run
	var m *JobManager
	runner := &fakeRunner{fn: func(_ context.Context, jobID string, opts importer.RunOptions) (*importer.Summary, error) {
		opts.OnProgress(2, 3)
		opts.OnProgress(1, 3)
		mid, _ = m.Get(jobID)
		opts.OnProgress(3, 3)
		return &importer.Summary{ProcessedCount: 3, Errors: []string{}}, nil
	}}
	m = NewJobManager(runner, nil)

	_, err := m.Start(context.Background(), "job-1")
	require.NoError(t, err)
	final, err := m.Wait(waitCtx(t), "job-1")
	require.NoError(t, err)

	assert.Equal(t, 2, mid.Progress)
	assert.Equal(t, 3, final.Progress)
}

func TestStart_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{fn: func(ctx context.Context, _ string, _ importer.RunOptions) (*importer.Summary, error) {
		<-release
		return &importer.Summary{}, nil
	}}
	m := NewJobManager(runner, nil)

	_, err := m.Start(context.Background(), "job-1")
	require.NoError(t, err)

	_, err = m.Start(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = m.RunSync(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// Other imports are independent.
	_, err = m.Start(context.Background(), "job-2")
	require.NoError(t, err)

	close(release)
	_, err = m.Wait(waitCtx(t), "job-1")
	require.NoError(t, err)
	_, err = m.Wait(waitCtx(t), "job-2")
	require.NoError(t, err)

	// A finished run does not block the next one.
	_, err = m.Start(context.Background(), "job-1")
	require.NoError(t, err)
	_, err = m.Wait(waitCtx(t), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, runner.callCount())
}

func TestStart_RunnerErrorMarksFailed(t *testing.T) {
	runner := &fakeRunner{fn: func(context.Context, string, importer.RunOptions) (*importer.Summary, error) {
		return nil, importer.ErrJobNotFound
	}}
	m := NewJobManager(runner, nil)

	_, err := m.Start(context.Background(), "missing")
	require.NoError(t, err)

	final, err := m.Wait(waitCtx(t), "missing")
	assert.ErrorIs(t, err, importer.ErrJobNotFound)
	assert.Equal(t, RunStatusFailed, final.Status)
	assert.Contains(t, final.Error, "not found")
}

func TestStart_RecoversPanics(t *testing.T) {
	runner := &fakeRunner{fn: func(context.Context, string, importer.RunOptions) (*importer.Summary, error) {
		panic("boom")
	}}
	m := NewJobManager(runner, nil)

	_, err := m.Start(context.Background(), "job")
	require.NoError(t, err)

	final, err := m.Wait(waitCtx(t), "job")
	require.Error(t, err)
	assert.Equal(t, RunStatusFailed, final.Status)
	assert.Contains(t, final.Error, "internal panic: boom")
}

func TestRunSync_ReturnsSummary(t *testing.T) {
	runner := &fakeRunner{fn: func(context.Context, string, importer.RunOptions) (*importer.Summary, error) {
		return &importer.Summary{ProcessedCount: 1, ErrorCount: 1}, nil
	}}
	m := NewJobManager(runner, nil)

	summary, err := m.RunSync(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ErrorCount)

	run, ok := m.Get("job")
	require.True(t, ok)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Total)
}

func TestCancelAndShutdown(t *testing.T) {
	started := make(chan struct{}, 2)
	runner := &fakeRunner{fn: func(ctx context.Context, _ string, _ importer.RunOptions) (*importer.Summary, error) {
		started <- struct{}{}
		<-ctx.Done()
		return &importer.Summary{Interrupted: true}, errors.Join(importer.ErrInterrupted, ctx.Err())
	}}
	m := NewJobManager(runner, nil)

	_, err := m.Start(context.Background(), "a")
	require.NoError(t, err)
	_, err = m.Start(context.Background(), "b")
	require.NoError(t, err)
	<-started
	<-started

	assert.True(t, m.Cancel("a"))
	final, err := m.Wait(waitCtx(t), "a")
	assert.ErrorIs(t, err, importer.ErrInterrupted)
	assert.Equal(t, RunStatusFailed, final.Status)
	assert.False(t, m.Cancel("a"))
	assert.False(t, m.Cancel("unknown"))

	require.NoError(t, m.Shutdown(waitCtx(t)))
	run, ok := m.Get("b")
	require.True(t, ok)
	assert.Equal(t, RunStatusFailed, run.Status)
}

func TestWait_UnknownRun(t *testing.T) {
	m := NewJobManager(&fakeRunner{}, nil)
	_, err := m.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownRun)
	_, ok := m.Get("nope")
	assert.False(t, ok)
}

func TestList_MostRecentFirst(t *testing.T) {
	runner := &fakeRunner{fn: func(context.Context, string, importer.RunOptions) (*importer.Summary, error) {
		return &importer.Summary{}, nil
	}}
	m := NewJobManager(runner, nil)

	_, err := m.RunSync(context.Background(), "first")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = m.RunSync(context.Background(), "second")
	require.NoError(t, err)

	runs := m.List()
	require.Len(t, runs, 2)
	assert.Equal(t, "second", runs[0].ImportID)
	assert.Equal(t, "first", runs[1].ImportID)
}

func TestResumeInterrupted(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	for id, status := range map[string]models.JobStatus{
		"stuck":    models.JobStatusProcessing,
		"done":     models.JobStatusCompleted,
		"uploaded": models.JobStatusUploaded,
	} {
		require.NoError(t, store.CreateImportJob(ctx, &models.ImportJob{ID: id, Status: status}))
	}

	runner := &fakeRunner{fn: func(context.Context, string, importer.RunOptions) (*importer.Summary, error) {
		return &importer.Summary{}, nil
	}}
	m := NewJobManager(runner, nil)

	n, err := m.ResumeInterrupted(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.Wait(waitCtx(t), "stuck")
	require.NoError(t, err)
	assert.Equal(t, []string{"stuck"}, runner.calls)
}
