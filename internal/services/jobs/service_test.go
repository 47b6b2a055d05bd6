package jobs

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/prospector/internal/models"
)

func TestService_CreateJobValidation(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	_, err := h.service.CreateJob(ctx, CreateRequest{SourceURL: sourceURL, ListName: "  "})
	assert.Error(t, err)

	_, err = h.service.CreateJob(ctx, CreateRequest{SourceURL: "not a url", ListName: "List"})
	assert.Error(t, err)

	_, err = h.service.CreateJob(ctx, CreateRequest{SourceURL: "https://other.example.test/search", ListName: "List"})
	assert.True(t, errors.Is(err, ErrInvalidSourceURL))

	assert.Empty(t, h.service.ListJobs())
}

func TestService_CreateJobPreemptsRunningJob(t *testing.T) {
	h := newHarness(t, 3)
	var (
		once     sync.Once
		second   *models.Job
		firstID  string
		createMu sync.Mutex
	)
	h.pacer.onSettle = func(ctx context.Context, page int) {
		if page != 2 {
			return
		}
		once.Do(func() {
			job, err := h.service.CreateJob(ctx, CreateRequest{SourceURL: sourceURL, ListName: "Second"})
			assert.NoError(t, err)
			createMu.Lock()
			second = job
			createMu.Unlock()
		})
	}

	first := h.create(t, "First")
	firstID = first.ID
	h.service.Wait()

	createMu.Lock()
	require.NotNil(t, second)
	secondID := second.ID
	createMu.Unlock()

	a := h.job(t, firstID)
	assert.Equal(t, models.JobStatePaused, a.State)
	assert.Empty(t, a.StateReason)
	assert.Equal(t, 2, a.PageIndex)

	b := h.job(t, secondID)
	assert.Equal(t, models.JobStateCompleted, b.State)
	assert.Equal(t, 3, b.PageIndex)

	assert.Zero(t, h.storage.runningViolations())
	assert.Equal(t, secondID, h.service.CurrentJobID())

	_, _, launches, closes := h.site.snapshot()
	assert.Equal(t, 2, launches)
	assert.Equal(t, 2, closes)
}

// blockOnPage parks the runner in Settle on page until release is closed
func blockOnPage(h *harness, page int) (started chan struct{}, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	h.pacer.onSettle = func(ctx context.Context, current int) {
		if current != page {
			return
		}
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
	}
	return started, release
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for runner")
	}
}

func TestService_StatusAndGuardsWhileRunning(t *testing.T) {
	h := newHarness(t, 2)
	started, release := blockOnPage(h, 1)
	job := h.create(t, "List")
	waitFor(t, started)

	status := h.service.GetStatus()
	assert.True(t, status.Running)
	assert.False(t, status.Paused)
	require.NotNil(t, status.CurrentJob)
	assert.Equal(t, job.ID, status.CurrentJob.ID)

	_, err := h.service.RunJob(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrAlreadyCurrent)
	assert.ErrorIs(t, h.service.DeleteJob(context.Background(), job.ID), ErrJobRunning)

	close(release)
	h.service.Wait()

	status = h.service.GetStatus()
	assert.False(t, status.Running)
	assert.False(t, status.Paused)
	assert.Equal(t, models.JobStateCompleted, status.CurrentJob.State)
}

func TestService_PauseRequestMarksPausing(t *testing.T) {
	h := newHarness(t, 3)
	started, release := blockOnPage(h, 1)
	job := h.create(t, "List")
	waitFor(t, started)

	paused, err := h.service.RequestPause(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePausing, paused.State)
	assert.False(t, h.service.GetStatus().Running)

	close(release)
	h.service.Wait()

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatePaused, got.State)
	assert.True(t, h.service.GetStatus().Paused)
}

func TestService_RequestPauseWithoutLoop(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	_, err := h.service.RequestPause(ctx, "")
	assert.ErrorIs(t, err, ErrNoCurrentJob)
	_, err = h.service.RequestPause(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	stale := &models.Job{ID: "stale_1", State: models.JobStateRunning, PageIndex: 4}
	require.NoError(t, h.store.Put(ctx, stale))
	got, err := h.service.RequestPause(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePaused, got.State)
	assert.Equal(t, 4, got.PageIndex)
}

func TestService_RunJobErrors(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	_, err := h.service.RunJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = h.service.ResumeCurrent(ctx)
	assert.ErrorIs(t, err, ErrNoCurrentJob)

	job := h.create(t, "List")
	h.service.Wait()
	_, err = h.service.RunJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobCompleted)
}

func TestService_DeleteJobKeepsOutput(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	assert.ErrorIs(t, h.service.DeleteJob(ctx, "missing"), ErrJobNotFound)

	job := h.create(t, "List")
	h.service.Wait()
	require.NoError(t, h.service.DeleteJob(ctx, job.ID))

	_, err := h.service.GetJob(job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Empty(t, h.service.CurrentJobID())
	_, err = os.Stat(job.OutputFile)
	assert.NoError(t, err)
}

func TestService_RecoverPausesInterruptedJobs(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	require.NoError(t, h.store.Put(ctx, &models.Job{ID: "zeta_1", State: models.JobStateRunning, PageIndex: 3}))
	require.NoError(t, h.store.Put(ctx, &models.Job{ID: "alpha_2", State: models.JobStatePausing, PageIndex: 2}))
	require.NoError(t, h.store.Put(ctx, &models.Job{ID: "c_3", State: models.JobStateCompleted, PageIndex: 9}))

	assert.Equal(t, 2, h.service.Recover(ctx))

	for _, id := range []string{"zeta_1", "alpha_2"} {
		got := h.job(t, id)
		assert.Equal(t, models.JobStatePaused, got.State)
		assert.Equal(t, models.ReasonInterrupted, got.StateReason)
	}
	assert.Equal(t, models.JobStateCompleted, h.job(t, "c_3").State)
	assert.Equal(t, 3, h.job(t, "zeta_1").PageIndex)
	// Most recently created wins, whatever the list name
	assert.Equal(t, "alpha_2", h.service.CurrentJobID())
}

func TestService_ShutdownInterruptsStuckRunner(t *testing.T) {
	h := newHarness(t, 3)
	started, _ := blockOnPage(h, 1)
	job := h.create(t, "List")
	waitFor(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.service.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatePaused, got.State)
	assert.Equal(t, models.ReasonInterrupted, got.StateReason)
	assert.Equal(t, 1, got.PageIndex)

	_, _, launches, closes := h.site.snapshot()
	assert.Equal(t, launches, closes)
}
