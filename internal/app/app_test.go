package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/models"
	"github.com/ternarybob/prospector/internal/storage"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Dir = filepath.Join(dir, "data")
	cfg.Auth.CredentialsDir = filepath.Join(dir, "auth")
	cfg.Output.Dir = filepath.Join(dir, "output")
	cfg.Logging.Output = []string{"stdout"}
	return cfg
}

func TestNew_RecoversInterruptedJob(t *testing.T) {
	cfg := testConfig(t)
	logger := arbor.NewLogger()
	ctx := context.Background()

	seed, err := storage.NewStorageManager(logger, cfg)
	require.NoError(t, err)
	require.NoError(t, seed.JobStorage().SaveJob(ctx, &models.Job{
		ID:        "ctos_1700000000000",
		SourceURL: cfg.Scraper.SearchURLPrefixes[0] + "?query=cto",
		ListName:  "CTOs",
		PageIndex: 4,
		State:     models.JobStateRunning,
	}))
	require.NoError(t, seed.Close())

	application, err := New(cfg, logger)
	require.NoError(t, err)
	defer func() { assert.NoError(t, application.Close(ctx)) }()

	job, err := application.JobService.GetJob("ctos_1700000000000")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePaused, job.State)
	assert.Equal(t, models.ReasonInterrupted, job.StateReason)
	assert.Equal(t, 4, job.PageIndex)

	status := application.JobService.GetStatus()
	assert.False(t, status.Running)
	assert.True(t, status.Paused)
	require.NotNil(t, status.CurrentJob)
	assert.Equal(t, "ctos_1700000000000", status.CurrentJob.ID)
}

func TestNew_RejectsUnknownStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "sqlite"

	_, err := New(cfg, arbor.NewLogger())
	assert.Error(t, err)
}

func TestClose_WithoutJobs(t *testing.T) {
	cfg := testConfig(t)
	application, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)

	assert.Empty(t, application.JobService.ListJobs())
	assert.NoError(t, application.Close(context.Background()))
}
