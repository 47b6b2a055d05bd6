package jobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/models"
	"github.com/ternarybob/prospector/internal/storage/jsonfile"
)

type failingStorage struct {
	*jsonfile.JobStorage
	fail bool
}

func (f *failingStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.JobStorage.SaveJob(ctx, job)
}

func newFileStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	storage, err := jsonfile.NewJobStorage(dir, arbor.NewLogger())
	require.NoError(t, err)
	return NewStore(storage, nil, arbor.NewLogger()), dir
}

func TestStore_UpdateCreatesAndPersists(t *testing.T) {
	store, dir := newFileStore(t)
	ctx := context.Background()

	pageIndex := 2
	job, err := store.Update(ctx, "new_1", models.JobPatch{PageIndex: &pageIndex})
	require.NoError(t, err)
	assert.Equal(t, "new_1", job.ID)
	assert.Equal(t, 2, job.PageIndex)

	_, err = os.Stat(filepath.Join(dir, "new_1.json"))
	assert.NoError(t, err)

	// A fresh store sees the persisted record
	storage, err := jsonfile.NewJobStorage(dir, arbor.NewLogger())
	require.NoError(t, err)
	reloaded := NewStore(storage, nil, arbor.NewLogger())
	require.NoError(t, reloaded.Load(ctx))
	got, ok := reloaded.Get("new_1")
	require.True(t, ok)
	assert.Equal(t, 2, got.PageIndex)
}

func TestStore_GetAllReturnsCopies(t *testing.T) {
	store, _ := newFileStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, &models.Job{ID: "a", PageIndex: 1}))

	all := store.GetAll()
	require.Len(t, all, 1)
	all[0].PageIndex = 99

	got, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got.PageIndex)
	assert.Len(t, store.GetAll(), 1)
}

func TestStore_PersistenceFailureKeepsCache(t *testing.T) {
	storage, err := jsonfile.NewJobStorage(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)
	failing := &failingStorage{JobStorage: storage, fail: true}
	store := NewStore(failing, nil, arbor.NewLogger())

	state := models.JobStatePaused
	_, err = store.Update(context.Background(), "x", models.JobPatch{State: &state})
	assert.Error(t, err)

	got, ok := store.Get("x")
	require.True(t, ok)
	assert.Equal(t, models.JobStatePaused, got.State)
}

func TestStore_DeleteIdempotent(t *testing.T) {
	store, _ := newFileStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, &models.Job{ID: "a"}))

	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "a"))
	_, ok := store.Get("a")
	assert.False(t, ok)
}

func TestStore_SweepKeepsProtectedJob(t *testing.T) {
	store, dir := newFileStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, &models.Job{ID: "old"}))
	require.NoError(t, store.Put(ctx, &models.Job{ID: "current"}))
	require.NoError(t, store.Put(ctx, &models.Job{ID: "fresh"}))

	past := time.Now().Add(-100 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.json"), past, past))
	require.NoError(t, os.Chtimes(filepath.Join(dir, "current.json"), past, past))

	swept := store.SweepOlderThan(ctx, 72*time.Hour, "current")
	assert.Equal(t, []string{"old"}, swept)

	_, ok := store.Get("old")
	assert.False(t, ok)
	_, ok = store.Get("current")
	assert.True(t, ok)
	_, err := os.Stat(filepath.Join(dir, "current.json"))
	assert.NoError(t, err)
}
