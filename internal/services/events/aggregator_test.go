package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/models"
)

type triggerRecorder struct {
	mu      sync.Mutex
	batches [][]*models.Job
}

func (r *triggerRecorder) onTrigger(ctx context.Context, jobs []*models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, jobs)
}

func TestJobUpdateAggregator_KeepsLatestSnapshot(t *testing.T) {
	recorder := &triggerRecorder{}
	aggregator := NewJobUpdateAggregator(0, recorder.onTrigger, arbor.NewLogger())
	ctx := context.Background()

	aggregator.Record(ctx, &models.Job{ID: "b", State: models.JobStateRunning, PageIndex: 1})
	aggregator.Record(ctx, &models.Job{ID: "a", State: models.JobStateRunning, PageIndex: 1})
	aggregator.Record(ctx, &models.Job{ID: "a", State: models.JobStateRunning, PageIndex: 2})
	assert.Empty(t, recorder.batches)

	aggregator.FlushAll(ctx)
	require.Len(t, recorder.batches, 1)
	batch := recorder.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].ID)
	assert.Equal(t, 2, batch[0].PageIndex)

	aggregator.FlushAll(ctx)
	assert.Len(t, recorder.batches, 1)
}

func TestJobUpdateAggregator_SettledJobTriggersImmediately(t *testing.T) {
	recorder := &triggerRecorder{}
	aggregator := NewJobUpdateAggregator(0, recorder.onTrigger, arbor.NewLogger())
	ctx := context.Background()

	aggregator.Record(ctx, &models.Job{ID: "a", State: models.JobStateRunning, PageIndex: 3})
	aggregator.Record(ctx, &models.Job{ID: "a", State: models.JobStatePaused, PageIndex: 3})
	require.Len(t, recorder.batches, 1)
	assert.Equal(t, models.JobStatePaused, recorder.batches[0][0].State)

	// The superseded running snapshot is not flushed afterwards
	aggregator.FlushAll(ctx)
	assert.Len(t, recorder.batches, 1)
}

func TestJobUpdateAggregator_RecoversFromPanic(t *testing.T) {
	aggregator := NewJobUpdateAggregator(0, func(ctx context.Context, jobs []*models.Job) {
		panic("client gone")
	}, arbor.NewLogger())
	assert.NotPanics(t, func() {
		aggregator.Record(context.Background(), &models.Job{ID: "a", State: models.JobStateCompleted})
	})
}
