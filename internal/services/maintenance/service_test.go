package maintenance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
)

type recordingSweeper struct {
	mu    sync.Mutex
	calls int
	age   time.Duration
	keep  []string
}

func (r *recordingSweeper) SweepOlderThan(ctx context.Context, age time.Duration, keep ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.age = age
	r.keep = keep
	return []string{"old_1"}
}

func TestService_SweepProtectsCurrentJob(t *testing.T) {
	sweeper := &recordingSweeper{}
	config := common.JobsConfig{RetentionAge: common.Duration{Duration: time.Hour}}
	service := NewService(sweeper, func() string { return "current_1" }, config, arbor.NewLogger())

	removed := service.Sweep(context.Background())
	assert.Equal(t, []string{"old_1"}, removed)
	assert.Equal(t, time.Hour, sweeper.age)
	assert.Equal(t, []string{"current_1"}, sweeper.keep)
}

func TestService_StartSweepsImmediately(t *testing.T) {
	sweeper := &recordingSweeper{}
	service := NewService(sweeper, func() string { return "" }, common.JobsConfig{RetentionSchedule: "@every 1h"}, arbor.NewLogger())

	require.NoError(t, service.Start(context.Background()))
	defer service.Stop()

	assert.Equal(t, 1, sweeper.calls)
	assert.Equal(t, 72*time.Hour, sweeper.age)
	assert.Empty(t, sweeper.keep)
	assert.Error(t, service.Start(context.Background()))
}

func TestService_InvalidSchedule(t *testing.T) {
	service := NewService(&recordingSweeper{}, nil, common.JobsConfig{RetentionSchedule: "every tuesday"}, arbor.NewLogger())
	assert.Error(t, service.Start(context.Background()))
}
