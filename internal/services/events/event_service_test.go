package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
)

func TestService_PublishPreservesOrder(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	require.NoError(t, service.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, event.Payload.(*models.Job).PageIndex)
		if len(got) == 20 {
			close(done)
		}
		return nil
	}))

	for i := 1; i <= 20; i++ {
		require.NoError(t, service.Publish(context.Background(), interfaces.Event{
			Type:    interfaces.EventJobUpdated,
			Payload: &models.Job{ID: "list_1", PageIndex: i},
		}))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, page := range got {
		assert.Equal(t, i+1, page)
	}
}

func TestService_PublishSyncCollectsErrors(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	failing := func(ctx context.Context, event interfaces.Event) error { return errors.New("nope") }
	panicking := func(ctx context.Context, event interfaces.Event) error { panic("bad handler") }
	require.NoError(t, service.Subscribe(interfaces.EventJobDeleted, failing))
	require.NoError(t, service.Subscribe(interfaces.EventJobDeleted, panicking))

	err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobDeleted, Payload: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Contains(t, err.Error(), "bad handler")
}

func TestService_RejectsNilHandler(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	assert.Error(t, service.Subscribe(interfaces.EventJobDeleted, nil))
	require.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobDeleted}))
}

func TestService_PublishAfterClose(t *testing.T) {
	service := NewService(arbor.NewLogger())
	require.NoError(t, service.Close())
	assert.Error(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobDeleted}))
}
