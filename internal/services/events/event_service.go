package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/interfaces"
)

const queueSize = 256

type dispatch struct {
	ctx   context.Context
	event interfaces.Event
}

// Service implements EventService with pub/sub. Asynchronous events are
// delivered by one dispatcher goroutine, so subscribers see them in publish order.
type Service struct {
	subscribers map[interfaces.EventType][]interfaces.EventHandler
	mu          sync.RWMutex
	logger      arbor.ILogger

	queue     chan dispatch
	done      chan struct{}
	closeOnce sync.Once
}

// NewService creates a new event service and starts its dispatcher
func NewService(logger arbor.ILogger) interfaces.EventService {
	s := &Service{
		subscribers: make(map[interfaces.EventType][]interfaces.EventHandler),
		logger:      logger,
		queue:       make(chan dispatch, queueSize),
		done:        make(chan struct{}),
	}
	common.SafeGo(logger, "eventDispatcher", s.dispatchLoop)
	return s
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return nil
}

// Publish queues an event for asynchronous delivery. A full queue drops the event.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	select {
	case <-s.done:
		return fmt.Errorf("event service closed")
	default:
	}

	select {
	case s.queue <- dispatch{ctx: context.WithoutCancel(ctx), event: event}:
		return nil
	default:
		s.logger.Warn().
			Str("event_type", string(event.Type)).
			Msg("Event queue full; dropping event")
		return fmt.Errorf("event queue full")
	}
}

// PublishSync delivers an event to every subscriber in the caller's goroutine
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	handlers := s.handlers(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	var errs []error
	for _, handler := range handlers {
		if err := s.deliver(ctx, handler, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("event handlers failed: %w", errors.Join(errs...))
	}
	return nil
}

// Close stops the dispatcher and drops every subscription
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = make(map[interfaces.EventType][]interfaces.EventHandler)
	s.logger.Info().Msg("Event service closed")
	return nil
}

func (s *Service) handlers(eventType interfaces.EventType) []interfaces.EventHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]interfaces.EventHandler(nil), s.subscribers[eventType]...)
}

func (s *Service) dispatchLoop() {
	for {
		select {
		case <-s.done:
			return
		case d := <-s.queue:
			for _, handler := range s.handlers(d.event.Type) {
				_ = s.deliver(d.ctx, handler, d.event)
			}
		}
	}
}

// deliver runs one handler, turning a panic into an error
func (s *Service) deliver(ctx context.Context, handler interfaces.EventHandler, event interfaces.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("event_type", string(event.Type)).
				Msg("Event handler failed")
		}
	}()
	return handler(ctx, event)
}
