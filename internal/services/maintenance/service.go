// -----------------------------------------------------------------------
// Retention Sweep - purges job records that have not changed for too long
// -----------------------------------------------------------------------

package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
)

// Sweeper removes records older than age, keeping the listed ids
type Sweeper interface {
	SweepOlderThan(ctx context.Context, age time.Duration, keep ...string) []string
}

// Service runs the retention sweep once at startup and then on a cron schedule.
// The current job is never swept, whatever its age.
type Service struct {
	sweeper  Sweeper
	current  func() string
	age      time.Duration
	schedule string
	cron     *cron.Cron
	logger   arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates a retention service; current returns the id to protect
func NewService(sweeper Sweeper, current func() string, config common.JobsConfig, logger arbor.ILogger) *Service {
	return &Service{
		sweeper:  sweeper,
		current:  current,
		age:      config.RetentionAge.Or(72 * time.Hour),
		schedule: config.RetentionSchedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Sweep runs one retention pass and returns the removed ids
func (s *Service) Sweep(ctx context.Context) []string {
	var keep []string
	if s.current != nil {
		if id := s.current(); id != "" {
			keep = append(keep, id)
		}
	}
	removed := s.sweeper.SweepOlderThan(ctx, s.age, keep...)
	s.logger.Debug().Int("removed", len(removed)).Dur("age", s.age).Msg("Retention sweep finished")
	return removed
}

// Start sweeps immediately, then schedules periodic sweeps when a schedule is configured
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("retention sweep already running")
	}

	s.Sweep(ctx)

	if s.schedule != "" {
		if _, err := s.cron.AddFunc(s.schedule, func() {
			s.Sweep(context.Background())
		}); err != nil {
			return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
		}
		s.cron.Start()
		s.logger.Info().Str("schedule", s.schedule).Dur("age", s.age).Msg("Retention sweep scheduled")
	}
	s.running = true
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}
