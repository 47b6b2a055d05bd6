package jobs

import "sync"

// Run identifies one runner loop. A newer Run for the same job supersedes an older one.
type Run struct {
	JobID      string
	Generation uint64
	done       chan struct{}
}

// Done is closed once the loop has released the browser session
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// StopCause explains why a loop must halt at a checkpoint
type StopCause int

const (
	// Continue means the loop still owns the session
	Continue StopCause = iota
	// PauseRequested means a caller asked the current job to pause
	PauseRequested
	// Superseded means another job, or a newer run of this job, is now current
	Superseded
)

// SchedulerStatus is a snapshot of the scheduler
type SchedulerStatus struct {
	CurrentJobID string
	Running      bool // a loop is active and no pause is pending
	Pausing      bool // a loop is active and has been asked to pause
	LoopActive   bool
}

// Scheduler is the single owner of "which job may drive the browser session".
// Job state writes that must not race a lifecycle change run under its lock.
type Scheduler struct {
	mu             sync.Mutex
	currentID      string
	generation     uint64
	pauseRequested bool
	active         *Run
	loops          map[string]int // live loops per job id, including superseded ones winding down
}

// NewScheduler creates an idle scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{loops: make(map[string]int)}
}

// Activate makes jobID current and returns its Run plus the still-active previous Run, if any.
// The caller must wait for prev.Done() before driving the session.
func (s *Scheduler) Activate(jobID string, fn func()) (run *Run, prev *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	prev = s.active
	run = &Run{JobID: jobID, Generation: s.generation, done: make(chan struct{})}
	s.currentID = jobID
	s.pauseRequested = false
	s.active = run
	s.loops[jobID]++
	if fn != nil {
		fn()
	}
	return run, prev
}

// Finish marks run's loop as exited and wakes anything waiting on it
func (s *Scheduler) Finish(run *Run) {
	s.mu.Lock()
	if s.active == run {
		s.active = nil
		s.pauseRequested = false
	}
	if s.loops[run.JobID]--; s.loops[run.JobID] <= 0 {
		delete(s.loops, run.JobID)
	}
	s.mu.Unlock()
	close(run.done)
}

// ShouldStop is the checkpoint every loop polls between sub-steps
func (s *Scheduler) ShouldStop(run *Run) StopCause {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID != run.JobID || s.generation != run.Generation {
		return Superseded
	}
	if s.pauseRequested {
		return PauseRequested
	}
	return Continue
}

// Guard runs fn under the scheduler lock unless run has been superseded by a
// newer run of the same job, whose state it must not overwrite.
func (s *Scheduler) Guard(run *Run, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID == run.JobID && s.generation != run.Generation {
		return false
	}
	fn()
	return true
}

// RequestPause flags the active loop of jobID ("" means the current job) and
// runs fn under the lock. It returns false when no loop is running that job.
func (s *Scheduler) RequestPause(jobID string, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jobID == "" {
		jobID = s.currentID
	}
	if s.active == nil || s.currentID != jobID || jobID == "" {
		return false
	}
	s.pauseRequested = true
	if fn != nil {
		fn()
	}
	return true
}

// Adopt makes jobID current without starting a loop, so it can be resumed
func (s *Scheduler) Adopt(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		s.currentID = jobID
	}
}

// Forget clears jobID as current when no loop is running it
func (s *Scheduler) Forget(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID == jobID && s.loops[jobID] == 0 {
		s.currentID = ""
	}
}

// IsActive reports whether any loop for jobID is still alive
func (s *Scheduler) IsActive(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loops[jobID] > 0
}

// ActiveRun returns the run holding the session, or nil
func (s *Scheduler) ActiveRun() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Status returns a snapshot
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.active != nil && s.active.JobID == s.currentID
	return SchedulerStatus{
		CurrentJobID: s.currentID,
		Running:      active && !s.pauseRequested,
		Pausing:      active && s.pauseRequested,
		LoopActive:   len(s.loops) > 0,
	}
}
