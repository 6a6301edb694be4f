package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cnc5/glacier/pkg/log"
	"github.com/cnc5/glacier/pkg/metrics"
	"github.com/cnc5/glacier/pkg/render"
	"github.com/cnc5/glacier/pkg/types"
)

const tickInterval = 500 * time.Millisecond

// Scheduler drives every registered supervisor through its state machine. It
// is the single origin of the SCHEDULED->RUNNING and COMPLETED->COMPRESSING
// transitions; the supervisors never call back into it.
type Scheduler struct {
	registry *render.Registry
	stopCh   chan struct{}
	logger   zerolog.Logger

	wasEmpty bool
}

// NewScheduler creates a new scheduler over the shared registry
func NewScheduler(registry *render.Registry) *Scheduler {
	return &Scheduler{
		registry: registry,
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("scheduler"),
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// run is the main scheduler loop. A failure in one task's packaging step must
// not stop progress on other tasks, so each pass recovers and keeps going.
func (s *Scheduler) run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

// tick performs one scheduling pass over a snapshot of the registry, in task
// insertion order.
func (s *Scheduler) tick() {
	supervisors := s.registry.Snapshot()
	if len(supervisors) == 0 {
		if !s.wasEmpty {
			s.logger.Debug().Msg("empty scheduler cycle")
			s.wasEmpty = true
		}
		return
	}
	s.wasEmpty = false
	s.logger.Debug().Int("tasks", len(supervisors)).Msg("full scheduler cycle")

	for _, supervisor := range supervisors {
		s.advance(supervisor)
	}
	metrics.SchedulerPasses.Inc()
}

// advance applies at most one transition to a supervisor
func (s *Scheduler) advance(supervisor *render.Supervisor) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task_id", supervisor.TaskID()).
				Interface("panic", r).
				Msg("recovered panic while advancing task")
		}
	}()

	switch supervisor.State() {
	case types.TaskStateScheduled:
		// Non-blocking: the render runs on its own goroutines.
		supervisor.Render()

	case types.TaskStateCompleted:
		// Synchronous. Packaging can hold up the loop for the length of
		// the tar run; this transition is not latency-critical.
		start := time.Now()
		supervisor.PackOutput()
		metrics.PackDuration.Observe(time.Since(start).Seconds())
	}
}
