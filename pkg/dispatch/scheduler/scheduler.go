// Package scheduler drives the periodic dispatch sweep on a fixed interval
// (spec.md §4.5).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/dispatcher"
	"github.com/emergency-platform/dispatch-engine/pkg/metrics"
)

// gracePeriod bounds how long Stop waits for an in-flight cycle to finish
// before returning anyway.
const gracePeriod = 5 * time.Second

// Scheduler runs dispatcher.Service.PeriodicDispatch every Interval, starting
// after one interval has elapsed rather than immediately (spec.md §4.5: the
// backend needs a moment to settle after its own startup before the first
// sweep reads it).
type Scheduler struct {
	service  dispatcher.Service
	interval time.Duration
	log      logr.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a Scheduler. interval must be positive; the caller validates
// this as part of config loading.
func New(service dispatcher.Service, interval time.Duration, log logr.Logger) *Scheduler {
	return &Scheduler{
		service:  service,
		interval: interval,
		log:      log.WithName("scheduler"),
	}
}

// Start launches the background ticking loop. Calling Start while already
// running is a no-op that logs a warning rather than starting a second loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Info("start called while already running, ignoring")
		return
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep, recovering from a panic in the dispatcher so
// that a single bad cycle never kills the ticking loop (spec.md §4.5).
func (s *Scheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(nil, "recovered from panic in scheduled dispatch cycle", "panic", r)
		}
	}()

	metrics.RecordSchedulerCycle()
	count, err := s.service.PeriodicDispatch(ctx)
	if err != nil {
		s.log.Error(err, "periodic dispatch cycle failed")
		return
	}
	s.log.V(1).Info("periodic dispatch cycle complete", "assignments", count)
}

// Stop signals the loop to exit and waits up to gracePeriod for any
// in-flight cycle to finish. Safe to call on a Scheduler that was never
// started or already stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(gracePeriod):
		s.log.Info("timed out waiting for in-flight dispatch cycle to finish")
	}
}
