package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/model"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/scheduler"
)

type fakeService struct {
	calls   int32
	err     error
	onCycle func()
}

func (f *fakeService) DispatchForIntervention(ctx context.Context, interventionID string) ([]model.ScoredCandidate, error) {
	return nil, nil
}

func (f *fakeService) PeriodicDispatch(ctx context.Context) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.onCycle != nil {
		f.onCycle()
	}
	return 0, f.err
}

func TestSchedulerRunsOnEachTick(t *testing.T) {
	svc := &fakeService{}
	s := scheduler.New(svc, 20*time.Millisecond, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&svc.calls) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerStartWhileRunningIsNoop(t *testing.T) {
	svc := &fakeService{}
	s := scheduler.New(svc, 50*time.Millisecond, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // should not panic or start a second loop
	defer s.Stop()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, true)
}

func TestSchedulerStopIsIdempotentAndSafeWithoutStart(t *testing.T) {
	svc := &fakeService{}
	s := scheduler.New(svc, time.Second, logr.Discard())

	assert.NotPanics(t, func() {
		s.Stop()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Stop()
	assert.NotPanics(t, func() {
		s.Stop()
	})
}

func TestSchedulerContextCancelStopsLoop(t *testing.T) {
	svc := &fakeService{}
	s := scheduler.New(svc, 10*time.Millisecond, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&svc.calls) >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	countAtCancel := atomic.LoadInt32(&svc.calls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, countAtCancel, atomic.LoadInt32(&svc.calls), "no further cycles should run after context cancellation")
}
