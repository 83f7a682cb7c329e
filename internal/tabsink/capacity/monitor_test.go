package capacity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clock "k8s.io/utils/clock/testing"

	"github.com/G-Research/tabsink/internal/common/sinkcontext"
)

type recordingObserver struct {
	mu       sync.Mutex
	ceilings []int
}

func (r *recordingObserver) RecordCeiling(ceiling int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ceilings = append(r.ceilings, ceiling)
}

func (r *recordingObserver) get() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ceilings...)
}

func TestMonitor_PollsOnInterval(t *testing.T) {
	pool := &fakePool{}
	pool.channels.Store(1)
	observer := &recordingObserver{}
	testClock := clock.NewFakeClock(time.Now())
	monitor := NewMonitor(NewPoolOracle(pool, 10, 1), time.Second, observer)
	monitor.clock = testClock

	ctx, cancel := sinkcontext.WithCancel(sinkcontext.Background())
	done := make(chan error)
	go func() {
		done <- monitor.Run(ctx)
	}()

	assert.Eventually(t, testClock.HasWaiters, time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{10}, observer.get())

	pool.channels.Store(3)
	testClock.Step(time.Second)
	assert.Eventually(t, func() bool { return len(observer.get()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{10, 30}, observer.get())

	cancel()
	assert.NoError(t, <-done)
}

func TestMonitor_RealClockTicks(t *testing.T) {
	pool := &fakePool{}
	pool.channels.Store(2)
	observer := &recordingObserver{}
	monitor := NewMonitor(NewPoolOracle(pool, 5, 1), 5*time.Millisecond, observer)

	ctx, cancel := sinkcontext.WithCancel(sinkcontext.Background())
	done := make(chan error)
	go func() {
		done <- monitor.Run(ctx)
	}()

	assert.Eventually(t, func() bool { return len(observer.get()) >= 3 }, 5*time.Second, 5*time.Millisecond)
	for _, ceiling := range observer.get() {
		assert.Equal(t, 10, ceiling)
	}
	cancel()
	assert.NoError(t, <-done)
}
