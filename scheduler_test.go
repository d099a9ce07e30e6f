package mordor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSchedulerRunsScheduledClosure exercises the round-trip property:
// schedule(f); run-to-empty executes f exactly once.
func TestSchedulerRunsScheduledClosure(t *testing.T) {
	pool, err := NewWorkerPool(WithThreads(2), WithSchedulerName("test"))
	require.NoError(t, err)

	var ran int32
	var mu sync.Mutex
	done := make(chan struct{})
	pool.ScheduleFunc(func() {
		mu.Lock()
		ran++
		mu.Unlock()
		close(done)
	}, AnyThread)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled closure never ran")
	}
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), ran)
}

// TestSchedulerThreadAffinity mirrors scenario 6: a closure scheduled
// with an explicit thread affinity only ever runs on that thread, even
// though another thread is idle and available.
func TestSchedulerThreadAffinity(t *testing.T) {
	pool, err := NewWorkerPool(WithThreads(2), WithSchedulerName("affinity"))
	require.NoError(t, err)

	var mu sync.Mutex
	var observed ThreadID
	done := make(chan struct{})

	pool.ScheduleFunc(func() {
		mu.Lock()
		observed = CurrentFiber().homeThread
		mu.Unlock()
		close(done)
	}, ThreadID(1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("affinity-pinned closure never ran")
	}
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ThreadID(1), observed)
}

// TestSchedulerStopDrainsQueue ensures Stop lets already-queued work run
// to completion before workers exit.
func TestSchedulerStopDrainsQueue(t *testing.T) {
	pool, err := NewWorkerPool(WithThreads(1), WithSchedulerName("drain"))
	require.NoError(t, err)

	const n = 20
	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		pool.ScheduleFunc(func() {
			mu.Lock()
			count++
			mu.Unlock()
			wg.Done()
		}, AnyThread)
	}
	pool.Stop()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, n, count)
}

// TestSchedulerTimerIntegration verifies that the Scheduler drives its
// TimerManager from inside the idle cycle.
func TestSchedulerTimerIntegration(t *testing.T) {
	pool, err := NewWorkerPool(WithThreads(1), WithSchedulerName("timers"))
	require.NoError(t, err)

	fired := make(chan struct{})
	pool.Timers().RegisterTimer(10*time.Millisecond, func() { close(fired) }, false)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired through the scheduler's idle cycle")
	}
	pool.Stop()
}
