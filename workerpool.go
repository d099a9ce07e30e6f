package mordor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// semaphoreIdleStrategy is the one IdleStrategy this package ships,
// backing NewWorkerPool. capacity is sized to the maximum number of
// workers that can be idle at once (background threads, plus the caller
// thread if WithUseCaller is set); every slot starts consumed, so Idle
// blocks until a matching Tickle frees one.
//
// A single-weight semaphore cannot model this: Stop wakes every worker
// by calling Tickle once per thread in a tight loop, with no guarantee
// any worker's Idle has consumed an earlier release before the next
// Tickle runs, so a 1-slot semaphore would coalesce all of those calls
// into a single wakeup and leave the rest of the pool parked forever.
// Sizing the semaphore to capacity and tracking outstanding (unconsumed)
// releases ourselves keeps every Tickle call safe to issue unconditionally
// up to capacity-many in flight, which is exactly the bound Stop needs,
// while still coalescing a runaway burst of Tickles beyond that (e.g. from
// onTimerInsertedAtFront firing repeatedly with nobody idle to wake).
type semaphoreIdleStrategy struct {
	sem      *semaphore.Weighted
	capacity int64

	mu          sync.Mutex
	outstanding int64 // tickles released but not yet consumed by an Idle
}

func newSemaphoreIdleStrategy(capacity int) *semaphoreIdleStrategy {
	if capacity < 1 {
		capacity = 1
	}
	sem := semaphore.NewWeighted(int64(capacity))
	// Consume every slot up front so the first Idle call from each worker
	// blocks until explicitly tickled.
	_ = sem.Acquire(context.Background(), int64(capacity))
	return &semaphoreIdleStrategy{sem: sem, capacity: int64(capacity)}
}

func (s *semaphoreIdleStrategy) Idle(deadline time.Time) bool {
	ctx := context.Background()
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	s.mu.Lock()
	s.outstanding--
	s.mu.Unlock()
	return true
}

func (s *semaphoreIdleStrategy) Tickle() {
	s.mu.Lock()
	if s.outstanding >= s.capacity {
		s.mu.Unlock()
		return
	}
	s.outstanding++
	s.mu.Unlock()
	s.sem.Release(1)
}

// NewWorkerPool constructs the one concrete Scheduler this package ships:
// a semaphore-backed IdleStrategy wired into NewScheduler, matching spec
// §4.2's "WorkerPool : Scheduler" relationship without requiring Go
// embedding to fake virtual dispatch — IdleStrategy is the seam a caller
// would otherwise need polymorphism for. Options are resolved here (and
// again, redundantly but harmlessly, inside NewScheduler) because the
// idle strategy's capacity must be known before construction.
func NewWorkerPool(opts ...Option) (*Scheduler, error) {
	cfg := resolveSchedulerOptions(opts)
	capacity := cfg.threads
	if cfg.useCaller {
		capacity++
	}
	return NewScheduler(newSemaphoreIdleStrategy(capacity), opts...)
}
