package mordor

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// IdleStrategy is the pluggable idle()/tickle() contract spec §6 describes
// for integrating a scheduler with an external event source: idle blocks
// the calling worker until either deadline passes or Tickle is called from
// another goroutine, returning true if it was woken by a Tickle rather
// than by hitting the deadline. A zero deadline means "block until
// Tickle"; this package ships exactly one implementation,
// semaphoreIdleStrategy (see workerpool.go) — the only concrete scheduler
// built here is the semaphore-backed WorkerPool spec's §4.2 and §9
// describe as the workhorse; a real OS-event-backed idle strategy (an I/O
// manager) is explicitly out of this module's scope.
type IdleStrategy interface {
	Idle(deadline time.Time) (tickled bool)
	Tickle()
}

// Scheduler is a multi-threaded fiber executor with a shared, thread-
// affinity-aware ready queue, per spec §4.2. Construct one with
// NewWorkerPool; NewScheduler is available for a caller supplying its own
// IdleStrategy.
type Scheduler struct {
	mu    sync.Mutex
	queue readyQueue

	threads   int
	useCaller bool
	stackSize int
	name      string
	logger    *Logger

	idle   IdleStrategy
	timers *TimerManager

	state *schedulerState
	wg    sync.WaitGroup

	idleWorkers int // count of workers currently parked in idle, guarded by mu
}

// NewScheduler constructs a Scheduler using the supplied idle strategy.
// Most callers want NewWorkerPool instead.
func NewScheduler(idle IdleStrategy, opts ...Option) (*Scheduler, error) {
	cfg := resolveSchedulerOptions(opts)
	if cfg.threads < 1 && !cfg.useCaller {
		return nil, fmt.Errorf("mordor: NewScheduler requires at least one thread or WithUseCaller(true)")
	}
	if idle == nil {
		return nil, fmt.Errorf("mordor: NewScheduler requires a non-nil IdleStrategy")
	}
	s := &Scheduler{
		threads:   cfg.threads,
		useCaller: cfg.useCaller,
		stackSize: cfg.stackSize,
		name:      cfg.name,
		logger:    cfg.logger,
		idle:      idle,
		state:     newSchedulerState(),
	}
	s.timers = NewTimerManager(s.onTimerInsertedAtFront, s.logger)

	s.wg.Add(s.threads)
	for i := 0; i < s.threads; i++ {
		go s.workerLoop(ThreadID(i))
	}
	return s, nil
}

// Timers returns the Scheduler's TimerManager, which fires expired timers
// from inside the dispatch loop's idle cycle (spec §6's timer-driven idle
// contract).
func (s *Scheduler) Timers() *TimerManager {
	return s.timers
}

func (s *Scheduler) onTimerInsertedAtFront() {
	s.idle.Tickle()
}

// Schedule enqueues fiber (which must be HOLD) onto the ready queue,
// optionally pinned to thread (AnyThread for no affinity). If the worker
// pool may be idle, Schedule tickles it awake.
func (s *Scheduler) Schedule(fiber *Fiber, thread ThreadID) {
	s.enqueue(readyEntry{fiber: fiber, thread: thread})
}

// ScheduleFunc enqueues a closure to be lazily materialized into a fresh
// fiber when a worker claims it.
func (s *Scheduler) ScheduleFunc(fn func(), thread ThreadID) {
	s.enqueue(readyEntry{closure: fn, thread: thread})
}

func (s *Scheduler) enqueue(e readyEntry) {
	s.mu.Lock()
	s.queue.Push(e)
	shouldTickle := s.idleWorkers > 0
	s.mu.Unlock()
	if shouldTickle {
		s.idle.Tickle()
	}
}

// popReadyOrMarkIdle pops the next entry claimable by thread. On a miss it
// increments idleWorkers in the same critical section as the failed pop:
// enqueue checks idleWorkers under the same mu, so a Schedule/ScheduleFunc
// racing with a worker about to go idle can never land in the gap between
// "queue looked empty" and "idleWorkers incremented" and be left un-tickled.
func (s *Scheduler) popReadyOrMarkIdle(thread ThreadID) (readyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.queue.PopFor(thread)
	if !ok {
		s.idleWorkers++
	}
	return e, ok
}

// SwitchTo schedules the current fiber (pinned to thread, or AnyThread)
// then yields to the scheduler's dispatch loop on this thread; resumption
// happens on whichever worker later claims it, per spec §4.2.
func (s *Scheduler) SwitchTo(thread ThreadID) {
	current := requireCurrentFiber()
	s.Schedule(current, thread)
	current.root.YieldTo()
}

// YieldTo yields the current fiber to this scheduler's dispatch fiber on
// this thread so the next queued entry can run. The current fiber is NOT
// re-queued — the caller must arrange for its own re-scheduling, per spec
// §4.2.
func (s *Scheduler) YieldTo() {
	current := requireCurrentFiber()
	current.root.YieldTo()
}

// Stopping reports whether Stop has been called. Exposed so a custom
// IdleStrategy can observe it (spec §4.2's overridable `stopping()`).
func (s *Scheduler) Stopping() bool {
	return s.state.Load() != SchedulerRunning
}

// materialize returns the entry's fiber, constructing one from its
// closure if necessary.
func (s *Scheduler) materialize(e readyEntry) *Fiber {
	if e.fiber != nil {
		return e.fiber
	}
	f, err := NewFiber(e.closure, s.stackSize, WithFiberLogger(s.logger))
	if err != nil {
		// NewFiber fails only for a nil closure passed to ScheduleFunc or
		// a negative WithSchedulerStackSize.
		panic(&InvariantError{Message: "mordor: failed to materialize scheduled closure", Cause: err})
	}
	return f
}

func (s *Scheduler) idleDeadline() time.Time {
	if s.timers == nil {
		return time.Time{}
	}
	d := s.timers.NextTimer()
	if d == NoTimer {
		return time.Time{}
	}
	return time.Now().Add(d)
}

// workerLoop is the dispatch loop for one logical worker thread, per spec
// §4.2's three-step algorithm. It runs for the lifetime of the Scheduler
// on its own OS thread (runtime.LockOSThread), which makes nativeThreadID
// meaningful in its log lines; the fibers it dispatches still run on their
// own backing goroutines, which are not pinned.
func (s *Scheduler) workerLoop(id ThreadID) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	root := NewRootFiber(WithFiberName(fmt.Sprintf("%s-worker-%d", s.name, id)))
	root.scheduler = s
	root.homeThread = id
	defer unregisterFiberGoroutine()

	if s.logger != nil {
		s.logger.Debug("worker starting", "scheduler", s.name, "thread", int(id), "native_tid", nativeThreadID())
	}
	s.runDispatchLoop(id)
	if s.logger != nil {
		s.logger.Debug("worker stopping", "scheduler", s.name, "thread", int(id))
	}
	s.wg.Done()
}

// Dispatch lets the calling goroutine participate as a worker (spec
// §4.2's caller-thread hijack mode), running until Stop has been called
// and the queue is empty. Use with WithUseCaller(true). It returns
// ErrSchedulerStopped immediately, without running anything, if the
// Scheduler has already fully stopped.
func (s *Scheduler) Dispatch() error {
	if s.state.Load() == SchedulerStopped {
		return ErrSchedulerStopped
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	root := NewRootFiber(WithFiberName(s.name + "-caller"))
	root.scheduler = s
	root.homeThread = AnyThread
	defer unregisterFiberGoroutine()

	s.runDispatchLoop(AnyThread)
	return nil
}

func (s *Scheduler) runDispatchLoop(id ThreadID) {
	for {
		entry, ok := s.popReadyOrMarkIdle(id)
		if ok {
			fib := s.materialize(entry)
			if fib.State() == StateExec {
				// Scheduled while still running on another worker (before
				// its own yield): put the entry back until it is HOLD.
				s.mu.Lock()
				s.queue.Push(entry)
				s.mu.Unlock()
				continue
			}
			fib.scheduler = s
			if entry.thread != AnyThread {
				fib.homeThread = entry.thread
			}
			fib.YieldTo()
			continue
		}

		if s.Stopping() {
			s.mu.Lock()
			s.idleWorkers--
			empty := s.queue.Len() == 0
			s.mu.Unlock()
			if empty {
				return
			}
			continue
		}

		deadline := s.idleDeadline()
		s.idle.Idle(deadline)
		if s.timers != nil {
			s.timers.ProcessTimers()
		}

		s.mu.Lock()
		s.idleWorkers--
		s.mu.Unlock()
	}
}

// Stop requests shutdown: no more work will be dispatched once the queue
// drains, every worker's idle block is tickled so it can observe
// Stopping(), and Stop blocks until all background workers (threads
// started by NewScheduler/NewWorkerPool) have exited. It does not wait for
// a caller-thread Dispatch() invocation; the caller is responsible for
// that goroutine observing Stopping() on its own.
func (s *Scheduler) Stop() {
	if !s.state.TryTransition(SchedulerRunning, SchedulerStopping) {
		return
	}
	for i := 0; i < s.threads; i++ {
		s.idle.Tickle()
	}
	s.wg.Wait()
	s.state.Store(SchedulerStopped)
}
