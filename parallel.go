package mordor

import (
	"sync"
)

// runCaptured runs fn, converting a panic into a *PanicError so parallel
// combinators can treat user-code-failure uniformly with a plain error
// return, per spec §7.
func runCaptured(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return fn()
}

func runCapturedPredicate[T any](fn func(T) (bool, error), item T) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
			ok = false
		}
	}()
	return fn(item)
}

// ParallelDo runs each fn concurrently as a fiber scheduled on the
// current fiber's Scheduler, blocking (cooperatively — other scheduled
// work, including on a single-threaded Scheduler, continues to run) until
// all have finished. It returns the first non-nil error observed, in
// completion order rather than argument order: the two are
// indistinguishable once fns run concurrently, and completion order is
// the cheaper invariant to provide.
func ParallelDo(fns ...func() error) error {
	if len(fns) == 0 {
		return nil
	}
	caller := requireCurrentFiber()
	sched := caller.scheduler
	if sched == nil {
		panic(&InvariantError{Message: "mordor: ParallelDo requires a fiber running under a Scheduler"})
	}

	var mu sync.Mutex
	var firstErr error

	for _, fn := range fns {
		fn := fn
		sched.ScheduleFunc(func() {
			err := runCaptured(fn)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			sched.Schedule(caller, AnyThread)
		}, AnyThread)
	}

	// Every worker above reschedules caller exactly once, so caller must
	// yield exactly len(fns) times — one yield per outstanding worker,
	// never a conditional poll on a shared counter. A worker finishing
	// before caller's first YieldTo still lands its Schedule(caller) entry
	// in the ready queue rather than stranding it: the Nth YieldTo call
	// always consumes the Nth such entry, in whatever order they arrive.
	for range fns {
		sched.YieldTo()
	}
	return firstErr
}

// ParallelDoCollectAll behaves like ParallelDo but collects every failure
// instead of only the first, returning nil, a single error, or an
// *AggregateError if more than one fn failed.
func ParallelDoCollectAll(fns ...func() error) error {
	if len(fns) == 0 {
		return nil
	}
	caller := requireCurrentFiber()
	sched := caller.scheduler
	if sched == nil {
		panic(&InvariantError{Message: "mordor: ParallelDoCollectAll requires a fiber running under a Scheduler"})
	}

	var mu sync.Mutex
	var errs []error

	for _, fn := range fns {
		fn := fn
		sched.ScheduleFunc(func() {
			if err := runCaptured(fn); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			sched.Schedule(caller, AnyThread)
		}, AnyThread)
	}

	// See ParallelDo: one yield per worker, not a poll on a shared counter.
	for range fns {
		sched.YieldTo()
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return &AggregateError{Errors: errs}
	}
}

// ParallelForEach applies fn to items using up to parallelism concurrent
// fiber workers on the current fiber's Scheduler. It stops dispatching
// new items (letting in-flight ones finish) the first time fn returns
// false or a non-nil error, and reports the first such error in
// completion order. parallelism <= 0 defaults to 4; parallelism == 1 runs
// items inline with no scheduling at all.
func ParallelForEach[T any](items []T, fn func(T) (bool, error), parallelism int) (bool, error) {
	if len(items) == 0 {
		return true, nil
	}
	if parallelism <= 0 {
		parallelism = 4
	}
	if parallelism == 1 {
		for _, item := range items {
			ok, err := fn(item)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	if parallelism > len(items) {
		parallelism = len(items)
	}

	caller := requireCurrentFiber()
	sched := caller.scheduler
	if sched == nil {
		panic(&InvariantError{Message: "mordor: ParallelForEach requires a fiber running under a Scheduler"})
	}

	type outcome struct {
		ok  bool
		err error
	}
	// completed transports results; it is not itself the rendezvous. The
	// rendezvous is the 1:1 pairing between a worker's Schedule(caller) and
	// one of caller's YieldTo calls below, mirroring the original's fixed
	// "while (parallelism > 0) { yieldTo(); --parallelism }" loop — each
	// worker reschedules caller unconditionally, exactly once, so caller
	// never has to poll a shared counter to know whether a wakeup is still
	// owed to it.
	completed := make(chan outcome, len(items))

	runItem := func(item T) {
		sched.ScheduleFunc(func() {
			ok, err := runCapturedPredicate(fn, item)
			completed <- outcome{ok: ok, err: err}
			sched.Schedule(caller, AnyThread)
		}, AnyThread)
	}

	next := 0
	for ; next < parallelism; next++ {
		runItem(items[next])
	}

	overallOK := true
	var firstErr error
	live := parallelism
	stopped := false

	for live > 0 {
		sched.YieldTo()
		live--
		r := <-completed
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			overallOK = false
			stopped = true
		} else if !r.ok {
			overallOK = false
			stopped = true
		}
		if !stopped && next < len(items) {
			runItem(items[next])
			next++
			live++
		}
	}
	return overallOK, firstErr
}

// SchedulerSwitcher moves the current fiber onto target, returning a
// closure that moves it back to its original scheduler and thread
// affinity. Call the closure with defer so the fiber always returns home
// when the enclosing function exits, matching the automatic scope-exit
// behavior. A nil target, or a target equal to the fiber's current
// scheduler, is a no-op and returns a no-op closure.
func SchedulerSwitcher(target *Scheduler) func() {
	current := requireCurrentFiber()
	original := current.scheduler
	originalThread := current.homeThread

	if target == nil || target == original {
		return func() {}
	}

	current.rebind()
	target.Schedule(current, AnyThread)
	current.root.YieldTo()

	return func() {
		if original == nil {
			return
		}
		current.rebind()
		original.Schedule(current, originalThread)
		current.root.YieldTo()
	}
}
