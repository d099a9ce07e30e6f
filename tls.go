package mordor

import (
	"runtime"
	"sync"
)

// ThreadID identifies a logical worker thread within a Scheduler (assigned
// 0..threads-1 at worker-start time; not an OS thread id). spec §4.2's
// affinity model only needs stable logical identities.
type ThreadID int

// AnyThread is the wildcard affinity: a ready-queue entry with this thread
// id may be claimed by any worker, and a fiber that has never been entered
// is not yet bound to a thread.
const AnyThread ThreadID = -1

// fiberRegistry maps the real Go goroutine id of a fiber's dedicated
// backing goroutine (or, for a thread-root fiber, the id of the goroutine
// that constructed it) to the Fiber whose entry procedure runs on that
// exact goroutine for its entire lifetime. A fiber's backing goroutine
// executes exactly one fiber's trampoline from spawn to return, so this
// mapping is 1:1 and stable for one "generation" (construction/respawn
// through termination), unlike the calling fiber's position in a Call
// chain, which changes far more often than the underlying goroutine does.
//
// This is the thread-local emulation spec §9 calls for ("explicit
// thread-local slots set and cleared by the dispatch loop"): Go has no
// native TLS, so the real goroutine id of the one goroutine that will ever
// run a given fiber's code stands in for it.
var fiberRegistry sync.Map // map[uint64]*Fiber

func registerFiberGoroutine(f *Fiber) {
	fiberRegistry.Store(currentThreadIdentity(), f)
}

func unregisterFiberGoroutine() {
	fiberRegistry.Delete(currentThreadIdentity())
}

// CurrentFiber returns the Fiber whose entry procedure is executing on the
// calling goroutine, or nil if this goroutine has never constructed a
// root fiber nor been spawned to back a non-root one.
func CurrentFiber() *Fiber {
	v, ok := fiberRegistry.Load(currentThreadIdentity())
	if !ok {
		return nil
	}
	return v.(*Fiber)
}

func requireCurrentFiber() *Fiber {
	f := CurrentFiber()
	if f == nil {
		panic(&InvariantError{Message: "no fiber is current on this goroutine; construct a root fiber first"})
	}
	return f
}

// getGoroutineID parses the numeric goroutine id out of runtime.Stack's
// header line.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
