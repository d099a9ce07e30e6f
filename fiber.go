package mordor

import "fmt"

// DefaultStackSize is the default fiber stack size in bytes, matching the
// original source's conventional default. Go fibers don't allocate a real
// stack buffer (see the architecture note below), but the value is kept as
// a constructor parameter for API fidelity and because a future
// arch-specific backend would need it.
const DefaultStackSize = 64 * 1024

// Fiber is a stackful coroutine: an entry procedure, a state, and a saved
// "machine context" that can be resumed where it last suspended.
//
// Architecture note: spec §9 calls for "a small arch-specific primitive"
// doing register/stack-pointer save-restore. Go provides no supported way
// to switch stacks without unsafe, platform-specific assembly, so the
// primitive below is a goroutine-plus-unbuffered-channel rendezvous: a non-root
// Fiber owns one dedicated backing goroutine for its lifetime between
// construct/Reset and termination, parked on a channel receive whenever it
// is not the one logically EXEC. Transferring control is "wake the target
// goroutine, park the source goroutine" — which, because only one side of
// the handshake is ever runnable at a time, gives the same one-fiber-
// EXEC-per-thread invariant a real context switch would.
type Fiber struct {
	state *fiberState
	entry func()

	// outer is the fiber that most recently Call()ed into this one; the
	// implicit target of the static Yield(). Valid only while the outer is
	// suspended waiting on this fiber; cleared the moment control returns
	// to it (on Yield, on normal return, or on an uncaught panic).
	outer *Fiber

	// root and scheduler are refreshed from whichever fiber transfers
	// into this one on every transfer (or set directly by NewRootFiber /
	// a Scheduler), so a fiber with no explicit thread affinity can float
	// across worker threads between resumes while YieldTo/SwitchTo still
	// hand control back to whichever root is currently driving it.
	// homeThread is concrete only once the dispatch loop claims the fiber
	// from a ready-queue entry with explicit thread affinity; threadBound
	// guards the pinned check in bindThread. Together they implement spec §9's thread-local
	// current-scheduler slot without a goroutine-keyed global.
	root        *Fiber
	scheduler   *Scheduler
	homeThread  ThreadID
	threadBound bool

	resume  chan struct{}
	started bool
	isRoot  bool

	name string
	err  error // captured user-code-failure, re-raised by the next Call

	logger *Logger
}

// FiberOption configures a Fiber at construction.
type FiberOption func(*Fiber)

// WithFiberName sets a name surfaced in log fields; purely cosmetic.
func WithFiberName(name string) FiberOption {
	return func(f *Fiber) { f.name = name }
}

// WithFiberLogger attaches a Logger for trampoline-level diagnostics
// (currently: uncaught panics).
func WithFiberLogger(l *Logger) FiberOption {
	return func(f *Fiber) { f.logger = l }
}

// NewFiber constructs a fiber in StateInit, the never-run state that
// Call/YieldTo accept just like StateHold. entry must be non-nil; stack
// sizing is accepted for API fidelity with spec §4.1 but unused by the
// goroutine-based backend (see the Fiber doc comment).
func NewFiber(entry func(), stackSize int, opts ...FiberOption) (*Fiber, error) {
	if entry == nil {
		return nil, &InvariantError{Message: "mordor: Fiber entry procedure must not be nil"}
	}
	if stackSize < 0 {
		return nil, fmt.Errorf("mordor: negative stack size %d", stackSize)
	}
	f := &Fiber{
		state:      newFiberState(StateInit),
		entry:      entry,
		resume:     make(chan struct{}),
		homeThread: AnyThread,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// NewRootFiber constructs the thread-root fiber for the calling goroutine:
// it represents the thread's native, non-fiber context, owns no entry
// procedure, starts in StateExec, and is the implicit fallback resume
// target whenever a fiber terminates (or is dropped via Yield/YieldTo)
// with no recorded outer. Call it once per real goroutine that will
// participate in fiber transfers — typically the goroutine running a
// Scheduler's dispatch loop, or, in a standalone test, the calling
// goroutine itself.
func NewRootFiber(opts ...FiberOption) *Fiber {
	f := &Fiber{
		state:       newFiberState(StateExec),
		resume:      make(chan struct{}),
		isRoot:      true,
		homeThread:  AnyThread,
		threadBound: true,
	}
	f.root = f
	for _, o := range opts {
		o(f)
	}
	registerFiberGoroutine(f)
	return f
}

// State returns the fiber's current lifecycle state. Safe to call from any
// goroutine, but only authoritative when called by (or synchronized with)
// the thread that owns the fiber.
func (f *Fiber) State() FiberState {
	return f.state.Load()
}

// Name returns the cosmetic name passed via WithFiberName, or "".
func (f *Fiber) Name() string {
	return f.name
}

// Scheduler returns the Scheduler this fiber was last entered under, or
// nil if it has only ever run standalone.
func (f *Fiber) Scheduler() *Scheduler {
	return f.scheduler
}

// bindThread inherits thread/scheduler context from whichever fiber is
// transferring control into f. root and scheduler are refreshed on every
// transfer, not just the first, since a fiber with no explicit thread
// affinity (homeThread == AnyThread) is free to float across worker
// threads between resumes — YieldTo/SwitchTo's "yield to current.root"
// needs root to track whichever worker is driving f right now, not
// whichever happened to first dispatch it. bindThread never changes
// homeThread (only the dispatch loop pins it, from a ready-queue entry's
// explicit affinity), and a fiber already pinned to a concrete thread
// panics if entered from a different concrete thread;
// the ready queue's own affinity scan (readyqueue.go) should make that
// unreachable in practice, so this is a consistency assertion, not the
// primary enforcement.
func (f *Fiber) bindThread(caller *Fiber) {
	if f.threadBound && f.homeThread != AnyThread && caller.homeThread != AnyThread && f.homeThread != caller.homeThread {
		panic(&InvariantError{Message: "mordor: fiber resumed from a different thread than it is bound to"})
	}
	f.root = caller.root
	f.scheduler = caller.scheduler
	f.threadBound = true
}

// rebind clears f's thread binding so the next transfer into it adopts
// whatever thread/scheduler performs that transfer, instead of enforcing
// same-thread continuity. Used only by SchedulerSwitcher for deliberate,
// caller-initiated cross-scheduler migration.
func (f *Fiber) rebind() {
	f.threadBound = false
}

func (f *Fiber) ensureStarted() {
	if f.isRoot || f.started {
		return
	}
	f.started = true
	go f.run()
}

// run is the trampoline: it blocks for the first resume signal, then
// executes the entry procedure inside a recover boundary, then transfers
// control to the outer fiber (if Call()ed) or the thread-root fiber
// (if reached via YieldTo, per spec §4.1's trampoline description).
func (f *Fiber) run() {
	<-f.resume
	registerFiberGoroutine(f)

	func() {
		defer func() {
			if r := recover(); r != nil {
				f.err = newPanicError(r)
				f.state.Store(StateExcept)
				if f.logger != nil {
					f.logger.Error("fiber entry procedure panicked", "fiber", f.name, "error", f.err)
				}
			} else {
				f.state.Store(StateTerm)
			}
		}()
		f.entry()
	}()

	target := f.outer
	if target == nil {
		target = f.root
	}
	f.outer = nil
	unregisterFiberGoroutine()
	target.state.Store(StateExec)
	target.resume <- struct{}{}
}

// Call resumes this fiber asymmetrically: the caller is recorded as this
// fiber's outer, and Call blocks (from the caller's point of view; its own
// FiberState is left untouched, since it is still logically "active" on
// the stack of its own Call invocation, exactly the behavior the source
// fiber tests assert) until this fiber yields back via Yield, returns, or
// panics. Any user-code-failure captured from this invocation is returned
// here, matching spec §7 ("re-raised into the caller of call").
func (f *Fiber) Call() error {
	caller := requireCurrentFiber()
	if caller.state.Load() != StateExec {
		panic(&InvariantError{Message: "mordor: Call from a fiber that is not EXEC"})
	}
	if f == caller {
		panic(&InvariantError{Message: "mordor: fiber cannot Call itself"})
	}
	f.bindThread(caller)
	if !f.state.TransitionAny([]FiberState{StateHold, StateInit}, StateExec) {
		panic(&InvariantError{Message: fmt.Sprintf("mordor: Call requires target fiber in HOLD, was %s", f.state.Load())})
	}
	f.outer = caller

	f.ensureStarted()
	f.resume <- struct{}{}
	<-caller.resume

	return f.takeError()
}

// YieldTo resumes this fiber symmetrically: unlike Call, the caller is not
// recorded as this fiber's outer and is itself transitioned to HOLD. The
// caller will not automatically run again; something else must schedule
// or transfer into it. Used by schedulers, and by any fiber that knows
// another agent will resume it.
func (f *Fiber) YieldTo() {
	current := requireCurrentFiber()
	if current.state.Load() != StateExec {
		panic(&InvariantError{Message: "mordor: YieldTo from a fiber that is not EXEC"})
	}
	if f == current {
		return
	}
	f.bindThread(current)
	if !f.state.TransitionAny([]FiberState{StateHold, StateInit}, StateExec) {
		panic(&InvariantError{Message: fmt.Sprintf("mordor: YieldTo requires target fiber in HOLD, was %s", f.state.Load())})
	}
	current.state.Store(StateHold)

	f.ensureStarted()
	f.resume <- struct{}{}
	<-current.resume
}

// Yield is the static/free-function form from spec §4.1: the current
// fiber yields to its outer, the fiber that most recently Call()ed into
// it. It panics with an InvariantError if there is no outer, i.e. the
// current fiber was entered via YieldTo or is the thread-root fiber.
func Yield() {
	current := requireCurrentFiber()
	outer := current.outer
	if outer == nil {
		panic(&InvariantError{Message: "mordor: Yield called with no outer fiber", Cause: ErrNoOuterFiber})
	}
	current.outer = nil
	current.state.Store(StateHold)

	outer.resume <- struct{}{}
	<-current.resume
}

// Reset reinitializes a TERM, EXCEPT, or never-run (INIT) fiber to run
// newEntry from the top, returning it to StateHold. It is invalid to Reset
// a fiber that is EXEC or already HOLD. The prior captured error, if any,
// is discarded.
func (f *Fiber) Reset(newEntry func()) error {
	if newEntry == nil {
		return &InvariantError{Message: "mordor: Reset requires a non-nil entry procedure"}
	}
	if !f.state.TransitionAny([]FiberState{StateTerm, StateExcept, StateInit}, StateHold) {
		panic(&InvariantError{Message: fmt.Sprintf("mordor: Reset requires TERM, EXCEPT, or INIT, was %s", f.state.Load())})
	}
	f.entry = newEntry
	f.err = nil
	f.started = false
	f.outer = nil
	return nil
}

// TakeError returns and clears any user-code-failure captured the last
// time this fiber ran to EXCEPT without being observed by a Call (for
// example because it was entered via YieldTo). Returns nil if there is
// none.
func (f *Fiber) TakeError() error {
	return f.takeError()
}

func (f *Fiber) takeError() error {
	err := f.err
	f.err = nil
	return err
}
