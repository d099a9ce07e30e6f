package mordor

import "sync/atomic"

// FiberState is the lifecycle state of a Fiber, per the state machine:
//
//	construct ──▶ StateInit ──Call/YieldTo──▶ StateExec
//	StateHold ──Call/YieldTo──▶ StateExec
//	StateExec ──Yield/YieldTo──▶ StateHold
//	StateExec ──return──▶ StateTerm
//	StateExec ──uncaught panic──▶ StateExcept
//	StateInit/StateTerm/StateExcept ──Reset──▶ StateHold
type FiberState uint32

const (
	// StateInit is the pre-entry sentinel for a fiber that has never been
	// resumed. Observationally equivalent to StateHold for Call/YieldTo
	// preconditions, but distinguished so Reset can tell "never run" apart
	// from "ran and terminated".
	StateInit FiberState = iota
	// StateHold is a suspended fiber eligible to be resumed.
	StateHold
	// StateExec is the fiber currently executing on its owning thread.
	StateExec
	// StateTerm is a fiber whose entry procedure returned normally.
	StateTerm
	// StateExcept is a fiber whose entry procedure panicked.
	StateExcept
)

func (s FiberState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateHold:
		return "hold"
	case StateExec:
		return "exec"
	case StateTerm:
		return "term"
	case StateExcept:
		return "except"
	default:
		return "unknown"
	}
}

// fiberState is a lock-free CAS state holder, padded to a full cache line
// to prevent false sharing between cores — the same layout the reference
// corpus's FastState uses for hot-path bookkeeping, sized for a 32-bit
// value instead of FastState's 64-bit one.
type fiberState struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint32
	_ [60]byte //nolint:unused
}

func newFiberState(initial FiberState) *fiberState {
	s := &fiberState{}
	s.v.Store(uint32(initial))
	return s
}

func (s *fiberState) Load() FiberState {
	return FiberState(s.v.Load())
}

func (s *fiberState) Store(state FiberState) {
	s.v.Store(uint32(state))
}

func (s *fiberState) TryTransition(from, to FiberState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *fiberState) TransitionAny(validFrom []FiberState, to FiberState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint32(from), uint32(to)) {
			return true
		}
	}
	return false
}

// SchedulerState is the lifecycle state of a Scheduler/WorkerPool.
type SchedulerState uint32

const (
	// SchedulerRunning accepts new work and is actively dispatching.
	SchedulerRunning SchedulerState = iota
	// SchedulerStopping has been asked to stop; workers drain the queue
	// then exit.
	SchedulerStopping
	// SchedulerStopped has joined every worker.
	SchedulerStopped
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerRunning:
		return "running"
	case SchedulerStopping:
		return "stopping"
	case SchedulerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type schedulerState struct {
	v atomic.Uint32
}

func newSchedulerState() *schedulerState {
	s := &schedulerState{}
	s.v.Store(uint32(SchedulerRunning))
	return s
}

func (s *schedulerState) Load() SchedulerState {
	return SchedulerState(s.v.Load())
}

func (s *schedulerState) Store(state SchedulerState) {
	s.v.Store(uint32(state))
}

func (s *schedulerState) TryTransition(from, to SchedulerState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
