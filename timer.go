package mordor

import (
	"container/heap"
	"sync"
	"time"
)

// NoTimer is the sentinel duration returned by TimerManager.NextTimer when
// no pending timer exists, per spec §6 ("max unsigned 64-bit value"
// translated to Go's time.Duration as its own maximum value).
const NoTimer time.Duration = 1<<63 - 1

// TimerCallback is invoked by ProcessTimers when a timer's deadline has
// passed. It runs outside the TimerManager's internal lock.
type TimerCallback func()

// Timer is a handle to a registered, possibly-recurring timer. The zero
// value is not usable; obtain one from TimerManager.RegisterTimer.
type Timer struct {
	mgr       *TimerManager
	deadline  time.Time
	period    time.Duration
	recurring bool
	callback  TimerCallback
	seq       uint64
	cancelled bool
	index     int // heap index, maintained by container/heap
}

// Cancel idempotently cancels the timer. It returns true only the first
// time it actually removes a still-pending timer; subsequent calls, or
// calls after the timer has already fired, return false and do nothing —
// matching the idempotent-cancel and idempotent-cancel-after-success
// scenarios. Calling Cancel from within the timer's own callback (while it
// is off the heap, mid-fire) still marks it cancelled, so a recurring timer
// that cancels itself does not re-arm.
func (t *Timer) Cancel() bool {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	if t.cancelled {
		return false
	}
	wasPending := t.index >= 0
	t.cancelled = true
	if wasPending {
		heap.Remove(&t.mgr.heap, t.index)
	}
	return wasPending
}

// TimerManager is an ordered set of pending timers keyed by
// (deadline, insertion sequence), per spec §4.3. One TimerManager is
// typically owned by a single Scheduler/WorkerPool to drive its idle
// timeout, but it has no dependency on Scheduler and can be used
// standalone.
type TimerManager struct {
	mu   sync.Mutex
	heap timerHeap
	seq  uint64
	now  func() time.Time

	// onFrontChanged, if set, is invoked (outside the lock) whenever a
	// newly registered timer becomes the earliest pending deadline —
	// spec §4.3's onTimerInsertedAtFront hook, used by an integrating
	// scheduler to abort an in-progress idle() block.
	onFrontChanged func()

	logger *Logger
}

// NewTimerManager constructs an empty TimerManager using the monotonic
// wall clock. onFrontChanged may be nil.
func NewTimerManager(onFrontChanged func(), logger *Logger) *TimerManager {
	return &TimerManager{
		now:            time.Now,
		onFrontChanged: onFrontChanged,
		logger:         logger,
	}
}

// RegisterTimer schedules callback to run after delay, optionally
// recurring every delay thereafter. delay must be non-negative; a zero
// delay fires on the next ProcessTimers call.
func (m *TimerManager) RegisterTimer(delay time.Duration, callback TimerCallback, recurring bool) *Timer {
	if delay < 0 {
		delay = 0
	}
	m.mu.Lock()
	t := &Timer{
		mgr:       m,
		deadline:  m.now().Add(delay),
		period:    delay,
		recurring: recurring,
		callback:  callback,
		seq:       m.seq,
	}
	m.seq++
	heap.Push(&m.heap, t)
	front := m.heap[0] == t
	m.mu.Unlock()

	if front && m.onFrontChanged != nil {
		m.onFrontChanged()
	}
	if m.logger != nil {
		m.logger.Debug("timer registered", "delay", delay, "recurring", recurring)
	}
	return t
}

// NextTimer returns the duration until the earliest non-cancelled
// deadline, clamped to zero if already due, or NoTimer if the set is
// empty. The clamp guards against non-monotonic clock deltas per spec
// §4.3's clock contract.
func (m *TimerManager) NextTimer() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.heap) == 0 {
		return NoTimer
	}
	d := m.heap[0].deadline.Sub(m.now())
	if d < 0 {
		return 0
	}
	return d
}

// ProcessTimers pops and fires every expired, non-cancelled timer. Each
// callback runs outside the internal lock and inside its own recover
// boundary (Open Question (c): per-callback isolation), so one panicking
// callback does not prevent the remaining expired timers from firing.
// Recurring timers are re-inserted with deadline computed from the
// pre-fire sample of now, not the time ProcessTimers happens to return.
func (m *TimerManager) ProcessTimers() {
	now := m.now()

	m.mu.Lock()
	var expired []*Timer
	for len(m.heap) > 0 && !m.heap[0].deadline.After(now) {
		t := heap.Pop(&m.heap).(*Timer)
		expired = append(expired, t)
	}
	m.mu.Unlock()

	for _, t := range expired {
		m.fire(t, now)
	}
}

func (m *TimerManager) fire(t *Timer, firedAt time.Time) {
	defer func() {
		if r := recover(); r != nil {
			if m.logger != nil {
				m.logger.Error("timer callback panicked", "error", newPanicError(r))
			}
		}
	}()
	t.callback()

	if t.recurring && !t.cancelled {
		m.mu.Lock()
		if !t.cancelled {
			t.deadline = firedAt.Add(t.period)
			t.index = -1
			heap.Push(&m.heap, t)
		}
		m.mu.Unlock()
	}
}

// timerHeap implements container/heap.Interface over *Timer, ordered by
// (deadline, sequence) as spec §3 requires for FIFO tie-breaking among
// timers with an identical deadline.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
