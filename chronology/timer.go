// Package chronology implements the timer scheduler and deferred
// function queue from spec.md §4.3 (component C3): an ordered set of
// one-shot and recurring timers, a FIFO of deferred functors, and the
// announce loop that fires due work with monotonic catch-up.
//
// Grounded on gaio's timedHeap (watcher.go: w.timeouts, heap.Push,
// heap.Remove, w.timer), generalized from "cancel a pending read on
// timeout" to the full timer state machine. Backlog catch-up and the
// hierarchical parent-chronology behavior are restored from
// ntcs_chronology.t.cpp (original_source), per SPEC_FULL.md.
package chronology

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// State is the timer lifecycle from spec.md §3.
type State int

const (
	StateUnscheduled State = iota
	StateScheduled
	StateFiredAwaitingClose
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnscheduled:
		return "unscheduled"
	case StateScheduled:
		return "scheduled"
	case StateFiredAwaitingClose:
		return "fired_awaiting_close"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind is a timer announcement kind, per spec.md §3/§4.3.
type EventKind int

const (
	EventDeadline EventKind = iota
	EventCanceled
	EventClosed
)

// EventMask selects which event kinds a timer announces; spec.md §3
// calls this the "hidden-event mask" (bits not in the mask are
// effectively hidden/suppressed).
type EventMask uint8

const (
	MaskDeadline EventMask = 1 << iota
	MaskCanceled
	MaskClosed
)

// AllEvents enables DEADLINE, CANCELED, and CLOSED announcements.
const AllEvents = MaskDeadline | MaskCanceled | MaskClosed

func (m EventMask) has(bit EventMask) bool { return m&bit != 0 }

// Outcome is Cancel's result, per spec.md §4.3.
type Outcome int

const (
	// OutcomeOK means there was no scheduled deadline to remove.
	OutcomeOK Outcome = iota
	// OutcomeCancelled means a scheduled deadline was removed before firing.
	OutcomeCancelled
)

// Executor is the strand/serial-executor collaborator a Timer may be
// bound to (spec.md §6 "strand"). It is satisfied by reactor.Strand.
type Executor interface {
	Execute(func())
}

// ErrClosed is returned by Schedule/Cancel on a CLOSED timer, per
// spec.md §4.3 and §7 (KindInvalid).
var ErrClosed = &stateError{"timer is closed"}

type stateError struct{ msg string }

func (e *stateError) Error() string { return e.msg }

// Options configures a Timer at creation time, per spec.md §3's
// "options (one-shot, hidden-event mask, handle pointer, initial
// strand)".
type Options struct {
	// OneShot, if true, transitions the timer straight to CLOSED after
	// its single DEADLINE announcement. If false, a non-recurring timer
	// parks in FIRED_AWAITING_CLOSE after firing until the caller closes
	// or reschedules it.
	OneShot bool
	// Events selects which event kinds this timer announces. The zero
	// value announces nothing; use AllEvents for the common case.
	Events EventMask
	// Handle is an opaque caller-supplied pointer surfaced back via
	// Timer.Handle, per spec.md §6.
	Handle any
	// Strand, if non-nil, is the initial executor event callbacks are
	// dispatched through instead of being invoked inline.
	Strand Executor
	// ThreadIndex is opaque caller bookkeeping, per spec.md §6.
	ThreadIndex int
}

// Timer is a one-shot or recurring deadline, per spec.md §3/§4.3.
type Timer struct {
	id         uuid.UUID
	chronology *Chronology
	onEvent    func(EventKind)

	mu       sync.Mutex
	state    State
	deadline time.Time
	period   time.Duration // zero means non-recurring
	seq      uint64        // insertion tiebreak for equal deadlines

	heapIndex int // maintained by container/heap, -1 when not in heap

	oneShot     bool
	events      EventMask
	handle      any
	strand      Executor
	threadIndex int

	// inFlightCount tracks outstanding external references taken via
	// Retain/Release (e.g. an in-progress protocol-layer callback still
	// holding this timer's handle). The final CLOSED event is deferred
	// until it drops to zero, per spec.md §4.3 step 3 ("no outstanding
	// external references").
	inFlightCount atomic.Int32
	closeDispatch func()
}

// Retain increments the timer's outstanding external reference count.
// Pair with Release. Safe to call from any goroutine at any timer
// state.
func (t *Timer) Retain() int32 { return t.inFlightCount.Inc() }

// Release decrements the outstanding reference count taken by Retain.
// If the count reaches zero and a CLOSED event was deferred because
// references were still outstanding when the timer closed, it is
// dispatched now.
func (t *Timer) Release() int32 {
	n := t.inFlightCount.Dec()
	if n < 0 {
		panic("chronology: timer inFlightCount went negative")
	}
	if n != 0 {
		return n
	}
	t.mu.Lock()
	fn := t.closeDispatch
	t.closeDispatch = nil
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return n
}

// ID returns the timer's identifier.
func (t *Timer) ID() uuid.UUID { return t.id }

// OneShot reports the timer's one-shot configuration.
func (t *Timer) OneShot() bool { return t.oneShot }

// Handle returns the opaque caller-supplied handle pointer.
func (t *Timer) Handle() any { return t.handle }

// Strand returns the timer's bound executor, if any.
func (t *Timer) Strand() Executor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strand
}

// SetStrand rebinds the timer's executor for future event dispatches.
func (t *Timer) SetStrand(s Executor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strand = s
}

// ThreadIndex returns the opaque caller bookkeeping field.
func (t *Timer) ThreadIndex() int { return t.threadIndex }

// State returns the timer's current lifecycle state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Deadline returns the timer's current absolute deadline. Only
// meaningful while State() == StateScheduled.
func (t *Timer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// CurrentTime returns the owning chronology's current time.
func (t *Timer) CurrentTime() time.Time { return t.chronology.now() }

// Schedule (re)schedules the timer at an absolute deadline, with an
// optional recurrence period (zero means non-recurring). Reschedule
// replaces any prior schedule atomically. Fails with ErrClosed if the
// timer is CLOSED, per spec.md §4.3.
func (t *Timer) Schedule(deadline time.Time, period time.Duration) error {
	c := t.chronology
	c.mu.Lock()
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		c.mu.Unlock()
		return ErrClosed
	}
	if t.state == StateScheduled {
		heap.Remove(&c.heap, t.heapIndex)
	}
	t.deadline = deadline
	t.period = period
	t.seq = c.nextSeq()
	t.state = StateScheduled
	heap.Push(&c.heap, t)
	t.mu.Unlock()
	c.mu.Unlock()
	c.notifyChanged()
	return nil
}

// Cancel removes a pending deadline before it fires. Returns
// OutcomeCancelled if a scheduled deadline was actually removed,
// OutcomeOK if the timer was not scheduled (no effect). If the
// CANCELED event is enabled, it is announced synchronously from this
// call, per spec.md §4.3.
func (t *Timer) Cancel() (Outcome, error) {
	c := t.chronology
	c.mu.Lock()
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		c.mu.Unlock()
		return OutcomeOK, ErrClosed
	}
	if t.state != StateScheduled {
		t.mu.Unlock()
		c.mu.Unlock()
		return OutcomeOK, nil
	}
	heap.Remove(&c.heap, t.heapIndex)
	t.state = StateUnscheduled
	announce := t.events.has(MaskCanceled)
	cb := t.onEvent
	strand := t.strand
	t.mu.Unlock()
	c.mu.Unlock()

	if announce && cb != nil {
		dispatch(strand, func() { cb(EventCanceled) })
	}
	return OutcomeCancelled, nil
}

// Close transitions the timer to CLOSED. If it was SCHEDULED, it is
// cancelled first (announcing CANCELED if enabled) before the CLOSED
// event, if enabled, is announced. Subsequent Schedule/Cancel calls
// fail with ErrClosed.
func (t *Timer) Close() error {
	c := t.chronology
	c.mu.Lock()
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		c.mu.Unlock()
		return ErrClosed
	}
	wasScheduled := t.state == StateScheduled
	if wasScheduled {
		heap.Remove(&c.heap, t.heapIndex)
	}
	announceCanceled := wasScheduled && t.events.has(MaskCanceled)
	announceClosed := t.events.has(MaskClosed)
	t.state = StateClosed
	cb := t.onEvent
	strand := t.strand
	deferClosed := announceClosed && cb != nil && t.inFlightCount.Load() > 0
	if deferClosed {
		t.closeDispatch = func() { dispatch(strand, func() { cb(EventClosed) }) }
	}
	t.mu.Unlock()
	c.deregisterLocked(t)
	c.mu.Unlock()

	if cb != nil {
		if announceCanceled {
			dispatch(strand, func() { cb(EventCanceled) })
		}
		if announceClosed && !deferClosed {
			dispatch(strand, func() { cb(EventClosed) })
		}
	}
	return nil
}

// dispatch invokes fn through strand if non-nil, else inline.
func dispatch(strand Executor, fn func()) {
	if strand != nil {
		strand.Execute(fn)
		return
	}
	fn()
}

// timerHeap implements container/heap.Interface ordered by
// (deadline, seq), giving equal-deadline timers insertion-order firing
// per spec.md §4.3/§5. Grounded on gaio's timedHeap (watcher.go).
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
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}
