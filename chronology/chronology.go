package chronology

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultMaxTimersPerWait and defaultMaxCyclesPerWait bound per-cycle
// throughput, per spec.md §4.3/§6 (maxTimersPerWait, maxCyclesPerWait).
const (
	defaultMaxTimersPerWait = 64
	defaultMaxCyclesPerWait = 4
)

// Config configures a new Chronology.
type Config struct {
	// Clock returns the current monotonic time. Defaults to time.Now;
	// tests substitute a controllable clock.
	Clock func() time.Time
	// Parent, if set, makes this a child chronology: Earliest considers
	// both this chronology's own timers and the parent's, per the
	// hierarchical behavior restored from ntcs_chronology.t.cpp (see
	// SPEC_FULL.md's C3 section).
	Parent *Chronology
	// MaxTimersPerWait caps timers announced per Announce call.
	MaxTimersPerWait int
	// MaxCyclesPerWait caps deferred-function drain rounds per Announce call.
	MaxCyclesPerWait int
	// OnChange, if set, is called after every Timer.Schedule, Execute and
	// MoveAndExecute call (anything that may bring the earliest deadline
	// forward or add deferred work), so an embedding reactor can
	// interrupt a blocked waiter. Cancel and Close do not call it.
	// Grounded on gaio's notifyPending (watcher.go).
	OnChange func()
}

// Chronology is the ordered timer set plus deferred-function FIFO from
// spec.md §3/§4.3 (component C3).
type Chronology struct {
	mu       sync.Mutex
	clock    func() time.Time
	heap     timerHeap
	deferred []func()
	parent   *Chronology
	onChange func()

	maxTimersPerWait int
	maxCyclesPerWait int

	seq       uint64
	registry  map[*Timer]struct{}
}

// New constructs a Chronology.
func New(opts Config) *Chronology {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	maxTimers := opts.MaxTimersPerWait
	if maxTimers <= 0 {
		maxTimers = defaultMaxTimersPerWait
	}
	maxCycles := opts.MaxCyclesPerWait
	if maxCycles <= 0 {
		maxCycles = defaultMaxCyclesPerWait
	}
	return &Chronology{
		clock:            clock,
		parent:           opts.Parent,
		onChange:         opts.OnChange,
		maxTimersPerWait: maxTimers,
		maxCyclesPerWait: maxCycles,
		registry:         make(map[*Timer]struct{}),
	}
}

func (c *Chronology) now() time.Time { return c.clock() }

// CurrentTime returns the chronology's current time.
func (c *Chronology) CurrentTime() time.Time { return c.now() }

func (c *Chronology) nextSeq() uint64 {
	c.seq++
	return c.seq
}

func (c *Chronology) notifyChanged() {
	if c.onChange != nil {
		c.onChange()
	}
}

// CreateTimer creates a new, UNSCHEDULED timer bound to onEvent. The
// timer must be scheduled with Schedule before it participates in
// announce cycles.
func (c *Chronology) CreateTimer(opts Options, onEvent func(EventKind)) *Timer {
	t := &Timer{
		id:          uuid.New(),
		chronology:  c,
		onEvent:     onEvent,
		state:       StateUnscheduled,
		oneShot:     opts.OneShot,
		events:      opts.Events,
		handle:      opts.Handle,
		strand:      opts.Strand,
		threadIndex: opts.ThreadIndex,
		heapIndex:   -1,
	}
	c.mu.Lock()
	c.registry[t] = struct{}{}
	c.mu.Unlock()
	return t
}

func (c *Chronology) deregisterLocked(t *Timer) {
	delete(c.registry, t)
}

// Execute enqueues a deferred function, preserving FIFO order, per
// spec.md §4.3.
func (c *Chronology) Execute(fn func()) {
	c.mu.Lock()
	c.deferred = append(c.deferred, fn)
	c.mu.Unlock()
	c.notifyChanged()
}

// MoveAndExecute enqueues every function in seq, then fn, preserving
// FIFO order. It stands in for the original's move-semantics batch
// enqueue: Go has no ownership transfer, so seq is simply drained into
// the deferred queue in order.
func (c *Chronology) MoveAndExecute(seq []func(), fn func()) {
	c.mu.Lock()
	c.deferred = append(c.deferred, seq...)
	if fn != nil {
		c.deferred = append(c.deferred, fn)
	}
	c.mu.Unlock()
	c.notifyChanged()
}

// Earliest returns the earliest SCHEDULED deadline across this
// chronology and (if present) its parent, per spec.md §6.
func (c *Chronology) Earliest() (time.Time, bool) {
	c.mu.Lock()
	var own time.Time
	ownOK := len(c.heap) > 0
	if ownOK {
		own = c.heap[0].deadline
	}
	c.mu.Unlock()

	if c.parent != nil {
		if pd, ok := c.parent.Earliest(); ok {
			if !ownOK || pd.Before(own) {
				return pd, true
			}
		}
	}
	return own, ownOK
}

// TimeoutInterval returns the duration the driver should wait before
// the next due work, clamped to zero (never negative), or false if
// there is no scheduled timer work on this chronology or its parent
// and the deferred queue is empty (indefinite wait), per spec.md §4.3.
func (c *Chronology) TimeoutInterval() (time.Duration, bool) {
	c.mu.Lock()
	hasDeferred := len(c.deferred) > 0
	c.mu.Unlock()
	if hasDeferred {
		return 0, true
	}
	deadline, ok := c.Earliest()
	if !ok {
		return 0, false
	}
	d := deadline.Sub(c.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Announce runs one pass of due timers (up to MaxTimersPerWait) and
// drains deferred functions (up to MaxCyclesPerWait rounds), per
// spec.md §4.3's algorithm. reentrant marks a nested call made from
// within a callback already running inside Announce; it exists so a
// driver can invoke Announce recursively without deadlocking on a
// non-reentrant lock, but Chronology's own lock is never held across a
// callback invocation, so reentrant is currently advisory only and
// reserved for future driver integration hooks.
//
// Announce returns the number of timers fired and deferred functions
// run this pass, so an embedding driver can feed its own counters
// (e.g. reactor.DriverMetrics.TimersAnnounced/DeferredExecuted)
// without duplicating the bookkeeping here.
func (c *Chronology) Announce(reentrant bool) (timersFired, deferredRun int) {
	now := c.now()
	for {
		c.mu.Lock()
		if len(c.heap) == 0 || timersFired >= c.maxTimersPerWait {
			c.mu.Unlock()
			break
		}
		top := c.heap[0]
		if top.deadline.After(now) {
			c.mu.Unlock()
			break
		}
		heap.Pop(&c.heap)
		c.mu.Unlock()

		c.fireTimer(top, now)
		timersFired++
	}

	for cycles := 0; cycles < c.maxCyclesPerWait; cycles++ {
		c.mu.Lock()
		if len(c.deferred) == 0 {
			c.mu.Unlock()
			break
		}
		batch := c.deferred
		c.deferred = nil
		c.mu.Unlock()
		for _, fn := range batch {
			fn()
			deferredRun++
		}
	}
	return timersFired, deferredRun
}

// fireTimer dispatches one due timer's DEADLINE (and, for one-shot
// timers, CLOSED) event and reinserts recurring timers at their next
// deadline, collapsing any backlog into a single catch-up firing, per
// spec.md §4.3 step 4.
func (c *Chronology) fireTimer(t *Timer, now time.Time) {
	t.mu.Lock()
	recurring := t.period > 0
	if !recurring {
		t.state = StateFiredAwaitingClose
		announceDeadline := t.events.has(MaskDeadline)
		cb := t.onEvent
		strand := t.strand
		oneShot := t.oneShot
		t.mu.Unlock()

		if announceDeadline && cb != nil {
			dispatch(strand, func() { cb(EventDeadline) })
		}
		if oneShot {
			t.mu.Lock()
			t.state = StateClosed
			announceClosed := t.events.has(MaskClosed)
			deferClosed := announceClosed && cb != nil && t.inFlightCount.Load() > 0
			if deferClosed {
				t.closeDispatch = func() { dispatch(strand, func() { cb(EventClosed) }) }
			}
			t.mu.Unlock()
			c.mu.Lock()
			c.deregisterLocked(t)
			c.mu.Unlock()
			if announceClosed && cb != nil && !deferClosed {
				dispatch(strand, func() { cb(EventClosed) })
			}
		}
		return
	}

	// Recurring: advance the deadline past now, collapsing any number
	// of missed periods into exactly one DEADLINE announcement.
	advanced := false
	for !t.deadline.After(now) {
		t.deadline = t.deadline.Add(t.period)
		advanced = true
	}
	announceDeadline := advanced && t.events.has(MaskDeadline)
	cb := t.onEvent
	strand := t.strand
	t.state = StateScheduled
	t.mu.Unlock()

	c.mu.Lock()
	heap.Push(&c.heap, t)
	c.mu.Unlock()

	if announceDeadline && cb != nil {
		dispatch(strand, func() { cb(EventDeadline) })
	}
}

// Load returns all registered SCHEDULED timers in deadline order, per
// spec.md §6.
func (c *Chronology) Load() []*Timer {
	c.mu.Lock()
	out := make([]*Timer, len(c.heap))
	copy(out, c.heap)
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].deadline.Equal(out[j].deadline) {
			return out[i].seq < out[j].seq
		}
		return out[i].deadline.Before(out[j].deadline)
	})
	return out
}

// NumScheduled returns the number of currently SCHEDULED timers.
func (c *Chronology) NumScheduled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.heap)
}

// NumRegistered returns the number of timers created on this
// chronology that have not yet been CLOSED.
func (c *Chronology) NumRegistered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.registry)
}

// NumDeferred returns the number of pending deferred functions.
func (c *Chronology) NumDeferred() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deferred)
}

// HasAnyScheduled reports whether any timer is SCHEDULED.
func (c *Chronology) HasAnyScheduled() bool { return c.NumScheduled() > 0 }

// HasAnyRegistered reports whether any timer is registered (not CLOSED).
func (c *Chronology) HasAnyRegistered() bool { return c.NumRegistered() > 0 }

// HasAnyDeferred reports whether any deferred function is pending.
func (c *Chronology) HasAnyDeferred() bool { return c.NumDeferred() > 0 }
