package reactor

import (
	"sync"

	"go.uber.org/atomic"
)

// Handle is an opaque, OS-assigned descriptor identifier, per spec.md §3.
type Handle int

// InvalidHandle is the distinguished sentinel for "no descriptor".
const InvalidHandle Handle = -1

// Event is the payload passed to a socket session callback, identifying
// which entry and handle the event occurred on. It carries no I/O
// buffers: buffer management belongs to the protocol socket layer,
// which spec.md §1 places out of scope.
type Event struct {
	Handle Handle
}

// SocketSession is the external collaborator callback interface from
// spec.md §6: a higher-level socket object the driver notifies inline
// for each enabled event kind.
type SocketSession interface {
	ProcessReactorSocketReadable(Event)
	ProcessReactorSocketWritable(Event)
	ProcessReactorSocketError(Event)
	ProcessReactorSocketNotifications(Event)
}

// DetachCallback is called exactly once after a detach completes, per
// spec.md §6.
type DetachCallback func()

// entry is the registry's per-handle record (spec.md §3 "Registry
// entry"). It is owned by the registry; other components hold
// non-owning references guarded by processingCount. Grounded on gaio's
// fdDesc (watcher.go), generalized from gaio's reader/writer request
// queues to this spec's single-callback-per-event-kind model.
type entry struct {
	handle Handle // immutable after creation

	mu       sync.Mutex // guards interest and callbacks below
	interest Interest
	onReadable,
	onWritable,
	onError,
	onNotifications func(Event)
	session SocketSession

	processingCount atomic.Int32

	detachMu         sync.Mutex
	detachRequested  bool
	detachCallback   DetachCallback
	removedFromMap   bool
}

func newEntry(h Handle) *entry {
	return &entry{handle: h}
}

// snapshotInterest returns the entry's current Interest under lock.
func (e *entry) snapshotInterest() Interest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interest
}

// setInterest replaces the entry's Interest and reports whether it
// actually changed (spec.md §4.1 idempotence: a show with identical
// bits+options is a no-op from the driver's point of view).
func (e *entry) setInterest(in Interest) (changed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed = !e.interest.Equal(in)
	e.interest = in
	return changed
}

// callbackFor returns the registered callback for a given event bit,
// or nil. Reading callbacks takes the same lock show*/hide* use to
// replace them atomically, per spec.md §3 "callbacks... replaced
// atomically on re-registration".
func (e *entry) callbackFor(bit eventBit) func(Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch bit {
	case bitReadable:
		return e.onReadable
	case bitWritable:
		return e.onWritable
	case bitError:
		return e.onError
	case bitNotifications:
		return e.onNotifications
	default:
		return nil
	}
}

func (e *entry) setCallback(bit eventBit, cb func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch bit {
	case bitReadable:
		e.onReadable = cb
	case bitWritable:
		e.onWritable = cb
	case bitError:
		e.onError = cb
	case bitNotifications:
		e.onNotifications = cb
	}
}

func (e *entry) setSession(s SocketSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = s
}

func (e *entry) getSession() SocketSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// markProcessing increments the in-flight dispatch counter. Paired
// with decrementProcessing.
func (e *entry) markProcessing() {
	e.processingCount.Inc()
}

// decrementProcessing decrements the counter and reports whether it
// reached zero with a detach already pending — the caller must then
// run the pending detachment callback exactly once.
func (e *entry) decrementProcessing() (runDetach bool, cb DetachCallback) {
	remaining := e.processingCount.Dec()
	if remaining < 0 {
		// processingCount must never go negative; this is an assertion
		// failure, per spec.md §4.2 "registry internal invariants... are
		// never silently recovered".
		panic("reactor: entry processingCount went negative")
	}
	if remaining != 0 {
		return false, nil
	}
	e.detachMu.Lock()
	defer e.detachMu.Unlock()
	if e.detachRequested && e.detachCallback != nil {
		cb := e.detachCallback
		e.detachCallback = nil
		return true, cb
	}
	return false, nil
}

// requestDetach marks the entry for detachment and returns whether the
// callback may run immediately (processingCount already zero).
func (e *entry) requestDetach(cb DetachCallback) (runNow bool) {
	e.detachMu.Lock()
	defer e.detachMu.Unlock()
	e.detachRequested = true
	if e.processingCount.Load() == 0 {
		return true
	}
	e.detachCallback = cb
	return false
}
