package reactor

import "time"

// rawEvent is the OS-agnostic shape the driver dispatch loop consumes,
// translated from an epoll_event or kevent by the platform-specific
// backend.
type rawEvent struct {
	handle        Handle
	readable      bool
	writable      bool
	errored       bool // EPOLLERR, or EV_ERROR on kqueue; hangups are reported in hangup
	hangup        bool // peer closed; readable may still be set alongside this
	notifications bool // out-of-band / priority data
	isWakeup      bool // this event is the controller's self-trigger, not a real descriptor
}

// backend abstracts the OS event interface (epoll on Linux, kqueue on
// BSD/Darwin), grounded on tnet's poller_epoll.go/poller_kqueue.go
// Poller interface.
type backend interface {
	// add registers handle with the OS interface under in's interest.
	add(h Handle, in Interest) error
	// modify updates a previously added handle's interest.
	modify(h Handle, in Interest) error
	// remove unregisters handle from the OS interface.
	remove(h Handle) error
	// wait blocks up to timeout (negative means indefinite) and appends
	// ready events to dst, returning the updated slice.
	wait(dst []rawEvent, timeout time.Duration) ([]rawEvent, error)
	// close releases the backend's own OS resources.
	close() error
}

// controller is the wakeup primitive from spec.md §4.4. On epoll it is
// a real eventfd registered like any other handle; on kqueue it rides
// the kqueue's own EVFILT_USER self-trigger and has no handle of its
// own (see DESIGN.md / SPEC_FULL.md's C4 section).
type controller interface {
	// handle returns the controller's registrable descriptor, if any.
	handle() (Handle, bool)
	// interrupt wakes one blocked waiter.
	interrupt() error
	// interruptAll makes a best effort to wake up to n blocked waiters.
	// On epoll's semaphore-mode eventfd this is exact; on kqueue's
	// level-based EVFILT_USER it may still only wake one, see
	// SPEC_FULL.md's C4 section.
	interruptAll(n int) error
	// acknowledge drains one queued wakeup signal.
	acknowledge() error
	close() error
}
