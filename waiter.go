package reactor

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Waiter is one goroutine's handle on a Reactor's driver loop (C5).
// Multiple Waiters may be registered on the same Reactor when
// Config.MaxThreads > 1; Reactor forces one-shot interest in that case
// so two Waiters can never dispatch the same ready event.
//
// Grounded on gaio's single-goroutine loop() (watcher.go), generalized
// from gaio's fixed one-loop-per-Watcher model to this spec's
// any-number-of-waiters model.
type Waiter struct {
	id      uint64
	r       *Reactor
	events  []rawEvent
	stopped atomic.Bool
}

// RegisterWaiter creates a new Waiter bound to the Reactor, per
// spec.md §4.5.
func (r *Reactor) RegisterWaiter() *Waiter {
	w := &Waiter{id: r.nextID.Inc(), r: r, events: make([]rawEvent, 0, r.cfg.MaxEventsPerWait)}
	r.waitersMu.Lock()
	r.waiters[w] = struct{}{}
	r.waitersMu.Unlock()
	return w
}

// DeregisterWaiter removes w from the Reactor's waiter set. w must not
// be blocked in Run when this is called.
func (r *Reactor) DeregisterWaiter(w *Waiter) {
	r.waitersMu.Lock()
	delete(r.waiters, w)
	r.waitersMu.Unlock()
}

// Run blocks, repeatedly polling the Reactor's backend and dispatching
// ready events and due timer/deferred work, until Reactor.Stop is
// called or w.Stop is called, per spec.md §4.5.
func (r *Reactor) Run(w *Waiter) error {
	for !r.stopped.Load() && !w.stopped.Load() {
		if err := r.poll(w, true); err != nil {
			return err
		}
	}
	return nil
}

// Poll performs exactly one non-blocking iteration: dispatch whatever
// is immediately ready, announce due timer/deferred work, and return
// without waiting for more. Per spec.md §4.5.
func (r *Reactor) Poll(w *Waiter) error {
	return r.poll(w, false)
}

// Stop requests this specific Waiter's Run loop to return after its
// current iteration.
func (w *Waiter) Stop() { w.stopped.Store(true) }

func (r *Reactor) poll(w *Waiter, blocking bool) error {
	timeout := time.Duration(0)
	if blocking {
		if d, ok := r.chron.TimeoutInterval(); ok {
			timeout = d
		} else {
			timeout = -1
		}
	}

	events, err := r.back.wait(w.events[:0], timeout)
	if err != nil {
		r.logger.Error("reactor: backend wait failed", zap.Uint64("waiter", w.id), zap.Error(err))
		return err
	}
	w.events = events
	r.metrics.WaitCalls.Inc()
	if r.cfg.MetricCollectionPerWaiter {
		r.metrics.waiter(w.id).WaitCalls.Inc()
	}

	for _, e := range events {
		if e.isWakeup || e.handle == r.ctrlHandle {
			if err := r.ctrl.acknowledge(); err != nil {
				r.logger.Warn("reactor: controller acknowledge failed", zap.Error(err))
			}
			continue
		}
		r.dispatchEvent(w, e)
	}

	timersFired, deferredRun := r.chron.Announce(false)
	r.metrics.TimersAnnounced.Add(uint64(timersFired))
	r.metrics.DeferredExecuted.Add(uint64(deferredRun))
	if r.cfg.MetricCollection && (timersFired > 0 || deferredRun > 0) {
		r.logger.Debug("reactor: announce",
			zap.Int("timers_fired", timersFired),
			zap.Int("deferred_run", deferredRun),
		)
	}
	return nil
}

// dispatchEvent invokes the registered callback(s) for one ready
// descriptor, in error -> writable -> readable -> notifications order
// (spec.md §4.5 step 3d), then runs any detachment that became due once
// this dispatch's in-flight marker clears.
func (r *Reactor) dispatchEvent(w *Waiter, e rawEvent) {
	entry := r.reg.lookupAndMarkProcessing(e.handle)
	if entry == nil {
		r.metrics.SpuriousWakeups.Inc()
		r.logger.Debug("reactor: spurious wakeup", zap.Int("handle", int(e.handle)))
		return
	}

	in := entry.snapshotInterest()
	session := entry.getSession()

	if (e.errored || e.hangup) && in.WantError() {
		fatal := true
		if r.cfg.DrainNotifications != nil {
			fatal = r.cfg.DrainNotifications(e.handle)
		}
		if fatal {
			r.invoke(entry, bitError, session, e.handle)
		}
	}
	if e.writable && in.WantWritable() {
		r.invoke(entry, bitWritable, session, e.handle)
	}
	if e.readable && in.WantReadable() {
		r.invoke(entry, bitReadable, session, e.handle)
	}
	if e.notifications && in.WantNotifications() {
		r.invoke(entry, bitNotifications, session, e.handle)
	}
	r.metrics.EventsDispatched.Inc()
	if r.cfg.MetricCollectionPerWaiter {
		r.metrics.waiter(w.id).EventsDispatched.Inc()
	}
	if r.cfg.MetricCollection {
		r.logger.Debug("reactor: dispatch",
			zap.Uint64("waiter", w.id),
			zap.Int("handle", int(e.handle)),
			zap.Bool("readable", e.readable),
			zap.Bool("writable", e.writable),
			zap.Bool("errored", e.errored),
			zap.Bool("notifications", e.notifications),
		)
	}

	if in.OneShot() {
		// The OS already dropped (or will silently ignore) this
		// descriptor's interest after a one-shot delivery; reflect that
		// in the entry so a later Show* re-adds rather than modifies.
		empty := Interest{}
		entry.setInterest(empty)
		if r.cfg.AutoDetach {
			_ = r.reg.removeAndScheduleDetach(e.handle, r.back.remove, nil)
			if r.cfg.MetricCollectionPerSocket {
				r.metrics.forgetSocket(e.handle)
			}
		}
	}

	if runDetach, cb := entry.decrementProcessing(); runDetach && cb != nil {
		cb()
	}
}

func (r *Reactor) invoke(e *entry, bit eventBit, session SocketSession, h Handle) {
	if r.cfg.MetricCollectionPerSocket {
		sm := r.metrics.socket(h)
		sm.EventsDispatched.Inc()
		switch bit {
		case bitReadable:
			sm.Readable.Inc()
		case bitWritable:
			sm.Writable.Inc()
		case bitError:
			sm.Errors.Inc()
		case bitNotifications:
			sm.Notifications.Inc()
		}
	}

	if cb := e.callbackFor(bit); cb != nil {
		cb(Event{Handle: h})
		return
	}
	if session == nil {
		return
	}
	switch bit {
	case bitReadable:
		session.ProcessReactorSocketReadable(Event{Handle: h})
	case bitWritable:
		session.ProcessReactorSocketWritable(Event{Handle: h})
	case bitError:
		session.ProcessReactorSocketError(Event{Handle: h})
	case bitNotifications:
		session.ProcessReactorSocketNotifications(Event{Handle: h})
	}
}
