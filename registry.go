package reactor

import "sync"

// removeFromOS is the functor the registry invokes while detaching an
// entry, per spec.md §4.2 "invokes the supplied remove-from-OS
// functor". It is supplied by the driver so the registry stays
// independent of any particular OS event interface.
type removeFromOS func(Handle) error

// registry is the descriptor→entry map (C2), grounded on gaio's
// w.descs/w.connIdents pair in watcher.go, generalized from gaio's
// net.Conn-keyed map to this spec's plain Handle key (this spec has no
// GC-rooted connection object to track, see DESIGN.md).
type registry struct {
	mu      sync.Mutex
	entries map[Handle]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[Handle]*entry)}
}

// attach creates an entry with empty interest. Idempotent for a given
// handle only in the sense of spec.md §4.2: a second attach on a
// still-registered handle fails with INVALID.
func (r *registry) attach(h Handle) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[h]; ok {
		return nil, newError(KindInvalid)
	}
	e := newEntry(h)
	r.entries[h] = e
	return e, nil
}

// lookup returns the entry without marking processing.
func (r *registry) lookup(h Handle) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[h]
}

// lookupAndMarkProcessing atomically returns the entry and increments
// processingCount, used by the driver immediately before invoking a
// callback (spec.md §4.2).
func (r *registry) lookupAndMarkProcessing(h Handle) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return nil
	}
	e.markProcessing()
	return e
}

// remove synchronously removes the entry from the map, invoking
// removeOS to drop it from the OS event set. It does not wait for
// in-flight dispatches; use removeAndScheduleDetach for that.
func (r *registry) remove(h Handle, removeOS removeFromOS) *entry {
	r.mu.Lock()
	e, ok := r.entries[h]
	if ok {
		delete(r.entries, h)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if removeOS != nil {
		_ = removeOS(h)
	}
	return e
}

// removeAndScheduleDetach is the cancellation primitive backing
// spec.md §4.2's detach contract: synchronously remove the entry from
// the map, invoke removeOS, and run cb once it is safe to do so — that
// is, once processingCount reaches zero. If processingCount is already
// zero, cb runs synchronously from this call, per spec.md §5
// "Transactional discipline".
func (r *registry) removeAndScheduleDetach(h Handle, removeOS removeFromOS, cb DetachCallback) error {
	r.mu.Lock()
	e, ok := r.entries[h]
	if ok {
		delete(r.entries, h)
	}
	r.mu.Unlock()
	if !ok {
		return newError(KindInvalid)
	}
	if removeOS != nil {
		if err := removeOS(h); err != nil {
			return err
		}
	}
	if e.requestDetach(cb) {
		if cb != nil {
			cb()
		}
	}
	return nil
}

// closeAll iterates all entries except controllerHandle and drops them
// through removeAndScheduleDetach with no detachment callback — used
// for reactor shutdown per spec.md §4.2.
func (r *registry) closeAll(controllerHandle Handle, removeOS removeFromOS) {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.entries))
	for h := range r.entries {
		if h == controllerHandle {
			continue
		}
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		_ = r.removeAndScheduleDetach(h, removeOS, nil)
	}
}

// size reports the number of registered entries, used by tests to
// verify the attach/detach round-trip law from spec.md §8.
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
