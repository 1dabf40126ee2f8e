// Package task implements the coroutine task and synchronization bridge
// from spec.md §4.6/§4.7 (components C6/C7), re-architected for Go per
// SPEC_FULL.md's C6 section: a goroutine plus a single-use result
// channel stands in for the language-neutral suspend/resume coroutine
// frame, since Go has no stackful suspendable functions.
//
// Grounded on gaio's aiocbPool (watcher.go) for the caller-supplied
// allocator shape (SpawnIn) and on gaio's die-channel cancellation
// discipline (watcher.loop()) for context-based cancellation.
package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// defaultTaskPool backs Spawn's bookkeeping allocation, the default
// counterpart to SpawnIn's caller-supplied pool.
var defaultTaskPool = sync.Pool{New: func() any { return new(taskState) }}

// taskState is the pooled bookkeeping a Task wraps; kept distinct from
// Task itself so SpawnIn can recycle it through a caller's sync.Pool.
type taskState struct {
	done chan struct{}
}

func (s *taskState) reset() {
	s.done = make(chan struct{})
}

// Task[T] is a spawned computation that eventually produces a
// Result[T], per spec.md §3's coroutine task.
type Task[T any] struct {
	id     uuid.UUID
	state  *taskState
	pool   *sync.Pool
	result *Result[T]
}

// ID returns the task's identifier.
func (t *Task[T]) ID() uuid.UUID { return t.id }

// Spawn starts fn on a new goroutine immediately and returns a Task
// handle for it. Go has no "start suspended": the honest equivalent of
// spec.md's "task starts suspended, awaiting resumes it" is that
// Spawn's caller does not block, and Await is what blocks.
func Spawn[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	return spawn(ctx, &defaultTaskPool, fn)
}

// SpawnIn is Spawn with the task's bookkeeping struct drawn from a
// caller-supplied sync.Pool instead of the package-level default — the
// nearest Go equivalent of spec.md §4.6/§9's "supplied allocator vs
// process-wide default allocator", grounded on gaio's aiocbPool.
func SpawnIn[T any](ctx context.Context, pool *sync.Pool, fn func(context.Context) (T, error)) *Task[T] {
	return spawn(ctx, pool, fn)
}

func spawn[T any](ctx context.Context, pool *sync.Pool, fn func(context.Context) (T, error)) *Task[T] {
	st := pool.Get().(*taskState)
	st.reset()

	t := &Task[T]{
		id:     uuid.New(),
		state:  st,
		pool:   pool,
		result: newUndefined[T](),
	}

	go func() {
		defer close(st.done)
		v, err := fn(ctx)
		if err != nil {
			t.result = newFailure[T](err)
			return
		}
		t.result = newSuccess(v)
	}()

	return t
}

// SpawnRef is Spawn's by-reference specialization (spec.md §4.6/§9): fn
// returns a *T, and the resulting Task[T]'s Result reports SuccessRef
// (payload via Ptr) rather than Success, so it is distinguishable from
// a Task[*T] spawned via Spawn whose value happens to be a pointer.
func SpawnRef[T any](ctx context.Context, fn func(context.Context) (*T, error)) *Task[T] {
	st := defaultTaskPool.Get().(*taskState)
	st.reset()

	t := &Task[T]{
		id:     uuid.New(),
		state:  st,
		pool:   &defaultTaskPool,
		result: newUndefined[T](),
	}

	go func() {
		defer close(st.done)
		p, err := fn(ctx)
		if err != nil {
			t.result = newFailure[T](err)
			return
		}
		t.result = newSuccessRef(p)
	}()

	return t
}

// SpawnVoid spawns fn with no success value, producing a SuccessVoid
// result on completion.
func SpawnVoid(ctx context.Context, fn func(context.Context) error) *Task[struct{}] {
	st := defaultTaskPool.Get().(*taskState)
	st.reset()

	t := &Task[struct{}]{
		id:     uuid.New(),
		state:  st,
		pool:   &defaultTaskPool,
		result: newUndefined[struct{}](),
	}

	go func() {
		defer close(st.done)
		if err := fn(ctx); err != nil {
			t.result = newFailure[struct{}](err)
			return
		}
		t.result = newSuccessVoid[struct{}]()
	}()

	return t
}

// Await blocks the calling goroutine until the task completes or ctx is
// cancelled, whichever comes first, returning the resolved Result. A
// task that already completed before Await is called returns
// immediately: Go's channel receive already gives that for free.
func (t *Task[T]) Await(ctx context.Context) *Result[T] {
	select {
	case <-t.state.done:
		t.pool.Put(t.state)
		return t.result
	case <-ctx.Done():
		return newFailure[T](ctx.Err())
	}
}

// Done reports whether the task has completed, without blocking.
func (t *Task[T]) Done() bool {
	select {
	case <-t.state.done:
		return true
	default:
		return false
	}
}
