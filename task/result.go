package task

import "go.uber.org/atomic"

// kind tags which alternative a Result currently holds, per spec.md
// §3's three-state result (UNDEFINED/SUCCESS/FAILURE), extended with a
// pointer-shaped success alternative for SpawnRef (see Result.Ptr).
type kind int

const (
	kindUndefined kind = iota
	kindSuccess
	kindSuccessVoid
	kindSuccessRef
	kindFailure
)

// Result[T] is the tagged union a Task produces, grounded on spec.md
// §3/§9's coroutine result slot. The zero value is Undefined.
type Result[T any] struct {
	k        kind
	val      T
	ptr      *T
	err      error
	consumed atomic.Bool
}

// Undefined reports whether the Result has not yet been resolved.
func (r *Result[T]) Undefined() bool { return r.k == kindUndefined }

// Success reports whether the Result holds a by-value success.
func (r *Result[T]) Success() bool { return r.k == kindSuccess }

// SuccessVoid reports whether the Result holds a success with no value.
func (r *Result[T]) SuccessVoid() bool { return r.k == kindSuccessVoid }

// SuccessRef reports whether the Result holds a by-reference success.
func (r *Result[T]) SuccessRef() bool { return r.k == kindSuccessRef }

// Failure reports whether the Result holds an error.
func (r *Result[T]) Failure() bool { return r.k == kindFailure }

// Value returns the by-value success payload. Only meaningful when
// Success() is true.
func (r *Result[T]) Value() T { return r.val }

// Ptr returns the by-reference success payload. Only meaningful when
// SuccessRef() is true.
func (r *Result[T]) Ptr() *T { return r.ptr }

// Err returns the failure cause. Only meaningful when Failure() is true.
func (r *Result[T]) Err() error { return r.err }

// Release marks the Result as consumed. Per spec.md §7 ("assertions may
// terminate the process if an invariant is broken"), calling Release
// more than once on the same Result is an assertion failure.
func (r *Result[T]) Release() {
	if !r.consumed.CompareAndSwap(false, true) {
		panic("task: Result.Release called more than once")
	}
}

func newUndefined[T any]() *Result[T] {
	return &Result[T]{k: kindUndefined}
}

func newSuccess[T any](v T) *Result[T] {
	return &Result[T]{k: kindSuccess, val: v}
}

func newSuccessRef[T any](p *T) *Result[T] {
	return &Result[T]{k: kindSuccessRef, ptr: p}
}

func newSuccessVoid[T any]() *Result[T] {
	return &Result[T]{k: kindSuccessVoid}
}

func newFailure[T any](err error) *Result[T] {
	return &Result[T]{k: kindFailure, err: err}
}
