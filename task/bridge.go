package task

import "context"

// Synchronize blocks the calling goroutine until t completes, per
// spec.md §4.7's synchronization bridge contract — unchanged semantics
// from spec.md, "blocks without a spurious wait if the task already
// completed on the caller". It is a thin wrapper over Task.Await: in Go,
// a channel receive already returns immediately when the value is
// already there, so no extra bookkeeping is needed to detect the
// already-done case.
func Synchronize[T any](ctx context.Context, t *Task[T]) *Result[T] {
	return t.Await(ctx)
}
