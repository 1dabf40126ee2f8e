package reactor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a reactor-level failure the way spec.md §7 enumerates
// them. Kind itself is a plain enum; *Error pairs a Kind with an
// optional cause and implements error, plus Unwrap so
// errors.Is/errors.As still see through to the wrapped OS error
// produced by github.com/pkg/errors.Wrap.
type Kind int

const (
	// KindOK is the zero value; no caller should construct an error with it.
	KindOK Kind = iota
	// KindWouldBlock is a temporary unavailability, e.g. EAGAIN or an
	// expired receive/send deadline.
	KindWouldBlock
	// KindCancelled means the operation was cancelled via token, timer,
	// or detach.
	KindCancelled
	// KindEOF means the peer closed the stream direction.
	KindEOF
	// KindInvalid means a precondition was violated, e.g. schedule on a
	// CLOSED timer.
	KindInvalid
	// KindNotSupported means the requested trigger/one-shot option is
	// unavailable on this backend.
	KindNotSupported
	// KindConnectionDead means the peer reset the connection or some
	// other unrecoverable socket error occurred.
	KindConnectionDead
	// KindNotAuthorized means the OS denied permission on send.
	KindNotAuthorized
	// KindInternal is any other kernel error.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindWouldBlock:
		return "would_block"
	case KindCancelled:
		return "cancelled"
	case KindEOF:
		return "eof"
	case KindInvalid:
		return "invalid"
	case KindNotSupported:
		return "not_supported"
	case KindConnectionDead:
		return "connection_dead"
	case KindNotAuthorized:
		return "not_authorized"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error pairs a Kind with the underlying cause, if any. The zero value
// of cause is nil for errors synthesized directly from a Kind (e.g.
// KindInvalid on a closed timer), and non-nil when wrapping an OS error
// from the driver.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

// Unwrap lets errors.Is/errors.As reach the wrapped OS error.
func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, ErrInvalid) work against a bare Kind sentinel.
func (e *Error) Is(target error) bool {
	k, ok := target.(*Error)
	return ok && k.cause == nil && k.Kind == e.Kind
}

// newError builds a Kind-tagged error with no further cause.
func newError(k Kind) *Error { return &Error{Kind: k} }

// wrapError wraps an OS-level error with a Kind and call-site context,
// mirroring tnet poller_epoll.go's errors.Wrap(err, "epoll_ctl add")
// idiom via github.com/pkg/errors.
// wrapError returns a plain untyped nil (not a typed *Error nil) when
// err is nil, so callers can `return wrapError(...)` directly from a
// function returning the error interface without tripping the
// typed-nil-in-interface gotcha.
func wrapError(k Kind, err error, context string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, cause: errors.Wrap(err, context)}
}

// Sentinel errors for use with errors.Is.
var (
	ErrInvalid        = newError(KindInvalid)
	ErrNotSupported   = newError(KindNotSupported)
	ErrCancelled      = newError(KindCancelled)
	ErrWouldBlock     = newError(KindWouldBlock)
	ErrConnectionDead = newError(KindConnectionDead)
)
