package trfb

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the errors this package returns, mirroring the error
// taxonomy a connection or server surfaces as its terminal state rather
// than as a Go panic.
type Kind int

const (
	// KindInvalidArgument covers bad dimensions, bpp, or a nil framebuffer.
	KindInvalidArgument Kind = iota
	// KindOutOfMemory covers allocation failure.
	KindOutOfMemory
	// KindTransportError covers recv/send/select failure, EOF, or an
	// unreachable peer. Terminates the affected connection only.
	KindTransportError
	// KindProtocolError covers a malformed ProtocolVersion, a wrong
	// security type, or an unknown message type. Terminates the
	// affected connection only.
	KindProtocolError
	// KindTimeout is not really an error; callers retry around Stop
	// checks. It is included so the zero Kind never masquerades as a
	// timeout.
	KindTimeout
	// KindQueueFull means AddEvent found the bounded event queue full.
	// The event is dropped and a warning logged.
	KindQueueFull
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindTransportError:
		return "transport_error"
	case KindProtocolError:
		return "protocol_error"
	case KindTimeout:
		return "timeout"
	case KindQueueFull:
		return "queue_full"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with the Kind and operation that
// produced it, so connection/server code can inspect what happened
// without parsing strings.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func wrapError(op string, kind Kind, err error, msg string) *Error {
	return &Error{Op: op, Kind: kind, Err: errors.Wrap(err, msg)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, if any, and whether one was
// found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsTimeout reports whether err represents a cooperative-cancellation
// timeout rather than a real failure.
func IsTimeout(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTimeout
}

// errDisconnected is the sentinel TransportError cause used when a recv
// of zero bytes indicates the peer closed the connection.
var errDisconnected = errors.New("peer disconnected")
