package btf

import "fmt"

// ErrKind is the closed error taxonomy of spec.md §7. It is flat: the first
// kind latched on an instance wins and is never replaced.
type ErrKind uint8

const (
	// ErrNone means no error has been latched.
	ErrNone ErrKind = iota
	// ErrIO reports a source/sink failure or unexpected end during streaming.
	ErrIO
	// ErrInvalid reports malformed wire bytes.
	ErrInvalid
	// ErrUnsupported reports a well-formed but disabled feature.
	ErrUnsupported
	// ErrType reports a type mismatch at a typed getter or UTF-8 boundary.
	ErrType
	// ErrTooBig reports a value or message exceeding a configured bound.
	ErrTooBig
	// ErrMemory reports an allocation failure.
	ErrMemory
	// ErrBug reports programmer misuse: unbalanced compound close, wrong
	// close kind, flush without function, invalid argument.
	ErrBug
	// ErrData reports a semantic violation at the application layer:
	// missing/duplicate map key, or an error flagged explicitly by a caller.
	ErrData
	// ErrEOF reports a clean end of source between messages.
	ErrEOF
)

func (k ErrKind) String() string {
	switch k {
	case ErrNone:
		return "none"
	case ErrIO:
		return "io"
	case ErrInvalid:
		return "invalid"
	case ErrUnsupported:
		return "unsupported"
	case ErrType:
		return "type"
	case ErrTooBig:
		return "too_big"
	case ErrMemory:
		return "memory"
	case ErrBug:
		return "bug"
	case ErrData:
		return "data"
	case ErrEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every operation in this
// package. Kind is stable and cheap to branch on; Error() renders Msg.
type Error struct {
	Kind ErrKind
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("btf: %s: %s", e.Kind, e.Msg)
}

func newError(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// latch is embedded by Writer, Reader and Tree to implement the single,
// terminal, write-once error state described in spec.md §7 and §5's
// "non-local exit from callbacks" rules: once latched, subsequent
// operations are no-ops and the error callback fires at most once.
type latch struct {
	err      *Error
	onError  func(*Error)
	notified bool
}

// fail latches the first error seen and invokes the error callback exactly
// once. Subsequent calls, even with a different kind, are no-ops that
// return the originally latched error.
func (l *latch) fail(kind ErrKind, format string, args ...any) *Error {
	if l.err == nil {
		l.err = newError(kind, format, args...)
	}
	if !l.notified {
		l.notified = true
		if l.onError != nil {
			l.onError(l.err)
		}
	}
	return l.err
}

func (l *latch) ok() bool { return l.err == nil }

// Err returns the latched error, or nil if none has been latched.
func (l *latch) Err() error {
	if l.err == nil {
		return nil
	}
	return l.err
}
