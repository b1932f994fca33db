// Package errs defines the closed error-kind taxonomy surfaced across the
// store and index subsystems.
package errs

import "errors"

// Kind classifies an error into one of the categories the engine callers
// branch on. Kinds are closed: add a case here, not a new sentinel family.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindOutOfMemory
	KindIO
	KindCorruption
	KindInvalidArgument
	KindOperatorMismatch
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindOutOfMemory:
		return "out-of-memory"
	case KindIO:
		return "io"
	case KindCorruption:
		return "corruption"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindOperatorMismatch:
		return "operator-mismatch"
	case KindClosed:
		return "closed-store"
	default:
		return "none"
	}
}

// Sentinel errors. Wrap with fmt.Errorf("...: %w", ErrX) at the call site so
// errors.Is keeps working through additional context.
var (
	ErrNotFound         = errors.New("not found")
	ErrOutOfMemory      = errors.New("out of memory")
	ErrIO               = errors.New("i/o error")
	ErrCorruption       = errors.New("corruption")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrOperatorMismatch = errors.New("operator mismatch")
	ErrClosed           = errors.New("store closed")
)

// Code classifies err into its Kind by walking the error chain with
// errors.Is. Returns KindNone if err is nil or doesn't match a known kind.
func Code(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrOutOfMemory):
		return KindOutOfMemory
	case errors.Is(err, ErrIO):
		return KindIO
	case errors.Is(err, ErrCorruption):
		return KindCorruption
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrOperatorMismatch):
		return KindOperatorMismatch
	case errors.Is(err, ErrClosed):
		return KindClosed
	default:
		return KindNone
	}
}
