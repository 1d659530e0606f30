package pool

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a pool error. It is carried on Error so
// callers can branch on it without string matching, while still being able
// to errors.Is against the package-level sentinels below.
type Kind string

const (
	KindConfigInvalid  Kind = "config_invalid"
	KindBackendDown    Kind = "backend_down"
	KindPoolTimeout    Kind = "pool_timeout"
	KindPoolClosed     Kind = "pool_closed"
	KindNotSupported   Kind = "not_supported"
	KindSessionInvalid Kind = "session_invalid"
)

// Sentinels usable with errors.Is. Every *Error produced by this package
// reports true for errors.Is against the sentinel matching its Kind.
var (
	ErrConfigInvalid  = errors.New("pool: invalid configuration")
	ErrBackendDown    = errors.New("pool: backend down")
	ErrPoolTimeout    = errors.New("pool: borrow timed out")
	ErrPoolClosed     = errors.New("pool: closed")
	ErrNotSupported   = errors.New("pool: operation not supported")
	ErrSessionInvalid = errors.New("pool: session failed validation")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindConfigInvalid:
		return ErrConfigInvalid
	case KindBackendDown:
		return ErrBackendDown
	case KindPoolTimeout:
		return ErrPoolTimeout
	case KindPoolClosed:
		return ErrPoolClosed
	case KindNotSupported:
		return ErrNotSupported
	case KindSessionInvalid:
		return ErrSessionInvalid
	default:
		return nil
	}
}

// BusySummary is a diagnostic snapshot of one busy session, attached to a
// PoolTimeout error (and used by dumpBusyInformation) to help diagnose
// leaks or saturation.
type BusySummary struct {
	ID           uint64
	Name         string
	LastUsedMs   int64
	BorrowedMs   int64
	StackSnippet string
}

// TimeoutDiagnostics is the size/busy snapshot a PoolTimeout error carries,
// so a caller can tell saturation from leak without a separate Status call.
type TimeoutDiagnostics struct {
	Free          int
	Busy          int
	Waiting       int
	BusySummaries []BusySummary
}

// Error is the concrete error type this package returns. Pool is the
// configured pool name; for a ConfigInvalid error raised by New it is empty
// when the configuration carried no name.
type Error struct {
	Kind        Kind
	Pool        string
	Cause       error
	Diagnostics *TimeoutDiagnostics
}

func (e *Error) Error() string {
	if e.Pool != "" {
		if e.Cause != nil {
			return fmt.Sprintf("pool %s: %s: %v", e.Pool, e.Kind, e.Cause)
		}
		return fmt.Sprintf("pool %s: %s", e.Pool, e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, pool.ErrPoolTimeout) (etc.) succeed against the
// sentinel matching e.Kind, without requiring callers to unwrap to Cause.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

func newError(kind Kind, poolName string, cause error) *Error {
	return &Error{Kind: kind, Pool: poolName, Cause: cause}
}
