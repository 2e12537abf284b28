package mainloop

import (
	"errors"
	"fmt"

	"github.com/joeycumines/go-mainloop/internal/poll"
)

// Standard errors.
var (
	// ErrContextDestroyed is the cause of a UsageError raised by operating on
	// a context whose reference count reached zero.
	ErrContextDestroyed = errors.New("mainloop: context destroyed")

	// ErrDoubleRelease is the cause of a UsageError raised by releasing a
	// context more times than it was retained.
	ErrDoubleRelease = errors.New("mainloop: context released too many times")

	// ErrUnbalancedPop is the cause of a UsageError raised by popping a
	// context that is not the top of the calling goroutine's stack.
	ErrUnbalancedPop = errors.New("mainloop: unbalanced thread default pop")

	// ErrNotAcquired is the cause of a UsageError raised by relinquishing a
	// context the calling goroutine does not own.
	ErrNotAcquired = errors.New("mainloop: context not acquired by caller")

	// ErrSourceAttached is the cause of a UsageError raised by attaching a
	// source twice.
	ErrSourceAttached = errors.New("mainloop: source already attached")

	// ErrSourceDestroyed is the cause of a UsageError raised by modifying or
	// attaching a destroyed source.
	ErrSourceDestroyed = errors.New("mainloop: source destroyed")

	// ErrIOWatchUnsupported is returned by AddIOWatch (and reported when
	// attaching an IO watch) on platforms without fd polling.
	ErrIOWatchUnsupported = poll.ErrUnsupported
)

// UsageError reports a programming error: an operation that violates the
// scheduler's lifetime or nesting rules. It is raised with panic, after
// being logged at critical level.
type UsageError struct {
	Err error
	Op  string
}

// Error implements the error interface.
func (e *UsageError) Error() string {
	return fmt.Sprintf("mainloop: %s: %v", e.Op, e.Err)
}

// Unwrap returns the cause, one of the Err* sentinels.
func (e *UsageError) Unwrap() error {
	return e.Err
}

// usagePanic logs and raises a UsageError.
func usagePanic(c *MainContext, op string, err error) {
	ue := &UsageError{Op: op, Err: err}
	b := loggerFor(c).Crit().
		Str("category", "context").
		Str("op", op).
		Err(err)
	if c != nil && c.name != "" {
		b = b.Str("context", c.name)
	}
	b.Log("usage error")
	panic(ue)
}

// PanicError wraps a value recovered from a panicking source callback.
type PanicError struct {
	Value any
	ID    SourceID
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("mainloop: source %d: callback panicked: %v", e.ID, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
