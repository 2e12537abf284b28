// Package poll is the poll-integration hook used by a main context while it
// blocks: it waits for file descriptor readiness with a timeout, and can be
// interrupted from any goroutine via [Poller.Wake].
//
// Implementations are platform specific:
//   - Linux: epoll, woken through an eventfd
//   - Darwin: kqueue, woken through a non-blocking self-pipe
//   - elsewhere: a channel based waiter, without file descriptor support
//
// A Poller is driven by one goroutine at a time (the context owner). Register,
// Modify, Unregister and Wake are safe to call from any goroutine.
package poll

import (
	"errors"
	"math"
	"time"
)

// Events is a bit set of readiness conditions for a file descriptor.
type Events uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead Events = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// Standard errors.
var (
	ErrClosed              = errors.New("poll: poller closed")
	ErrFDOutOfRange        = errors.New("poll: fd out of range")
	ErrFDAlreadyRegistered = errors.New("poll: fd already registered")
	ErrFDNotRegistered     = errors.New("poll: fd not registered")
	ErrUnsupported         = errors.New("poll: fd watches are not supported on this platform")
)

// Callback receives the readiness observed for a registered fd. It is called
// inline from [Poller.Wait], on the waiting goroutine.
type Callback func(Events)

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback Callback
	events   Events
}

// maxFD bounds the descriptors accepted by Register.
const maxFD = 100000000

// timeoutMillis converts a wait timeout to whole milliseconds for the
// underlying syscall. Negative means wait indefinitely (-1). A positive
// timeout rounds up to the next millisecond, never down to zero.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
