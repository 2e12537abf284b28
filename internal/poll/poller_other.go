//go:build !linux && !darwin

package poll

import (
	"sync/atomic"
	"time"
)

// Poller is the portable fallback: it can only sleep and be woken, file
// descriptor registration reports ErrUnsupported.
type Poller struct {
	wake   chan struct{}
	closed atomic.Bool
}

// New creates a channel based poller.
func New() (*Poller, error) {
	return &Poller{wake: make(chan struct{}, 1)}, nil
}

// Close marks the poller closed. It is idempotent.
func (p *Poller) Close() error {
	p.closed.Store(true)
	return nil
}

// Register always fails with ErrUnsupported.
func (p *Poller) Register(int, Events, Callback) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return ErrUnsupported
}

// Unregister always fails with ErrFDNotRegistered.
func (p *Poller) Unregister(int) error { return ErrFDNotRegistered }

// Modify always fails with ErrFDNotRegistered.
func (p *Poller) Modify(int, Events) error { return ErrFDNotRegistered }

// Wait sleeps for at most timeout (negative: indefinitely) or until Wake.
func (p *Poller) Wait(timeout time.Duration) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	switch {
	case timeout == 0:
		select {
		case <-p.wake:
		default:
		}
	case timeout < 0:
		<-p.wake
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-p.wake:
		case <-timer.C:
		}
	}
	return 0, nil
}

// Peek is a non-blocking Wait that leaves a pending wake-up in place.
func (p *Poller) Peek() (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return 0, nil
}

// Wake interrupts a blocked (or the next) Wait.
func (p *Poller) Wake() error {
	if p.closed.Load() {
		return ErrClosed
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}
