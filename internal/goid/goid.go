// Package goid identifies the calling goroutine.
//
// The scheduler uses goroutine identity wherever the original model talks
// about "the calling thread": context ownership and the per-thread default
// context stack are both keyed by the value returned by [Get].
package goid

import (
	"runtime"
)

// Get returns the current goroutine's ID, parsed from the header line of
// [runtime.Stack] ("goroutine NNN [...").
//
// IDs are never zero for a live goroutine, so zero is free to use as a
// "no owner" marker.
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
