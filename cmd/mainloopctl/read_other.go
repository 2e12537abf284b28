//go:build !linux && !darwin

package main

import (
	"errors"

	mainloop "github.com/joeycumines/go-mainloop"
)

var errWouldBlock = errors.New("would block")

// readFD is never reached: AddIOWatch fails first on these platforms.
func readFD(int, []byte) (int, error) {
	return 0, mainloop.ErrIOWatchUnsupported
}
