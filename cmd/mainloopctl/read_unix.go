//go:build linux || darwin

package main

import (
	"errors"

	"golang.org/x/sys/unix"
)

var errWouldBlock = errors.New("would block")

func readFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, errWouldBlock
		default:
			return 0, err
		}
	}
}
