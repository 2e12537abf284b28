package main

import (
	"bytes"
	"errors"
	"fmt"

	mainloop "github.com/joeycumines/go-mainloop"
	"github.com/spf13/cobra"
)

func (a *app) newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a file descriptor, counting lines until it hangs up",
		Long: `Watch a file descriptor (stdin by default) with an IO watch source, printing
the number of bytes and lines read each time it becomes readable. The loop
quits on end of file, on hangup, or after --timeout without input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd)
		},
	}
	cmd.Flags().Int("fd", 0, "file descriptor to watch")
	cmd.Flags().Duration("timeout", 0, "quit after this long without input (0 disables)")
	return cmd
}

func (a *app) watch(cmd *cobra.Command) error {
	fd := a.v.GetInt("fd")
	timeout := a.v.GetDuration("timeout")
	if timeout < 0 {
		return errors.New("timeout must not be negative")
	}

	c, err := a.newContext("watch")
	if err != nil {
		return err
	}
	defer c.Release()

	loop := mainloop.NewMainLoop(c)
	defer loop.Close()

	var (
		totalBytes, totalLines int
		timedOut               bool
		readErr                error
		idle                   mainloop.SourceID
	)

	resetIdle := func() {
		if timeout <= 0 {
			return
		}
		if idle != 0 {
			c.RemoveSource(idle)
		}
		idle = c.AddTimeoutFull(mainloop.PriorityDefault, timeout, func(any) mainloop.ControlFlow {
			timedOut = true
			idle = 0
			loop.Quit()
			return mainloop.Remove
		}, nil, nil)
	}

	buf := make([]byte, 32*1024)
	_, err = c.AddIOWatch(fd, mainloop.IORead, func(fd int, cond mainloop.IOCondition, _ any) mainloop.ControlFlow {
		n, err := readFD(fd, buf)
		if errors.Is(err, errWouldBlock) {
			return mainloop.Continue
		}
		if n > 0 {
			lines := bytes.Count(buf[:n], []byte{'\n'})
			totalBytes += n
			totalLines += lines
			fmt.Fprintf(a.stdout, "read %d bytes, %d lines\n", n, lines)
			resetIdle()
		}
		if err != nil || n == 0 {
			readErr = err
			a.logger.Debug().
				Int("fd", fd).
				Str("cond", cond.String()).
				Log("watch finished")
			loop.Quit()
			return mainloop.Remove
		}
		return mainloop.Continue
	}, nil)
	if err != nil {
		return fmt.Errorf("watching fd %d: %w", fd, err)
	}
	resetIdle()

	if err := loop.RunContext(cmd.Context()); err != nil {
		return err
	}
	if readErr != nil {
		return fmt.Errorf("reading fd %d: %w", fd, readErr)
	}

	status := "eof"
	if timedOut {
		status = "timeout"
	}
	fmt.Fprintf(a.stdout, "%s: %d bytes, %d lines\n", status, totalBytes, totalLines)
	return nil
}
