package main

import (
	"errors"
	"fmt"
	"time"

	mainloop "github.com/joeycumines/go-mainloop"
	"github.com/spf13/cobra"
)

func (a *app) newCountdownCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "countdown",
		Short: "Run a timer that counts down to zero, then quit the loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.countdown(cmd)
		},
	}
	cmd.Flags().Duration("interval", 10*time.Millisecond, "timer interval")
	cmd.Flags().Int("count", 10, "number of ticks")
	return cmd
}

func (a *app) countdown(cmd *cobra.Command) error {
	interval := a.v.GetDuration("interval")
	count := a.v.GetInt("count")
	if count <= 0 {
		return errors.New("count must be positive")
	}
	if interval < 0 {
		return errors.New("interval must not be negative")
	}

	c, err := a.newContext("countdown")
	if err != nil {
		return err
	}
	defer c.Release()

	loop := mainloop.NewMainLoop(c)
	defer loop.Close()

	start := time.Now()
	remaining := count
	c.AddTimeoutFull(mainloop.PriorityDefault, interval, func(any) mainloop.ControlFlow {
		remaining--
		fmt.Fprintf(a.stdout, "tick %d\n", remaining)
		if remaining == 0 {
			loop.Quit()
			return mainloop.Remove
		}
		return mainloop.Continue
	}, nil, nil)

	if err := loop.RunContext(cmd.Context()); err != nil {
		return err
	}

	elapsed := time.Since(start)
	a.logger.Info().
		Int("count", count).
		Dur("interval", interval).
		Dur("elapsed", elapsed).
		Log("countdown finished")
	fmt.Fprintf(a.stdout, "done: %d ticks in %s\n", count, elapsed.Round(time.Millisecond))
	return nil
}
