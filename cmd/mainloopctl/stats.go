package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	mainloop "github.com/joeycumines/go-mainloop"
	"github.com/spf13/cobra"
)

func (a *app) newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Run a synthetic timer and idle workload, then print context metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.stats(cmd)
		},
	}
	cmd.Flags().Duration("duration", time.Second, "how long to run the workload")
	cmd.Flags().Int("timers", 8, "number of repeating timers")
	cmd.Flags().Duration("interval", 5*time.Millisecond, "interval of the first timer, each further timer adds one interval")
	cmd.Flags().Int("idle", 100, "number of idle dispatches")
	cmd.Flags().Duration("slow", 0, "warn about callbacks slower than this (0 disables)")
	return cmd
}

func (a *app) stats(cmd *cobra.Command) error {
	duration := a.v.GetDuration("duration")
	timers := a.v.GetInt("timers")
	interval := a.v.GetDuration("interval")
	idle := a.v.GetInt("idle")
	slow := a.v.GetDuration("slow")
	switch {
	case duration <= 0:
		return errors.New("duration must be positive")
	case timers < 0 || idle < 0:
		return errors.New("timers and idle must not be negative")
	case interval < 0 || slow < 0:
		return errors.New("interval and slow must not be negative")
	}

	c, err := a.newContext("stats",
		mainloop.WithMetrics(true),
		mainloop.WithSlowDispatchThreshold(slow),
	)
	if err != nil {
		return err
	}
	defer c.Release()

	loop := mainloop.NewMainLoop(c)
	defer loop.Close()

	for i := 0; i < timers; i++ {
		c.AddTimeoutFull(mainloop.PriorityDefault, time.Duration(i+1)*interval, func(any) mainloop.ControlFlow {
			return mainloop.Continue
		}, nil, nil)
	}
	if idle > 0 {
		remaining := idle
		c.AddIdle(func(any) mainloop.ControlFlow {
			remaining--
			if remaining == 0 {
				return mainloop.Remove
			}
			return mainloop.Continue
		}, nil)
	}
	c.AddTimeoutFull(mainloop.PriorityHigh, duration, func(any) mainloop.ControlFlow {
		loop.Quit()
		return mainloop.Remove
	}, nil, nil)

	if err := loop.RunContext(cmd.Context()); err != nil {
		return err
	}

	return writeMetrics(a, c.Metrics())
}

func writeMetrics(a *app, m *mainloop.MetricsSnapshot) error {
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	rows := []struct {
		name  string
		value any
	}{
		{"iterations", m.Iterations},
		{"idle iterations", m.IdleIterations},
		{"dispatches", m.Dispatches},
		{"dispatch rate", fmt.Sprintf("%.1f/s", m.DispatchRate)},
		{"dispatch p50", m.Dispatch.P50},
		{"dispatch p90", m.Dispatch.P90},
		{"dispatch p99", m.Dispatch.P99},
		{"dispatch max", m.Dispatch.Max},
		{"iteration p50", m.Iteration.P50},
		{"iteration p99", m.Iteration.P99},
		{"sources attached", m.SourcesAttached},
		{"sources current", m.SourcesCurrent},
		{"sources max", m.SourcesMax},
		{"sources avg", fmt.Sprintf("%.2f", m.SourcesAvg)},
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%s\t%v\n", row.name, row.value); err != nil {
			return err
		}
	}
	return w.Flush()
}
