package main

import (
	"fmt"
	"io"
	"strings"

	mainloop "github.com/joeycumines/go-mainloop"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "MAINLOOPCTL"

// app is the state shared by the subcommands of one root command.
type app struct {
	v      *viper.Viper
	logger *logiface.Logger[logiface.Event]
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		v:      viper.New(),
		stdout: stdout,
		stderr: stderr,
	}

	cmd := &cobra.Command{
		Use:           "mainloopctl",
		Short:         "Drive a mainloop context from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			mainloop.SetLogger(nil)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().String("config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().String("log-level", "info", "log level: emerg, alert, crit, err, warning, notice, info, debug, trace, disabled")

	cmd.AddCommand(
		a.newCountdownCommand(),
		a.newWatchCommand(),
		a.newStatsCommand(),
	)

	return cmd
}

// init loads configuration for cmd and sets up logging.
func (a *app) init(cmd *cobra.Command) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	var bindErr error
	bind := func(f *pflag.Flag) {
		if err := a.v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	if bindErr != nil {
		return bindErr
	}

	if cfgFile := a.v.GetString("config"); cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
	}

	level, err := parseLevel(a.v.GetString("log-level"))
	if err != nil {
		return err
	}
	a.logger = stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(a.stderr)),
		stumpy.L.WithLevel(level),
	).Logger()
	mainloop.SetLogger(a.logger)

	return nil
}

// newContext creates a context named after the command, logging through
// the command's logger.
func (a *app) newContext(name string, opts ...mainloop.ContextOption) (*mainloop.MainContext, error) {
	return mainloop.NewContext(append([]mainloop.ContextOption{
		mainloop.WithLogger(a.logger),
		mainloop.WithName(name),
	}, opts...)...)
}

func parseLevel(s string) (logiface.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, nil
		}
	}
	switch s {
	case "error":
		return logiface.LevelError, nil
	case "warn":
		return logiface.LevelWarning, nil
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}
