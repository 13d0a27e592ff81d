package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wippyai/dynffi/value"
)

var runCmd = &cobra.Command{
	Use:   "run <script> [args...]",
	Short: "Run a script",
	Long: `Run a script file. The script sees its path in argv0 and the remaining
arguments as the list argv (with argc elements).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScript,
}

var evalCmd = &cobra.Command{
	Use:   "eval <script>",
	Short: "Evaluate a script given on the command line and print its result",
	Args:  cobra.ExactArgs(1),
	RunE:  evalScript,
}

// withSession runs fn on a session built from the command's config.
// Shell output goes to the command's stdout and stderr.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	s, err := newSession(ctx, cfg, log, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.close(ctx)
	return fn(ctx, s)
}

func runScript(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		return s.runFile(ctx, args[0], args[1:])
	})
}

// runFile runs a script file with argv0, argv and argc set from script and args.
func (s *session) runFile(ctx context.Context, script string, args []string) error {
	if err := s.setArgv(script, args); err != nil {
		return err
	}
	_, err := s.shell.RunFile(ctx, script)
	return err
}

func (s *session) setArgv(script string, args []string) error {
	words := make([]*value.Value, len(args))
	for i, a := range args {
		words[i] = value.NewString(a)
	}
	vars := []struct {
		name string
		v    *value.Value
	}{
		{"argv0", value.NewString(script)},
		{"argv", value.NewList(words...)},
		{"argc", value.NewString(strconv.Itoa(len(args)))},
	}
	for _, kv := range vars {
		if err := s.shell.SetVar(kv.name, kv.v); err != nil {
			return err
		}
	}
	return nil
}

func evalScript(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		v, err := s.shell.Run(ctx, args[0])
		if err != nil {
			return err
		}
		printResult(cmd.OutOrStdout(), v)
		return nil
	})
}

func printResult(w io.Writer, v *value.Value) {
	if v == nil {
		return
	}
	if out := v.String(); out != "" {
		fmt.Fprintln(w, out)
	}
}
