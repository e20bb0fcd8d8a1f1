// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package executor runs the power and status commands through the system shell.
package executor

import (
	"context"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/logger"
)

const (
	// DefaultShell runs commands as "sh -c <command>".
	DefaultShell = "/bin/sh"

	// DefaultProbeTimeout bounds a status probe when the caller's context has no deadline.
	DefaultProbeTimeout = 10 * time.Second
)

// Shell dispatches commands and probes hardware state with a shell.
type Shell struct {
	shell        string
	probeCommand string
	probeTimeout time.Duration
	log          zerolog.Logger

	execCmd        func(name string, args ...string) *exec.Cmd
	execCmdContext func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewShell creates a Shell. An empty shell uses DefaultShell; a zero timeout
// uses DefaultProbeTimeout.
func NewShell(shell, probeCommand string, probeTimeout time.Duration) *Shell {
	if shell == "" {
		shell = DefaultShell
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Shell{
		shell:          shell,
		probeCommand:   probeCommand,
		probeTimeout:   probeTimeout,
		log:            logger.Component("executor"),
		execCmd:        exec.Command,
		execCmdContext: exec.CommandContext,
	}
}

// Dispatch starts command and returns once it is running. The exit status is
// only logged.
func (s *Shell) Dispatch(command string) error {
	if command == "" {
		return errors.ErrEmptyCommand
	}

	cmd := s.execCmd(s.shell, "-c", command)
	if err := cmd.Start(); err != nil {
		return err
	}

	pid := cmd.Process.Pid
	s.log.Debug().Str("command", command).Int("pid", pid).Msg("Command started")

	go func() {
		start := time.Now()
		err := cmd.Wait()
		ev := s.log.Info()
		if err != nil {
			ev = s.log.Warn().Err(err)
		}
		ev.Str("command", command).
			Int("pid", pid).
			Dur("duration", time.Since(start)).
			Msg("Command finished")
	}()
	return nil
}

// Probe runs the status command and returns its standard output.
func (s *Shell) Probe(ctx context.Context) (string, error) {
	if s.probeCommand == "" {
		return "", errors.NewProbeError("", errors.ErrEmptyCommand)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.probeTimeout)
		defer cancel()
	}

	cmd := s.execCmdContext(ctx, s.shell, "-c", s.probeCommand)
	// Children of a killed shell can hold stdout open.
	cmd.WaitDelay = time.Second
	out, err := cmd.Output()
	if err != nil {
		return string(out), errors.NewProbeError(s.probeCommand, err)
	}
	return string(out), nil
}
