// Package supervisor owns the worker child process: spawn, graceful
// termination with escalation, exit notification and the orphan sweep.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/services/worker"
)

// Supervisor spawns and stops workers. It holds no lifecycle state of its
// own; the bot controller keeps the live handle under its lock.
type Supervisor struct {
	launcher Launcher
	sweeper  Sweeper
	grace    time.Duration
	lockPath string
	logger   arbor.ILogger
}

// New creates a supervisor. grace bounds the wait between the terminate
// signal and the kill.
func New(launcher Launcher, sweeper Sweeper, grace time.Duration, lockPath string, logger arbor.ILogger) *Supervisor {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &Supervisor{
		launcher: launcher,
		sweeper:  sweeper,
		grace:    grace,
		lockPath: lockPath,
		logger:   logger,
	}
}

// Spawn starts a worker for the session
func (s *Supervisor) Spawn(ctx context.Context, inv Invocation) (Process, error) {
	return s.launcher.Launch(ctx, inv)
}

// IsAlive is the cheap liveness predicate: true until the process has been reaped
func IsAlive(p Process) bool {
	if p == nil {
		return false
	}
	select {
	case <-p.Done():
		return false
	default:
		return true
	}
}

// Terminate stops p: terminate signal, wait up to the grace period, then kill.
// A process that already exited is not an error.
func (s *Supervisor) Terminate(ctx context.Context, p Process) error {
	if !IsAlive(p) {
		return nil
	}

	pid := p.PID()
	s.logger.Info().Int("pid", pid).Msg("Stopping worker process")

	if err := p.Signal(terminateSignal); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug().Err(err).Int("pid", pid).Msg("Failed to send terminate signal")
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-p.Done():
		s.logger.Info().Int("pid", pid).Int("exit_code", p.ExitCode()).Msg("Worker exited gracefully")
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}

	s.logger.Warn().Int("pid", pid).Dur("grace", s.grace).Msg("Worker did not exit in time, killing")
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill worker (pid %d): %w", pid, err)
	}

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		return fmt.Errorf("worker (pid %d) did not exit after kill", pid)
	}
	return nil
}

// OnExit calls fn once p exits. fn receives the exit code.
func OnExit(p Process, fn func(code int)) {
	go func() {
		<-p.Done()
		fn(p.ExitCode())
	}()
}

// SweepOrphans terminates stray workers, keeping the given live handle
func (s *Supervisor) SweepOrphans(ctx context.Context, keep Process) int {
	if s.sweeper == nil {
		return 0
	}
	exclude := map[int]bool{}
	if IsAlive(keep) {
		exclude[keep.PID()] = true
	}
	stopped, err := s.sweeper.Sweep(ctx, exclude)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Orphan sweep failed")
		return stopped
	}
	if stopped > 0 {
		s.logger.Info().Int("count", stopped).Msg("Orphaned workers terminated")
	}
	return stopped
}

// WorkerLockHeld reports whether any worker, owned or not, holds the lock file
func (s *Supervisor) WorkerLockHeld() bool {
	return worker.LockHeld(s.lockPath)
}
