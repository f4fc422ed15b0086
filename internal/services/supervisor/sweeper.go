package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/ternarybob/arbor"
)

// Sweeper finds and terminates worker processes this controller does not own
type Sweeper interface {
	// Sweep terminates every matching process whose PID is not in keep and
	// returns how many it stopped
	Sweep(ctx context.Context, keep map[int]bool) (int, error)
}

// ProcessSweeper scans the OS process table by command line
type ProcessSweeper struct {
	binary string
	grace  time.Duration
	logger arbor.ILogger
}

// NewProcessSweeper matches workers launched from executable
func NewProcessSweeper(executable string, grace time.Duration, logger arbor.ILogger) *ProcessSweeper {
	if executable == "" {
		executable, _ = os.Executable()
	}
	return &ProcessSweeper{
		binary: strings.TrimSuffix(filepath.Base(executable), ".exe"),
		grace:  grace,
		logger: logger,
	}
}

// Matches reports whether cmdline looks like one of our workers
func (s *ProcessSweeper) Matches(cmdline string) bool {
	return strings.Contains(cmdline, WorkerSignature) && strings.Contains(cmdline, s.binary)
}

func (s *ProcessSweeper) Sweep(ctx context.Context, keep map[int]bool) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}

	self := int32(os.Getpid())
	stopped := 0
	for _, p := range procs {
		if p.Pid == self || keep[int(p.Pid)] {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !s.Matches(cmdline) {
			continue
		}

		s.logger.Warn().Int("pid", int(p.Pid)).Str("cmdline", cmdline).Msg("Terminating orphaned worker process")
		if s.terminate(ctx, p) {
			stopped++
		}
	}
	return stopped, nil
}

// terminate asks politely, waits the grace period, then kills
func (s *ProcessSweeper) terminate(ctx context.Context, p *process.Process) bool {
	if err := p.TerminateWithContext(ctx); err != nil {
		s.logger.Debug().Err(err).Int("pid", int(p.Pid)).Msg("Terminate signal failed")
	}

	deadline := time.Now().Add(s.grace)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}

	if err := p.KillWithContext(ctx); err != nil {
		s.logger.Error().Err(err).Int("pid", int(p.Pid)).Msg("Failed to kill orphaned worker")
		return false
	}
	return true
}
