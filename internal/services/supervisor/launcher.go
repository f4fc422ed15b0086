package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/ternarybob/arbor"
)

// WorkerSignature is the command-line fragment every spawned worker carries.
// The orphan sweep matches on it.
const WorkerSignature = " worker --session-id"

// Invocation describes one worker process launch
type Invocation struct {
	SessionID   string
	Generation  int64
	CallbackURL string
	ConfigPaths []string
}

// Args renders the worker subcommand arguments
func (i Invocation) Args() []string {
	args := []string{
		"worker",
		"--session-id", i.SessionID,
		"--generation", strconv.FormatInt(i.Generation, 10),
		"--callback-url", i.CallbackURL,
	}
	for _, path := range i.ConfigPaths {
		args = append(args, "--config", path)
	}
	return args
}

// Process is a handle on a running worker
type Process interface {
	PID() int
	// Signal delivers sig to the worker's process group
	Signal(sig os.Signal) error
	Kill() error
	// Done is closed once the process has exited and been reaped
	Done() <-chan struct{}
	// ExitCode is valid after Done; -1 when killed by a signal
	ExitCode() int
}

// Launcher starts worker processes
type Launcher interface {
	Launch(ctx context.Context, inv Invocation) (Process, error)
}

// ExecLauncher re-executes the current binary with the worker subcommand
type ExecLauncher struct {
	executable string
	logger     arbor.ILogger
}

// NewExecLauncher launches workers from executable; empty means os.Executable()
func NewExecLauncher(executable string, logger arbor.ILogger) (*ExecLauncher, error) {
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		executable = self
	}
	return &ExecLauncher{executable: executable, logger: logger}, nil
}

// Launch starts the worker detached from ctx; the request that spawned it
// ending must not kill the worker.
func (l *ExecLauncher) Launch(ctx context.Context, inv Invocation) (Process, error) {
	cmd := exec.Command(l.executable, inv.Args()...)
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{}), exitCode: -1}
	go p.wait()

	l.logger.Info().
		Int("pid", cmd.Process.Pid).
		Str("session_id", inv.SessionID).
		Int64("generation", inv.Generation).
		Msg("Worker process started")

	return p, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	mu       sync.Mutex
	exitCode int
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig os.Signal) error {
	return signalGroup(p.cmd.Process, sig)
}

func (p *execProcess) Kill() error {
	return killGroup(p.cmd.Process)
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}
