package supervisor

import (
	"context"
	"errors"
	"os"
	"sync"
)

// FakeProcess is a scripted worker handle for tests
type FakeProcess struct {
	pid int
	// IgnoreTerminate makes the process survive the terminate signal
	IgnoreTerminate bool

	mu       sync.Mutex
	done     chan struct{}
	exitCode int
	signals  []os.Signal
	killed   bool
}

// NewFakeProcess returns a live fake with the given PID
func NewFakeProcess(pid int) *FakeProcess {
	return &FakeProcess{pid: pid, done: make(chan struct{}), exitCode: -1}
}

func (p *FakeProcess) PID() int { return p.pid }

func (p *FakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	ignore := p.IgnoreTerminate
	p.mu.Unlock()
	if !ignore {
		p.Exit(0)
	}
	return nil
}

func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.Exit(-1)
	return nil
}

// Exit simulates the process ending on its own
func (p *FakeProcess) Exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return
	default:
	}
	p.exitCode = code
	close(p.done)
}

func (p *FakeProcess) Done() <-chan struct{} { return p.done }

func (p *FakeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Signals returns the signals delivered so far
func (p *FakeProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

// Killed reports whether Kill was called
func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// FakeLauncher hands out FakeProcesses and records every invocation
type FakeLauncher struct {
	// Err, when set, fails every launch
	Err error

	mu          sync.Mutex
	nextPID     int
	invocations []Invocation
	processes   []*FakeProcess
}

// NewFakeLauncher creates a launcher whose first PID is 1000
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{nextPID: 1000}
}

func (l *FakeLauncher) Launch(ctx context.Context, inv Invocation) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	p := NewFakeProcess(l.nextPID)
	l.nextPID++
	l.invocations = append(l.invocations, inv)
	l.processes = append(l.processes, p)
	return p, nil
}

// Invocations returns every launched invocation in order
func (l *FakeLauncher) Invocations() []Invocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Invocation(nil), l.invocations...)
}

// Processes returns every launched process in order
func (l *FakeLauncher) Processes() []*FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeProcess(nil), l.processes...)
}

// Last returns the most recent process, nil when none
func (l *FakeLauncher) Last() *FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.processes) == 0 {
		return nil
	}
	return l.processes[len(l.processes)-1]
}

// Live counts processes that have not exited
func (l *FakeLauncher) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range l.processes {
		if IsAlive(p) {
			n++
		}
	}
	return n
}

// FakeSweeper records sweeps and reports a fixed count
type FakeSweeper struct {
	Stopped int
	Err     error

	mu    sync.Mutex
	calls []map[int]bool
}

func (s *FakeSweeper) Sweep(ctx context.Context, keep map[int]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, keep)
	return s.Stopped, s.Err
}

// Calls returns how many sweeps ran
func (s *FakeSweeper) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// ErrFakeLaunch is a convenience launch failure for tests
var ErrFakeLaunch = errors.New("launch failed")
