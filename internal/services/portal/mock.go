package portal

import (
	"context"
	"sync"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

// MockDriver is a scripted SiteDriver used by tests and by `worker --driver mock`.
// Error queues are consumed one entry per call; an empty queue means success.
type MockDriver struct {
	mu sync.Mutex

	Jobs    []models.JobRecord
	Details map[string]string

	LoginErrs    []error
	NavigateErrs []error
	ExtractErrs  []error
	ReloadErrs   []error
	AcceptErr    func(ref string) error
	RejectErr    func(detailURL string) error

	// AcceptRemoves drops accepted rows from Jobs, as the live board does
	AcceptRemoves bool

	Logins      int
	Navigations int
	Extracts    int
	Reloads     int
	Accepted    []string
	Rejected    []string
	Closed      bool
}

var _ interfaces.SiteDriver = (*MockDriver)(nil)

func pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (m *MockDriver) Login(ctx context.Context, creds interfaces.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logins++
	if creds.Username == "" || creds.Password == "" {
		return ErrMissingCredentials
	}
	return pop(&m.LoginErrs)
}

func (m *MockDriver) NavigateToBoard(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Navigations++
	return pop(&m.NavigateErrs)
}

func (m *MockDriver) ExtractJobs(ctx context.Context) ([]models.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Extracts++
	if err := pop(&m.ExtractErrs); err != nil {
		return nil, err
	}
	jobs := make([]models.JobRecord, len(m.Jobs))
	copy(jobs, m.Jobs)
	return jobs, nil
}

func (m *MockDriver) DetailText(ctx context.Context, detailURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Details[detailURL], nil
}

func (m *MockDriver) Accept(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AcceptErr != nil {
		if err := m.AcceptErr(ref); err != nil {
			return err
		}
	}
	m.Accepted = append(m.Accepted, ref)
	if m.AcceptRemoves {
		kept := m.Jobs[:0]
		for _, j := range m.Jobs {
			if j.Ref != ref {
				kept = append(kept, j)
			}
		}
		m.Jobs = kept
	}
	return nil
}

func (m *MockDriver) Reject(ctx context.Context, detailURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RejectErr != nil {
		if err := m.RejectErr(detailURL); err != nil {
			return err
		}
	}
	m.Rejected = append(m.Rejected, detailURL)
	return nil
}

func (m *MockDriver) Reload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reloads++
	return pop(&m.ReloadErrs)
}

func (m *MockDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (m *MockDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Counts returns a consistent view of the call counters
func (m *MockDriver) Counts() (logins, extracts, reloads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Logins, m.Extracts, m.Reloads
}

// MockFactory hands out drivers in order, repeating the last one.
// OpenErrs is consumed one entry per open; a non-nil entry fails that open.
type MockFactory struct {
	mu       sync.Mutex
	Drivers  []*MockDriver
	OpenErrs []error
	Opened   int
	served   int
}

// Factory adapts the mock to interfaces.SiteDriverFactory
func (f *MockFactory) Factory() interfaces.SiteDriverFactory {
	return func(ctx context.Context) (interfaces.SiteDriver, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.Opened++
		if err := pop(&f.OpenErrs); err != nil {
			return nil, err
		}
		i := f.served
		if i >= len(f.Drivers) {
			i = len(f.Drivers) - 1
		}
		f.served++
		return f.Drivers[i], nil
	}
}

// OpenCount returns how many opens were attempted
func (f *MockFactory) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Opened
}
