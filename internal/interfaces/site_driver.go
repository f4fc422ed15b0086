package interfaces

import (
	"context"

	"github.com/ternarybob/atozbot/internal/models"
)

// Credentials for the portal login form
type Credentials struct {
	Username string
	Password string
}

// SiteDriver performs browser actions against the remote portal. It keeps no
// state beyond the open browser session. Every call is bounded by timeouts.
type SiteDriver interface {
	// Login performs one login attempt and verifies it succeeded
	Login(ctx context.Context, creds Credentials) error
	// NavigateToBoard opens the job board page
	NavigateToBoard(ctx context.Context) error
	// ExtractJobs returns the rows currently visible, in board order
	ExtractJobs(ctx context.Context) ([]models.JobRecord, error)
	// DetailText returns the visible text of a job's detail page
	DetailText(ctx context.Context, detailURL string) (string, error)
	// Accept clicks accept on the board row for ref and handles optional confirmation modals
	Accept(ctx context.Context, ref string) error
	// Reject declines a job from its detail page
	Reject(ctx context.Context, detailURL string) error
	// Reload reloads the current page
	Reload(ctx context.Context) error
	// Screenshot captures the current viewport as PNG
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// SiteDriverFactory opens a fresh browser session; used at startup and when
// the previous session was lost
type SiteDriverFactory func(ctx context.Context) (SiteDriver, error)
