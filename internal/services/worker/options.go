package worker

import (
	"time"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
)

// Options are the fixed parameters of one worker invocation. Tunable run
// parameters come from the ConfigSource instead.
type Options struct {
	SessionID     string
	Generation    int64
	Credentials   interfaces.Credentials
	LoginAttempts int
	LoginBackoff  time.Duration
	Policy        ErrorPolicy
	// MaxTasksPerPoll bounds how many queued tasks are handled per poll
	MaxTasksPerPoll int
}

// OptionsFromConfig builds worker options from [portal] and [worker]
func OptionsFromConfig(cfg *common.Config, sessionID string, generation int64) Options {
	attempts := cfg.Worker.LoginAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return Options{
		SessionID:  sessionID,
		Generation: generation,
		Credentials: interfaces.Credentials{
			Username: cfg.Portal.Username,
			Password: cfg.Portal.Password,
		},
		LoginAttempts: attempts,
		LoginBackoff:  common.Duration(cfg.Worker.LoginBackoff, 3*time.Second),
		Policy: ErrorPolicy{
			Ceiling:     cfg.Worker.MaxConsecutiveErrors,
			Base:        5 * time.Second,
			Step:        2 * time.Second,
			Cap:         common.Duration(cfg.Worker.ErrorBackoffCap, 30*time.Second),
			Cooldown:    common.Duration(cfg.Worker.ErrorCooldown, 30*time.Second),
			ReloginWait: 10 * time.Second,
			ReinitWait:  15 * time.Second,
		},
		MaxTasksPerPoll: 5,
	}
}
