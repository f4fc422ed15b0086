// -----------------------------------------------------------------------
// Worker Loop - login, then board cycles until the context is cancelled
// -----------------------------------------------------------------------

package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
	"github.com/ternarybob/atozbot/internal/services/evaluator"
	"github.com/ternarybob/atozbot/internal/services/portal"
)

// ErrLoginFailed is returned by Run when the login retry budget is exhausted
var ErrLoginFailed = errors.New("login failed")

// errNoBrowser marks a cycle that found no open browser after a failed reinit
var errNoBrowser = fmt.Errorf("%w: browser not open", portal.ErrSessionLost)

// TaskSource hands queued operator tasks to the worker
type TaskSource interface {
	NextTask(ctx context.Context, sessionID string) (*models.Task, error)
	CompleteTask(ctx context.Context, taskID string, success bool, result, errMsg string) error
}

// Loop is the single sequential actor driving one browser session
type Loop struct {
	opts      Options
	factory   interfaces.SiteDriverFactory
	driver    interfaces.SiteDriver
	evaluator *evaluator.Evaluator
	config    *ConfigSource
	tasks     TaskSource
	reporter  *Reporter
	logger    arbor.ILogger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	// Accumulators survive browser reinitialisation but not a process restart
	counters          models.SessionCounters
	cycle             int64
	consecutiveErrors int
	lastSummary       *models.CycleSummary
	declined          map[string]string // ref -> reason of the last counted rejection
	rejected          []models.RejectedJob
	lastResults       time.Time
	lastRejected      time.Time
}

// NewLoop creates a worker loop. tasks may be nil.
func NewLoop(opts Options, factory interfaces.SiteDriverFactory, config *ConfigSource, tasks TaskSource, reporter *Reporter, logger arbor.ILogger) *Loop {
	logger = logger.WithCorrelationId(opts.SessionID)
	return &Loop{
		opts:      opts,
		factory:   factory,
		evaluator: evaluator.New(logger),
		config:    config,
		tasks:     tasks,
		reporter:  reporter,
		logger:    logger,
		sleep:     sleepContext,
		now:       time.Now,
		declined:  make(map[string]string),
	}
}

// WithSleeper replaces the wait function used for backoff and inter-cycle sleeps
func (l *Loop) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Loop {
	l.sleep = sleep
	return l
}

// WithClock replaces the time source
func (l *Loop) WithClock(now func() time.Time) *Loop {
	l.now = now
	l.evaluator = l.evaluator.WithClock(now)
	return l
}

// Counters returns the session totals accumulated so far
func (l *Loop) Counters() models.SessionCounters {
	return l.counters
}

// Run logs in and cycles until ctx is cancelled. It returns ErrLoginFailed
// when the login budget is exhausted and nil on a requested stop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().
		Int64("generation", l.opts.Generation).
		Msg("Worker loop starting")
	l.reporter.Send(ctx, models.UpdateStarting, models.UpdateData{
		Status:      string(models.SessionStatusStarting),
		LoginStatus: string(models.LoginStatusAttempting),
		PID:         os.Getpid(),
	})

	driver, err := l.factory(ctx)
	if err != nil {
		l.reporter.Send(ctx, models.UpdateError, l.withCounters(models.UpdateData{
			Status: string(models.SessionStatusError),
			Error:  err.Error(),
		}))
		return fmt.Errorf("open browser: %w", err)
	}
	l.driver = driver
	defer func() {
		if l.driver != nil {
			_ = l.driver.Close()
		}
	}()

	if err := l.login(ctx); err != nil {
		if ctx.Err() != nil {
			l.reportStopped(ctx)
			return nil
		}
		l.logger.Error().Err(err).Msg("Login failed, worker exiting")
		l.reporter.Send(ctx, models.UpdateLoginFailed, l.withCounters(models.UpdateData{
			Status:      string(models.SessionStatusError),
			LoginStatus: string(models.LoginStatusFailed),
			Message:     "Login failed after multiple attempts. Please check credentials.",
			Error:       err.Error(),
		}))
		return err
	}

	l.reporter.Send(ctx, models.UpdateLoginSuccessful, models.UpdateData{
		LoginStatus: string(models.LoginStatusSuccess),
	})
	l.reporter.Send(ctx, models.UpdateRunning, l.withCounters(models.UpdateData{
		Status:      string(models.SessionStatusRunning),
		LoginStatus: string(models.LoginStatusSuccess),
		Message:     "Bot is now running and checking for jobs",
	}))

	l.lastResults = l.now()
	l.lastRejected = l.now()

	for ctx.Err() == nil {
		err := l.runCycle(ctx)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			l.handleCycleError(ctx, err)
			continue
		}

		l.consecutiveErrors = 0
		l.reportPeriodic(ctx)
		if err := l.idle(ctx); err != nil {
			break
		}
	}

	l.reportStopped(ctx)
	return nil
}

// login runs the login protocol: a fixed number of attempts with a fixed
// backoff between them. Missing credentials fail immediately.
func (l *Loop) login(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= l.opts.LoginAttempts; attempt++ {
		l.reporter.Send(ctx, models.UpdateLoginAttempting, models.UpdateData{
			LoginStatus: string(models.LoginStatusAttempting),
			Message:     fmt.Sprintf("Login attempt %d of %d", attempt, l.opts.LoginAttempts),
		})

		lastErr = l.driver.Login(ctx, l.opts.Credentials)
		if lastErr == nil {
			l.logger.Info().Int("attempt", attempt).Msg("Logged in to portal")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(lastErr, portal.ErrMissingCredentials) {
			break
		}

		l.logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", l.opts.LoginAttempts).
			Err(lastErr).
			Msg("Login attempt failed")

		if attempt < l.opts.LoginAttempts {
			if err := l.sleep(ctx, l.opts.LoginBackoff); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrLoginFailed, lastErr)
}

// runCycle performs one board scan
func (l *Loop) runCycle(ctx context.Context) error {
	l.cycle++
	started := l.now()
	cfg := l.config.Current(ctx)
	criteria := evaluator.CriteriaFrom(cfg)
	summary := &models.CycleSummary{Number: l.cycle}

	// A failed reinit leaves no browser; recovery reopens it
	if l.driver == nil {
		return errNoBrowser
	}

	l.pollTasks(ctx)

	l.reporter.Send(ctx, models.UpdateCheckingJobs, models.UpdateData{Message: "navigating", Cycle: summary})
	if err := retryTransient(ctx, l.logger, "navigate", func() error { return l.driver.NavigateToBoard(ctx) }); err != nil {
		return err
	}

	jobs, err := l.driver.ExtractJobs(ctx)
	if err != nil {
		return err
	}
	l.counters.TotalChecks++
	summary.Found = len(jobs)

	if len(jobs) == 0 {
		l.reporter.Send(ctx, models.UpdateNoJobs, models.UpdateData{Cycle: summary})
	} else {
		l.logger.Debug().Int64("cycle", l.cycle).Int("jobs", len(jobs)).Msg("Jobs on board")
		l.reporter.Send(ctx, models.UpdateProcessingJobs, models.UpdateData{Cycle: summary})
	}

	for _, job := range jobs {
		if summary.Accepted >= cfg.MaxAcceptPerRun {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.processJob(ctx, job, criteria, summary); err != nil {
			return err
		}
	}

	summary.Millis = l.now().Sub(started).Milliseconds()
	l.lastSummary = summary

	l.reporter.Send(ctx, models.UpdateDatabase, l.withCounters(models.UpdateData{
		Status: string(models.SessionStatusRunning),
	}))
	l.reporter.Send(ctx, models.UpdateCycleComplete, l.withCounters(models.UpdateData{Cycle: summary}))

	if summary.Accepted > 0 || summary.Rejected > 0 {
		l.logger.Info().
			Int64("cycle", l.cycle).
			Int("accepted", summary.Accepted).
			Int("rejected", summary.Rejected).
			Msg("Cycle completed")
	}
	return nil
}

// processJob runs the gates for one row and acts on the decision. Only
// browser failures are returned; a job that cannot be acted on is skipped.
func (l *Loop) processJob(ctx context.Context, job models.JobRecord, criteria evaluator.Criteria, summary *models.CycleSummary) error {
	if !evaluator.IsAvailable(job, criteria) {
		summary.Skipped++
		return nil
	}

	// Row-only gates run before any detail navigation
	decision, needsDetail := l.evaluator.Precheck(job, criteria)
	detail := ""
	if decision.IsAccept() && (needsDetail || job.DetailURL != "") {
		text, err := l.driver.DetailText(ctx, job.DetailURL)
		if err != nil {
			return err
		}
		detail = text
	}
	if decision.IsAccept() {
		decision = l.evaluator.Evaluate(job, detail, criteria)
	}

	if decision.IsAccept() {
		delete(l.declined, job.Ref)
		if err := l.driver.Accept(ctx, job.Ref); err != nil {
			if errors.Is(err, portal.ErrJobNotFound) {
				l.logger.Info().Str("ref", job.Ref).Msg("Job left the board before accept")
				summary.Skipped++
				return nil
			}
			return err
		}
		l.counters.TotalAccepted++
		summary.Accepted++
		l.logger.Info().Str("ref", job.Ref).Str("language", job.Language).Msg("Accepted job")
	} else {
		// Every cycle re-evaluates; an unchanged rejection is not counted twice
		if reason, seen := l.declined[job.Ref]; seen && job.Ref != "" && reason == decision.Reason {
			summary.Skipped++
			return nil
		}
		if evaluator.Excluded(decision) && job.DetailURL != "" {
			if err := l.driver.Reject(ctx, job.DetailURL); err != nil {
				if portal.IsSessionLost(err) {
					return err
				}
				l.logger.Warn().Str("ref", job.Ref).Err(err).Msg("Failed to decline job on portal")
			}
		}
		if job.Ref != "" {
			l.declined[job.Ref] = decision.Reason
		}
		l.counters.TotalRejected++
		summary.Rejected++
		l.rejected = append(l.rejected, models.RejectedJob{Ref: job.Ref, Reason: decision.Reason, At: l.now().UTC()})
		l.logger.Debug().Str("ref", job.Ref).Str("reason", decision.Reason).Msg("Rejected job")
	}

	record := job.FromDecision(decision, l.now().UTC())
	record.SessionID = l.opts.SessionID
	l.reporter.Send(ctx, models.UpdateJobProcessed, l.withCounters(models.UpdateData{Job: &record, Cycle: summary}))
	return nil
}

// handleCycleError applies the error policy. It never returns an error: the
// loop keeps running until it is stopped.
func (l *Loop) handleCycleError(ctx context.Context, err error) {
	l.consecutiveErrors++
	l.logger.Warn().
		Int64("cycle", l.cycle).
		Int("consecutive_errors", l.consecutiveErrors).
		Err(err).
		Msg("Cycle failed")
	l.reporter.Send(ctx, models.UpdateCycleError, l.withCounters(models.UpdateData{
		Error:             err.Error(),
		ConsecutiveErrors: l.consecutiveErrors,
	}))

	if l.opts.Policy.CeilingReached(l.consecutiveErrors) {
		l.logger.Error().
			Int("consecutive_errors", l.consecutiveErrors).
			Dur("cooldown", l.opts.Policy.Cooldown).
			Msg("Maximum consecutive errors reached, cooling down")
		l.reporter.Send(ctx, models.UpdateMaxErrorsReached, models.UpdateData{ConsecutiveErrors: l.consecutiveErrors})
		_ = l.sleep(ctx, l.opts.Policy.Cooldown)
		l.consecutiveErrors = 0
		return
	}

	if portal.IsSessionLost(err) && !l.recover(ctx, err) {
		return
	}

	_ = l.sleep(ctx, l.opts.Policy.Backoff(l.consecutiveErrors))
}

// recover reloads the page, or reopens the browser and logs in again.
// An expired portal login only needs a new login. On failure it waits and
// reports false; the driver may then be nil until the next recovery.
func (l *Loop) recover(ctx context.Context, cause error) bool {
	l.reporter.Send(ctx, models.UpdateRecovering, models.UpdateData{Message: cause.Error()})

	if l.driver != nil {
		if errors.Is(cause, portal.ErrLoggedOut) {
			if err := l.login(ctx); err == nil {
				l.reporter.Send(ctx, models.UpdateLoginSuccessful, models.UpdateData{LoginStatus: string(models.LoginStatusSuccess)})
				return true
			}
		} else if err := l.driver.Reload(ctx); err == nil {
			l.logger.Info().Msg("Page reloaded after lost session")
			return true
		} else {
			l.logger.Warn().Err(err).Msg("Reload failed, reinitialising browser")
		}

		_ = l.driver.Close()
		l.driver = nil
	}

	driver, err := l.factory(ctx)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to reinitialise browser")
		_ = l.sleep(ctx, l.opts.Policy.ReinitWait)
		return false
	}
	l.driver = driver

	if err := l.login(ctx); err != nil {
		l.logger.Error().Err(err).Msg("Re-login after browser restart failed")
		_ = l.sleep(ctx, l.opts.Policy.ReloginWait)
		return false
	}

	l.logger.Info().Msg("Browser reinitialised and logged in")
	l.reporter.Send(ctx, models.UpdateLoginSuccessful, models.UpdateData{LoginStatus: string(models.LoginStatusSuccess)})
	return true
}

// idle sleeps the configured check interval. With quick check enabled the
// sleep is split so queued tasks are picked up; a job_check task ends it early.
func (l *Loop) idle(ctx context.Context) error {
	cfg := l.config.Current(ctx)
	interval := cfg.CheckInterval()
	quick := cfg.QuickCheckInterval()

	if !cfg.EnableQuickCheck || l.tasks == nil || quick <= 0 || quick >= interval {
		return l.sleep(ctx, interval)
	}

	for remaining := interval; remaining > 0; remaining -= quick {
		step := min(quick, remaining)
		if err := l.sleep(ctx, step); err != nil {
			return err
		}
		if l.pollTasks(ctx) {
			return nil
		}
	}
	return nil
}

// pollTasks handles pending tasks and reports whether an immediate check was requested
func (l *Loop) pollTasks(ctx context.Context) bool {
	if l.tasks == nil || l.driver == nil {
		return false
	}

	checkNow := false
	for i := 0; i < l.opts.MaxTasksPerPoll; i++ {
		task, err := l.tasks.NextTask(ctx, l.opts.SessionID)
		if err != nil {
			l.logger.Debug().Err(err).Msg("Task poll failed")
			return checkNow
		}
		if task == nil {
			return checkNow
		}

		result, err := l.handleTask(ctx, task)
		if task.Type == models.TaskTypeJobCheck {
			checkNow = true
		}
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
			l.logger.Warn().Str("task_id", task.ID).Str("type", string(task.Type)).Err(err).Msg("Task failed")
		}
		if err := l.tasks.CompleteTask(ctx, task.ID, err == nil, result, errMsg); err != nil {
			l.logger.Debug().Str("task_id", task.ID).Err(err).Msg("Failed to report task result")
		}
	}
	return checkNow
}

func (l *Loop) handleTask(ctx context.Context, task *models.Task) (string, error) {
	switch task.Type {
	case models.TaskTypeJobCheck:
		return "check scheduled", nil
	case models.TaskTypeNavigation:
		return "board loaded", l.driver.NavigateToBoard(ctx)
	case models.TaskTypeLogin:
		return "logged in", l.driver.Login(ctx, l.opts.Credentials)
	case models.TaskTypeJobAccept:
		ref := task.Data["ref"]
		if ref == "" {
			return "", fmt.Errorf("job_accept task requires data.ref")
		}
		if err := l.driver.Accept(ctx, ref); err != nil {
			return "", err
		}
		l.counters.TotalAccepted++
		return "accepted " + ref, nil
	case models.TaskTypeJobReject:
		detailURL := task.Data["detail_url"]
		if detailURL == "" {
			return "", fmt.Errorf("job_reject task requires data.detail_url")
		}
		if err := l.driver.Reject(ctx, detailURL); err != nil {
			return "", err
		}
		l.counters.TotalRejected++
		return "rejected " + detailURL, nil
	case models.TaskTypeScreenshot:
		png, err := l.driver.Screenshot(ctx)
		if err != nil {
			return "", err
		}
		return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
	default:
		return "", fmt.Errorf("unknown task type %q", task.Type)
	}
}

// reportPeriodic sends the results and rejected reports when they are due
func (l *Loop) reportPeriodic(ctx context.Context) {
	cfg := l.config.Current(ctx)
	now := l.now()

	if cfg.EnableResultsReporting && now.Sub(l.lastResults) >= cfg.ResultsReportInterval() {
		l.lastResults = now
		l.reporter.Send(ctx, models.UpdateResultsReport, l.withCounters(models.UpdateData{Cycle: l.lastSummary}))
	}

	if cfg.EnableRejectedReporting && now.Sub(l.lastRejected) >= cfg.RejectedReportInterval() {
		l.lastRejected = now
		if len(l.rejected) > 0 {
			l.reporter.Send(ctx, models.UpdateRejectedReport, models.UpdateData{
				Rejected: l.rejected,
				Message:  fmt.Sprintf("%d jobs rejected since last report", len(l.rejected)),
			})
			l.rejected = nil
		}
	}
}

func (l *Loop) reportStopped(ctx context.Context) {
	l.logger.Info().
		Int64("total_checks", l.counters.TotalChecks).
		Int64("total_accepted", l.counters.TotalAccepted).
		Int64("total_rejected", l.counters.TotalRejected).
		Msg("Worker loop stopped")
	l.reporter.Send(ctx, models.UpdateDatabase, l.withCounters(models.UpdateData{
		Status: string(models.SessionStatusStopped),
	}))
	l.reporter.Send(ctx, models.UpdateBotStopped, models.UpdateData{Message: "Bot stopped"})
}

func (l *Loop) withCounters(data models.UpdateData) models.UpdateData {
	return data.WithCounters(l.counters)
}
