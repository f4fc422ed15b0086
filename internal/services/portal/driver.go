// -----------------------------------------------------------------------
// Portal Driver - chromedp automation of the interpreter job portal
// -----------------------------------------------------------------------

package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

// Options configures the browser and portal endpoints
type Options struct {
	BaseURL        string
	LoginPath      string
	JobsPath       string
	Headless       bool
	NoSandbox      bool
	UserAgent      string
	NavTimeout     time.Duration
	LoginTimeout   time.Duration
	ElementTimeout time.Duration
}

// OptionsFromConfig converts [portal] settings
func OptionsFromConfig(cfg common.PortalConfig) Options {
	return Options{
		BaseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		LoginPath:      cfg.LoginPath,
		JobsPath:       cfg.JobsPath,
		Headless:       cfg.Headless,
		NoSandbox:      true,
		UserAgent:      cfg.UserAgent,
		NavTimeout:     common.Duration(cfg.NavTimeout, 30*time.Second),
		LoginTimeout:   common.Duration(cfg.LoginTimeout, 10*time.Second),
		ElementTimeout: common.Duration(cfg.ElementTimeout, 5*time.Second),
	}
}

func (o Options) loginURL() string { return o.BaseURL + o.LoginPath }
func (o Options) jobsURL() string  { return o.BaseURL + o.JobsPath }

// onBoard reports whether location is the job board, ignoring query and fragment
func (o Options) onBoard(location string) bool {
	current, err := url.Parse(location)
	if err != nil {
		return false
	}
	board, err := url.Parse(o.jobsURL())
	if err != nil {
		return false
	}
	return current.Host == board.Host &&
		strings.TrimRight(current.Path, "/") == strings.TrimRight(board.Path, "/")
}

// Driver implements interfaces.SiteDriver with headless Chrome
type Driver struct {
	opts    Options
	logger  arbor.ILogger
	browser *browserSession
}

// NewDriver starts a browser session
func NewDriver(opts Options, logger arbor.ILogger) (*Driver, error) {
	b, err := startBrowser(opts, logger)
	if err != nil {
		return nil, err
	}
	return &Driver{opts: opts, logger: logger, browser: b}, nil
}

// NewFactory returns a factory the worker uses to (re)open browser sessions
func NewFactory(opts Options, logger arbor.ILogger) interfaces.SiteDriverFactory {
	return func(ctx context.Context) (interfaces.SiteDriver, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewDriver(opts, logger)
	}
}

// run executes actions against base (the main tab or a detail tab) bounded
// by timeout and by the caller's ctx
func (d *Driver) run(ctx, base context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if !d.browser.alive() {
		return ErrSessionLost
	}

	runCtx, cancel := context.WithTimeout(base, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !d.browser.alive() {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	return classify(err)
}

// Login performs one login attempt
func (d *Driver) Login(ctx context.Context, creds interfaces.Credentials) error {
	if creds.Username == "" || creds.Password == "" {
		return ErrMissingCredentials
	}

	main := d.browser.ctx
	err := d.run(ctx, main, d.opts.NavTimeout,
		chromedp.Navigate(d.opts.loginURL()),
		chromedp.WaitVisible(selEmail, chromedp.ByQuery),
		chromedp.Click(selEmail, chromedp.ByQuery),
		chromedp.SendKeys(selEmail, creds.Username, chromedp.ByQuery),
		humanPause(),
		chromedp.Click(selPassword, chromedp.ByQuery),
		chromedp.SendKeys(selPassword, creds.Password, chromedp.ByQuery),
		humanPause(),
		chromedp.Click(selSubmit, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("login form: %w", err)
	}

	// Success is the post-login UI signal, falling back to the URL
	if err := d.run(ctx, main, d.opts.LoginTimeout, chromedp.WaitVisible(selLoggedIn, chromedp.ByQuery)); err == nil {
		return nil
	} else if IsSessionLost(err) || ctx.Err() != nil {
		return err
	}

	location, err := d.location(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(location, "chrome-error") {
		return fmt.Errorf("%w: browser error page after login (%s)", ErrTransientNetwork, location)
	}
	if !strings.Contains(location, "login") && containsAny(location, loginURLHints) {
		d.logger.Debug().Str("url", location).Msg("Login confirmed by URL")
		return nil
	}
	return fmt.Errorf("%w: still at %s", ErrLoginRejected, location)
}

// NavigateToBoard opens the job board. A redirect to the login page means the
// portal session expired and is reported as a lost session.
func (d *Driver) NavigateToBoard(ctx context.Context) error {
	err := d.run(ctx, d.browser.ctx, d.opts.NavTimeout,
		chromedp.Navigate(d.opts.jobsURL()),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate to board: %w", err)
	}

	location, err := d.location(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(location, d.opts.LoginPath) {
		return ErrLoggedOut
	}
	return nil
}

// ExtractJobs reads the board rows from the current page
func (d *Driver) ExtractJobs(ctx context.Context) ([]models.JobRecord, error) {
	var html string
	err := d.run(ctx, d.browser.ctx, d.opts.ElementTimeout,
		chromedp.OuterHTML("body", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("read board: %w", err)
	}
	return ParseBoard(html, d.opts.BaseURL, time.Now())
}

// DetailText opens the detail page in a separate tab so the board stays loaded
func (d *Driver) DetailText(ctx context.Context, detailURL string) (string, error) {
	if detailURL == "" {
		return "", nil
	}
	tab, closeTab := chromedp.NewContext(d.browser.ctx)
	defer closeTab()

	var html string
	err := d.run(ctx, tab, d.opts.NavTimeout,
		chromedp.Navigate(detailURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("detail page %s: %w", detailURL, err)
	}
	return DetailText(html)
}

// Accept clicks the row's accept button, then answers the optional 24-hour
// notice and cancellation-reason modals if they appear
func (d *Driver) Accept(ctx context.Context, ref string) error {
	main := d.browser.ctx

	// A previous accept may have left the tab on a confirmation page
	location, err := d.location(ctx)
	if err != nil {
		return err
	}
	if !d.opts.onBoard(location) {
		d.logger.Debug().Str("location", location).Msg("Returning to board before accept")
		if err := d.NavigateToBoard(ctx); err != nil {
			return err
		}
	}
	rowXPath := fmt.Sprintf(`//tr[contains(concat(' ', normalize-space(@class), ' '), ' table__row ')][td[normalize-space(.)=%s]]`, xpathLiteral(ref))
	button := rowXPath + `//*[contains(concat(' ', normalize-space(@class), ' '), ' table__btn ') or ((self::button or self::a) and contains(translate(normalize-space(.), 'ACEPT', 'acept'), 'accept'))]`

	if err := d.clickXPath(ctx, main, button); err != nil {
		return fmt.Errorf("accept %s: %w", ref, err)
	}
	d.confirmModals(ctx, main, acceptMessage)

	return d.run(ctx, main, d.opts.NavTimeout, chromedp.WaitReady("body", chromedp.ByQuery))
}

// Reject declines a job from its detail page
func (d *Driver) Reject(ctx context.Context, detailURL string) error {
	if detailURL == "" {
		return ErrJobNotFound
	}
	tab, closeTab := chromedp.NewContext(d.browser.ctx)
	defer closeTab()

	if err := d.run(ctx, tab, d.opts.NavTimeout,
		chromedp.Navigate(detailURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("open detail %s: %w", detailURL, err)
	}

	button := `//*[(self::button or self::a) and (contains(translate(normalize-space(.), 'REJCT', 'rejct'), 'reject') or contains(translate(normalize-space(.), 'DECLIN', 'declin'), 'decline'))]`
	if err := d.clickXPath(ctx, tab, button); err != nil {
		return fmt.Errorf("reject %s: %w", detailURL, err)
	}
	d.confirmModals(ctx, tab, rejectMessage)
	return nil
}

// Reload reloads the current page
func (d *Driver) Reload(ctx context.Context) error {
	return d.run(ctx, d.browser.ctx, d.opts.NavTimeout,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Screenshot captures the visible viewport as PNG
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, d.browser.ctx, d.opts.ElementTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down
func (d *Driver) Close() error {
	d.browser.shutdown()
	return nil
}

func (d *Driver) location(ctx context.Context) (string, error) {
	var location string
	if err := d.run(ctx, d.browser.ctx, d.opts.ElementTimeout, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return location, nil
}

// clickXPath clicks the first match, returning ErrJobNotFound when nothing matches
func (d *Driver) clickXPath(ctx, base context.Context, xpath string) error {
	expr, _ := json.Marshal(xpath)
	var count int
	err := d.run(ctx, base, d.opts.ElementTimeout, chromedp.Evaluate(
		fmt.Sprintf(`document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength`, expr),
		&count,
	))
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrJobNotFound
	}
	return d.run(ctx, base, d.opts.ElementTimeout, chromedp.Click(xpath, chromedp.BySearch))
}

// confirmModals handles the interstitials that may follow an accept or reject.
// Both are optional; absence or failure is logged, never returned.
func (d *Driver) confirmModals(ctx, base context.Context, message string) {
	if d.visibleWithin(ctx, base, sel24HourModal, 2*time.Second) {
		if err := d.run(ctx, base, d.opts.ElementTimeout, chromedp.Click(sel24HourButton, chromedp.ByQuery)); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to continue 24-hour notice modal")
		}
	}

	if d.visibleWithin(ctx, base, selCancelModal, 2*time.Second) {
		err := d.run(ctx, base, d.opts.ElementTimeout,
			chromedp.SetValue(selCancelText, message, chromedp.ByQuery),
			chromedp.Click(selCancelSubmit, chromedp.ByQuery),
		)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to submit cancellation-reason modal")
		}
	}
}

// visibleWithin polls for a visible element without failing when it never appears
func (d *Driver) visibleWithin(ctx, base context.Context, selector string, window time.Duration) bool {
	sel, _ := json.Marshal(selector)
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const st = window.getComputedStyle(el);
		return st.display !== 'none' && st.visibility !== 'hidden' && el.getClientRects().length > 0;
	})()`, sel)

	deadline := time.Now().Add(window)
	for {
		var visible bool
		if err := d.run(ctx, base, d.opts.ElementTimeout, chromedp.Evaluate(expr, &visible)); err == nil && visible {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// humanPause waits 200-600ms between form interactions
func humanPause() chromedp.Action {
	return chromedp.Sleep(time.Duration(200+rand.Intn(400)) * time.Millisecond)
}

// xpathLiteral quotes s for use inside an XPath expression
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
