package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
)

var (
	// ErrSessionLost means the browser or page is gone; the caller must reload or reinitialise
	ErrSessionLost = errors.New("browser session lost")
	// ErrLoggedOut means the portal redirected to its login page; the browser is fine
	ErrLoggedOut = fmt.Errorf("%w: portal login expired", ErrSessionLost)
	// ErrTransientNetwork is a network blip worth one immediate retry
	ErrTransientNetwork = errors.New("transient network error")
	// ErrLoginRejected means the login form was submitted but no authenticated page followed
	ErrLoginRejected = errors.New("login not confirmed")
	// ErrMissingCredentials is returned before any navigation when username or password is empty
	ErrMissingCredentials = errors.New("portal credentials not configured")
	// ErrJobNotFound means the row or its action button is not on the page
	ErrJobNotFound = errors.New("job not found on board")
)

var transientMarkers = []string{
	"net::ERR_NETWORK_CHANGED",
	"net::ERR_INTERNET_DISCONNECTED",
	"net::ERR_CONNECTION_RESET",
	"net::ERR_CONNECTION_CLOSED",
	"net::ERR_NAME_NOT_RESOLVED",
	"net::ERR_TIMED_OUT",
	"net::ERR_CONNECTION_REFUSED",
}

var sessionLostMarkers = []string{
	"target closed",
	"session closed",
	"target crashed",
	"no target with given id",
	"websocket: close",
	"use of closed network connection",
}

// classify maps a chromedp error onto the package sentinels
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionLost) || errors.Is(err, ErrTransientNetwork) {
		return err
	}
	if errors.Is(err, chromedp.ErrInvalidContext) || errors.Is(err, chromedp.ErrChannelClosed) {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
		}
	}
	for _, m := range sessionLostMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("portal timeout: %w", err)
	}
	return err
}

// IsSessionLost reports whether err requires browser recovery
func IsSessionLost(err error) bool {
	return errors.Is(err, ErrSessionLost)
}

// IsTransient reports whether err is a network blip worth an immediate retry
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientNetwork)
}
