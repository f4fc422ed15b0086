package portal

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// browserSession owns one Chrome process and its main tab
type browserSession struct {
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	lost          atomic.Bool
	logger        arbor.ILogger
}

// startBrowser launches Chrome and checks it responds before returning
func startBrowser(opts Options, logger arbor.ILogger) (*browserSession, error) {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", opts.NoSandbox),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1366, 900),
		chromedp.UserAgent(opts.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	b := &browserSession{
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        logger,
	}

	chromedp.ListenTarget(browserCtx, b.onTargetEvent)

	testCtx, testCancel := context.WithTimeout(browserCtx, opts.NavTimeout)
	defer testCancel()

	var title string
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank"), chromedp.Title(&title)); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	logger.Debug().
		Bool("headless", opts.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser started")

	return b, nil
}

// onTargetEvent runs synchronously on the chromedp event loop; actions must
// be dispatched on their own goroutine
func (b *browserSession) onTargetEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventJavascriptDialogOpening:
		b.logger.Debug().Str("message", e.Message).Msg("Accepting native dialog")
		go func() {
			if err := chromedp.Run(b.ctx, page.HandleJavaScriptDialog(true)); err != nil {
				b.logger.Warn().Err(err).Msg("Failed to accept native dialog")
			}
		}()
	case *inspector.EventTargetCrashed:
		b.lost.Store(true)
		b.logger.Warn().Msg("Browser tab crashed")
	case *inspector.EventDetached:
		b.lost.Store(true)
		b.logger.Warn().Str("reason", string(e.Reason)).Msg("Browser inspector detached")
	}
}

// alive reports whether the main tab can still take commands
func (b *browserSession) alive() bool {
	return !b.lost.Load() && b.ctx.Err() == nil
}

// shutdown closes the browser gracefully, then tears down the allocator
func (b *browserSession) shutdown() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		cancelCtx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
		defer cancel()
		_ = chromedp.Cancel(cancelCtx)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		b.logger.Warn().Msg("Browser shutdown timed out, forcing cleanup")
	}

	b.browserCancel()
	b.allocCancel()
}
