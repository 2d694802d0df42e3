package zerochan

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"zerowatch/pkg/logger"
)

// Renderer fetches a page through a script-executing environment. It is the
// fallback path when the direct fetch is served a challenge interstitial.
type Renderer interface {
	FetchHTML(ctx context.Context, pageURL, waitSelector string) (string, error)
}

// ChromeRenderer renders pages in a short-lived headless Chrome instance.
// Each call gets its own allocator and browser context, torn down
// unconditionally before the call returns.
type ChromeRenderer struct {
	userAgent         string
	navigationTimeout time.Duration
	containerWait     time.Duration
	logger            logger.Logger
}

// RendererOptions configures a ChromeRenderer
type RendererOptions struct {
	UserAgent         string
	NavigationTimeout time.Duration
	ContainerWait     time.Duration
}

// NewChromeRenderer creates a headless-Chrome renderer
func NewChromeRenderer(opts RendererOptions, log logger.Logger) *ChromeRenderer {
	if log == nil {
		log = logger.GetLogger()
	}
	navTimeout := opts.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	containerWait := opts.ContainerWait
	if containerWait <= 0 {
		containerWait = 10 * time.Second
	}
	return &ChromeRenderer{
		userAgent:         opts.UserAgent,
		navigationTimeout: navTimeout,
		containerWait:     containerWait,
		logger:            log,
	}
}

// FetchHTML navigates to pageURL, waits for the document body and then,
// bounded by the container wait, for waitSelector to appear. The selector
// never showing up is not an error; whatever has rendered by then is
// returned.
func (r *ChromeRenderer) FetchHTML(ctx context.Context, pageURL, waitSelector string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(r.userAgent),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	navCtx, cancelNav := context.WithTimeout(browserCtx, r.navigationTimeout)
	defer cancelNav()

	r.logger.DebugWithFields("rendering page in headless browser", map[string]interface{}{
		"url":           pageURL,
		"wait_selector": waitSelector,
	})

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
	); err != nil {
		return "", fmt.Errorf("headless navigation failed: %w", err)
	}

	if waitSelector != "" {
		waitCtx, cancelWait := context.WithTimeout(browserCtx, r.containerWait)
		err := chromedp.Run(waitCtx, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
		cancelWait()
		if err != nil {
			// The container may legitimately never appear (empty tag,
			// final page). Extraction decides what the page yields.
			r.logger.DebugWithFields("wait for listing container elapsed", map[string]interface{}{
				"url":           pageURL,
				"wait_selector": waitSelector,
			})
		}
	}

	var html string
	htmlCtx, cancelHTML := context.WithTimeout(browserCtx, 10*time.Second)
	defer cancelHTML()
	if err := chromedp.Run(htmlCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("failed to capture rendered HTML: %w", err)
	}

	return html, nil
}

// ThumbsWaitSelector is the container selector handed to the renderer when
// fetching listing pages.
func ThumbsWaitSelector() string {
	return "ul[id^=thumbs]"
}
