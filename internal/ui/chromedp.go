// Package ui drives the catalog application's web UI over the Chrome
// DevTools protocol. The rest of the system only sees semantic roles; all
// selector knowledge lives here.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/interfaces"
)

// ChromeDriver implements interfaces.UIDriver against a live browser tab
// showing the catalog. It attaches to an existing browser via DevTools URL
// when configured, otherwise launches its own headless instance.
type ChromeDriver struct {
	config       *common.UIConfig
	logger       arbor.ILogger
	browserCtx   context.Context
	cancelFuncs  []context.CancelFunc
	pollInterval time.Duration
}

// NewChromeDriver creates and connects the driver
func NewChromeDriver(config *common.UIConfig, logger arbor.ILogger) (*ChromeDriver, error) {
	d := &ChromeDriver{
		config:       config,
		logger:       logger,
		pollInterval: 250 * time.Millisecond,
	}

	if err := d.connect(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *ChromeDriver) connect() error {
	parent := context.Background()

	if d.config.DevToolsURL != "" {
		allocCtx, allocCancel := chromedp.NewRemoteAllocator(parent, d.config.DevToolsURL)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		d.browserCtx = browserCtx
		d.cancelFuncs = append(d.cancelFuncs, browserCancel, allocCancel)

		d.logger.Info().
			Str("devtools_url", d.config.DevToolsURL).
			Msg("Attached to existing browser via DevTools")
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	d.browserCtx = browserCtx
	d.cancelFuncs = append(d.cancelFuncs, browserCancel, allocCancel)

	if d.config.BaseURL != "" {
		navCtx, cancel := context.WithTimeout(browserCtx, d.config.NavTimeout)
		defer cancel()
		if err := chromedp.Run(navCtx, chromedp.Navigate(d.config.BaseURL)); err != nil {
			return fmt.Errorf("%w: failed to open catalog UI at %s: %v", interfaces.ErrUIUnavailable, d.config.BaseURL, err)
		}
	}

	d.logger.Info().
		Str("base_url", d.config.BaseURL).
		Msg("Launched headless browser for catalog UI")
	return nil
}

// Close shuts the browser contexts down
func (d *ChromeDriver) Close() error {
	for _, cancel := range d.cancelFuncs {
		cancel()
	}
	return nil
}

// Locate finds an actionable element for a role, trying each selector
// candidate in priority order. Returns (nil, nil) when nothing matches.
func (d *ChromeDriver) Locate(ctx context.Context, role interfaces.Role) (*interfaces.ActionHandle, error) {
	selectors, err := SelectorsFor(role)
	if err != nil {
		return nil, err
	}

	for _, selector := range selectors {
		present, err := d.present(ctx, selector)
		if err != nil {
			return nil, err
		}
		if present {
			d.logger.Debug().
				Str("role", string(role.Kind)).
				Str("selector", selector).
				Msg("UI role located")
			return &interfaces.ActionHandle{Role: role, Selector: selector}, nil
		}
	}

	return nil, nil
}

// Invoke clicks the located element
func (d *ChromeDriver) Invoke(ctx context.Context, handle *interfaces.ActionHandle) (bool, error) {
	if handle == nil {
		return false, fmt.Errorf("nil action handle")
	}

	runCtx, cancel := d.actionContext(ctx)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.ScrollIntoView(handle.Selector, chromedp.ByQuery),
		chromedp.Click(handle.Selector, chromedp.ByQuery),
	)
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("role", string(handle.Role.Kind)).
			Str("selector", handle.Selector).
			Msg("UI invoke failed")
		return false, nil
	}

	return true, nil
}

// Observe polls for a role's post-condition within the bound. A selector
// prefixed with "!" asserts absence instead of presence.
func (d *ChromeDriver) Observe(ctx context.Context, role interfaces.Role, timeout time.Duration) (bool, error) {
	conditions := ObservationsFor(role)
	if len(conditions) == 0 {
		return false, fmt.Errorf("no observation defined for role %s", role.Kind)
	}

	deadline := time.Now().Add(timeout)
	for {
		for _, cond := range conditions {
			want := true
			selector := cond
			if strings.HasPrefix(cond, "!") {
				want = false
				selector = cond[1:]
			}

			present, err := d.present(ctx, selector)
			if err != nil {
				return false, err
			}
			if present == want {
				return true, nil
			}
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}
}

// Location returns the current page URL
func (d *ChromeDriver) Location(ctx context.Context) (string, error) {
	runCtx, cancel := d.actionContext(ctx)
	defer cancel()

	var url string
	if err := chromedp.Run(runCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrUIUnavailable, err)
	}
	return url, nil
}

// Title returns the current page title
func (d *ChromeDriver) Title(ctx context.Context) (string, error) {
	runCtx, cancel := d.actionContext(ctx)
	defer cancel()

	var title string
	if err := chromedp.Run(runCtx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrUIUnavailable, err)
	}
	return title, nil
}

// Snapshot returns the current page HTML
func (d *ChromeDriver) Snapshot(ctx context.Context) (string, error) {
	runCtx, cancel := d.actionContext(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrUIUnavailable, err)
	}
	return html, nil
}

// present checks whether a selector resolves to at least one node without
// waiting for it to appear.
func (d *ChromeDriver) present(ctx context.Context, selector string) (bool, error) {
	runCtx, cancel := d.actionContext(ctx)
	defer cancel()

	var nodes []*cdp.Node
	err := chromedp.Run(runCtx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrUIUnavailable, err)
	}
	return len(nodes) > 0, nil
}

func (d *ChromeDriver) actionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := d.config.ActionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	merged, cancel := context.WithTimeout(d.browserCtx, timeout)

	// Honor caller cancellation on top of the browser context
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-merged.Done():
		}
	}()

	return merged, cancel
}
