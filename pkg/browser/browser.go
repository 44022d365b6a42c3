// Package browser hosts the live-document collaborators of the resolution
// engine: a Playwright-backed session that acts as the verification oracle
// and snapshot source, and a driver that pairs the resolver with page
// actions.
package browser

import (
	"fmt"
	"io"

	"github.com/playwright-community/playwright-go"
)

// Default session parameters.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	DefaultTimeoutMs      = 30000
)

// LaunchOptions configures the browser process.
type LaunchOptions struct {
	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// TimeoutMs is the default timeout for page operations, in milliseconds.
	TimeoutMs float64
}

// Browser wraps a running Playwright Chromium instance.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    LaunchOptions
}

// Launch installs (if needed) and starts Playwright, then launches Chromium.
// Output of the driver process is discarded so it cannot interleave with the
// host application's own output.
func Launch(opts LaunchOptions) (*Browser, error) {
	if opts.TimeoutMs <= 0 {
		opts.TimeoutMs = DefaultTimeoutMs
	}

	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Browser{pw: pw, browser: b, opts: opts}, nil
}

// NewSession opens an isolated browser context with one page.
func (b *Browser) NewSession() (*Session, error) {
	context, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	page, err := context.NewPage()
	if err != nil {
		context.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(b.opts.TimeoutMs)

	return newSession(context, page), nil
}

// Close shuts down the browser and the Playwright driver.
func (b *Browser) Close() error {
	_ = b.browser.Close()
	if err := b.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}
