package browser

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/locus/pkg/logging"
)

// Session is one isolated page. It implements the resolver's Oracle and
// Snapshotter contracts.
type Session struct {
	context playwright.BrowserContext
	page    playwright.Page
	budget  int
	log     *logging.Logger
}

func newSession(context playwright.BrowserContext, page playwright.Page) *Session {
	log, _ := logging.NewLogger("browser")
	return &Session{
		context: context,
		page:    page,
		budget:  DefaultSnapshotTokenBudget,
		log:     log,
	}
}

// SetSnapshotTokenBudget caps the token count of captured snapshots.
func (s *Session) SetSnapshotTokenBudget(budget int) {
	if budget > 0 {
		s.budget = budget
	}
}

// Navigate loads a URL and waits for the DOM to be ready.
func (s *Session) Navigate(url string) error {
	waitUntil := playwright.WaitUntilStateDomcontentloaded
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{WaitUntil: waitUntil}); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// URL returns the current page URL, which doubles as the origin identifier
// for resolution requests.
func (s *Session) URL() string {
	return s.page.URL()
}

// Exists reports whether the selector currently matches at least one node.
// Playwright auto-detects XPath for selectors starting with // or xpath=.
// Exists never fails: a cancelled context or any query error reads as "not
// found".
func (s *Session) Exists(ctx context.Context, selector string) bool {
	if selector == "" || ctx.Err() != nil {
		return false
	}
	element, err := s.page.QuerySelector(selector)
	if err != nil {
		s.log.Debugf("selector query failed for %q: %v", selector, err)
		return false
	}
	return element != nil
}

// Capture returns a sanitized, token-budgeted snapshot of the current
// document, suitable for sending to the synthesis backend.
func (s *Session) Capture(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	cleaned, err := cleanDocument(raw)
	if err != nil {
		return "", fmt.Errorf("failed to sanitize page content: %w", err)
	}
	return trimToTokens(cleaned, s.budget), nil
}

// Click clicks the element matched by a concrete selector.
func (s *Session) Click(selector string) error {
	if err := s.page.Click(selector); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

// Fill fills the input matched by a concrete selector.
func (s *Session) Fill(selector, value string) error {
	if err := s.page.Fill(selector, value); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

// Text returns the text content of the element matched by a selector.
func (s *Session) Text(selector string) (string, error) {
	element, err := s.page.QuerySelector(selector)
	if err != nil {
		return "", fmt.Errorf("selector query failed: %w", err)
	}
	if element == nil {
		return "", fmt.Errorf("no element found matching selector: %s", selector)
	}
	text, err := element.TextContent()
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return text, nil
}

// Close releases the page and its context.
func (s *Session) Close() error {
	_ = s.page.Close()
	if err := s.context.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}
