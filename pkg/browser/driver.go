package browser

import (
	"context"
	"fmt"

	"github.com/entrhq/locus/pkg/resolver"
)

// Driver pairs a session with a resolver so callers can act on elements by
// description instead of by selector.
type Driver struct {
	session  *Session
	resolver *resolver.Resolver
}

// NewDriver binds a session and a resolver.
func NewDriver(session *Session, r *resolver.Resolver) *Driver {
	return &Driver{session: session, resolver: r}
}

// Session exposes the underlying session for direct page operations.
func (d *Driver) Session() *Session {
	return d.session
}

// Resolve turns a description into a verified selector on the current page.
func (d *Driver) Resolve(ctx context.Context, description string, opts resolver.Options) (string, error) {
	return d.resolver.Resolve(ctx, resolver.Request{
		OriginID:    d.session.URL(),
		Description: description,
		Options:     opts,
	})
}

// Click resolves a description and clicks the matched element.
func (d *Driver) Click(ctx context.Context, description string, opts resolver.Options) error {
	selector, err := d.Resolve(ctx, description, opts)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", description, err)
	}
	return d.session.Click(selector)
}

// Fill resolves a description and fills the matched input with value.
func (d *Driver) Fill(ctx context.Context, description, value string, opts resolver.Options) error {
	selector, err := d.Resolve(ctx, description, opts)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", description, err)
	}
	return d.session.Fill(selector, value)
}

// Text resolves a description and returns the matched element's text.
func (d *Driver) Text(ctx context.Context, description string, opts resolver.Options) (string, error) {
	selector, err := d.Resolve(ctx, description, opts)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", description, err)
	}
	return d.session.Text(selector)
}
