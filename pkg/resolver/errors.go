package resolver

import (
	"errors"
	"fmt"
)

// ErrMissingInput marks an empty description or selector candidate. Empty
// candidates are never sent to the verification oracle; they fail
// immediately without consuming an attempt.
var ErrMissingInput = errors.New("resolver: missing selector input")

// ErrOriginNotAllowed is returned when a cache miss would require a backend
// call for an origin outside the configured allowlist.
var ErrOriginNotAllowed = errors.New("resolver: origin not allowed for backend synthesis")

// ResolutionError is the only failure surfaced after the full retry loop:
// every backend attempt and every candidate failed verification.
type ResolutionError struct {
	// Description is the element description that could not be resolved.
	Description string

	// Attempts is the total number of backend round-trips performed.
	Attempts int
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unable to resolve %q after %d attempts", e.Description, e.Attempts)
}
