// Package backend defines the generative synthesis capability consumed by
// the resolution engine and the adapter that normalizes raw backend
// responses into structured locator results.
//
// A backend response is a delimited list: the first segment is the primary
// selector, the remainder are ranked alternates. Providers absorb their own
// transport and parsing failures into a best-effort fallback list so the
// engine's retry loop always has candidates to verify.
package backend

import "context"

// Delimiter separates the primary selector from its ranked alternates in a
// raw backend response.
const Delimiter = "|||"

// SynthesisRequest carries everything a provider needs to propose selectors
// for one element description.
type SynthesisRequest struct {
	// Snapshot is the pre-sanitized, trimmed markup of the live document.
	Snapshot string

	// Intent is the natural-language element description. Under the template
	// strategy it is the raw template text, placeholders included.
	Intent string

	// OriginID identifies the page or context the description belongs to.
	OriginID string

	// WantTemplate asks the provider for a parameterized pattern that keeps
	// {name} placeholders instead of concrete values.
	WantTemplate bool
}

// TokenUsage accounts for the tokens one synthesis call consumed.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Add accumulates another usage sample.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// SynthesisResponse is a provider's raw answer.
type SynthesisResponse struct {
	// Selector is the delimited candidate list, primary first.
	Selector string

	// Usage is optional token accounting for the call.
	Usage *TokenUsage
}

// Synthesizer is the generative backend capability. Implementations must
// return a best-effort fallback selector list on transport or parsing
// failure rather than an error, so retries always have something to verify.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResponse, error)
}
