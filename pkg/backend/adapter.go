package backend

import (
	"context"
	"strings"

	"github.com/entrhq/locus/pkg/interpolate"
	"github.com/entrhq/locus/pkg/locator"
	"github.com/entrhq/locus/pkg/xpath"
)

// Adapter turns a raw delimited backend response into a structured locator
// result. It is a pure transformation around the injected Synthesizer: the
// only side effect is the provider's outbound call, and provider errors
// propagate to the caller untouched.
type Adapter struct {
	synth Synthesizer
}

// NewAdapter wraps a synthesis capability.
func NewAdapter(synth Synthesizer) *Adapter {
	return &Adapter{synth: synth}
}

// Locate requests selector synthesis and normalizes the response. Every
// candidate that classifies as a path expression is normalized, validated,
// and optimized; candidates that fail syntactic validation are returned
// unmodified so the caller can still attempt verification.
func (a *Adapter) Locate(ctx context.Context, req SynthesisRequest) (*locator.Result, *TokenUsage, error) {
	resp, err := a.synth.Synthesize(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	segments := strings.Split(resp.Selector, Delimiter)
	primary := processCandidate(segments[0])

	var alternates []string
	for _, seg := range segments[1:] {
		if s := processCandidate(seg); s != "" {
			alternates = append(alternates, s)
		}
	}

	return &locator.Result{
		Best:       primary,
		Alternates: alternates,
		IsTemplate: interpolate.HasPlaceholders(primary),
	}, resp.Usage, nil
}

// processCandidate runs the normalize/validate/optimize pipeline on path
// expressions and leaves every other selector syntax untouched.
func processCandidate(candidate string) string {
	candidate = strings.TrimSpace(candidate)
	if !xpath.IsPathExpression(candidate) {
		return candidate
	}
	normalized := xpath.Normalize(candidate)
	if !xpath.Validate(normalized) {
		return candidate
	}
	return xpath.Optimize(normalized)
}
