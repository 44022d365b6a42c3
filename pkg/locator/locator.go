// Package locator defines the shared value types of the resolution engine:
// the persisted locator result, cache key derivation, cache strategies, and
// variable sources for templated descriptions.
package locator

// Result is the durable outcome of one successful resolution. Best is always
// non-empty for a successful resolution; Alternates keep the backend's
// reported preference order and are only reordered when heuristics promote a
// different alternate to Best.
type Result struct {
	// Best is the winning selector, kept in placeholder form when IsTemplate
	// is true so one cache entry serves any variable combination.
	Best string `json:"best"`

	// Alternates are fallback selectors in preference order.
	Alternates []string `json:"alternates,omitempty"`

	// IsTemplate marks that Best still contains {name} placeholders.
	IsTemplate bool `json:"isTemplate"`

	// Metadata carries opaque provider-specific data.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy so cached entries cannot be mutated by callers.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := &Result{
		Best:       r.Best,
		IsTemplate: r.IsTemplate,
	}
	if r.Alternates != nil {
		out.Alternates = append([]string(nil), r.Alternates...)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Strategy controls which form of a templated description becomes part of the
// cache key and what is sent to the backend.
type Strategy string

const (
	// StrategyTemplate keys by the raw template text, so one entry serves
	// every variable combination.
	StrategyTemplate Strategy = "template"

	// StrategyResolved keys by the fully substituted description.
	StrategyResolved Strategy = "resolved"

	// StrategySmart picks StrategyTemplate when the description contains
	// placeholders, StrategyResolved otherwise.
	StrategySmart Strategy = "smart"
)

// Variables maps placeholder names to string or numeric values.
type Variables map[string]any

// VariableSupplier produces variables at the moment of use. It is invoked
// once per resolution call and never memoized, so time-sensitive values stay
// fresh.
type VariableSupplier func() Variables

// Key derives the deterministic cache key for a description (or template)
// within an origin. Identical origin and identical text always collide.
func Key(originID, text string) string {
	return originID + "::" + text
}
