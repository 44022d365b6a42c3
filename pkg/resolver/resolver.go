// Package resolver implements the resolution engine: cache lookup,
// verification against the live document, the heal/retry loop, and in-flight
// coalescing of concurrent requests for the same cache key.
//
// Verification always runs against the variable-substituted selector while
// the persisted artifact keeps its placeholder form, so one cache entry
// serves unlimited variable combinations under the template strategy.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/entrhq/locus/pkg/backend"
	"github.com/entrhq/locus/pkg/interpolate"
	"github.com/entrhq/locus/pkg/locator"
	"github.com/entrhq/locus/pkg/logging"
	"github.com/entrhq/locus/pkg/xpath"
)

// Oracle reports whether a selector currently matches at least one node in
// the live document. Implementations must never fail: any internal error is
// treated as "not found".
type Oracle interface {
	Exists(ctx context.Context, selector string) bool
}

// Snapshotter captures a fresh trimmed snapshot of the live document. The
// resolver re-captures on every heal attempt so healing can recover from
// transient render states.
type Snapshotter interface {
	Capture(ctx context.Context) (string, error)
}

// Backend produces a structured locator result for one synthesis request.
// *backend.Adapter satisfies this.
type Backend interface {
	Locate(ctx context.Context, req backend.SynthesisRequest) (*locator.Result, *backend.TokenUsage, error)
}

// Store is the durable cache layer. *store.FileStore satisfies this.
type Store interface {
	Get(key string) (*locator.Result, bool)
	Set(key string, res *locator.Result) error
}

// Options are the per-call knobs of one resolution.
type Options struct {
	// AlwaysAI skips the cache check entirely and forces backend synthesis.
	AlwaysAI bool

	// AutoHeal re-resolves via the backend when a cached selector fails
	// verification. When false, the stale selector is returned as-is.
	AutoHeal bool

	// CacheStrategy picks the cache-key form. The zero value behaves as
	// locator.StrategySmart.
	CacheStrategy locator.Strategy

	// Variables supply values for {name} placeholders.
	Variables locator.Variables

	// VariableSupplier, when set, takes precedence over Variables and is
	// invoked once per call, never memoized.
	VariableSupplier locator.VariableSupplier
}

func (o Options) variablesNow() locator.Variables {
	if o.VariableSupplier != nil {
		return o.VariableSupplier()
	}
	return o.Variables
}

// Request describes one element to resolve.
type Request struct {
	// OriginID identifies the page or context, typically its URL.
	OriginID string

	// Description is the natural-language element description, possibly
	// containing {name} placeholders.
	Description string

	Options Options
}

// Resolver owns the in-memory cache and the in-flight map. Nothing else in
// the process writes to either; concurrent callers for the same key are
// coalesced onto one pending resolution, guaranteeing at most one backend
// invocation per key at a time.
type Resolver struct {
	backend   Backend
	store     Store
	oracle    Oracle
	snapshots Snapshotter
	log       *logging.Logger

	maxRetries    int
	originAllowed func(string) bool

	flight singleflight.Group

	mu     sync.Mutex
	memory map[string]*locator.Result
	usage  map[string]backend.TokenUsage
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxRetries sets how many additional backend attempts follow a failed
// first attempt. The total attempt count is maxRetries+1.
func WithMaxRetries(n int) Option {
	return func(r *Resolver) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithOriginFilter restricts which origins may spend backend calls.
func WithOriginFilter(allowed func(string) bool) Option {
	return func(r *Resolver) {
		r.originAllowed = allowed
	}
}

// WithLogger overrides the default component logger.
func WithLogger(log *logging.Logger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// New creates a resolver around its collaborators.
func New(b Backend, st Store, oracle Oracle, snapshots Snapshotter, opts ...Option) *Resolver {
	r := &Resolver{
		backend:    b,
		store:      st,
		oracle:     oracle,
		snapshots:  snapshots,
		maxRetries: 2,
		memory:     make(map[string]*locator.Result),
		usage:      make(map[string]backend.TokenUsage),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log, _ = logging.NewLogger("resolver")
	}
	return r
}

// Resolve turns a description into a verified selector string. Concurrent
// calls with the same cache key share one pending resolution; each caller
// then applies its own variable substitution to the shared result.
func (r *Resolver) Resolve(ctx context.Context, req Request) (string, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return "", fmt.Errorf("%w: empty description", ErrMissingInput)
	}

	opts := req.Options
	requested := opts.CacheStrategy
	if requested == "" {
		requested = locator.StrategySmart
	}

	vars := opts.variablesNow()
	hasPlaceholders := interpolate.HasPlaceholders(description)
	strategy := interpolate.DeriveStrategy(requested, hasPlaceholders)

	// Under the resolved strategy the substituted text is both the cache key
	// and what the backend sees; under template, the raw pattern is.
	text := description
	if strategy != locator.StrategyTemplate && hasPlaceholders {
		text = interpolate.Substitute(description, vars)
	}
	wantTemplate := strategy == locator.StrategyTemplate
	key := locator.Key(req.OriginID, text)

	v, err, _ := r.flight.Do(key, func() (any, error) {
		return r.resolveKey(ctx, key, text, req.OriginID, vars, wantTemplate, opts)
	})
	if err != nil {
		return "", err
	}

	res := v.(*locator.Result)
	selector := res.Best
	if res.IsTemplate {
		selector = interpolate.SubstituteForSelector(selector, vars)
	}
	return selector, nil
}

// resolveKey runs the cache-check/verify/heal state machine for one key. It
// returns the template-preserving result; substitution for the caller
// happens in Resolve.
func (r *Resolver) resolveKey(ctx context.Context, key, intent, originID string, vars locator.Variables, wantTemplate bool, opts Options) (*locator.Result, error) {
	if !opts.AlwaysAI {
		if res, ok := r.cached(key); ok {
			candidate := res.Best
			if res.IsTemplate {
				candidate = interpolate.SubstituteForSelector(candidate, vars)
			}
			if candidate != "" && r.oracle.Exists(ctx, candidate) {
				r.log.Debugf("cache hit verified for %q", intent)
				r.remember(key, res)
				return res, nil
			}
			if !opts.AutoHeal {
				r.log.Warnf("cached selector for %q failed verification; auto-heal disabled, returning stale entry", intent)
				return res, nil
			}
			r.log.Infof("cached selector for %q failed verification, healing", intent)
		}
	}

	if r.originAllowed != nil && !r.originAllowed(originID) {
		return nil, fmt.Errorf("%w: %s", ErrOriginNotAllowed, originID)
	}

	attempts := r.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		// Fresh snapshot every attempt, never reused across retries.
		snapshot, err := r.snapshots.Capture(ctx)
		if err != nil {
			r.log.Warnf("snapshot capture failed on attempt %d/%d: %v", attempt, attempts, err)
			snapshot = ""
		}

		res, usage, err := r.backend.Locate(ctx, backend.SynthesisRequest{
			Snapshot:     snapshot,
			Intent:       intent,
			OriginID:     originID,
			WantTemplate: wantTemplate,
		})
		if err != nil {
			r.log.Errorf("backend attempt %d/%d for %q failed: %v", attempt, attempts, intent, err)
			continue
		}
		if usage != nil {
			r.account(originID, *usage)
		}

		if winner := r.evaluate(ctx, res, vars); winner != nil {
			r.persist(key, winner)
			r.log.Infof("resolved %q to %q on attempt %d/%d", intent, winner.Best, attempt, attempts)
			return winner, nil
		}
		r.log.Debugf("no candidate verified for %q on attempt %d/%d", intent, attempt, attempts)
	}

	return nil, &ResolutionError{Description: intent, Attempts: attempts}
}

// evaluate verifies the primary candidate and then the alternates. When
// every alternate is a path expression they are ranked and the top one tried
// first; otherwise (or when the top-ranked one also fails) alternates are
// tried in their original backend-reported order.
func (r *Resolver) evaluate(ctx context.Context, res *locator.Result, vars locator.Variables) *locator.Result {
	if res.Best == "" {
		r.log.Debugf("backend returned an empty primary selector: %v", ErrMissingInput)
	} else {
		candidate := res.Best
		if res.IsTemplate {
			candidate = interpolate.SubstituteForSelector(candidate, vars)
		}
		if r.oracle.Exists(ctx, candidate) {
			return res
		}
	}

	alts := res.Alternates
	if len(alts) == 0 {
		return nil
	}

	if allPathExpressions(alts) {
		if best, ok := xpath.SelectBest(alts); ok {
			if r.oracle.Exists(ctx, interpolate.SubstituteForSelector(best, vars)) {
				return &locator.Result{
					Best:       best,
					Alternates: exclude(alts, best),
					IsTemplate: interpolate.HasPlaceholders(best),
				}
			}
		}
	}

	for _, alt := range alts {
		if alt == "" {
			continue
		}
		if r.oracle.Exists(ctx, interpolate.SubstituteForSelector(alt, vars)) {
			return &locator.Result{
				Best:       alt,
				Alternates: append([]string(nil), alts...),
				IsTemplate: interpolate.HasPlaceholders(alt),
			}
		}
	}
	return nil
}

// cached consults the in-memory layer first, then the persistent store.
func (r *Resolver) cached(key string) (*locator.Result, bool) {
	r.mu.Lock()
	res, ok := r.memory[key]
	r.mu.Unlock()
	if ok {
		return res.Clone(), true
	}
	if r.store != nil {
		return r.store.Get(key)
	}
	return nil, false
}

func (r *Resolver) remember(key string, res *locator.Result) {
	r.mu.Lock()
	r.memory[key] = res.Clone()
	r.mu.Unlock()
}

// persist writes a winning result to the in-memory layer and the durable
// store. A store failure is logged but does not fail the resolution; the
// selector is already verified and usable.
func (r *Resolver) persist(key string, res *locator.Result) {
	r.remember(key, res)
	if r.store == nil {
		return
	}
	if err := r.store.Set(key, res); err != nil {
		r.log.Errorf("failed to persist locator for key %q: %v", key, err)
	}
}

func (r *Resolver) account(originID string, usage backend.TokenUsage) {
	r.mu.Lock()
	total := r.usage[originID]
	total.Add(usage)
	r.usage[originID] = total
	r.mu.Unlock()
	r.log.Debugf("usage for %s: %d prompt / %d completion tokens total", originID, total.PromptTokens, total.CompletionTokens)
}

// Usage returns the cumulative token usage spent on an origin.
func (r *Resolver) Usage(originID string) backend.TokenUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage[originID]
}

func allPathExpressions(candidates []string) bool {
	for _, c := range candidates {
		if !xpath.IsPathExpression(c) {
			return false
		}
	}
	return true
}

func exclude(candidates []string, drop string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c != drop {
			out = append(out, c)
		}
	}
	return out
}
