package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/locus/pkg/backend"
	"github.com/entrhq/locus/pkg/locator"
)

type fakeBackend struct {
	mu       sync.Mutex
	calls    int32
	delay    time.Duration
	response *locator.Result
	usage    *backend.TokenUsage
	err      error
	lastReq  backend.SynthesisRequest
}

func (f *fakeBackend) Locate(_ context.Context, req backend.SynthesisRequest) (*locator.Result, *backend.TokenUsage, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.response.Clone(), f.usage, nil
}

func (f *fakeBackend) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

type fakeOracle struct {
	mu      sync.Mutex
	match   func(selector string) bool
	queried []string
}

func (f *fakeOracle) Exists(_ context.Context, selector string) bool {
	f.mu.Lock()
	f.queried = append(f.queried, selector)
	f.mu.Unlock()
	return f.match(selector)
}

type fakeSnapshots struct {
	calls int32
}

func (f *fakeSnapshots) Capture(context.Context) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return "<body><button>Login</button></body>", nil
}

type memStore struct {
	mu      sync.Mutex
	entries map[string]*locator.Result
	sets    int
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*locator.Result)}
}

func (m *memStore) Get(key string) (*locator.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return res.Clone(), true
}

func (m *memStore) Set(key string, res *locator.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = res.Clone()
	m.sets++
	return nil
}

func anyMatch(string) bool { return true }

func noMatch(string) bool { return false }

func newTestResolver(b *fakeBackend, st Store, oracle *fakeOracle, opts ...Option) *Resolver {
	return New(b, st, oracle, &fakeSnapshots{}, opts...)
}

func TestResolveEndToEnd(t *testing.T) {
	fb := &fakeBackend{
		response: &locator.Result{Best: "#login", Alternates: []string{"//button"}},
		usage:    &backend.TokenUsage{PromptTokens: 100, CompletionTokens: 20},
	}
	oracle := &fakeOracle{match: anyMatch}
	st := newMemStore()
	r := newTestResolver(fb, st, oracle)

	selector, err := r.Resolve(context.Background(), Request{
		OriginID:    "https://example.com/login",
		Description: "the login button",
	})
	require.NoError(t, err)
	assert.Equal(t, "#login", selector)
	assert.Equal(t, 1, fb.callCount())

	// Persisted under the derived key, template-preserving form.
	key := locator.Key("https://example.com/login", "the login button")
	stored, ok := st.Get(key)
	require.True(t, ok)
	assert.Equal(t, "#login", stored.Best)
	assert.Equal(t, []string{"//button"}, stored.Alternates)
	assert.False(t, stored.IsTemplate)

	assert.Equal(t, 100, r.Usage("https://example.com/login").PromptTokens)
}

func TestResolveEmptyDescription(t *testing.T) {
	r := newTestResolver(&fakeBackend{}, newMemStore(), &fakeOracle{match: anyMatch})
	_, err := r.Resolve(context.Background(), Request{OriginID: "o", Description: "  "})
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestConcurrentResolutionsCoalesce(t *testing.T) {
	fb := &fakeBackend{
		response: &locator.Result{Best: "//button[@data-testid='go']"},
		delay:    50 * time.Millisecond,
	}
	r := newTestResolver(fb, newMemStore(), &fakeOracle{match: anyMatch})

	const n = 8
	var wg sync.WaitGroup
	selectors := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			selectors[i], errs[i] = r.Resolve(context.Background(), Request{
				OriginID:    "https://example.com",
				Description: "go button",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "//button[@data-testid='go']", selectors[i])
	}
	assert.Equal(t, 1, fb.callCount(), "concurrent identical requests must share one backend invocation")
}

func TestTemplateEconomy(t *testing.T) {
	fb := &fakeBackend{
		response: &locator.Result{
			Best:       "//button[normalize-space(.)='{label}']",
			IsTemplate: true,
		},
	}
	oracle := &fakeOracle{match: anyMatch}
	st := newMemStore()
	r := newTestResolver(fb, st, oracle)

	labels := []string{"Login", "Logout", "Sign up"}
	outputs := make(map[string]bool)
	for _, label := range labels {
		selector, err := r.Resolve(context.Background(), Request{
			OriginID:    "https://example.com",
			Description: "button labeled {label}",
			Options: Options{
				CacheStrategy: locator.StrategyTemplate,
				Variables:     locator.Variables{"label": label},
			},
		})
		require.NoError(t, err)
		outputs[selector] = true
	}

	assert.Equal(t, 1, fb.callCount(), "one cached template must serve every variable combination")
	assert.Len(t, outputs, len(labels), "each call must yield a distinct substituted selector")
	assert.Contains(t, outputs, "//button[normalize-space(.)='Login']")

	// The backend saw the raw template and a template request.
	assert.Equal(t, "button labeled {label}", fb.lastReq.Intent)
	assert.True(t, fb.lastReq.WantTemplate)

	// The persisted artifact keeps the placeholder form.
	stored, ok := st.Get(locator.Key("https://example.com", "button labeled {label}"))
	require.True(t, ok)
	assert.Contains(t, stored.Best, "{label}")
}

func TestLazyVariableSupplierReEvaluatedPerCall(t *testing.T) {
	fb := &fakeBackend{
		response: &locator.Result{Best: "//tr[{row}]", IsTemplate: true},
	}
	r := newTestResolver(fb, newMemStore(), &fakeOracle{match: anyMatch})

	row := 0
	supplier := func() locator.Variables {
		row++
		return locator.Variables{"row": row}
	}

	for want := 1; want <= 3; want++ {
		selector, err := r.Resolve(context.Background(), Request{
			OriginID:    "o",
			Description: "row {row}",
			Options: Options{
				CacheStrategy:    locator.StrategyTemplate,
				VariableSupplier: supplier,
			},
		})
		require.NoError(t, err)
		assert.Contains(t, selector, "//tr[")
		assert.NotContains(t, selector, "{row}")
	}
	assert.Equal(t, 3, row, "supplier must be invoked once per call, never memoized")
}

func TestRetryBound(t *testing.T) {
	fb := &fakeBackend{response: &locator.Result{Best: "//never"}}
	snaps := &fakeSnapshots{}
	r := New(fb, newMemStore(), &fakeOracle{match: noMatch}, snaps, WithMaxRetries(2))

	_, err := r.Resolve(context.Background(), Request{OriginID: "o", Description: "ghost element"})

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "ghost element", resErr.Description)
	assert.Equal(t, 3, resErr.Attempts)
	assert.Equal(t, 3, fb.callCount(), "maxRetries=2 means exactly 3 backend invocations")
	assert.Equal(t, int32(3), snaps.calls, "every attempt must re-capture a fresh snapshot")
}

func TestStaleReturnWhenAutoHealDisabled(t *testing.T) {
	fb := &fakeBackend{response: &locator.Result{Best: "//fresh"}}
	st := newMemStore()
	key := locator.Key("o", "stale thing")
	require.NoError(t, st.Set(key, &locator.Result{Best: "//stale"}))

	r := newTestResolver(fb, st, &fakeOracle{match: noMatch})

	selector, err := r.Resolve(context.Background(), Request{
		OriginID:    "o",
		Description: "stale thing",
		Options:     Options{AutoHeal: false},
	})
	require.NoError(t, err)
	assert.Equal(t, "//stale", selector, "stale cached selector returned unchanged")
	assert.Equal(t, 0, fb.callCount(), "no backend invocation without auto-heal")
}

func TestHealOverwritesStaleEntry(t *testing.T) {
	fb := &fakeBackend{response: &locator.Result{Best: "//healed"}}
	st := newMemStore()
	key := locator.Key("o", "moved button")
	require.NoError(t, st.Set(key, &locator.Result{Best: "//stale"}))

	oracle := &fakeOracle{match: func(s string) bool { return s == "//healed" }}
	r := newTestResolver(fb, st, oracle)

	selector, err := r.Resolve(context.Background(), Request{
		OriginID:    "o",
		Description: "moved button",
		Options:     Options{AutoHeal: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "//healed", selector)
	assert.Equal(t, 1, fb.callCount())

	stored, _ := st.Get(key)
	assert.Equal(t, "//healed", stored.Best, "healing must overwrite the persisted entry")
}

func TestAlwaysAISkipsCache(t *testing.T) {
	fb := &fakeBackend{response: &locator.Result{Best: "//fresh"}}
	st := newMemStore()
	key := locator.Key("o", "thing")
	require.NoError(t, st.Set(key, &locator.Result{Best: "//cached"}))

	r := newTestResolver(fb, st, &fakeOracle{match: anyMatch})

	selector, err := r.Resolve(context.Background(), Request{
		OriginID:    "o",
		Description: "thing",
		Options:     Options{AlwaysAI: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "//fresh", selector)
	assert.Equal(t, 1, fb.callCount())
}

func TestMemoryLayerServesRepeatCalls(t *testing.T) {
	fb := &fakeBackend{response: &locator.Result{Best: "#go"}}
	r := newTestResolver(fb, newMemStore(), &fakeOracle{match: anyMatch})

	for i := 0; i < 3; i++ {
		selector, err := r.Resolve(context.Background(), Request{OriginID: "o", Description: "go"})
		require.NoError(t, err)
		assert.Equal(t, "#go", selector)
	}
	assert.Equal(t, 1, fb.callCount())
}

func TestAlternatesSmartRankingWhenAllPathExpressions(t *testing.T) {
	fb := &fakeBackend{
		response: &locator.Result{
			Best:       "//missing",
			Alternates: []string{"//div[1]", "//button[@data-testid='submit']"},
		},
	}
	oracle := &fakeOracle{match: func(s string) bool { return s == "//button[@data-testid='submit']" }}
	st := newMemStore()
	r := newTestResolver(fb, st, oracle)

	selector, err := r.Resolve(context.Background(), Request{OriginID: "o", Description: "submit"})
	require.NoError(t, err)
	assert.Equal(t, "//button[@data-testid='submit']", selector)

	// The promoted alternate becomes best; alternates exclude it.
	stored, _ := st.Get(locator.Key("o", "submit"))
	assert.Equal(t, "//button[@data-testid='submit']", stored.Best)
	assert.Equal(t, []string{"//div[1]"}, stored.Alternates)

	// The top-ranked alternate was verified before the lower-ranked one.
	oracle.mu.Lock()
	defer oracle.mu.Unlock()
	require.GreaterOrEqual(t, len(oracle.queried), 2)
	assert.Equal(t, "//missing", oracle.queried[0])
	assert.Equal(t, "//button[@data-testid='submit']", oracle.queried[1])
}

func TestAlternatesNaiveOrderWhenMixedSyntax(t *testing.T) {
	fb := &fakeBackend{
		response: &locator.Result{
			Best:       "//missing",
			Alternates: []string{"#css-first", "//xpath-second"},
		},
	}
	oracle := &fakeOracle{match: func(s string) bool { return s == "//xpath-second" }}
	st := newMemStore()
	r := newTestResolver(fb, st, oracle)

	selector, err := r.Resolve(context.Background(), Request{OriginID: "o", Description: "mixed"})
	require.NoError(t, err)
	assert.Equal(t, "//xpath-second", selector)

	// Naive-order promotion keeps the original alternate list intact.
	stored, _ := st.Get(locator.Key("o", "mixed"))
	assert.Equal(t, "//xpath-second", stored.Best)
	assert.Equal(t, []string{"#css-first", "//xpath-second"}, stored.Alternates)

	// Mixed syntaxes skip smart ranking: verification order is the
	// backend-reported order.
	oracle.mu.Lock()
	defer oracle.mu.Unlock()
	require.Len(t, oracle.queried, 3)
	assert.Equal(t, []string{"//missing", "#css-first", "//xpath-second"}, oracle.queried)
}

func TestBackendErrorConsumesAttempt(t *testing.T) {
	fb := &fakeBackend{err: errors.New("adapter blew up")}
	r := New(fb, newMemStore(), &fakeOracle{match: anyMatch}, &fakeSnapshots{}, WithMaxRetries(1))

	_, err := r.Resolve(context.Background(), Request{OriginID: "o", Description: "x"})
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, 2, resErr.Attempts)
	assert.Equal(t, 2, fb.callCount())
}

func TestOriginFilterBlocksBackend(t *testing.T) {
	fb := &fakeBackend{response: &locator.Result{Best: "//x"}}
	r := New(fb, newMemStore(), &fakeOracle{match: anyMatch}, &fakeSnapshots{},
		WithOriginFilter(func(origin string) bool { return origin == "https://allowed.example.com" }))

	_, err := r.Resolve(context.Background(), Request{OriginID: "https://denied.example.com", Description: "x"})
	assert.ErrorIs(t, err, ErrOriginNotAllowed)
	assert.Equal(t, 0, fb.callCount())

	_, err = r.Resolve(context.Background(), Request{OriginID: "https://allowed.example.com", Description: "x"})
	assert.NoError(t, err)
	assert.Equal(t, 1, fb.callCount())
}

func TestResolvedStrategySubstitutesBeforeKeying(t *testing.T) {
	fb := &fakeBackend{response: &locator.Result{Best: "#row-7"}}
	st := newMemStore()
	r := newTestResolver(fb, st, &fakeOracle{match: anyMatch})

	_, err := r.Resolve(context.Background(), Request{
		OriginID:    "o",
		Description: "row {n}",
		Options: Options{
			CacheStrategy: locator.StrategyResolved,
			Variables:     locator.Variables{"n": 7},
		},
	})
	require.NoError(t, err)

	// Keyed and sent to the backend in fully substituted form.
	assert.Equal(t, "row 7", fb.lastReq.Intent)
	assert.False(t, fb.lastReq.WantTemplate)
	_, ok := st.Get(locator.Key("o", "row 7"))
	assert.True(t, ok)

	// A different value is a different key: second backend call.
	_, err = r.Resolve(context.Background(), Request{
		OriginID:    "o",
		Description: "row {n}",
		Options: Options{
			CacheStrategy: locator.StrategyResolved,
			Variables:     locator.Variables{"n": 8},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, fb.callCount())
}
