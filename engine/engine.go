package engine

import (
	"context"
	"time"

	"github.com/relaycache/engine/cachecontrol"
	"github.com/relaycache/engine/cachekey"
	"github.com/relaycache/engine/decider"
	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/freshness"
	"github.com/relaycache/engine/httpheader"
	"github.com/relaycache/engine/invalidator"
	"github.com/relaycache/engine/log"
	"github.com/relaycache/engine/storage"
	"github.com/relaycache/engine/validator"
)

// GetResult is the outcome of Get, per §4.11's state description.
type GetResult struct {
	Entry              *entry.Entry
	RequiresValidation bool
	IsStale            bool
	Age                time.Duration

	// NeedsBackgroundRevalidation is set when the entry is being served
	// stale from inside its stale-while-revalidate window: the caller
	// should return Entry immediately and trigger an async revalidation
	// rather than blocking on one.
	NeedsBackgroundRevalidation bool
}

// Stats summarizes storage occupancy, as returned by GetStats.
type Stats struct {
	Entries int
	Bytes   int64
}

// Engine is the cache facade: storability, reusability, freshness,
// validation, and invalidation wired to a storage.Tier. Construct with
// New; there is no lazy/global default, per §9's explicit-constructor
// design note.
type Engine struct {
	cfg     Config
	store   storage.Tier
	fresh   freshness.Options
	logger  bool
}

// New builds an Engine from cfg. When cfg.CustomStorage is nil, a
// single-tier in-process Memory store sized from
// MaxMemoryBytes/MaxMemoryEntries/EvictionStrategy is used.
func New(cfg Config) *Engine {
	store := cfg.CustomStorage
	if store == nil {
		store = storage.NewMemory(storage.MemoryOptions{
			MaxEntries: cfg.MaxMemoryEntries,
			MaxBytes:   cfg.MaxMemoryBytes,
			Strategy:   cfg.EvictionStrategy,
			Freshness:  cfg.freshnessOptions(),
		})
	}
	return &Engine{cfg: cfg, store: store, fresh: cfg.freshnessOptions(), logger: cfg.EnableLogging}
}

func (e *Engine) key(method, uri string) string {
	if e.cfg.DoubleKeyCache {
		return cachekey.WithSite(method, uri, e.cfg.Site)
	}
	return cachekey.Primary(method, uri)
}

func (e *Engine) logf(msg string, args ...any) {
	if e.logger {
		log.Default().Info(msg, args...)
	}
}

// Get implements §4.11's get operation.
func (e *Engine) Get(ctx context.Context, method, uri string, requestHeaders *httpheader.Map, policy Policy) (*GetResult, error) {
	reqCCHeader, _ := requestHeaders.Get("Cache-Control")
	reqCC := cachecontrol.Parse(reqCCHeader, true, nil)
	if reqCC.Has(cachecontrol.OnlyIfCached) {
		policy = CacheOnly
	}

	key := e.key(method, uri)
	stored, ok, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	respCCHeader, _ := stored.Headers.Get("Cache-Control")
	respCC := cachecontrol.Parse(respCCHeader, false, nil)

	lifetime, lifetimeOK := freshness.Lifetime(respCC, stored.Headers, stored.StatusCode, e.fresh)
	age := freshness.Age(stored.Headers, stored.RequestTime, stored.ResponseTime, time.Now())
	isFresh := freshness.IsFresh(age, lifetime, lifetimeOK)
	// min-fresh=Δ narrows freshness further: an entry with margin below Δ
	// is not fresh enough for this particular request even if it would
	// otherwise pass IsFresh.
	effectiveFresh := isFresh && freshness.SatisfiesMinFresh(reqCC, age, lifetime)

	result := decider.CanReuse(method, uri, requestHeaders, reqCC, respCC, stored, effectiveFresh)
	if result.State == decider.NotReusable {
		e.logf("cache entry not reusable", "uri", uri, "reason", result.Reason.String())
		return nil, nil
	}

	if effectiveFresh {
		return &GetResult{Entry: stored, RequiresValidation: false, IsStale: false, Age: age}, nil
	}

	mustValidate := respCC.Has(cachecontrol.MustRevalidate) ||
		(e.fresh.CacheType == freshness.Shared && respCC.Has(cachecontrol.ProxyRevalidate))

	switch policy {
	case CacheOnly:
		return &GetResult{Entry: stored, RequiresValidation: false, IsStale: true, Age: age}, nil
	case CacheFirst:
		if !mustValidate {
			return &GetResult{Entry: stored, RequiresValidation: false, IsStale: true, Age: age}, nil
		}
	default:
		if !mustValidate && freshness.StaleWhileRevalidateWindow(respCC, age, lifetime) {
			return &GetResult{Entry: stored, RequiresValidation: false, IsStale: true, Age: age, NeedsBackgroundRevalidation: true}, nil
		}
		if freshness.CanServeStale(respCC, reqCC, e.fresh, age, lifetime, false) {
			return &GetResult{Entry: stored, RequiresValidation: false, IsStale: true, Age: age}, nil
		}
	}

	return &GetResult{Entry: stored, RequiresValidation: true, IsStale: true, Age: age}, nil
}

// AllowStaleOnError reports whether result's entry may stand in for a
// failed upstream fetch: the config must opt in, the entry must not have
// aged past MaxStaleAge, and the response must not carry must-revalidate
// (or proxy-revalidate under a shared cache), per §4.3.
func (e *Engine) AllowStaleOnError(result *GetResult) bool {
	if result == nil || result.Entry == nil {
		return false
	}
	if !e.cfg.ServeStaleOnError {
		return false
	}
	if e.cfg.MaxStaleAge > 0 && result.Age > e.cfg.MaxStaleAge {
		return false
	}
	respCCHeader, _ := result.Entry.Headers.Get("Cache-Control")
	respCC := cachecontrol.Parse(respCCHeader, false, nil)
	return freshness.CanServeStale(respCC, nil, e.fresh, result.Age, 0, true)
}

// Put implements §4.11's put operation.
func (e *Engine) Put(ctx context.Context, method, uri string, statusCode int, requestHeaders, responseHeaders *httpheader.Map, body []byte, requestTime, responseTime time.Time) (bool, error) {
	reqCCHeader, _ := requestHeaders.Get("Cache-Control")
	respCCHeader, _ := responseHeaders.Get("Cache-Control")
	reqCC := cachecontrol.Parse(reqCCHeader, true, nil)
	respCC := cachecontrol.Parse(respCCHeader, false, nil)

	result := decider.CanStore(method, statusCode, requestHeaders, responseHeaders, reqCC, respCC, e.fresh.CacheType)
	if !result.Storable {
		e.logf("response not storable", "uri", uri, "reason", result.Reason.String())
		return false, nil
	}

	stripped := responseHeaders.Clone()
	for _, name := range stripped.Names() {
		if cachecontrol.ProhibitedForStorage(name) {
			stripped.Delete(name)
		}
	}

	var varyHeaders map[string]string
	if varyValue, hasVary := stripped.Get("Vary"); hasVary {
		varyHeaders = buildVaryHeaders(varyValue, requestHeaders)
	}

	newEntry := &entry.Entry{
		Method:       method,
		URI:          uri,
		StatusCode:   statusCode,
		Headers:      stripped,
		Body:         body,
		RequestTime:  requestTime,
		ResponseTime: responseTime,
		VaryHeaders:  varyHeaders,
	}

	key := e.key(method, uri)
	return e.store.Put(ctx, key, newEntry)
}

func buildVaryHeaders(varyValue string, requestHeaders *httpheader.Map) map[string]string {
	fields := splitCommaList(varyValue)
	for _, f := range fields {
		if httpheader.CollapseWhitespace(f) == "*" {
			return map[string]string{entry.VaryWildcard: entry.VaryWildcard}
		}
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		name := httpheader.CollapseWhitespace(f)
		if name == "" {
			continue
		}
		v, _ := requestHeaders.Get(name)
		out[lower(name)] = httpheader.CollapseWhitespace(v)
	}
	return out
}

// UpdateFrom304 implements §4.11's updateFrom304 operation.
func (e *Engine) UpdateFrom304(ctx context.Context, method, uri string, respHeaders *httpheader.Map, requestTime, responseTime time.Time) (*entry.Entry, error) {
	key := e.key(method, uri)
	stored, ok, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	updated := validator.UpdateFrom304(stored, respHeaders, requestTime, responseTime)
	if _, err := e.store.Put(ctx, key, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// InvalidateOnUnsafeMethod implements §4.11's invalidateOnUnsafeMethod
// operation, delegating to the invalidator.
func (e *Engine) InvalidateOnUnsafeMethod(ctx context.Context, method, targetURI string, statusCode int, location, contentLocation string, valueFor func(field string) string) error {
	if !cachecontrol.UnsafeInvalidating(method) {
		return nil
	}
	return invalidator.Invalidate(ctx, e.store, method, targetURI, statusCode, location, contentLocation, valueFor)
}

// GenerateValidationHeaders implements §4.11's generateValidationHeaders
// operation, delegating to the validator.
func (e *Engine) GenerateValidationHeaders(ctx context.Context, method, uri string, requestHeaders *httpheader.Map) (*httpheader.Map, error) {
	key := e.key(method, uri)
	stored, ok, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return requestHeaders.Clone(), nil
	}
	return validator.GenerateConditionalHeaders(requestHeaders, stored), nil
}

// Clear removes every stored entry.
func (e *Engine) Clear(ctx context.Context) error {
	return e.store.Clear(ctx)
}

// ClearExpired implements §4.11's clearExpired operation.
func (e *Engine) ClearExpired(ctx context.Context) error {
	return e.store.ClearWhere(ctx, func(stored *entry.Entry) bool {
		respCCHeader, _ := stored.Headers.Get("Cache-Control")
		respCC := cachecontrol.Parse(respCCHeader, false, nil)
		lifetime, ok := freshness.Lifetime(respCC, stored.Headers, stored.StatusCode, e.fresh)
		age := freshness.Age(stored.Headers, stored.RequestTime, stored.ResponseTime, time.Now())
		return !freshness.IsFresh(age, lifetime, ok)
	})
}

// GetStats implements §4.11's getStats operation.
func (e *Engine) GetStats(ctx context.Context) (Stats, error) {
	n, err := e.store.Size(ctx)
	if err != nil {
		return Stats{}, err
	}
	bytes, err := e.store.SizeInBytes(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Entries: n, Bytes: bytes}, nil
}

// Close releases the underlying storage tier's resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

func splitCommaList(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
