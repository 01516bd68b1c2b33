// Package resilience wraps any storage.Tier's durable operations with
// retry and circuit-breaker policies from failsafe-go, grounded on the
// teacher's resilience.go (there built for *http.Response, here
// generalized to *entry.Entry-shaped calls via failsafe's generics).
package resilience

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/storage"
)

// Config holds the optional resilience policies applied to a wrapped
// tier. A nil field disables that policy; Tier works without any policies
// configured (it is then a transparent pass-through).
type Config struct {
	Retry          retrypolicy.RetryPolicy[any]
	CircuitBreaker circuitbreaker.CircuitBreaker[any]
}

// DefaultRetryPolicy retries storage I/O errors up to 3 times with
// exponential backoff, mirroring the teacher's RetryPolicyBuilder default.
func DefaultRetryPolicy() retrypolicy.RetryPolicy[any] {
	return retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return err != nil }).
		WithMaxRetries(3).
		WithBackoff(100*time.Millisecond, 10*time.Second).
		Build()
}

// DefaultCircuitBreaker opens after 5 consecutive storage failures and
// waits 60s before probing again, mirroring the teacher's
// CircuitBreakerBuilder default.
func DefaultCircuitBreaker() circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return err != nil }).
		WithFailureThreshold(5).
		WithSuccessThreshold(2).
		WithDelay(60 * time.Second).
		Build()
}

// Tier wraps an inner storage.Tier, routing every call through the
// configured retry/circuit-breaker policies.
type Tier struct {
	inner storage.Tier
	cfg   Config
}

// Wrap returns a Tier applying cfg's policies to every operation on inner.
func Wrap(inner storage.Tier, cfg Config) *Tier {
	return &Tier{inner: inner, cfg: cfg}
}

var _ storage.Tier = (*Tier)(nil)

func (t *Tier) policies() []failsafe.Policy[any] {
	var policies []failsafe.Policy[any]
	if t.cfg.Retry != nil {
		policies = append(policies, t.cfg.Retry)
	}
	if t.cfg.CircuitBreaker != nil {
		policies = append(policies, t.cfg.CircuitBreaker)
	}
	return policies
}

func (t *Tier) run(fn func() (any, error)) (any, error) {
	policies := t.policies()
	if len(policies) == 0 {
		return fn()
	}
	return failsafe.Get(fn, policies...)
}

func (t *Tier) Get(ctx context.Context, key string) (*entry.Entry, bool, error) {
	type result struct {
		e  *entry.Entry
		ok bool
	}
	v, err := t.run(func() (any, error) {
		e, ok, err := t.inner.Get(ctx, key)
		return result{e, ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(result)
	return r.e, r.ok, nil
}

func (t *Tier) Put(ctx context.Context, key string, e *entry.Entry) (bool, error) {
	v, err := t.run(func() (any, error) {
		return t.inner.Put(ctx, key, e)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (t *Tier) Remove(ctx context.Context, key string) (bool, error) {
	v, err := t.run(func() (any, error) { return t.inner.Remove(ctx, key) })
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (t *Tier) Contains(ctx context.Context, key string) (bool, error) {
	v, err := t.run(func() (any, error) { return t.inner.Contains(ctx, key) })
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (t *Tier) Clear(ctx context.Context) error {
	_, err := t.run(func() (any, error) { return nil, t.inner.Clear(ctx) })
	return err
}

func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	_, err := t.run(func() (any, error) { return nil, t.inner.ClearWhere(ctx, predicate) })
	return err
}

func (t *Tier) Keys(ctx context.Context) ([]string, error) {
	v, err := t.run(func() (any, error) { return t.inner.Keys(ctx) })
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (t *Tier) Size(ctx context.Context) (int, error) {
	v, err := t.run(func() (any, error) { return t.inner.Size(ctx) })
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (t *Tier) SizeInBytes(ctx context.Context) (int64, error) {
	v, err := t.run(func() (any, error) { return t.inner.SizeInBytes(ctx) })
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (t *Tier) Close() error { return t.inner.Close() }
