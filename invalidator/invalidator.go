// Package invalidator drops cache entries keyed by a target URI and its
// same-origin Location/Content-Location companions after an unsafe method
// succeeds, per RFC 9111 §4.4.
package invalidator

import (
	"context"
	"net/url"
	"strings"

	"github.com/relaycache/engine/cachecontrol"
	"github.com/relaycache/engine/cachekey"
	"github.com/relaycache/engine/entry"
)

// Remover is the minimal storage capability the invalidator needs: delete
// by primary key, and a predicate clear for best-effort Vary fan-out or
// pattern-based purges.
type Remover interface {
	Remove(ctx context.Context, key string) (bool, error)
	ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error
}

// varyProbeHeaders are the common nominating headers the invalidator
// best-effort purges keys for, to approximate Vary fan-out without a full
// scan (§4.6).
var varyProbeHeaders = []string{"accept", "accept-encoding", "accept-language"}

// Invalidate runs the unsafe-method invalidation sweep. It is a no-op
// unless method is unsafe-invalidating and statusCode is in [200,399].
// valueFor resolves a probe header's current request value, used to derive
// the best-effort Vary-probe keys purged alongside the primary key.
func Invalidate(ctx context.Context, store Remover, method, targetURI string, statusCode int, location, contentLocation string, valueFor func(field string) string) error {
	if !cachecontrol.UnsafeInvalidating(method) {
		return nil
	}
	if statusCode < 200 || statusCode > 399 {
		return nil
	}

	if err := invalidateURI(ctx, store, targetURI, valueFor); err != nil {
		return err
	}

	if location != "" {
		if loc, ok := resolveSameOrigin(targetURI, location); ok {
			if err := invalidateURI(ctx, store, loc, valueFor); err != nil {
				return err
			}
		}
	}
	if contentLocation != "" {
		if loc, ok := resolveSameOrigin(targetURI, contentLocation); ok {
			if err := invalidateURI(ctx, store, loc, valueFor); err != nil {
				return err
			}
		}
	}

	return nil
}

// invalidateURI deletes the GET and HEAD primary keys for uri, plus a
// small set of Vary-probe keys for common nominating headers.
func invalidateURI(ctx context.Context, store Remover, uri string, valueFor func(field string) string) error {
	getKey := cachekey.Primary("GET", uri)
	if _, err := store.Remove(ctx, getKey); err != nil {
		return err
	}

	headKey := cachekey.Primary("HEAD", uri)
	if headKey != getKey {
		if _, err := store.Remove(ctx, headKey); err != nil {
			return err
		}
	}

	if valueFor != nil {
		for _, field := range varyProbeHeaders {
			probeKey := cachekey.WithVary(getKey, []string{field}, valueFor)
			if probeKey != getKey {
				if _, err := store.Remove(ctx, probeKey); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// InvalidateOrigin is a predicate-clear over every entry sharing uri's
// origin (scheme+host).
func InvalidateOrigin(ctx context.Context, store Remover, uri string) error {
	origin, ok := originOf(uri)
	if !ok {
		return nil
	}
	return store.ClearWhere(ctx, func(e *entry.Entry) bool {
		o, ok := originOf(e.URI)
		return ok && o == origin
	})
}

// InvalidatePattern is a predicate-clear accepting an arbitrary caller
// predicate over stored entries.
func InvalidatePattern(ctx context.Context, store Remover, predicate func(*entry.Entry) bool) error {
	return store.ClearWhere(ctx, predicate)
}

// resolveSameOrigin resolves headerValue (possibly relative) against
// targetURI and reports the resolved URI only if it shares targetURI's
// origin; RFC 9111 §4.4 restricts Location/Content-Location invalidation
// to same-origin targets.
func resolveSameOrigin(targetURI, headerValue string) (string, bool) {
	base, err := url.Parse(targetURI)
	if err != nil {
		return "", false
	}
	resolved, err := base.Parse(headerValue)
	if err != nil {
		return "", false
	}
	if !strings.EqualFold(base.Scheme, resolved.Scheme) || !strings.EqualFold(base.Host, resolved.Host) {
		return "", false
	}
	return resolved.String(), true
}

func originOf(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
