// Package decider gates storability and reusability of responses, the way
// pquerna/cachecontrol's Reason enum gates a cache decision — every
// rejection here carries a Reason so callers can log or report on exactly
// why a response was or wasn't cached.
package decider

import (
	"strings"

	"github.com/relaycache/engine/cachecontrol"
	"github.com/relaycache/engine/cachekey"
	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/freshness"
	"github.com/relaycache/engine/httpheader"
)

// Reason enumerates why a storability or reusability decision came out the
// way it did. Zero value ReasonOK means no objection.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonNoStoreResponse
	ReasonNoStoreRequest
	ReasonMethodNotCacheable
	ReasonStatusNotFinal
	ReasonPrivateInSharedCache
	ReasonAuthorizationGated
	ReasonNoStorageIndicator
	ReasonEntryInvalid
	ReasonMethodNotSafeReusable
	ReasonURIMismatch
	ReasonVaryWildcard
	ReasonVaryMismatch
	ReasonRequiresValidation
)

// String renders a Reason for logging/telemetry.
func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonNoStoreResponse:
		return "response no-store"
	case ReasonNoStoreRequest:
		return "request no-store"
	case ReasonMethodNotCacheable:
		return "method not cacheable"
	case ReasonStatusNotFinal:
		return "status not final"
	case ReasonPrivateInSharedCache:
		return "private response in shared cache"
	case ReasonAuthorizationGated:
		return "authorization present without public/must-revalidate/s-maxage"
	case ReasonNoStorageIndicator:
		return "no storage indicator present"
	case ReasonEntryInvalid:
		return "entry marked invalid"
	case ReasonMethodNotSafeReusable:
		return "request method not safe-reusable"
	case ReasonURIMismatch:
		return "stored uri does not match request uri"
	case ReasonVaryWildcard:
		return "vary wildcard never matches"
	case ReasonVaryMismatch:
		return "vary fields do not match"
	case ReasonRequiresValidation:
		return "requires validation"
	default:
		return "unknown"
	}
}

// StorabilityResult is the outcome of CanStore.
type StorabilityResult struct {
	Storable bool
	Reason   Reason
}

// CanStore implements §4.4's storability gate. All of the following must
// hold: method is cacheable; status is final; neither side carries
// no-store; shared caches reject private responses; an Authorization
// request requires public/must-revalidate/s-maxage on the response; and at
// least one storage indicator is present.
func CanStore(method string, status int, reqHeaders, respHeaders *httpheader.Map, reqCC, respCC *cachecontrol.Directives, cacheType freshness.CacheType) StorabilityResult {
	if !cachecontrol.Cacheable(method) {
		return StorabilityResult{false, ReasonMethodNotCacheable}
	}
	if !cachecontrol.FinalStatus(status) {
		return StorabilityResult{false, ReasonStatusNotFinal}
	}
	if respCC.Has(cachecontrol.NoStore) {
		return StorabilityResult{false, ReasonNoStoreResponse}
	}
	if reqCC.Has(cachecontrol.NoStore) {
		return StorabilityResult{false, ReasonNoStoreRequest}
	}

	if cacheType == freshness.Shared && respCC.Has(cachecontrol.Private) {
		return StorabilityResult{false, ReasonPrivateInSharedCache}
	}

	if reqHeaders.Has("Authorization") {
		if !respCC.Has(cachecontrol.Public) && !respCC.Has(cachecontrol.MustRevalidate) && !respCC.Has(cachecontrol.SMaxAge) {
			return StorabilityResult{false, ReasonAuthorizationGated}
		}
	}

	hasIndicator := respCC.Has(cachecontrol.Public) ||
		(cacheType == freshness.Private && respCC.Has(cachecontrol.Private)) ||
		respHeaders.Has("Expires") ||
		respCC.Has(cachecontrol.MaxAge) ||
		(cacheType == freshness.Shared && respCC.Has(cachecontrol.SMaxAge)) ||
		cachecontrol.HeuristicallyCacheable(status)

	if !hasIndicator {
		return StorabilityResult{false, ReasonNoStorageIndicator}
	}

	return StorabilityResult{true, ReasonOK}
}

// ReuseState is the three-valued reusability outcome from §4.4.
type ReuseState int

const (
	NotReusable ReuseState = iota
	RequiresValidation
	Reusable
)

// ReusabilityResult is the outcome of CanReuse.
type ReusabilityResult struct {
	State  ReuseState
	Reason Reason
}

// CanReuse implements §4.4's reusability decider for a request against a
// stored entry. It checks the entry's validity, the request method, the URI
// and the Vary-nominated request headers itself; freshness (isFresh) must
// be precomputed by the caller via the freshness package.
func CanReuse(reqMethod, reqURI string, reqHeaders *httpheader.Map, reqCC, respCC *cachecontrol.Directives, e *entry.Entry, isFresh bool) ReusabilityResult {
	if e.IsInvalid {
		return ReusabilityResult{NotReusable, ReasonEntryInvalid}
	}
	if !cachecontrol.SafeReusable(reqMethod) {
		return ReusabilityResult{NotReusable, ReasonMethodNotSafeReusable}
	}
	if !sameURI(e.URI, reqURI) {
		return ReusabilityResult{NotReusable, ReasonURIMismatch}
	}

	if e.IsVaryWildcard() {
		return ReusabilityResult{NotReusable, ReasonVaryWildcard}
	}
	if len(e.VaryHeaders) > 0 {
		matches := cachekey.VaryMatches(e.VaryHeaders, func(field string) string {
			v, _ := reqHeaders.Get(field)
			return v
		})
		if !matches {
			return ReusabilityResult{NotReusable, ReasonVaryMismatch}
		}
	}

	if respCC.Has(cachecontrol.NoCache) || reqCC.Has(cachecontrol.NoCache) {
		return ReusabilityResult{RequiresValidation, ReasonRequiresValidation}
	}
	if !isFresh {
		return ReusabilityResult{RequiresValidation, ReasonRequiresValidation}
	}

	return ReusabilityResult{Reusable, ReasonOK}
}

func sameURI(a, b string) bool {
	return strings.EqualFold(stripFragment(a), stripFragment(b))
}

func stripFragment(uri string) string {
	if i := strings.IndexByte(uri, '#'); i >= 0 {
		return uri[:i]
	}
	return uri
}
