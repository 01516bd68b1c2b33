// Package freshness implements the RFC 9111 age algorithm, freshness
// lifetime computation (explicit and heuristic), and the stale-serving
// allowance rules (max-stale/min-fresh/stale-while-revalidate).
package freshness

import (
	"strconv"
	"time"

	"github.com/relaycache/engine/cachecontrol"
	"github.com/relaycache/engine/httpheader"
)

// CacheType controls whether shared-cache-only directives (s-maxage,
// proxy-revalidate) apply.
type CacheType int

const (
	Private CacheType = iota
	Shared
)

// Options configures heuristic freshness and stale-serving defaults. A zero
// HeuristicPercentage or MaxHeuristicDuration falls back to its documented
// default, but a zero EnableHeuristicFreshness disables heuristic freshness
// (DefaultOptions enables it).
type Options struct {
	CacheType                CacheType
	EnableHeuristicFreshness bool
	HeuristicPercentage      float64       // default 0.10
	MaxHeuristicDuration     time.Duration // default 7 days
}

// DefaultOptions returns the engine's documented configuration defaults.
func DefaultOptions() Options {
	return Options{
		CacheType:                Private,
		EnableHeuristicFreshness: true,
		HeuristicPercentage:      0.10,
		MaxHeuristicDuration:     7 * 24 * time.Hour,
	}
}

// dateFormats are tried in order when parsing an HTTP date header. The
// Open Question on date formats is resolved in favor of accepting both the
// standard HTTP-date grammar and ISO-8601/RFC3339, per SPEC_FULL.md §9.
var dateFormats = []string{
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
	time.ANSIC,
	time.RFC3339,
}

// ParseDate parses an HTTP date header value, trying each accepted format
// in turn. Returns ok=false if none match (treated by callers as "absent").
func ParseDate(value string) (t time.Time, ok bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateFormats {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Date returns the response's parsed Date header, defaulting to
// responseTime if the header is absent or unparseable (§4.3).
func Date(headers *httpheader.Map, responseTime time.Time) time.Time {
	if v, ok := headers.Get("Date"); ok {
		if d, ok := ParseDate(v); ok {
			return d
		}
	}
	return responseTime
}

// Age computes the current age of a stored response at instant now, per
// the RFC 9111 §4.2.3 algorithm:
//
//	apparent_age         = max(0, responseTime - Date)
//	response_delay       = responseTime - requestTime
//	corrected_age_value  = Age header (default 0) + response_delay
//	corrected_initial_age = max(apparent_age, corrected_age_value)
//	resident_time        = now - responseTime
//	current_age          = corrected_initial_age + resident_time
func Age(headers *httpheader.Map, requestTime, responseTime, now time.Time) time.Duration {
	date := Date(headers, responseTime)

	apparentAge := responseTime.Sub(date)
	if apparentAge < 0 {
		apparentAge = 0
	}

	responseDelay := responseTime.Sub(requestTime)
	if responseDelay < 0 {
		responseDelay = 0
	}

	ageHeader := parseAgeHeader(headers)
	correctedAgeValue := ageHeader + responseDelay

	correctedInitialAge := apparentAge
	if correctedAgeValue > correctedInitialAge {
		correctedInitialAge = correctedAgeValue
	}

	residentTime := now.Sub(responseTime)
	if residentTime < 0 {
		residentTime = 0
	}

	return correctedInitialAge + residentTime
}

func parseAgeHeader(headers *httpheader.Map) time.Duration {
	v, ok := headers.Get("Age")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// Lifetime computes the freshness lifetime of a stored response per §4.3,
// returning ok=false when there is no basis for freshness at all (entry is
// never fresh).
func Lifetime(respCC *cachecontrol.Directives, headers *httpheader.Map, status int, opts Options) (lifetime time.Duration, ok bool) {
	date := Date(headers, time.Time{})

	if opts.CacheType == Shared {
		if secs, present := respCC.Seconds(cachecontrol.SMaxAge); present {
			return time.Duration(secs) * time.Second, true
		}
	}

	if secs, present := respCC.Seconds(cachecontrol.MaxAge); present {
		return time.Duration(secs) * time.Second, true
	}

	if expiresRaw, present := headers.Get("Expires"); present {
		expires, parsed := ParseDate(expiresRaw)
		if !parsed {
			// Invalid Expires is treated as already-expired.
			return 0, true
		}
		lt := expires.Sub(date)
		if lt < 0 {
			lt = 0
		}
		return lt, true
	}

	if opts.EnableHeuristicFreshness && !respCC.Has(cachecontrol.NoCache) && !respCC.Has(cachecontrol.NoStore) {
		eligible := respCC.Has(cachecontrol.Public) || cachecontrol.HeuristicallyCacheable(status)
		if eligible {
			pct := opts.HeuristicPercentage
			if pct <= 0 {
				pct = 0.10
			}
			maxDur := opts.MaxHeuristicDuration
			if maxDur <= 0 {
				maxDur = 7 * 24 * time.Hour
			}

			if lm, present := headers.Get("Last-Modified"); present {
				if lastModified, parsed := ParseDate(lm); parsed && !lastModified.After(date) {
					lt := time.Duration(float64(date.Sub(lastModified)) * pct)
					if lt > maxDur {
						lt = maxDur
					}
					if lt < 0 {
						lt = 0
					}
					return lt, true
				}
			}
			if cachecontrol.HeuristicallyCacheable(status) {
				return 5 * time.Minute, true
			}
		}
	}

	return 0, false
}

// IsFresh reports whether age <= lifetime (ok=false from Lifetime means
// never fresh).
func IsFresh(age, lifetime time.Duration, ok bool) bool {
	return ok && age <= lifetime
}

// StaleWhileRevalidateWindow reports whether age still falls inside the
// stale-while-revalidate grace period beyond lifetime.
func StaleWhileRevalidateWindow(respCC *cachecontrol.Directives, age, lifetime time.Duration) bool {
	if respCC == nil {
		return false
	}
	// stale-while-revalidate is not a recognized directive, so Parse keeps it
	// under Extensions rather than the directive values Seconds reads.
	raw, ok := respCC.Extensions["stale-while-revalidate"]
	if !ok {
		return false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < 0 {
		return false
	}
	return lifetime+time.Duration(secs)*time.Second > age
}

// CanServeStale implements §4.3's stale-serving allowance: an otherwise
// stale entry may be served when the response does not require
// revalidation and the request tolerates staleness.
func CanServeStale(respCC, reqCC *cachecontrol.Directives, opts Options, age, lifetime time.Duration, disconnected bool) bool {
	if respCC.Has(cachecontrol.MustRevalidate) {
		return false
	}
	if opts.CacheType == Shared && respCC.Has(cachecontrol.ProxyRevalidate) {
		return false
	}

	staleness := age - lifetime
	if staleness < 0 {
		staleness = 0
	}

	if disconnected {
		return true
	}

	if reqCC == nil {
		return false
	}
	if reqCC.Has(cachecontrol.MaxStale) {
		raw, _ := reqCC.Value(cachecontrol.MaxStale)
		if raw == "" {
			return true
		}
		if secs, ok := reqCC.Seconds(cachecontrol.MaxStale); ok {
			return staleness <= time.Duration(secs)*time.Second
		}
	}
	return false
}

// SatisfiesMinFresh implements the request's min-fresh=Δ requirement:
// lifetime - age >= Δ, otherwise the entry is not fresh enough for this
// particular request even if it would otherwise be considered fresh.
func SatisfiesMinFresh(reqCC *cachecontrol.Directives, age, lifetime time.Duration) bool {
	if reqCC == nil {
		return true
	}
	secs, ok := reqCC.Seconds(cachecontrol.MinFresh)
	if !ok {
		return true
	}
	remaining := lifetime - age
	return remaining >= time.Duration(secs)*time.Second
}
