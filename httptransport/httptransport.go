// Package httptransport adapts the engine package to net/http as an
// http.RoundTripper, grounded on the teacher's Transport/RoundTrip flow in
// httpcache.go but built on engine.Engine instead of a raw Cache
// interface, so the adapter carries none of the caching decision logic
// itself — it only translates between *http.Request/*http.Response and
// the engine's primitive-arg calls.
package httptransport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/relaycache/engine/engine"
	"github.com/relaycache/engine/httpheader"
	"github.com/relaycache/engine/log"
)

const (
	headerAge      = "Age"
	headerWarning  = "Warning"
	headerXCache   = "X-Cache"
	headerLocation = "Location"
	headerContentLocation = "Content-Location"

	warningResponseIsStale    = `110 - "Response is Stale"`
	warningRevalidationFailed = `111 - "Revalidation Failed"`
)

// Transport is an http.RoundTripper backed by an *engine.Engine. If
// Transport.Next is nil, http.DefaultTransport is used for network
// fetches and revalidation requests.
type Transport struct {
	Next   http.RoundTripper
	Engine *engine.Engine

	// MarkCachedResponses adds an X-Cache response header reporting
	// HIT, HIT-STALE, or MISS, per §6.
	MarkCachedResponses bool
}

// New returns a Transport wrapping e with MarkCachedResponses enabled.
func New(e *engine.Engine) *Transport {
	return &Transport{Engine: e, MarkCachedResponses: true}
}

// Client returns an *http.Client using this Transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) next() http.RoundTripper {
	if t.Next != nil {
		return t.Next
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	method := req.Method
	uri := stripFragment(req.URL)
	reqHeaders := headersToMap(req.Header)

	result, err := t.Engine.Get(ctx, method, uri, reqHeaders, engine.Default)
	if err != nil {
		log.Default().Error("cache get failed", "uri", uri, "error", err)
		result = nil
	}

	onlyIfCached := false
	if cc, ok := reqHeaders.Get("Cache-Control"); ok {
		onlyIfCached = containsDirective(cc, "only-if-cached")
	}

	if result != nil && !result.RequiresValidation {
		resp := t.buildCachedResponse(req, result, result.IsStale)
		if result.NeedsBackgroundRevalidation {
			t.revalidateInBackground(req, method, uri, reqHeaders, result)
		}
		return resp, nil
	}

	if result == nil && onlyIfCached {
		return gatewayTimeout(req), nil
	}

	return t.fetchAndCache(ctx, req, method, uri, reqHeaders, result)
}

// fetchAndCache performs the upstream round trip — conditional when result
// requires validation — then stores or 304-merges the response and runs
// unsafe-method invalidation. Shared by the synchronous miss/validation path
// and the async stale-while-revalidate path.
func (t *Transport) fetchAndCache(ctx context.Context, req *http.Request, method, uri string, reqHeaders *httpheader.Map, result *engine.GetResult) (*http.Response, error) {
	upstreamReq := req
	if result != nil && result.RequiresValidation {
		conditional, err := t.Engine.GenerateValidationHeaders(ctx, method, uri, reqHeaders)
		if err == nil {
			upstreamReq = req.Clone(ctx)
			applyConditionalHeaders(upstreamReq, conditional, reqHeaders)
		}
	}

	requestTime := time.Now()
	resp, err := t.next().RoundTrip(upstreamReq)
	responseTime := time.Now()
	if err != nil {
		if result != nil && t.shouldServeStaleOnError(result) {
			return t.buildCachedResponse(req, result, true), nil
		}
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && result != nil {
		respHeaders := headersToMap(resp.Header)
		updated, uerr := t.Engine.UpdateFrom304(ctx, method, uri, respHeaders, requestTime, responseTime)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if uerr != nil || updated == nil {
			return t.buildCachedResponse(req, result, true), nil
		}
		merged := &engine.GetResult{Entry: updated, RequiresValidation: false, IsStale: false}
		return t.buildCachedResponse(req, merged, false), nil
	}

	body, rerr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if rerr != nil {
		return nil, rerr
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	respHeaders := headersToMap(resp.Header)
	if _, perr := t.Engine.Put(ctx, method, uri, resp.StatusCode, reqHeaders, respHeaders, body, requestTime, responseTime); perr != nil {
		log.Default().Error("cache put failed", "uri", uri, "error", perr)
	}

	if cachecontrolInvalidates(method) && resp.StatusCode >= 200 && resp.StatusCode < 400 {
		valueFor := func(field string) string { return req.Header.Get(field) }
		location := resp.Header.Get(headerLocation)
		contentLocation := resp.Header.Get(headerContentLocation)
		if ierr := t.Engine.InvalidateOnUnsafeMethod(ctx, method, uri, resp.StatusCode, location, contentLocation, valueFor); ierr != nil {
			log.Default().Error("cache invalidation failed", "uri", uri, "error", ierr)
		}
	}

	if t.MarkCachedResponses {
		resp.Header.Set(headerXCache, "MISS")
	}
	return resp, nil
}

// revalidateInBackground re-fetches a stale-while-revalidate entry without
// blocking the caller that already received the stale response. The
// background context is detached from req's so it survives past RoundTrip
// returning.
func (t *Transport) revalidateInBackground(req *http.Request, method, uri string, reqHeaders *httpheader.Map, result *engine.GetResult) {
	bgCtx := context.WithoutCancel(req.Context())
	bgReq := req.Clone(bgCtx)
	go func() {
		resp, err := t.fetchAndCache(bgCtx, bgReq, method, uri, reqHeaders, result)
		if err != nil {
			log.Default().Error("background revalidation failed", "uri", uri, "error", err)
			return
		}
		if resp.Body != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()
}

func (t *Transport) shouldServeStaleOnError(result *engine.GetResult) bool {
	return t.Engine.AllowStaleOnError(result)
}

func (t *Transport) buildCachedResponse(req *http.Request, result *engine.GetResult, stale bool) *http.Response {
	e := result.Entry
	header := mapToHeaders(e.Headers)
	header.Set(headerAge, strconv.FormatInt(int64(result.Age/time.Second), 10))

	if stale {
		appendWarning(header, warningResponseIsStale)
	}
	if t.MarkCachedResponses {
		if stale {
			header.Set(headerXCache, "HIT-STALE")
		} else {
			header.Set(headerXCache, "HIT")
		}
	}

	return &http.Response{
		Status:        http.StatusText(e.StatusCode),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func gatewayTimeout(req *http.Request) *http.Response {
	body := []byte("key is not cached")
	return &http.Response{
		Status:        http.StatusText(http.StatusGatewayTimeout),
		StatusCode:    http.StatusGatewayTimeout,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func applyConditionalHeaders(req *http.Request, conditional, original *httpheader.Map) {
	conditional.ForEach(func(name, value string) {
		if _, existed := original.Get(name); !existed {
			req.Header.Set(name, value)
		}
	})
}

func appendWarning(h http.Header, text string) {
	if existing := h.Get(headerWarning); existing != "" {
		h.Set(headerWarning, existing+", "+text)
		return
	}
	h.Set(headerWarning, text)
}

func stripFragment(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

func headersToMap(h http.Header) *httpheader.Map {
	m := httpheader.New()
	for name, values := range h {
		m.Set(name, joinComma(values))
	}
	return m
}

func mapToHeaders(m *httpheader.Map) http.Header {
	h := make(http.Header)
	m.ForEach(func(name, value string) {
		h.Set(name, value)
	})
	return h
}

func joinComma(values []string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return values[0]
	default:
		out := values[0]
		for _, v := range values[1:] {
			out += ", " + v
		}
		return out
	}
}

func containsDirective(cc, directive string) bool {
	for _, part := range splitComma(cc) {
		if httpheader.CollapseWhitespace(part) == directive {
			return true
		}
	}
	return false
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func cachecontrolInvalidates(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
