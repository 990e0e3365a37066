// Package redirect wraps the Request Engine with the RFC-defined
// method/body rewrite rules, cross-origin credential scrubbing, and the
// follow/manual/error mode handling from spec §4.7.
//
// Grounded on spec §4.7's algorithm directly -- no teacher component
// follows redirects manually, since net/http does it for the fallback
// path -- rendered in the shape of a small bounded loop with an explicit
// exit condition, the same shape internal/proxygate/proxygate.go uses for
// its ticker-driven pool refresher loop.
package redirect

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sadewadee/socksfetch/internal/engine"
	"github.com/sadewadee/socksfetch/internal/errs"
	"github.com/sadewadee/socksfetch/internal/httpwire"
	"github.com/sadewadee/socksfetch/internal/logging"
	"github.com/sadewadee/socksfetch/proxyurl"
)

// MaxRedirects bounds the follow loop, spec §4.7/§6.
const MaxRedirects = 20

// Mode selects redirect handling, spec §4.7.
type Mode = engine.RedirectMode

const (
	Follow Mode = engine.RedirectFollow
	Manual Mode = engine.RedirectManual
	Error  Mode = engine.RedirectError
)

// Request is the caller-facing request handed to the Driver; it embeds
// engine.Request for the fields common to both layers.
type Request struct {
	engine.Request
	Mode Mode
}

// Response is the terminal result of a Run call.
type Response = engine.Response

// DoFunc performs one round trip; satisfied by engine.Do.
type DoFunc func(ctx context.Context, req *engine.Request, proxy *proxyurl.Endpoint) (*engine.Response, error)

// Driver implements the follow/manual/error redirect semantics around a
// DoFunc, spec §4.7.
type Driver struct {
	do DoFunc
}

// NewDriver builds a Driver around do (normally engine.Do; swappable in
// tests).
func NewDriver(do DoFunc) *Driver {
	return &Driver{do: do}
}

type origin struct {
	scheme, host string
}

func originOf(rawURL string) (origin, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return origin{}, err
	}
	return origin{scheme: u.Scheme, host: u.Host}, nil
}

// Run executes req, following redirects per the selected Mode. The
// caller's Request is never mutated; each hop constructs a fresh one.
func (d *Driver) Run(ctx context.Context, req *Request, proxy *proxyurl.Endpoint) (*Response, error) {
	if req.RequestID == "" {
		withID := *req
		withID.RequestID = logging.RequestID()
		req = &withID
	}
	switch req.Mode {
	case Manual:
		return d.do(ctx, &req.Request, proxy)
	case Error:
		resp, err := d.do(ctx, &req.Request, proxy)
		if err != nil {
			return nil, err
		}
		if isRedirectStatus(resp.Status) && resp.Headers.Get("Location") != "" {
			return nil, &errs.Error{
				Class: errs.ClassRedirect,
				Code:  resp.Status,
				Msg:   fmt.Sprintf("redirect requested (status %d) but mode is error", resp.Status),
			}
		}
		return resp, nil
	default:
		return d.follow(ctx, req, proxy)
	}
}

func (d *Driver) follow(ctx context.Context, req *Request, proxy *proxyurl.Endpoint) (*Response, error) {
	originOrigin, err := originOf(req.URL)
	if err != nil {
		return nil, errs.Config("parsing request URL %q: %v", req.URL, err)
	}

	current := cloneHop(&req.Request)
	hop := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, errs.Cancelled(err, hop)
		}

		resp, err := d.do(ctx, current, proxy)
		if err != nil {
			return nil, err
		}

		if !isRedirectStatus(resp.Status) {
			return resp, nil
		}
		location := resp.Headers.Get("Location")
		if location == "" {
			return resp, nil
		}

		hop++
		if hop > MaxRedirects {
			return nil, errs.Redirect("maximum redirects exceeded (%d)", MaxRedirects)
		}

		nextURL, err := resolveLocation(current.URL, location)
		if err != nil {
			return nil, errs.Redirect("resolving Location %q: %v", location, err)
		}

		current = nextHop(current, resp.Status, nextURL, originOrigin)
	}
}

func isRedirectStatus(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}

// resolveLocation implements spec §4.7's URL resolution: an absolute
// http(s) Location is used as-is, anything else resolves against the
// current request URL.
func resolveLocation(currentURL, location string) (string, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location, nil
	}
	base, err := url.Parse(currentURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// nextHop builds the next hop's request per spec §4.7's method/body
// rewrite table and header propagation rules.
func nextHop(prev *engine.Request, status int, nextURL string, originOrigin origin) *engine.Request {
	method := prev.Method
	body := prev.Body
	hasBody := prev.HasBody

	switch {
	case status == 303:
		method = "GET"
		body, hasBody = nil, false
	case (status == 301 || status == 302) && !isGetOrHead(prev.Method):
		method = "GET"
		body, hasBody = nil, false
	case status == 307 || status == 308:
		// method and body preserved
	default:
		// original method preserved (GET/HEAD redirected by 301/302)
	}

	headers := prev.Headers.Clone()

	hopOrigin, err := originOf(nextURL)
	if err == nil && (hopOrigin.scheme != originOrigin.scheme || hopOrigin.host != originOrigin.host) {
		headers.Del("Authorization")
		headers.Del("Cookie")
		headers.Del("Proxy-Authorization")
	}
	if !headers.Has("Referer") {
		headers.Set("Referer", prev.URL)
	}

	return &engine.Request{
		Method:       method,
		URL:          nextURL,
		Headers:      headers,
		Body:         body,
		HasBody:      hasBody,
		TLSOptions:   prev.TLSOptions,
		RedirectMode: prev.RedirectMode,
		RequestID:    prev.RequestID,
	}
}

func isGetOrHead(method string) bool {
	return method == "GET" || method == "HEAD"
}

// cloneHop makes the first hop's request, using the caller's headers
// without mutating them (a Clone, matching every subsequent hop).
func cloneHop(req *engine.Request) *engine.Request {
	headers := req.Headers
	if headers == nil {
		headers = httpwire.NewHeader()
	} else {
		headers = headers.Clone()
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = logging.RequestID()
	}
	return &engine.Request{
		Method:       req.Method,
		URL:          req.URL,
		Headers:      headers,
		Body:         req.Body,
		HasBody:      req.HasBody,
		TLSOptions:   req.TLSOptions,
		RedirectMode: req.RedirectMode,
		RequestID:    requestID,
	}
}
