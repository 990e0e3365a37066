// Package socksfetch is a drop-in replacement for a host runtime's native
// HTTP client that adds SOCKS5 proxy support the native client lacks. See
// SPEC_FULL.md §1/§4.8.
//
// Grounded on the teacher's env-driven startup branching (main.go) and
// internal/proxygate/validator.go's http.ProxyURL + http.Transport pattern
// for the native-client fallback path.
package socksfetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/sadewadee/socksfetch/internal/engine"
	"github.com/sadewadee/socksfetch/internal/httpwire"
	"github.com/sadewadee/socksfetch/internal/logging"
	"github.com/sadewadee/socksfetch/internal/redirect"
	"github.com/sadewadee/socksfetch/proxyurl"
)

// Header is the ordered, case-insensitive multimap from the data model
// (spec.md §3), reused from internal/httpwire rather than redeclared.
type Header = httpwire.Header

// NewHeader returns an empty Header.
func NewHeader() *Header { return httpwire.NewHeader() }

// RedirectMode selects how the Redirect Driver handles 3xx responses,
// spec.md §4.7.
type RedirectMode string

const (
	RedirectFollow RedirectMode = "follow"
	RedirectManual RedirectMode = "manual"
	RedirectError  RedirectMode = "error"
)

// TLSOptions is forwarded verbatim to the TLS library, spec.md §6.
type TLSOptions struct {
	VerifyPeer bool
}

// Request is the caller-facing request object, spec.md §3. The caller's
// Request is never mutated by the core; the Redirect Driver derives fresh
// requests from it on each hop.
type Request struct {
	Method       string
	URL          string
	Headers      *Header
	Body         []byte
	HasBody      bool
	Ctx          context.Context
	TLSOptions   *TLSOptions
	Proxy        string // raw or canonical proxy URL; "" means consult the environment
	RedirectMode RedirectMode
}

// Response is the caller-facing result, spec.md §3. Immutable once
// returned.
type Response struct {
	Status     int
	StatusText string
	Headers    *Header
	Body       []byte
}

// DecodeChunked is re-exported at the root for drop-in parity with the
// spec's flat public surface (spec.md §6).
func DecodeChunked(data []byte) []byte { return httpwire.DecodeChunked(data) }

// proxyEnvVars lists the environment variables consulted, in priority
// order, per spec.md §4.8/§6.
var proxyEnvVars = []string{"SOCKS5_PROXY", "SOCKS_PROXY", "HTTP_PROXY", "HTTPS_PROXY"}

// EnvLookup abstracts process environment lookup so Fetch's proxy
// resolution can be tested without mutating real env vars.
type EnvLookup func(key string) (string, bool)

// Fetch is the single public entry point, spec.md §4.8. It selects between
// the native fallback client and the proxied SOCKS5 path based on the
// proxy scheme and the environment.
func Fetch(req *Request, envLookup EnvLookup) (*Response, error) {
	if envLookup == nil {
		envLookup = osLookupEnv
	}
	ctx := req.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	rawProxy := req.Proxy
	if rawProxy == "" {
		rawProxy = resolveFromEnv(envLookup)
	}
	if rawProxy == "" {
		return nativeFetch(ctx, req, "")
	}

	canonical, err := proxyurl.Convert(rawProxy)
	if err != nil {
		logging.Default.Printf("invalid proxy %q: %v; falling back to native client", rawProxy, err)
		return nativeFetch(ctx, req, "")
	}

	endpoint, err := proxyurl.Parse(canonical)
	if err != nil {
		logging.Default.Printf("invalid proxy %q: %v; falling back to native client", canonical, err)
		return nativeFetch(ctx, req, "")
	}

	if endpoint.Scheme == "http" || endpoint.Scheme == "https" {
		// The native client already speaks HTTP/HTTPS proxies -- hand it the
		// proxy URL itself, just not through the SOCKS5 engine.
		return nativeFetch(ctx, req, canonical)
	}

	result, err := redirect.NewDriver(engine.Do).Run(ctx, toRedirectRequest(req), endpoint)
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:     result.Status,
		StatusText: result.StatusText,
		Headers:    result.Headers,
		Body:       result.Body,
	}, nil
}

// resolveFromEnv returns the first defined proxy env var per spec.md §4.8.
func resolveFromEnv(lookup EnvLookup) string {
	for _, name := range proxyEnvVars {
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
	}
	return ""
}

func toRedirectRequest(req *Request) *redirect.Request {
	mode := req.RedirectMode
	if mode == "" {
		mode = RedirectFollow
	}
	var tlsOpts *engine.TLSOptions
	if req.TLSOptions != nil {
		tlsOpts = &engine.TLSOptions{VerifyPeer: req.TLSOptions.VerifyPeer}
	}
	return &redirect.Request{
		Request: engine.Request{
			Method:       req.Method,
			URL:          req.URL,
			Headers:      req.Headers,
			Body:         req.Body,
			HasBody:      req.HasBody,
			TLSOptions:   tlsOpts,
			RedirectMode: engine.RedirectMode(mode),
			RequestID:    logging.RequestID(),
		},
		Mode: engine.RedirectMode(mode),
	}
}

// nativeFetch delegates to net/http for the no-proxy and HTTP/HTTPS-proxy
// cases per spec.md §4.8 steps 1 and 3. A non-empty proxyURL becomes the
// transport's proxy.
func nativeFetch(ctx context.Context, req *Request, proxyURL string) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return nil, err
	}
	if req.HasBody {
		httpReq.Body = io.NopCloser(bytes.NewReader(req.Body))
		httpReq.ContentLength = int64(len(req.Body))
	}
	if req.Headers != nil {
		req.Headers.Each(func(key, value string) {
			httpReq.Header.Add(key, value)
		})
	}

	// The transport is a clone of http.DefaultTransport, so with no explicit
	// proxy it follows the process environment (net/http's
	// ProxyFromEnvironment); an explicit http/https proxy URL replaces that
	// with http.ProxyURL.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	client := &http.Client{Transport: transport}
	if req.RedirectMode == RedirectManual || req.RedirectMode == RedirectError {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	headers := NewHeader()
	for key, values := range resp.Header {
		for _, v := range values {
			headers.Add(key, v)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp.Status, resp.StatusCode),
		Headers:    headers,
		Body:       body,
	}, nil
}

// statusText strips the leading "NNN " from Go's combined Status string.
func statusText(status string, code int) string {
	prefix := strconv.Itoa(code) + " "
	return strings.TrimPrefix(status, prefix)
}

func osLookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}
