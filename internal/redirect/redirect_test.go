package redirect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/socksfetch/internal/engine"
	"github.com/sadewadee/socksfetch/internal/errs"
	"github.com/sadewadee/socksfetch/internal/httpwire"
	"github.com/sadewadee/socksfetch/proxyurl"
)

func script(responses ...*engine.Response) DoFunc {
	i := 0
	var calls []*engine.Request
	return func(ctx context.Context, req *engine.Request, proxy *proxyurl.Endpoint) (*engine.Response, error) {
		calls = append(calls, req)
		if i >= len(responses) {
			return responses[len(responses)-1], nil
		}
		resp := responses[i]
		i++
		return resp, nil
	}
}

func resp(status int, location string) *engine.Response {
	h := httpwire.NewHeader()
	if location != "" {
		h.Set("Location", location)
	}
	return &engine.Response{Status: status, Headers: h}
}

var proxy = &proxyurl.Endpoint{Scheme: "socks5", Host: "p.test", Port: 1080}

func TestDriver_FollowsSimpleRedirect(t *testing.T) {
	do := script(resp(302, "http://example.test/b"), resp(200, ""))
	d := NewDriver(do)
	req := &Request{Request: engine.Request{Method: "GET", URL: "http://example.test/a"}, Mode: Follow}
	result, err := d.Run(context.Background(), req, proxy)
	require.NoError(t, err)
	assert.Equal(t, 200, result.Status)
}

func TestDriver_303RewritesToGetDropsBody(t *testing.T) {
	var captured *engine.Request
	calls := 0
	do := DoFunc(func(ctx context.Context, req *engine.Request, p *proxyurl.Endpoint) (*engine.Response, error) {
		calls++
		if calls == 1 {
			return resp(303, "http://example.test/next"), nil
		}
		captured = req
		return resp(200, ""), nil
	})
	req := &Request{Request: engine.Request{
		Method: "POST", URL: "http://example.test/a",
		Body: []byte("payload"), HasBody: true,
	}, Mode: Follow}
	_, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, "GET", captured.Method)
	assert.False(t, captured.HasBody)
}

func TestDriver_307PreservesMethodAndBody(t *testing.T) {
	var captured *engine.Request
	calls := 0
	do := DoFunc(func(ctx context.Context, req *engine.Request, p *proxyurl.Endpoint) (*engine.Response, error) {
		calls++
		if calls == 1 {
			return resp(307, "http://example.test/next"), nil
		}
		captured = req
		return resp(200, ""), nil
	})
	req := &Request{Request: engine.Request{
		Method: "POST", URL: "http://example.test/a",
		Body: []byte("payload"), HasBody: true,
	}, Mode: Follow}
	_, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.NoError(t, err)
	assert.Equal(t, "POST", captured.Method)
	assert.True(t, captured.HasBody)
	assert.Equal(t, "payload", string(captured.Body))
}

func TestDriver_301WithPostRewritesToGet(t *testing.T) {
	var captured *engine.Request
	calls := 0
	do := DoFunc(func(ctx context.Context, req *engine.Request, p *proxyurl.Endpoint) (*engine.Response, error) {
		calls++
		if calls == 1 {
			return resp(301, "http://example.test/next"), nil
		}
		captured = req
		return resp(200, ""), nil
	})
	req := &Request{Request: engine.Request{
		Method: "POST", URL: "http://example.test/a",
	}, Mode: Follow}
	_, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.NoError(t, err)
	assert.Equal(t, "GET", captured.Method)
}

func TestDriver_CrossOriginStripsSensitiveHeaders(t *testing.T) {
	var captured *engine.Request
	calls := 0
	do := DoFunc(func(ctx context.Context, req *engine.Request, p *proxyurl.Endpoint) (*engine.Response, error) {
		calls++
		if calls == 1 {
			return resp(302, "http://other.test/b"), nil
		}
		captured = req
		return resp(200, ""), nil
	})
	h := httpwire.NewHeader()
	h.Set("Authorization", "secret")
	h.Set("Cookie", "session=1")
	req := &Request{Request: engine.Request{
		Method: "GET", URL: "http://example.test/a", Headers: h,
	}, Mode: Follow}
	_, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.NoError(t, err)
	assert.False(t, captured.Headers.Has("Authorization"))
	assert.False(t, captured.Headers.Has("Cookie"))
}

func TestDriver_SameOriginKeepsHeaders(t *testing.T) {
	var captured *engine.Request
	calls := 0
	do := DoFunc(func(ctx context.Context, req *engine.Request, p *proxyurl.Endpoint) (*engine.Response, error) {
		calls++
		if calls == 1 {
			return resp(302, "http://example.test/b"), nil
		}
		captured = req
		return resp(200, ""), nil
	})
	h := httpwire.NewHeader()
	h.Set("Authorization", "secret")
	req := &Request{Request: engine.Request{
		Method: "GET", URL: "http://example.test/a", Headers: h,
	}, Mode: Follow}
	_, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.NoError(t, err)
	assert.True(t, captured.Headers.Has("Authorization"))
}

func TestDriver_RefererSetFromPreviousURL(t *testing.T) {
	var captured *engine.Request
	calls := 0
	do := DoFunc(func(ctx context.Context, req *engine.Request, p *proxyurl.Endpoint) (*engine.Response, error) {
		calls++
		if calls == 1 {
			return resp(302, "http://example.test/b"), nil
		}
		captured = req
		return resp(200, ""), nil
	})
	req := &Request{Request: engine.Request{Method: "GET", URL: "http://example.test/a"}, Mode: Follow}
	_, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/a", captured.Headers.Get("Referer"))
}

func TestDriver_MaxRedirectsExceeded(t *testing.T) {
	do := DoFunc(func(ctx context.Context, req *engine.Request, p *proxyurl.Endpoint) (*engine.Response, error) {
		return resp(302, "http://example.test/loop"), nil
	})
	req := &Request{Request: engine.Request{Method: "GET", URL: "http://example.test/a"}, Mode: Follow}
	_, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ClassRedirect))
}

func TestDriver_ManualModeReturnsFirstResponse(t *testing.T) {
	do := script(resp(302, "http://example.test/b"))
	req := &Request{Request: engine.Request{Method: "GET", URL: "http://example.test/a"}, Mode: Manual}
	result, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.NoError(t, err)
	assert.Equal(t, 302, result.Status)
}

func TestDriver_ErrorModeFailsOnRedirect(t *testing.T) {
	do := script(resp(302, "http://example.test/b"))
	req := &Request{Request: engine.Request{Method: "GET", URL: "http://example.test/a"}, Mode: Error}
	_, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ClassRedirect))
}

func TestDriver_ErrorModePassesThroughNonRedirect(t *testing.T) {
	do := script(resp(200, ""))
	req := &Request{Request: engine.Request{Method: "GET", URL: "http://example.test/a"}, Mode: Error}
	result, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.NoError(t, err)
	assert.Equal(t, 200, result.Status)
}

func TestDriver_RelativeLocationResolved(t *testing.T) {
	var captured *engine.Request
	calls := 0
	do := DoFunc(func(ctx context.Context, req *engine.Request, p *proxyurl.Endpoint) (*engine.Response, error) {
		calls++
		if calls == 1 {
			return resp(302, "/next?x=1"), nil
		}
		captured = req
		return resp(200, ""), nil
	})
	req := &Request{Request: engine.Request{Method: "GET", URL: "http://example.test/a/b"}, Mode: Follow}
	_, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/next?x=1", captured.URL)
}

func TestDriver_CallerRequestNotMutated(t *testing.T) {
	h := httpwire.NewHeader()
	h.Set("Authorization", "secret")
	do := script(resp(302, "http://other.test/b"), resp(200, ""))
	req := &Request{Request: engine.Request{
		Method: "GET", URL: "http://example.test/a", Headers: h,
	}, Mode: Follow}
	_, err := NewDriver(do).Run(context.Background(), req, proxy)
	require.NoError(t, err)
	assert.True(t, req.Headers.Has("Authorization"), "caller's original headers must not be mutated")
}
