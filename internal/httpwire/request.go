package httpwire

import (
	"fmt"
	"strconv"
	"strings"
)

// OutboundRequest is the minimal set of fields needed to frame an
// HTTP/1.1 request line, per spec §4.4.
type OutboundRequest struct {
	Method       string
	PathAndQuery string
	Host         string // host[:port] as it should appear in the Host header
	Headers      *Header
	Body         []byte
	HasBody      bool
}

// WriteRequest renders req as raw HTTP/1.1 bytes. Connection: close is
// always emitted -- this implementation never reuses a tunnel across
// requests, which simplifies inbound framing to EOF-terminated bodies
// when neither Content-Length nor chunked coding is present.
func WriteRequest(req *OutboundRequest) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, req.PathAndQuery)
	fmt.Fprintf(&b, "Host: %s\r\n", req.Host)
	b.WriteString("Connection: close\r\n")

	if req.Headers == nil || !req.Headers.Has("Accept") {
		b.WriteString("Accept: */*\r\n")
	}
	if req.Headers == nil || !req.Headers.Has("Accept-Encoding") {
		b.WriteString("Accept-Encoding: gzip, deflate, br, zstd\r\n")
	}
	if req.HasBody && (req.Headers == nil || !req.Headers.Has("Content-Length")) {
		fmt.Fprintf(&b, "Content-Length: %s\r\n", strconv.Itoa(len(req.Body)))
	}

	if req.Headers != nil {
		req.Headers.Each(func(key, value string) {
			lower := strings.ToLower(key)
			if lower == "host" || lower == "connection" {
				return
			}
			fmt.Fprintf(&b, "%s: %s\r\n", key, value)
		})
	}

	b.WriteString("\r\n")

	out := []byte(b.String())
	if req.HasBody {
		out = append(out, req.Body...)
	}
	return out
}
