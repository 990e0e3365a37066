package httpwire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sadewadee/socksfetch/internal/errs"
)

// InboundResponse is the parsed result of reading an HTTP/1.1 response,
// before content decoding (spec §4.4).
type InboundResponse struct {
	Status     int
	StatusText string
	Headers    *Header
	Body       []byte
}

// ReadResponse reads a full HTTP/1.1 response from r: status line,
// headers, and body framed per spec §4.4 (chunked, content-length, or
// EOF-terminated, in that priority order).
func ReadResponse(r io.Reader) (*InboundResponse, error) {
	br := bufio.NewReader(r)

	statusLine, err := readLine(br)
	if err != nil {
		return nil, errs.HTTP("reading status line: %v", err)
	}

	status, statusText := parseStatusLine(statusLine)

	headers := NewHeader()
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, errs.HTTP("reading headers: %v", err)
		}
		if line == "" {
			break
		}
		key, value, ok := splitHeaderLine(line)
		if !ok {
			continue
		}
		headers.Add(key, value)
	}

	body, err := readBody(br, headers)
	if err != nil {
		return nil, err
	}

	return &InboundResponse{
		Status:     status,
		StatusText: statusText,
		Headers:    headers,
		Body:       body,
	}, nil
}

// parseStatusLine parses "HTTP/x.y SP code SP reason". Per spec §4.4, a
// parse failure defaults the code to 200 rather than erroring out (a
// compatibility concession carried from the source system).
func parseStatusLine(line string) (code int, reason string) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 200, ""
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 200, ""
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return n, reason
}

// splitHeaderLine splits a header line at the first ':', trimming
// surrounding space from the value.
func splitHeaderLine(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	key = line[:idx]
	value = strings.TrimSpace(line[idx+1:])
	return key, value, true
}

// readBody implements the body-completion priority order from spec §4.4:
// chunked, then content-length, then EOF.
func readBody(r *bufio.Reader, headers *Header) ([]byte, error) {
	if isChunked(headers) {
		rest, err := io.ReadAll(r)
		if err != nil && len(rest) == 0 {
			return nil, errs.HTTP("reading chunked body: %v", err)
		}
		return DecodeChunked(rest), nil
	}

	if cl := headers.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, errs.HTTP("invalid Content-Length %q", cl)
		}
		buf := make([]byte, n)
		read, _ := readFull(r, buf)
		return buf[:read], nil
	}

	body, _ := io.ReadAll(r)
	return body, nil
}

func isChunked(headers *Header) bool {
	te := strings.ToLower(headers.Get("Transfer-Encoding"))
	return strings.Contains(te, "chunked")
}

// FormatStatusLine renders a status code and reason phrase as
// "<status> <text>".
func FormatStatusLine(status int, text string) string {
	return fmt.Sprintf("%d %s", status, text)
}
