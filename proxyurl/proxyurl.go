// Package proxyurl normalizes the handful of proxy-string shapes seen in
// the wild into a canonical scheme://[user:pass@]host:port form, and parses
// the canonical form into an Endpoint. See spec §4.1 and §4.2.
package proxyurl

import (
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/sadewadee/socksfetch/internal/errs"
)

// Endpoint is the parsed, immutable ProxyEndpoint from the data model.
type Endpoint struct {
	Scheme   string
	Host     string
	Port     uint16
	User     string
	Password string
}

var supportedSchemes = map[string]bool{
	"socks5": true,
	"socks4": true,
	"http":   true,
	"https":  true,
}

const defaultScheme = "socks5"

// Convert normalizes a single proxy string into canonical form.
// scheme://[user:pass@]host:port.
func Convert(raw string) (string, error) {
	if raw == "" {
		return "", errs.Config("empty proxy string")
	}

	scheme, rest := splitScheme(raw)
	if !supportedSchemes[scheme] {
		return "", errs.Config("unsupported proxy scheme %q", scheme)
	}

	host, port, user, pass, err := parseRest(rest)
	if err != nil {
		return "", err
	}

	if err := validatePort(port); err != nil {
		return "", err
	}
	if pass != "" && user == "" {
		return "", errs.Config("password set without username")
	}

	if user == "" {
		return fmt.Sprintf("%s://%s:%s", scheme, host, port), nil
	}
	encUser := percentEncode(user)
	encPass := percentEncode(pass)
	if pass == "" {
		return fmt.Sprintf("%s://%s@%s:%s", scheme, encUser, host, port), nil
	}
	return fmt.Sprintf("%s://%s:%s@%s:%s", scheme, encUser, encPass, host, port), nil
}

// ConvertList normalizes a list of proxy strings. When skipInvalid is true,
// invalid entries are logged and dropped instead of aborting the whole
// batch.
func ConvertList(raw []string, skipInvalid bool) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		converted, err := Convert(r)
		if err != nil {
			if skipInvalid {
				log.Printf("[proxyurl] skipping invalid proxy %q: %v", r, err)
				continue
			}
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

// splitScheme splits off "scheme://" if present, defaulting to socks5.
func splitScheme(raw string) (scheme, rest string) {
	if idx := strings.Index(raw, "://"); idx >= 0 {
		return raw[:idx], raw[idx+3:]
	}
	return defaultScheme, raw
}

// parseRest implements the branching algorithm from spec §4.1 step 3.
func parseRest(rest string) (host, port, user, pass string, err error) {
	if rest == "" {
		return "", "", "", "", errs.Config("missing host")
	}

	if at := findUnbracketedAt(rest); at >= 0 {
		before := rest[:at]
		after := rest[at+1:]

		// Canonical shape is user:pass@host:port -- the tail after '@'
		// parses as host:port with a numeric port. Inverted shape is
		// host:port@user:pass -- the tail after '@' does not.
		if h, p, ok := splitHostPort(after); ok && isPort(p) {
			u, pw := splitColon(before)
			return h, p, u, pw, nil
		}

		h, p, ok := splitHostPort(before)
		if !ok || !isPort(p) {
			return "", "", "", "", errs.Config("missing port")
		}
		u, pw := splitColon(after)
		return h, p, u, pw, nil
	}

	// No '@': colon-packed forms. Count colons outside brackets.
	n := countColons(rest)
	switch n {
	case 1:
		h, p, ok := splitHostPort(rest)
		if !ok {
			return "", "", "", "", errs.Config("missing port")
		}
		return h, p, "", "", nil
	case 3:
		parts, err := splitOutsideBrackets(rest, 4)
		if err != nil {
			return "", "", "", "", err
		}
		return parts[0], parts[1], parts[2], parts[3], nil
	default:
		return "", "", "", "", errs.Config("invalid proxy string: expected 1 or 3 colons, got %d", n)
	}
}

// findUnbracketedAt returns the index of '@' outside any [...] span, or -1.
func findUnbracketedAt(s string) int {
	depth := 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case '@':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitHostPort splits "host:port" (host may be "[ipv6]") from the right.
func splitHostPort(s string) (host, port string, ok bool) {
	if s == "" {
		return "", "", false
	}
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", false
		}
		host = s[:end+1]
		rest := s[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return "", "", false
		}
		return host, rest[1:], true
	}
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// splitColon splits "user:pass" (pass may be empty / absent).
func splitColon(s string) (user, pass string) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}

// countColons counts ':' outside [...] spans.
func countColons(s string) int {
	depth := 0
	n := 0
	for _, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ':':
			if depth == 0 {
				n++
			}
		}
	}
	return n
}

// splitOutsideBrackets splits s into exactly n fields on ':' outside
// [...] spans.
func splitOutsideBrackets(s string, n int) ([]string, error) {
	fields := make([]string, 0, n)
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ':':
			if depth == 0 {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	fields = append(fields, s[start:])
	if len(fields) != n {
		return nil, errs.Config("invalid proxy string: expected %d fields, got %d", n, len(fields))
	}
	return fields, nil
}

func isPort(s string) bool {
	if s == "" {
		return false
	}
	n, err := strconv.Atoi(s)
	return err == nil && n >= 1 && n <= 65535
}

func validatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil {
		return errs.Config("invalid port %q", port)
	}
	if n < 1 || n > 65535 {
		return errs.Config("invalid port %d: must be in [1, 65535]", n)
	}
	return nil
}

// safe set: A-Z a-z 0-9 . _ ~ -
func isSafeByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '~' || b == '-':
		return true
	}
	return false
}

// percentEncode encodes everything outside the safe set, including '%'
// itself -- no attempt is made to detect already-encoded input.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafeByte(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// Parse parses a canonical proxy URL into an Endpoint. See spec §4.2.
func Parse(canonical string) (*Endpoint, error) {
	u, err := url.Parse(canonical)
	if err != nil {
		return nil, errs.Config("invalid proxy URL %q: %v", canonical, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !supportedSchemes[scheme] {
		return nil, errs.Config("unsupported proxy scheme %q", scheme)
	}

	host := u.Hostname()
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")

	portStr := u.Port()
	var port uint16
	if portStr == "" {
		port = defaultPort(scheme)
	} else {
		n, err := strconv.Atoi(portStr)
		if err != nil || n < 1 || n > 65535 {
			return nil, errs.Config("invalid port %q", portStr)
		}
		port = uint16(n)
	}

	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	return &Endpoint{
		Scheme:   scheme,
		Host:     host,
		Port:     port,
		User:     user,
		Password: pass,
	}, nil
}

func defaultPort(scheme string) uint16 {
	switch scheme {
	case "socks5", "socks4":
		return 1080
	default:
		return 8080
	}
}
