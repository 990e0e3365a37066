// Package errs defines the typed error taxonomy shared by the dialer,
// the HTTP wire layer, and the redirect driver.
package errs

import (
	"errors"
	"fmt"
)

// Class identifies which branch of the taxonomy an error belongs to.
type Class string

const (
	ClassConfig    Class = "config_error"
	ClassProxy     Class = "proxy_error"
	ClassTLS       Class = "tls_error"
	ClassHTTP      Class = "http_error"
	ClassDecode    Class = "decode_error"
	ClassCancelled Class = "cancelled"
	ClassRedirect  Class = "redirect_error"
)

// ProxyReason distinguishes the proxy_error subclasses from spec §7.
type ProxyReason string

const (
	ProxyUnreachable       ProxyReason = "unreachable"
	ProxyTimeout           ProxyReason = "timeout"
	ProxyProtocolViolation ProxyReason = "protocol_violation"
	ProxyAuthRequired      ProxyReason = "auth_required"
	ProxyAuthFailed        ProxyReason = "auth_failed"
	ProxyConnectRejected   ProxyReason = "connect_rejected"
	ProxyHostNotFound      ProxyReason = "host_not_found"
)

// Error is the typed error carried through the core. The root package
// returns it as a plain error, matching net/http's contract; callers that
// need the taxonomy use errors.As.
type Error struct {
	Class  Class
	Reason ProxyReason // only meaningful when Class == ClassProxy
	Code   int         // REP code for connect_rejected, status for redirect checks
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Config(format string, args ...any) error {
	return &Error{Class: ClassConfig, Msg: fmt.Sprintf(format, args...)}
}

func Proxy(reason ProxyReason, format string, args ...any) error {
	return &Error{Class: ClassProxy, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

func ProxyWrap(reason ProxyReason, err error, format string, args ...any) error {
	return &Error{Class: ClassProxy, Reason: reason, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ConnectRejected builds the proxy_connect_rejected(code) error from §7.
func ConnectRejected(code int) error {
	return &Error{
		Class:  ClassProxy,
		Reason: ProxyConnectRejected,
		Code:   code,
		Msg:    fmt.Sprintf("SOCKS5 CONNECT rejected with REP code 0x%02x", code),
	}
}

func TLS(err error) error {
	return &Error{Class: ClassTLS, Msg: "TLS handshake failed", Err: err}
}

func HTTP(format string, args ...any) error {
	return &Error{Class: ClassHTTP, Msg: fmt.Sprintf(format, args...)}
}

func Decode(format string, args ...any) error {
	return &Error{Class: ClassDecode, Msg: fmt.Sprintf(format, args...)}
}

func DecodeWrap(err error, format string, args ...any) error {
	return &Error{Class: ClassDecode, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Cancelled builds the cancelled error, optionally noting a redirect hop
// count per spec §7 ("messages produced by the redirect driver include hop
// count").
func Cancelled(reason error, hop int) error {
	e := &Error{Class: ClassCancelled, Err: reason}
	if hop >= 0 {
		e.Msg = fmt.Sprintf("request aborted after %d redirect hop(s)", hop)
	} else {
		e.Msg = "request aborted"
	}
	return e
}

func Redirect(format string, args ...any) error {
	return &Error{Class: ClassRedirect, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err is an *Error of the given class.
func Is(err error, class Class) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}
