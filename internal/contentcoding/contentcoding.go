// Package contentcoding applies the codecs named in an HTTP
// Content-Encoding header to an already chunk-decoded body. See spec §4.5.
//
// Grounded on caddyserver-caddy's modules/caddyhttp/encode/{gzip,zstd,brotli}
// packages, which wire the same klauspost/compress and andybalholm/brotli
// libraries on the encode side; this package performs the dual (decode)
// operation with the same libraries.
package contentcoding

import (
	"bytes"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	kflate "github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"
	kzlib "github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/sadewadee/socksfetch/internal/errs"
)

// Decode applies each comma-separated token in encoding to body, left to
// right, per spec §4.5. It returns the fully decoded body and whether any
// token was recognized and applied (callers use this to decide whether to
// strip Content-Encoding and rewrite Content-Length).
func Decode(encoding string, body []byte) (decoded []byte, applied bool, err error) {
	decoded = body
	tokens := strings.Split(encoding, ",")
	for _, raw := range tokens {
		token := strings.ToLower(strings.TrimSpace(raw))
		switch token {
		case "gzip":
			decoded, err = decodeGzip(decoded)
			if err != nil {
				return nil, false, errs.DecodeWrap(err, "gzip decode failed")
			}
			applied = true
		case "deflate":
			decoded, err = decodeDeflate(decoded)
			if err != nil {
				return nil, false, errs.DecodeWrap(err, "deflate decode failed")
			}
			applied = true
		case "br":
			decoded, err = decodeBrotli(decoded)
			if err != nil {
				return nil, false, errs.DecodeWrap(err, "brotli decode failed")
			}
			applied = true
		case "zstd":
			decoded, err = decodeZstd(decoded)
			if err != nil {
				return nil, false, errs.DecodeWrap(err, "zstd decode failed")
			}
			applied = true
		case "":
			// empty token from a trailing/leading comma; ignore
		default:
			// unknown token: pass through unchanged per spec §4.5
		}
	}
	return decoded, applied, nil
}

func decodeGzip(body []byte) ([]byte, error) {
	r, err := kgzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// decodeDeflate implements spec's pragmatic fallback chain: raw deflate,
// then zlib-wrapped deflate, then gzip, propagating the last error if all
// three fail. This is flagged in spec §9 as non-standard (some servers
// mislabel their encoding) and is preserved deliberately.
func decodeDeflate(body []byte) ([]byte, error) {
	if out, err := readAllClose(kflate.NewReader(bytes.NewReader(body))); err == nil {
		return out, nil
	}

	zr, zerr := kzlib.NewReader(bytes.NewReader(body))
	if zerr == nil {
		out, err := io.ReadAll(zr)
		zr.Close()
		if err == nil {
			return out, nil
		}
		zerr = err
	}

	out, gerr := decodeGzip(body)
	if gerr == nil {
		return out, nil
	}

	return nil, gerr
}

func readAllClose(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r)
}

func decodeBrotli(body []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(body))
	return io.ReadAll(r)
}

func decodeZstd(body []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
