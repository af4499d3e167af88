// Package decode strips Content-Encoding from a response body. Each codec
// is backed by the same third-party library the rest of the corpus reaches
// for: klauspost/compress for gzip and zstd, andybalholm/brotli for br, and
// the standard library for deflate (no pack example imports a third-party
// deflate decoder).
package decode

import (
	"bytes"
	"compress/flate"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/WhileEndless/go-impersonate/pkg/errors"
)

// AcceptEncodingHeader joins the enabled codings in insertion order for the
// Accept-Encoding header the decoder layer inserts on an outbound request
// that carries neither Accept-Encoding nor Range.
func AcceptEncodingHeader(enabled []string) string {
	return strings.Join(enabled, ", ")
}

// Enabled reports whether coding (case-insensitive) is in the enabled list.
func Enabled(enabled []string, coding string) bool {
	coding = strings.ToLower(strings.TrimSpace(coding))
	for _, e := range enabled {
		if strings.ToLower(e) == coding {
			return true
		}
	}
	return false
}

// Decode returns body with the named Content-Encoding removed. encoding is
// matched case-insensitively; "identity" and "" are no-ops.
func Decode(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		return decodeGzip(body)
	case "deflate":
		return decodeDeflate(body)
	case "br":
		return decodeBrotli(body)
	case "zstd":
		return decodeZstd(body)
	default:
		return nil, errors.NewDecodeError(encoding, nil)
	}
}

// Chain decodes a comma-separated Content-Encoding list in the order it was
// applied on the wire (rightmost encoding applied last, so it is undone
// first) — per RFC 9110 §8.4.1.
func Chain(encoding string, body []byte) ([]byte, error) {
	parts := strings.Split(encoding, ",")
	out := body
	for i := len(parts) - 1; i >= 0; i-- {
		var err error
		out, err = Decode(strings.TrimSpace(parts[i]), out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeGzip(body []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewDecodeError("gzip", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewDecodeError("gzip", err)
	}
	return out, nil
}

func decodeDeflate(body []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(body))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewDecodeError("deflate", err)
	}
	return out, nil
}

func decodeBrotli(body []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(body))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewDecodeError("br", err)
	}
	return out, nil
}

func decodeZstd(body []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewDecodeError("zstd", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewDecodeError("zstd", err)
	}
	return out, nil
}
