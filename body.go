package impersonate

import (
	"fmt"
	"io"
)

// BodyKind distinguishes the three shapes a request body can take.
type BodyKind int

const (
	// BodyEmpty carries no data.
	BodyEmpty BodyKind = iota
	// BodyBytes holds an already-materialized, replayable byte slice.
	BodyBytes
	// BodyStream wraps a one-shot io.Reader: consumed exactly once, never
	// replayable across a redirect.
	BodyStream
)

// Body is a request body in one of three states: empty, in-memory bytes
// (safe to resend on a redirect), or a one-shot stream (consumed once,
// never resent). RequestBuilder.Send uses Reusable to decide whether a
// 307/308 redirect may replay the body, per redirect.Next's bodyReusable
// contract.
type Body struct {
	kind   BodyKind
	bytes  []byte
	stream io.Reader
}

// BytesBody wraps data as a reusable, in-memory body.
func BytesBody(data []byte) Body {
	if len(data) == 0 {
		return Body{}
	}
	return Body{kind: BodyBytes, bytes: data}
}

// StreamBody wraps r as a one-shot body; it is read exactly once and
// cannot be replayed on a redirect.
func StreamBody(r io.Reader) Body {
	if r == nil {
		return Body{}
	}
	return Body{kind: BodyStream, stream: r}
}

// Reusable reports whether this body can be safely resent on a redirect.
func (b Body) Reusable() bool {
	return b.kind != BodyStream
}

// Empty reports whether this body carries no data.
func (b Body) Empty() bool {
	return b.kind == BodyEmpty
}

// materialize drains the body to bytes for one send. Callers must treat a
// BodyStream as consumed afterward — materialize never re-reads a stream
// that already returned data.
func (b Body) materialize() ([]byte, error) {
	switch b.kind {
	case BodyBytes:
		return b.bytes, nil
	case BodyStream:
		data, err := io.ReadAll(b.stream)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		return data, nil
	default:
		return nil, nil
	}
}
