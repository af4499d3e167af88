// Package h1 writes and reads HTTP/1.1 messages at the byte level, honoring
// a profile's declared header order instead of Go's canonical map
// iteration. It is the HTTP/1 half of the dispatcher; pkg/http2 is its
// HTTP/2 counterpart.
//
// The wire-level read path (status line / header / chunked / fixed-length /
// read-until-close body handling, including tolerance for RFC-violating
// Content-Length mismatches) generalizes this module's original raw-socket
// response reader.
package h1

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-impersonate/pkg/buffer"
	"github.com/WhileEndless/go-impersonate/pkg/errors"
)

const maxHeaderBytes = 1 << 20 // 1MiB of header data before we give up

// Message is a fully-formed HTTP/1 request ready to serialize. Headers are
// a flat ordered list so repeated header names and exact casing survive.
type Message struct {
	Method  string
	Path    string // includes query string
	Version string // "HTTP/1.1" or "HTTP/1.0"
	Host    string
	Headers []HeaderField
	Body    []byte
}

// HeaderField is one header line, casing preserved as given.
type HeaderField struct {
	Name  string
	Value string
}

// Write serializes msg onto w in exactly the field order given — the
// caller (dispatcher, driven by an emulation.Profile's HeaderOrder) is
// responsible for ordering Headers before calling this.
func Write(w io.Writer, msg Message) error {
	version := msg.Version
	if version == "" {
		version = "HTTP/1.1"
	}
	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintf(bw, "%s %s %s\r\n", msg.Method, msg.Path, version); err != nil {
		return errors.NewIOError("writing request line", err)
	}
	for _, h := range msg.Headers {
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", h.Name, h.Value); err != nil {
			return errors.NewIOError("writing header", err)
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return errors.NewIOError("writing header terminator", err)
	}
	if len(msg.Body) > 0 {
		if _, err := bw.Write(msg.Body); err != nil {
			return errors.NewIOError("writing body", err)
		}
	}
	return bw.Flush()
}

// Response is a parsed HTTP/1 response: status line, headers (a map, so
// wire order is not kept; duplicates preserved via the slice value), the
// body with chunked framing removed (content-coding is not decoded here),
// and the raw bytes as received.
type Response struct {
	HTTPVersion string
	StatusCode  int
	StatusLine  string
	Headers     map[string][]string
	Body        *buffer.Buffer
	Raw         *buffer.Buffer
}

// ReadOptions bounds body buffering.
type ReadOptions struct {
	BodyMemLimit int64
	RawMemLimit  int64
}

// Read parses one HTTP/1 response from r. method is the request method
// that produced this response (HEAD, 1xx, 204 and 304 responses are read
// without a body unless body bytes have already arrived in r's buffer).
func Read(r *bufio.Reader, method string, opts ReadOptions) (*Response, error) {
	resp := &Response{
		Headers: make(map[string][]string),
		Body:    buffer.New(opts.BodyMemLimit),
		Raw:     buffer.New(opts.RawMemLimit),
	}

	statusLine, err := readLine(r)
	if err != nil {
		return nil, errors.NewProtocolError("reading status line", err)
	}
	resp.StatusLine = statusLine
	if _, err := resp.Raw.Write([]byte(statusLine + "\r\n")); err != nil {
		return nil, err
	}
	if err := parseStatusLine(statusLine, resp); err != nil {
		return nil, err
	}

	if err := readHeaders(r, resp); err != nil {
		return nil, err
	}

	if err := readBody(r, resp, method); err != nil {
		return nil, err
	}

	return resp, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) >= 2 && line[len(line)-2:] == "\r\n" {
		return line[:len(line)-2], nil
	}
	return strings.TrimRight(line, "\n"), nil
}

func parseStatusLine(statusLine string, resp *Response) error {
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return errors.NewProtocolError("invalid status line format", nil)
	}
	resp.HTTPVersion = parts[0]
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return errors.NewProtocolError("invalid status code", err)
	}
	resp.StatusCode = code
	return nil
}

func readHeaders(r *bufio.Reader, resp *Response) error {
	total := 0
	var lastKey string

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return errors.NewProtocolError("reading headers", err)
		}
		total += len(line)
		if total > maxHeaderBytes {
			return errors.NewProtocolError("headers exceed maximum size", nil)
		}
		if _, err := resp.Raw.Write([]byte(line)); err != nil {
			return err
		}
		if line == "\r\n" {
			break
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t") {
			if lastKey == "" {
				continue
			}
			idx := len(resp.Headers[lastKey]) - 1
			resp.Headers[lastKey][idx] += strings.TrimSpace(trimmed)
			continue
		}

		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		resp.Headers[key] = append(resp.Headers[key], value)
		lastKey = key
	}
	return nil
}

func headerValue(headers map[string][]string, key string) string {
	if values, ok := headers[textproto.CanonicalMIMEHeaderKey(key)]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

// readBody dispatches on Transfer-Encoding/Content-Length, tolerating the
// RFC violations real-world servers produce (Content-Length that doesn't
// match the actual body, chunked bodies on 204 responses, and so on) by
// favoring what the server actually sent over what the headers claim.
func readBody(r *bufio.Reader, resp *Response, method string) error {
	transferEncoding := headerValue(resp.Headers, "Transfer-Encoding")
	contentLength := headerValue(resp.Headers, "Content-Length")

	if method == "HEAD" ||
		(resp.StatusCode >= 100 && resp.StatusCode < 200) ||
		resp.StatusCode == 204 ||
		resp.StatusCode == 304 {
		if r.Buffered() == 0 {
			return nil
		}
	}

	switch {
	case strings.Contains(strings.ToLower(transferEncoding), "chunked"):
		return readChunkedBody(r, resp)
	case contentLength != "":
		length, err := strconv.ParseInt(strings.TrimSpace(contentLength), 10, 64)
		if err != nil {
			return errors.NewProtocolError("invalid content-length", err)
		}
		if length < 0 {
			return errors.NewProtocolError("negative content-length not allowed", nil)
		}
		if length > 1<<40 {
			return errors.NewProtocolError("content-length too large", nil)
		}
		return readFixedBody(r, length, resp)
	default:
		return readUntilClose(r, resp)
	}
}

func readChunkedBody(r *bufio.Reader, resp *Response) error {
	tp := textproto.NewReader(r)
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return errors.NewProtocolError("reading chunk size", err)
		}
		if _, err := resp.Raw.Write([]byte(line + "\r\n")); err != nil {
			return err
		}
		size, err := strconv.ParseInt(strings.TrimSpace(strings.Split(line, ";")[0]), 16, 64)
		if err != nil {
			return errors.NewProtocolError("invalid chunk size", err)
		}
		if size == 0 {
			break
		}
		if _, err := io.CopyN(io.MultiWriter(resp.Body, resp.Raw), tp.R, size); err != nil {
			return errors.NewIOError("reading chunk body", err)
		}
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(tp.R, crlf); err != nil {
			return errors.NewIOError("reading chunk CRLF", err)
		}
		if _, err := resp.Raw.Write(crlf); err != nil {
			return err
		}
	}

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return errors.NewProtocolError("reading chunk trailer", err)
		}
		if _, err := resp.Raw.Write([]byte(line + "\r\n")); err != nil {
			return err
		}
		if line == "" {
			break
		}
		if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
			key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(parts[0]))
			value := strings.TrimSpace(parts[1])
			resp.Headers[key] = append(resp.Headers[key], value)
		}
	}
	return nil
}

func readFixedBody(r *bufio.Reader, length int64, resp *Response) error {
	if length <= 0 {
		return nil
	}
	_, err := io.CopyN(io.MultiWriter(resp.Body, resp.Raw), r, length)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		return errors.NewIOError("reading fixed body", err)
	}
	return nil
}

func readUntilClose(r *bufio.Reader, resp *Response) error {
	_, err := io.Copy(io.MultiWriter(resp.Body, resp.Raw), r)
	if err != nil && err != io.EOF {
		return errors.NewIOError("reading until close", err)
	}
	return nil
}
