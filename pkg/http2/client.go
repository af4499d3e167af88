package http2

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/WhileEndless/go-impersonate/pkg/errors"
	"github.com/WhileEndless/go-impersonate/pkg/timing"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// Client is an HTTP/2 client implementation
type Client struct {
	transport     *Transport
	streamManager *StreamManager
	options       *Options
}

// NewClient creates a new HTTP/2 client
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}

	streamManager := NewStreamManager(opts.MaxConcurrentStreams)

	return &Client{
		transport:     NewTransport(opts),
		streamManager: streamManager,
		options:       opts,
	}
}

// Transport exposes the underlying connection transport, letting a caller
// establish a Connection itself (e.g. around an already-dialed net.Conn via
// ConnectWithConn) before driving it with DoRequest.
func (c *Client) Transport() *Transport {
	return c.transport
}

// Options returns the options this client was constructed with.
func (c *Client) Options() *Options {
	return c.options
}

// DoRequest sends req over an already-established Connection (as produced
// by Transport.ConnectWithConn around a pkg/connector dial) and reads the
// response. It never dials — the caller owns connection lifecycle, letting
// a dispatcher multiplex many requests over one pooled connection.
func (c *Client) DoRequest(ctx context.Context, conn *Connection, req *Request) (*Response, error) {
	timer := timing.NewTimer()
	startTime := time.Now()

	conn.mu.Lock()
	streamID := conn.NextStreamID
	conn.NextStreamID += 2
	conn.mu.Unlock()

	stream := &Stream{
		ID:             streamID,
		State:          StateOpen,
		Request:        req,
		WindowSize:     65535,
		PeerWindowSize: 65535,
	}
	c.streamManager.mu.Lock()
	c.streamManager.streams[streamID] = stream
	c.streamManager.mu.Unlock()

	headers := map[string]string{
		":method":    req.Method,
		":path":      req.Path,
		":scheme":    req.Scheme,
		":authority": req.Authority,
	}
	for k, v := range req.Headers {
		headers[k] = v
	}

	headersFrame := &HeadersFrame{
		StreamId:   streamID,
		Headers:    headers,
		EndStream:  len(req.Body) == 0,
		EndHeaders: true,
	}

	timer.StartTTFB()
	framesSent := 1
	if err := c.sendFrame(conn, headersFrame); err != nil {
		return nil, errors.NewIOError("sending headers frame", err)
	}
	if len(req.Body) > 0 {
		dataFrame := &DataFrame{StreamId: streamID, Data: req.Body, EndStream: true}
		if err := c.sendFrame(conn, dataFrame); err != nil {
			return nil, errors.NewIOError("sending data frame", err)
		}
		framesSent++
	}

	response, err := c.readResponse(ctx, conn, stream)
	if err != nil {
		return nil, err
	}
	timer.EndTTFB()

	response.TotalTime = time.Since(startTime)
	response.FrameStats = &FrameStats{FramesSent: framesSent, FramesReceived: len(response.Frames)}
	return response, nil
}

// sendFrame sends a single frame with thread-safe access
func (c *Client) sendFrame(conn *Connection, frame Frame) error {
	// Lock the connection for thread-safe frame sending
	// This prevents concurrent writes to the Framer which would corrupt the stream
	conn.mu.Lock()
	defer conn.mu.Unlock()

	// Update connection activity
	conn.LastActivity = time.Now()

	switch f := frame.(type) {
	case *HeadersFrame:
		// Encode headers using connection's encoder directly
		// We need to ensure we use the same encoder that was initialized with the connection
		if conn.Encoder == nil {
			return fmt.Errorf("connection encoder not initialized")
		}

		// Get the connection's encoder buffer and reset it for this frame
		conn.EncoderBuf.Reset()

		// Encode pseudo-headers first, in the fingerprint-visible order
		// declared by the active profile (falls back to a conventional
		// method/path/scheme/authority/status order when unset).
		pseudoOrder := c.options.PseudoHeaderOrder
		if len(pseudoOrder) == 0 {
			pseudoOrder = []string{":method", ":path", ":scheme", ":authority", ":status"}
		}
		written := make(map[string]bool, len(pseudoOrder))
		for _, name := range pseudoOrder {
			if value, ok := f.Headers[name]; ok {
				if err := conn.Encoder.WriteField(hpack.HeaderField{Name: name, Value: value}); err != nil {
					return fmt.Errorf("failed to encode pseudo-header %s: %w", name, err)
				}
				written[name] = true
			}
		}
		// Any pseudo-header present on the frame but absent from the
		// declared order still goes out, appended after the ordered set.
		for name, value := range f.Headers {
			if strings.HasPrefix(name, ":") && !written[name] {
				if err := conn.Encoder.WriteField(hpack.HeaderField{Name: name, Value: value}); err != nil {
					return fmt.Errorf("failed to encode pseudo-header %s: %w", name, err)
				}
			}
		}

		// Encode regular headers, preferring the declared header order and
		// falling back to map iteration for anything not named there.
		sent := make(map[string]bool, len(f.Headers))
		for _, name := range c.options.HeaderOrder {
			lname := strings.ToLower(name)
			if value, ok := f.Headers[lname]; ok && !strings.HasPrefix(lname, ":") {
				if err := conn.Encoder.WriteField(hpack.HeaderField{Name: lname, Value: value}); err != nil {
					return fmt.Errorf("failed to encode header %s: %w", lname, err)
				}
				sent[lname] = true
			}
		}
		for name, value := range f.Headers {
			if strings.HasPrefix(name, ":") || sent[name] {
				continue
			}
			if err := conn.Encoder.WriteField(hpack.HeaderField{Name: strings.ToLower(name), Value: value}); err != nil {
				return fmt.Errorf("failed to encode header %s: %w", name, err)
			}
		}

		encoded := conn.EncoderBuf.Bytes()

		// Send HEADERS frame
		return conn.Framer.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      f.StreamId,
			BlockFragment: encoded,
			EndStream:     f.EndStream,
			EndHeaders:    f.EndHeaders,
			Priority:      convertPriority(f.Priority),
		})

	case *DataFrame:
		// Send DATA frame
		return conn.Framer.WriteData(f.StreamId, f.EndStream, f.Data)

	default:
		return fmt.Errorf("unsupported frame type: %T", frame)
	}
}

// readResponse reads the complete response for a stream
func (c *Client) readResponse(ctx context.Context, conn *Connection, stream *Stream) (*Response, error) {
	response := &Response{
		StreamID:    stream.ID,
		Headers:     make(map[string][]string),
		Frames:      []Frame{},
		HTTPVersion: "HTTP/2",
	}

	// Read frames until stream is complete
	for {
		// Check context
		select {
		case <-ctx.Done():
			return nil, errors.NewTimeoutError("reading response", 30*time.Second)
		default:
		}

		// Read next frame
		rawFrame, err := conn.Framer.ReadFrame()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.NewIOError("reading frame", err)
		}

		// Update connection activity
		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()

		// Process frame based on type
		switch f := rawFrame.(type) {
		case *http2.HeadersFrame:
			if f.StreamID != stream.ID {
				continue // Frame for different stream
			}

			// Decode headers using connection's decoder
			converter := &Converter{
				encoder: conn.Encoder,
				decoder: conn.Decoder,
			}
			headers, err := converter.DecodeHeaders(f.HeaderBlockFragment())
			if err != nil {
				return nil, errors.NewProtocolError("decoding headers", err)
			}

			// Process status and headers
			for name, value := range headers {
				if name == ":status" {
					response.Status, _ = strconv.Atoi(value)
				} else if !strings.HasPrefix(name, ":") {
					response.Headers[name] = append(response.Headers[name], value)
				}
			}

			// Add to frames list
			response.Frames = append(response.Frames, &HeadersFrame{
				StreamId:   f.StreamID,
				Headers:    headers,
				EndStream:  f.StreamEnded(),
				EndHeaders: f.HeadersEnded(),
			})

			// Check if stream ended
			if f.StreamEnded() {
				return response, nil
			}

		case *http2.DataFrame:
			if f.StreamID != stream.ID {
				continue // Frame for different stream
			}

			// Append data
			data := f.Data()
			response.Body = append(response.Body, data...)

			// Send WINDOW_UPDATE to maintain flow control
			// This is critical for proper HTTP/2 flow control
			dataLen := len(data)
			if dataLen > 0 {
				// Update stream window
				if err := conn.Framer.WriteWindowUpdate(f.StreamID, uint32(dataLen)); err != nil {
					return nil, errors.NewIOError("sending stream window update", err)
				}
				// Update connection window
				if err := conn.Framer.WriteWindowUpdate(0, uint32(dataLen)); err != nil {
					return nil, errors.NewIOError("sending connection window update", err)
				}
			}

			// Add to frames list
			response.Frames = append(response.Frames, &DataFrame{
				StreamId:  f.StreamID,
				Data:      data,
				EndStream: f.StreamEnded(),
			})

			// Check if stream ended
			if f.StreamEnded() {
				return response, nil
			}

		case *http2.SettingsFrame:
			// ACK settings
			conn.Framer.WriteSettingsAck()

		case *http2.WindowUpdateFrame:
			// Update window size
			c.streamManager.UpdateWindowSize(f.StreamID, int32(f.Increment))

		case *http2.PingFrame:
			// Respond to PING with ACK
			conn.Framer.WritePing(true, f.Data)

		case *http2.GoAwayFrame:
			// Server is shutting down. NO_ERROR means it's done gracefully
			// and this stream can be retried on a fresh connection; any
			// other code is a genuine protocol failure.
			cause := fmt.Errorf("last stream: %d, error: %v", f.LastStreamID, f.ErrCode)
			if f.ErrCode == http2.ErrCodeNo {
				return nil, errors.NewH2RetryableError("server sent GOAWAY(NO_ERROR)", cause)
			}
			return nil, errors.NewProtocolError("server sent GOAWAY", cause)

		case *http2.RSTStreamFrame:
			if f.StreamID == stream.ID {
				cause := fmt.Errorf("error code: %v", f.ErrCode)
				if f.ErrCode == http2.ErrCodeRefusedStream {
					return nil, errors.NewH2RetryableError("stream reset (REFUSED_STREAM)", cause)
				}
				return nil, errors.NewProtocolError("stream reset", cause)
			}
		}
	}

	return response, nil
}

// Close closes the HTTP/2 client
func (c *Client) Close() error {
	return c.transport.Close()
}

// Helper functions

func convertPriority(p *PriorityParam) http2.PriorityParam {
	if p == nil {
		return http2.PriorityParam{}
	}
	return http2.PriorityParam{
		StreamDep: p.StreamDependency,
		Exclusive: p.Exclusive,
		Weight:    p.Weight,
	}
}
