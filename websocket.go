package impersonate

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/net/websocket"

	"github.com/WhileEndless/go-impersonate/pkg/connector"
	"github.com/WhileEndless/go-impersonate/pkg/errors"
	"github.com/WhileEndless/go-impersonate/pkg/timing"
	"github.com/WhileEndless/go-impersonate/pkg/wsupgrade"
)

// WebSocketRequestBuilder configures a WebSocket upgrade over a
// fingerprinted connection.
type WebSocketRequestBuilder struct {
	client   *Client
	rawURL   string
	origin   string
	protocol string
}

// Origin sets the Origin header sent with the handshake.
func (b *WebSocketRequestBuilder) Origin(origin string) *WebSocketRequestBuilder {
	b.origin = origin
	return b
}

// Protocol sets the Sec-WebSocket-Protocol offer.
func (b *WebSocketRequestBuilder) Protocol(protocol string) *WebSocketRequestBuilder {
	b.protocol = protocol
	return b
}

// Connect dials the target authority with the client's active emulation
// profile and performs the WebSocket handshake on that same
// TLS-fingerprinted connection — unlike a plain HTTP request,
// the connection is handed off whole to golang.org/x/net/websocket and
// never returned to the pool.
func (b *WebSocketRequestBuilder) Connect(ctx context.Context) (*WebSocketConn, error) {
	target, err := url.Parse(b.rawURL)
	if err != nil {
		return nil, errors.NewURLError(b.rawURL, err)
	}

	snap := b.client.state.Load()
	host := target.Hostname()
	port := portFor(target)

	var proxyCfg *connector.ProxyConfig
	if snap.Proxies != nil {
		proxyCfg = snap.Proxies.For(target.Scheme, host)
	}

	dialTarget := connector.Target{
		Host:               host,
		Port:               port,
		PlainText:          target.Scheme == "ws",
		Proxy:              proxyCfg,
		Network:            snap.Network,
		ConnTimeout:        snap.ConnTimeout,
		InsecureSkipVerify: snap.InsecureSkipVerify,
		Logger:             b.client.logger,
	}

	result, err := connector.Dial(ctx, dialTarget, snap.Profile, timing.NewTimer())
	if err != nil {
		return nil, err
	}

	origin := b.origin
	if origin == "" {
		origin = fmt.Sprintf("%s://%s", httpSchemeFor(target), target.Host)
	}

	ws, err := wsupgrade.Upgrade(result.Conn, target, wsupgrade.Options{Origin: origin, Protocol: b.protocol})
	if err != nil {
		result.Conn.Close()
		return nil, err
	}
	return &WebSocketConn{ws: ws}, nil
}

func httpSchemeFor(u *url.URL) string {
	if u.Scheme == "wss" {
		return "https"
	}
	return "http"
}

// WebSocketConn wraps a negotiated WebSocket connection with Text/Binary
// message helpers.
type WebSocketConn struct {
	ws *websocket.Conn
}

// SendText sends a UTF-8 text frame.
func (c *WebSocketConn) SendText(msg string) error {
	return websocket.Message.Send(c.ws, msg)
}

// SendBinary sends a binary frame.
func (c *WebSocketConn) SendBinary(data []byte) error {
	return websocket.Message.Send(c.ws, data)
}

// ReceiveText reads the next frame as text.
func (c *WebSocketConn) ReceiveText() (string, error) {
	var msg string
	err := websocket.Message.Receive(c.ws, &msg)
	return msg, err
}

// ReceiveBinary reads the next frame as bytes.
func (c *WebSocketConn) ReceiveBinary() ([]byte, error) {
	var msg []byte
	err := websocket.Message.Receive(c.ws, &msg)
	return msg, err
}

// Close closes the underlying connection.
func (c *WebSocketConn) Close() error { return c.ws.Close() }
