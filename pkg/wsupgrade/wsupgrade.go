// Package wsupgrade performs the client side of an RFC 6455 WebSocket
// upgrade over a connection this module already dialed and TLS-fingerprinted
// via pkg/connector, handing the result to golang.org/x/net/websocket for
// the framing layer rather than reimplementing it.
//
// Grounded on the legacy Caddy reverse-proxy websocket middleware's use of
// golang.org/x/net/websocket for the client-facing half of a proxied
// upgrade.
package wsupgrade

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/websocket"

	"github.com/WhileEndless/go-impersonate/pkg/errors"
)

// Options configures the upgrade handshake.
type Options struct {
	Origin   string
	Protocol string // Sec-WebSocket-Protocol offer, empty to omit
}

// Upgrade performs the WebSocket handshake on conn (already connected and,
// for wss, already TLS-handshaked by the caller) and returns a
// *websocket.Conn ready for Send/Receive.
func Upgrade(conn net.Conn, target *url.URL, opts Options) (*websocket.Conn, error) {
	wsConfig, err := websocket.NewConfig(wsURL(target), opts.Origin)
	if err != nil {
		return nil, errors.NewUpgradeError("building websocket config", err)
	}
	if opts.Protocol != "" {
		wsConfig.Protocol = []string{opts.Protocol}
	}
	if target.Scheme == "wss" {
		wsConfig.TlsConfig = &tls.Config{ServerName: target.Hostname()}
	}

	ws, err := websocket.NewClient(wsConfig, conn)
	if err != nil {
		return nil, errors.NewUpgradeError("websocket handshake failed", err)
	}
	return ws, nil
}

func wsURL(target *url.URL) string {
	scheme := "ws"
	if target.Scheme == "https" || target.Scheme == "wss" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, target.Host, target.RequestURI())
}
