// Package connector establishes the raw network connection a dispatcher
// sends requests over: TCP dial (direct or via proxy), then a uTLS
// handshake driven by an emulation.Profile so the wire-level ClientHello
// matches the impersonated browser byte for byte.
//
// Generalizes the dial/proxy logic of this module's HTTP/1 transport layer,
// replacing its crypto/tls.Client handshake with utls.UClient so the
// extension order, cipher list, and ALPN offer come from the active
// profile instead of Go's TLS stack defaults.
package connector

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
	netproxy "golang.org/x/net/proxy"

	"github.com/WhileEndless/go-impersonate/pkg/emulation"
	"github.com/WhileEndless/go-impersonate/pkg/errors"
	"github.com/WhileEndless/go-impersonate/pkg/log"
	"github.com/WhileEndless/go-impersonate/pkg/timing"
	"github.com/WhileEndless/go-impersonate/pkg/tlsconf"
)

// ProxyConfig describes an upstream proxy to dial through.
type ProxyConfig struct {
	Type        string // "http", "https", "socks4", "socks4a", "socks5", "socks5h"
	Host        string
	Port        int
	Username    string
	Password    string
	ConnTimeout time.Duration
	Headers     map[string]string
	TLSConfig   *tls.Config
}

// NetworkConfig controls the socket-level behavior of a Dial: which local
// address/interface it binds from and how its TCP keepalive and Nagle
// settings are tuned. Zero value means "let the OS decide everything".
type NetworkConfig struct {
	LocalAddr string // bind to this local IP (v4 or v6); empty lets the OS choose
	Interface string // SO_BINDTODEVICE network interface name (linux only); empty = none

	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
	KeepAliveCount    int

	NoDelay *bool // nil = OS default; non-nil forces TCP_NODELAY on/off
}

// Identity returns a string that uniquely identifies the network identity
// a connection was dialed with — used to key pooled connections so a bind
// address or interface change doesn't hand a request a connection dialed
// under a different local identity.
func (n NetworkConfig) Identity() string {
	if n.LocalAddr == "" && n.Interface == "" {
		return ""
	}
	return n.LocalAddr + "|" + n.Interface
}

// Target describes the connection this Dial call must produce.
type Target struct {
	Host       string
	Port       int
	ServerName string // SNI override; defaults to Host
	ConnectIP  string // bypass DNS, dial this IP instead
	PlainText  bool   // h2c / cleartext http — skip TLS entirely
	Proxy      *ProxyConfig
	Network    NetworkConfig

	ConnTimeout        time.Duration
	InsecureSkipVerify bool
	RootCAs            *tls.Config // optional full passthrough (custom CAs, client certs)
	KeyLog             io.Writer   // NSS SSLKEYLOGFILE sink, nil to disable
	Logger             *log.Logger // connection-lifecycle diagnostics sink; nil logs nothing
}

// newDialer builds a net.Dialer configured from target's NetworkConfig:
// local bind address, keepalive tuning, and (via bindToDeviceControl,
// platform specific) SO_BINDTODEVICE. TCP_NODELAY is set on the dialed
// connection afterwards by applyNoDelay.
func newDialer(target Target, timeout time.Duration) *net.Dialer {
	d := &net.Dialer{Timeout: timeout}

	n := target.Network
	if n.LocalAddr != "" {
		if ip := net.ParseIP(n.LocalAddr); ip != nil {
			d.LocalAddr = &net.TCPAddr{IP: ip}
		}
	}

	if n.KeepAliveIdle > 0 || n.KeepAliveInterval > 0 || n.KeepAliveCount > 0 {
		d.KeepAliveConfig = net.KeepAliveConfig{
			Enable:   true,
			Idle:     n.KeepAliveIdle,
			Interval: n.KeepAliveInterval,
			Count:    n.KeepAliveCount,
		}
	}

	if n.Interface != "" {
		d.Control = bindToDeviceControl(n.Interface)
	}

	return d
}

// applyNoDelay forces TCP_NODELAY on or off on conn per n.NoDelay, when
// conn is a *net.TCPConn and the caller asked for a non-default setting.
func applyNoDelay(conn net.Conn, n NetworkConfig) {
	if n.NoDelay == nil {
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(*n.NoDelay)
	}
}

// Result is what a successful Dial hands back to the caller.
type Result struct {
	Conn               net.Conn
	NegotiatedProtocol string // "h2", "http/1.1", or "" for plaintext
	TLSVersion         uint16
	CipherSuite        uint16
	PeerCertificates   [][]byte
}

// Dial connects to target, optionally through a proxy, and — unless
// target.PlainText is set — performs a uTLS handshake using profile's
// fingerprint. timer, if non-nil, records phase durations.
func Dial(ctx context.Context, target Target, profile *emulation.Profile, timer *timing.Timer) (*Result, error) {
	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	dialAddr := addr
	if target.ConnectIP != "" {
		dialAddr = net.JoinHostPort(target.ConnectIP, strconv.Itoa(target.Port))
	}

	connTimeout := target.ConnTimeout
	if connTimeout <= 0 {
		connTimeout = 30 * time.Second
	}

	var conn net.Conn
	var err error

	if timer != nil {
		timer.StartTCP()
	}
	if target.Proxy != nil {
		target.Logger.Debug("dialing via proxy", "addr", addr, "proxy_type", target.Proxy.Type, "proxy_host", target.Proxy.Host)
		conn, err = dialViaProxy(ctx, target, addr, connTimeout)
	} else {
		target.Logger.Debug("dialing", "addr", dialAddr)
		d := newDialer(target, connTimeout)
		conn, err = d.DialContext(ctx, "tcp", dialAddr)
	}
	if timer != nil {
		timer.EndTCP()
	}
	if err != nil {
		target.Logger.Warn("dial failed", "addr", addr, "error", err)
		return nil, errors.NewConnectError("dial", target.Host, target.Port, err)
	}
	applyNoDelay(conn, target.Network)

	if target.PlainText {
		return &Result{Conn: conn}, nil
	}

	serverName := target.ServerName
	if serverName == "" {
		serverName = target.Host
	}

	if timer != nil {
		timer.StartTLS()
	}
	result, err := handshake(ctx, conn, serverName, target.InsecureSkipVerify, profile, target.KeyLog)
	if timer != nil {
		timer.EndTLS()
	}
	if err != nil {
		target.Logger.Warn("tls handshake failed", "server_name", serverName, "error", err)
		conn.Close()
		return nil, errors.NewConnectError("tls", target.Host, target.Port, err)
	}
	target.Logger.Debug("tls handshake complete", "server_name", serverName, "alpn", result.NegotiatedProtocol, "tls_version", result.TLSVersion)
	return result, nil
}

// handshake performs the uTLS ClientHello realized from profile against an
// already-dialed net.Conn.
func handshake(ctx context.Context, raw net.Conn, serverName string, insecure bool, profile *emulation.Profile, keyLog io.Writer) (*Result, error) {
	config := &utls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecure,
		KeyLogWriter:       keyLog,
	}

	uconn := utls.UClient(raw, config, utls.HelloCustom)

	if profile != nil {
		spec, err := tlsconf.Build(profile, serverName)
		if err != nil {
			return nil, fmt.Errorf("building client hello spec: %w", err)
		}
		if err := uconn.ApplyPreset(spec); err != nil {
			return nil, fmt.Errorf("applying client hello spec: %w", err)
		}
	}

	if err := uconn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	state := uconn.ConnectionState()
	var peerCerts [][]byte
	for _, c := range state.PeerCertificates {
		peerCerts = append(peerCerts, c.Raw)
	}

	return &Result{
		Conn:               uconn,
		NegotiatedProtocol: state.NegotiatedProtocol,
		TLSVersion:         state.Version,
		CipherSuite:        state.CipherSuite,
		PeerCertificates:   peerCerts,
	}, nil
}

func dialViaProxy(ctx context.Context, target Target, targetAddr string, timeout time.Duration) (net.Conn, error) {
	p := target.Proxy
	if p.Host == "" {
		return nil, fmt.Errorf("proxy host is empty")
	}
	proxyPort := p.Port
	if proxyPort == 0 {
		switch p.Type {
		case "http":
			proxyPort = 8080
		case "https":
			proxyPort = 443
		case "socks4", "socks4a", "socks5", "socks5h":
			proxyPort = 1080
		default:
			return nil, fmt.Errorf("unsupported proxy type: %s", p.Type)
		}
	}
	proxyAddr := net.JoinHostPort(p.Host, strconv.Itoa(proxyPort))

	switch p.Type {
	case "http", "https":
		return dialHTTPConnect(ctx, target, proxyAddr, targetAddr, timeout)
	case "socks4":
		return dialSOCKS4(ctx, target, proxyAddr, targetAddr, timeout, false)
	case "socks4a":
		return dialSOCKS4(ctx, target, proxyAddr, targetAddr, timeout, true)
	case "socks5":
		return dialSOCKS5(ctx, target, proxyAddr, targetAddr, timeout, false)
	case "socks5h":
		return dialSOCKS5(ctx, target, proxyAddr, targetAddr, timeout, true)
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", p.Type)
	}
}

func dialHTTPConnect(ctx context.Context, target Target, proxyAddr string, targetAddr string, timeout time.Duration) (net.Conn, error) {
	p := target.Proxy
	dialer := newDialer(target, timeout)
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("connecting to proxy: %w", err)
	}

	if p.Type == "https" {
		tlsConfig := p.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: p.Host}
		} else {
			tlsConfig = tlsConfig.Clone()
		}
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake to proxy: %w", err)
		}
		conn = tlsConn
	}

	connectReq := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nConnection: keep-alive\r\n", targetAddr, target.Host)
	for k, v := range p.Headers {
		connectReq += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	if p.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(p.Username + ":" + p.Password))
		connectReq += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", auth)
	}
	connectReq += "\r\n"

	if _, err := conn.Write([]byte(connectReq)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending CONNECT: %w", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading CONNECT response: %w", err)
	}
	if !strings.Contains(statusLine, " 200") {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", strings.TrimSpace(statusLine))
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("reading CONNECT headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	return conn, nil
}

// dialSOCKS4 implements RFC 1928's predecessor protocol manually — IPv4
// only, no x/net/proxy support for SOCKS4. When socks4a is true, the
// target host is not resolved locally: the request carries the SOCKS4a
// placeholder IP 0.0.0.1 and the hostname as a trailing field, leaving
// resolution to the proxy.
func dialSOCKS4(ctx context.Context, target Target, proxyAddr, targetAddr string, timeout time.Duration, socks4a bool) (net.Conn, error) {
	p := target.Proxy
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid target address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	var targetIP net.IP
	if socks4a {
		targetIP = net.IPv4(0, 0, 0, 1)
	} else {
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
		if err != nil || len(ips) == 0 {
			return nil, fmt.Errorf("resolving %s for SOCKS4: %w", host, err)
		}
		targetIP = ips[0].To4()
		if targetIP == nil {
			return nil, fmt.Errorf("no IPv4 address for %s (SOCKS4 requires IPv4)", host)
		}
	}

	dialer := newDialer(target, timeout)
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("connecting to SOCKS4 proxy: %w", err)
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port & 0xFF)}
	req = append(req, targetIP.To4()...)
	if p.Username != "" {
		req = append(req, []byte(p.Username)...)
	}
	req = append(req, 0x00)
	if socks4a {
		req = append(req, []byte(host)...)
		req = append(req, 0x00)
	}

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending SOCKS4 request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading SOCKS4 response: %w", err)
	}
	if resp[1] != 0x5A {
		conn.Close()
		return nil, fmt.Errorf("SOCKS4 request failed, status 0x%02X", resp[1])
	}
	return conn, nil
}

// dialSOCKS5 connects through a SOCKS5 proxy. When remoteResolve is false
// ("socks5"), the target hostname is resolved locally before the proxy
// request, matching curl/browsers' plain "socks5" behavior; when true
// ("socks5h"), the hostname is handed to the proxy unresolved and it
// performs the DNS lookup on the proxy's side.
func dialSOCKS5(ctx context.Context, target Target, proxyAddr, targetAddr string, timeout time.Duration, remoteResolve bool) (net.Conn, error) {
	p := target.Proxy
	var auth *netproxy.Auth
	if p.Username != "" {
		auth = &netproxy.Auth{User: p.Username, Password: p.Password}
	}
	dialer, err := netproxy.SOCKS5("tcp", proxyAddr, auth, newDialer(target, timeout))
	if err != nil {
		return nil, fmt.Errorf("creating SOCKS5 dialer: %w", err)
	}

	dialAddr := targetAddr
	if !remoteResolve {
		host, portStr, err := net.SplitHostPort(targetAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid target address: %w", err)
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil || len(ips) == 0 {
			return nil, fmt.Errorf("resolving %s for SOCKS5: %w", host, err)
		}
		dialAddr = net.JoinHostPort(ips[0].IP.String(), portStr)
	}

	conn, err := dialer.Dial("tcp", dialAddr)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 connect: %w", err)
	}
	return conn, nil
}
