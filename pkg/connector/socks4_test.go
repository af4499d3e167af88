package connector

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

// fakeSOCKS4Proxy accepts one connection, records the raw request bytes,
// and replies with a SOCKS4 success response.
func fakeSOCKS4Proxy(t *testing.T) (addr string, received chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	received = make(chan []byte, 1)
	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		received <- append([]byte(nil), buf[:n]...)
		conn.Write([]byte{0x00, 0x5A, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	}()
	return ln.Addr().String(), received
}

func TestDialSOCKS4PlainResolvesLocallyAndOmitsHostname(t *testing.T) {
	proxyAddr, received := fakeSOCKS4Proxy(t)
	target := Target{Proxy: &ProxyConfig{Type: "socks4", Host: "proxy"}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := dialSOCKS4(ctx, target, proxyAddr, "127.0.0.1:443", time.Second, false)
	if err != nil {
		t.Fatalf("dialSOCKS4: %v", err)
	}
	defer conn.Close()

	req := <-received
	if !bytes.Equal(req[4:8], net.IPv4(127, 0, 0, 1).To4()) {
		t.Fatalf("expected resolved IPv4 address in request, got %v", req[4:8])
	}
	if len(req) != 9 {
		t.Fatalf("plain SOCKS4 request should end after the null-terminated userid (9 bytes), got %d: %v", len(req), req)
	}
}

func TestDialSOCKS4aSendsPlaceholderIPAndHostname(t *testing.T) {
	proxyAddr, received := fakeSOCKS4Proxy(t)
	target := Target{Proxy: &ProxyConfig{Type: "socks4a", Host: "proxy"}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := dialSOCKS4(ctx, target, proxyAddr, "internal.example.com:443", time.Second, true)
	if err != nil {
		t.Fatalf("dialSOCKS4: %v", err)
	}
	defer conn.Close()

	req := <-received
	if !bytes.Equal(req[4:8], net.IPv4(0, 0, 0, 1).To4()) {
		t.Fatalf("expected SOCKS4a placeholder IP 0.0.0.1, got %v", req[4:8])
	}
	if !bytes.Contains(req, []byte("internal.example.com\x00")) {
		t.Fatalf("expected trailing null-terminated hostname in SOCKS4a request, got %v", req)
	}
}
