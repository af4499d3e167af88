package connector

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/WhileEndless/go-impersonate/pkg/log"
)

func TestDialViaProxyUnsupportedTypeErrors(t *testing.T) {
	target := Target{Host: "example.com", Port: 443, Proxy: &ProxyConfig{Type: "bogus", Host: "proxy.example.com", Port: 8080}}
	_, err := dialViaProxy(context.Background(), target, "example.com:443", time.Second)
	if err == nil {
		t.Fatal("expected an error for an unsupported proxy type")
	}
}

func TestDialConnectionRefusedDoesNotPanicWithLogger(t *testing.T) {
	target := Target{
		Host:        "127.0.0.1",
		Port:        1, // almost never accepting connections
		ConnTimeout: 200 * time.Millisecond,
		Logger:      log.New(slog.Default()),
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, target, nil, nil); err == nil {
		t.Fatal("expected a dial error against a closed local port")
	}
}
