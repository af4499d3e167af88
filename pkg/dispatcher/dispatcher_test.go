package dispatcher

import (
	"net"
	"testing"
	"time"

	"github.com/WhileEndless/go-impersonate/pkg/connector"
	"github.com/WhileEndless/go-impersonate/pkg/emulation"
)

func TestSendH1UsesWriteTimeoutNotConnTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		n, _ := server.Read(buf)
		_ = n
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	}()

	req := &Request{
		Method:       "GET",
		Path:         "/",
		ConnTimeout:  time.Nanosecond,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  5 * time.Second,
	}

	d := &Dispatcher{}
	resp, err := d.sendH1(client, req)
	if err != nil {
		t.Fatalf("sendH1: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAuthorityKeyDistinguishesSchemeProfileAndNetworkBind(t *testing.T) {
	base := &Request{Scheme: "https", Host: "example.com", Port: 443}

	chrome := New(&emulation.Profile{Name: "chrome-120"}, nil)
	firefox := New(&emulation.Profile{Name: "firefox-121"}, nil)
	noProfile := New(nil, nil)

	httpReq := &Request{Scheme: "http", Host: "example.com", Port: 443}
	boundReq := &Request{Scheme: "https", Host: "example.com", Port: 443,
		Network: connector.NetworkConfig{LocalAddr: "10.0.0.5"}}

	keys := map[string]string{
		"chrome":       chrome.authorityKey(base),
		"firefox":      firefox.authorityKey(base),
		"no-profile":   noProfile.authorityKey(base),
		"http-scheme":  chrome.authorityKey(httpReq),
		"bound-source": chrome.authorityKey(boundReq),
	}

	seen := make(map[string]string, len(keys))
	for label, key := range keys {
		if other, dup := seen[key]; dup {
			t.Fatalf("authorityKey collision: %q and %q both produced %q", label, other, key)
		}
		seen[key] = label
	}

	if chrome.authorityKey(base) != chrome.authorityKey(base) {
		t.Fatal("authorityKey should be deterministic for identical requests")
	}
}
