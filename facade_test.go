package impersonate

import (
	"bytes"
	"net/http"
	"net/url"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/WhileEndless/go-impersonate/pkg/buffer"
	"github.com/WhileEndless/go-impersonate/pkg/dispatcher"
	"github.com/WhileEndless/go-impersonate/pkg/emulation"
	"github.com/WhileEndless/go-impersonate/pkg/h1"
)

func TestOrderedHeadersFollowsProfileOrderThenExtras(t *testing.T) {
	profile := &emulation.Profile{
		Name: "test",
		Headers: func() http.Header {
			return http.Header{"Accept": {"*/*"}, "User-Agent": {"test-agent"}}
		},
		HeaderOrder: []string{"user-agent", "accept"},
	}

	fields := orderedHeaders(profile, http.Header{"X-Extra": {"1"}}, "example.com", 0)

	var names []string
	for _, f := range fields {
		names = append(names, f.Name)
	}
	if names[0] != "Host" {
		t.Fatalf("expected Host first, got %v", names)
	}
	if names[1] != "User-Agent" || names[2] != "Accept" {
		t.Fatalf("expected profile order User-Agent, Accept after Host, got %v", names)
	}
	found := false
	for _, n := range names {
		if n == "X-Extra" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected caller-only header to be appended, got %v", names)
	}
}

func TestOrderedHeadersSetsContentLengthWhenBodyPresent(t *testing.T) {
	profile := &emulation.Profile{Name: "test"}
	fields := orderedHeaders(profile, http.Header{}, "example.com", 7)

	for _, f := range fields {
		if f.Name == "Content-Length" && f.Value == "7" {
			return
		}
	}
	t.Fatal("expected Content-Length: 7 to be present")
}

func TestDecodeIfEnabledDecodesMatchingEncoding(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write([]byte("hello"))
	w.Close()

	headers := http.Header{"Content-Encoding": {"gzip"}, "Content-Length": {"99"}}
	decoded, err := decodeIfEnabled(headers, buf.Bytes(), []string{"gzip"})
	if err != nil {
		t.Fatalf("decodeIfEnabled: %v", err)
	}
	if string(decoded) != "hello" {
		t.Fatalf("decoded = %q", decoded)
	}
	if headers.Get("Content-Encoding") != "" || headers.Get("Content-Length") != "" {
		t.Fatal("expected Content-Encoding/Content-Length stripped after decode")
	}
}

func TestDecodeIfEnabledPassesThroughUnlistedEncoding(t *testing.T) {
	headers := http.Header{"Content-Encoding": {"br"}}
	body := []byte("not actually brotli")

	decoded, err := decodeIfEnabled(headers, body, []string{"gzip"})
	if err != nil {
		t.Fatalf("decodeIfEnabled: %v", err)
	}
	if !bytes.Equal(decoded, body) {
		t.Fatal("expected body to pass through unchanged when encoding isn't enabled")
	}
	if headers.Get("Content-Encoding") != "br" {
		t.Fatal("expected Content-Encoding left intact when not decoded")
	}
}

func TestNormalizeH1Response(t *testing.T) {
	result := &dispatcher.Result{
		Protocol: "h1",
		H1: &h1.Response{
			StatusCode:  200,
			StatusLine:  "200 OK",
			HTTPVersion: "HTTP/1.1",
			Headers:     map[string][]string{"Content-Type": {"text/plain"}},
			Body:        buffer.NewWithData([]byte("payload")),
			Raw:         buffer.NewWithData([]byte("payload")),
		},
	}

	target, err := url.Parse("https://example.com/")
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	resp, err := normalize(result, target, nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if resp.StatusCode != 200 || resp.Text() != "payload" {
		t.Fatalf("got status=%d body=%q", resp.StatusCode, resp.Text())
	}
}
