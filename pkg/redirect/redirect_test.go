package redirect

import (
	"net/http"
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestNext302RewritesToGETAndStripsBodyHeaders(t *testing.T) {
	prev := mustParse(t, "https://example.com/form")
	headers := http.Header{
		"Content-Type":   {"application/json"},
		"Content-Length": {"42"},
		"Cookie":         {"session=abc"},
	}

	next, method, nextHeaders, ok, err := Next(Policy{MaxRedirects: 10}, prev, http.MethodPost, headers, http.StatusFound, "/done", true)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok {
		t.Fatal("expected redirect to be followed")
	}
	if method != http.MethodGet {
		t.Fatalf("method = %q, want GET", method)
	}
	if next.String() != "https://example.com/done" {
		t.Fatalf("next = %q", next.String())
	}
	if nextHeaders.Get("Content-Type") != "" || nextHeaders.Get("Content-Length") != "" {
		t.Fatal("expected body headers stripped on method rewrite")
	}
	if nextHeaders.Get("Cookie") != "session=abc" {
		t.Fatal("expected Cookie preserved on same-origin redirect")
	}
}

func TestNext307PreservesNonReusableBodyRefusal(t *testing.T) {
	prev := mustParse(t, "https://example.com/upload")
	headers := http.Header{}

	_, _, _, ok, err := Next(Policy{MaxRedirects: 10}, prev, http.MethodPost, headers, http.StatusTemporaryRedirect, "/upload2", false)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ok {
		t.Fatal("expected 307 with a non-reusable POST body not to be followed")
	}
}

func TestNext308PreservesMethodAndReusableBody(t *testing.T) {
	prev := mustParse(t, "https://example.com/upload")
	headers := http.Header{"Content-Type": {"application/octet-stream"}}

	next, method, nextHeaders, ok, err := Next(Policy{MaxRedirects: 10}, prev, http.MethodPost, headers, http.StatusPermanentRedirect, "/upload2", true)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok {
		t.Fatal("expected 308 with a reusable body to be followed")
	}
	if method != http.MethodPost {
		t.Fatalf("method = %q, want POST", method)
	}
	if nextHeaders.Get("Content-Type") != "application/octet-stream" {
		t.Fatal("expected Content-Type preserved when method is unchanged")
	}
	if next.String() != "https://example.com/upload2" {
		t.Fatalf("next = %q", next.String())
	}
}

func TestNextCrossOriginStripsAuthAndCookie(t *testing.T) {
	prev := mustParse(t, "https://example.com/a")
	headers := http.Header{
		"Authorization": {"Bearer secret"},
		"Cookie":        {"session=abc"},
	}

	_, _, nextHeaders, ok, err := Next(Policy{MaxRedirects: 10}, prev, http.MethodGet, headers, http.StatusMovedPermanently, "https://other.example/b", true)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok {
		t.Fatal("expected redirect to be followed")
	}
	if nextHeaders.Get("Authorization") != "" || nextHeaders.Get("Cookie") != "" {
		t.Fatal("expected Authorization/Cookie stripped across origins")
	}
}

func TestNextHTTPSOnlyRejectsDowngrade(t *testing.T) {
	prev := mustParse(t, "https://example.com/a")
	headers := http.Header{}

	_, _, _, _, err := Next(Policy{MaxRedirects: 10, HTTPSOnly: true}, prev, http.MethodGet, headers, http.StatusFound, "http://example.com/b", true)
	if err == nil {
		t.Fatal("expected https_only policy to reject a non-https redirect target")
	}
}

func TestNextDropsRefererOnHTTPSDowngrade(t *testing.T) {
	prev := mustParse(t, "https://example.com/a")
	headers := http.Header{"Referer": {"https://example.com/a"}}

	_, _, nextHeaders, ok, err := Next(Policy{MaxRedirects: 10}, prev, http.MethodGet, headers, http.StatusFound, "http://example.com/b", true)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok {
		t.Fatal("expected redirect to be followed")
	}
	if nextHeaders.Get("Referer") != "" {
		t.Fatal("expected Referer dropped on https->http downgrade")
	}
}

func TestCheckLimitDetectsLoop(t *testing.T) {
	a := mustParse(t, "https://example.com/a")
	b := mustParse(t, "https://example.com/b")

	if err := CheckLimit(Policy{MaxRedirects: 10}, 2, []*url.URL{a, b}, b); err == nil {
		t.Fatal("expected loop detection to error")
	}
}

func TestCheckLimitEnforcesMax(t *testing.T) {
	target := mustParse(t, "https://example.com/z")
	if err := CheckLimit(Policy{MaxRedirects: 3}, 4, nil, target); err == nil {
		t.Fatal("expected exceeding MaxRedirects to error")
	}
}
