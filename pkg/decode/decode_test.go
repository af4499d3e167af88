package decode

import (
	"bytes"
	"compress/flate"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func TestAcceptEncodingHeaderJoinsInOrder(t *testing.T) {
	got := AcceptEncodingHeader([]string{"gzip", "br", "zstd"})
	if got != "gzip, br, zstd" {
		t.Fatalf("AcceptEncodingHeader = %q", got)
	}
}

func TestEnabledCaseInsensitive(t *testing.T) {
	enabled := []string{"gzip", "br"}
	if !Enabled(enabled, "GZIP") {
		t.Fatal("expected gzip to match case-insensitively")
	}
	if Enabled(enabled, "zstd") {
		t.Fatal("expected zstd not to be enabled")
	}
}

func TestDecodeGzipRoundTrip(t *testing.T) {
	want := []byte("hello, impersonate")
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(want); err != nil {
		t.Fatal(err)
	}
	w.Close()

	got, err := Decode("gzip", buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Decode = %q, want %q", got, want)
	}
}

func TestDecodeDeflateRoundTrip(t *testing.T) {
	want := []byte("deflate me")
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(want); err != nil {
		t.Fatal(err)
	}
	w.Close()

	got, err := Decode("deflate", buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Decode = %q, want %q", got, want)
	}
}

func TestDecodeBrotliRoundTrip(t *testing.T) {
	want := []byte("brotli me")
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(want); err != nil {
		t.Fatal(err)
	}
	w.Close()

	got, err := Decode("br", buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Decode = %q, want %q", got, want)
	}
}

func TestDecodeZstdRoundTrip(t *testing.T) {
	want := []byte("zstd me")
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	compressed := enc.EncodeAll(want, nil)
	enc.Close()

	got, err := Decode("zstd", compressed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Decode = %q, want %q", got, want)
	}
}

func TestDecodeUnknownEncodingErrors(t *testing.T) {
	if _, err := Decode("frobnicate", nil); err == nil {
		t.Fatal("expected an unknown coding to error")
	}
}

func TestDecodeIdentityIsNoOp(t *testing.T) {
	want := []byte("passthrough")
	got, err := Decode("identity", want)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("expected identity to pass body through unchanged")
	}
}
