package impersonate

import (
	"bytes"
	"strings"
	"testing"
)

func TestBytesBodyIsReusableAndMaterializesVerbatim(t *testing.T) {
	b := BytesBody([]byte("payload"))
	if !b.Reusable() {
		t.Fatal("expected a bytes body to be reusable")
	}
	if b.Empty() {
		t.Fatal("non-empty bytes body reported Empty")
	}
	data, err := b.materialize()
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if !bytes.Equal(data, []byte("payload")) {
		t.Fatalf("materialize = %q, want %q", data, "payload")
	}
}

func TestStreamBodyIsNotReusable(t *testing.T) {
	b := StreamBody(strings.NewReader("one-shot"))
	if b.Reusable() {
		t.Fatal("expected a stream body to be non-reusable")
	}
	data, err := b.materialize()
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if string(data) != "one-shot" {
		t.Fatalf("materialize = %q, want %q", data, "one-shot")
	}
}

func TestEmptyBodyReportsEmptyAndReusable(t *testing.T) {
	var b Body
	if !b.Empty() {
		t.Fatal("zero-value Body should report Empty")
	}
	if !b.Reusable() {
		t.Fatal("an empty body carries nothing to replay, so it is trivially reusable")
	}
	data, err := b.materialize()
	if err != nil || data != nil {
		t.Fatalf("materialize on empty body = (%v, %v), want (nil, nil)", data, err)
	}
}

func TestBytesBodyOfEmptySliceCollapsesToEmpty(t *testing.T) {
	b := BytesBody(nil)
	if !b.Empty() {
		t.Fatal("BytesBody(nil) should collapse to the empty body state")
	}
	b = BytesBody([]byte{})
	if !b.Empty() {
		t.Fatal("BytesBody([]byte{}) should collapse to the empty body state")
	}
}

func TestStreamBodyOfNilReaderCollapsesToEmpty(t *testing.T) {
	b := StreamBody(nil)
	if !b.Empty() {
		t.Fatal("StreamBody(nil) should collapse to the empty body state")
	}
	if !b.Reusable() {
		t.Fatal("a collapsed-to-empty body must still report reusable")
	}
}
