package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a, b := NewID("cfg"), NewID("cfg")
	if !strings.HasPrefix(a, "cfg_") || len(a) != len("cfg_")+32 {
		t.Fatalf("unexpected id %q", a)
	}
	if a == b {
		t.Fatal("ids should be unique")
	}
	if len(NewID("")) != 32 {
		t.Fatal("unprefixed ids are bare hex")
	}
}

func TestContentHash(t *testing.T) {
	h := ContentHash([]byte(`{"a":1}`))
	if len(h) != 64 {
		t.Fatalf("expected a 256-bit hex digest, got %q", h)
	}
	if h != ContentHash([]byte(`{"a":1}`)) {
		t.Fatal("hash must be stable")
	}
	if h == ContentHash([]byte(`{"a":2}`)) {
		t.Fatal("different content must hash differently")
	}
}
