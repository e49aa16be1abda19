package util

import (
	"strings"
	"testing"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		id := New()
		if id <= prev {
			t.Fatalf("ids out of order: %s then %s", prev, id)
		}
		prev = id
	}
}

func TestNewRef(t *testing.T) {
	ref := NewRef("cash")
	if !strings.HasPrefix(ref, "cash_") || len(ref) != len("cash_")+26 {
		t.Fatalf("unexpected ref %q", ref)
	}
	if ref != strings.ToLower(ref) {
		t.Fatalf("ref must be lowercase: %q", ref)
	}
	if got := NewRef(""); len(got) != 26 {
		t.Fatalf("unexpected bare ref %q", got)
	}
}
