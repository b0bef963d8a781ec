package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("dis")
	if !strings.HasPrefix(id, "dis_") {
		t.Fatalf("NewID() = %q, want dis_ prefix", id)
	}
	if len(id) != len("dis_")+32 {
		t.Fatalf("NewID() length = %d", len(id))
	}

	bare := NewID("")
	if len(bare) != 32 || strings.Contains(bare, "_") {
		t.Fatalf("NewID(\"\") = %q", bare)
	}
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewID("vis")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
