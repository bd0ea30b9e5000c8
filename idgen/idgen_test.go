package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool, 500)
	prev := ""
	for range 500 {
		id := gen()
		u, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("invalid UUID %q: %v", id, err)
		}
		if u.Version() != 7 {
			t.Fatalf("version = %d", u.Version())
		}
		if seen[id] {
			t.Fatalf("duplicate %q", id)
		}
		if id < prev {
			t.Fatalf("not time-sorted: %q after %q", id, prev)
		}
		seen[id] = true
		prev = id
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("lic_", UUIDv7())()
	rest, ok := strings.CutPrefix(id, "lic_")
	if !ok {
		t.Fatalf("id = %q", id)
	}
	if _, err := uuid.Parse(rest); err != nil {
		t.Errorf("suffix %q: %v", rest, err)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("r")
	if a, b := gen(), gen(); a != "r1" || b != "r2" {
		t.Errorf("sequence = %s, %s", a, b)
	}
}
