package uuid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	id1 := New()
	id2 := New()

	if len(id1) == 0 {
		t.Error("UUID should not be empty")
	}

	if id1 == id2 {
		t.Error("UUIDs should be unique")
	}
}

func TestCompact(t *testing.T) {
	id := Compact()
	if len(id) != 32 {
		t.Errorf("expected 32 hex characters, got %d: %q", len(id), id)
	}
	if strings.ContainsAny(id, "-/") {
		t.Errorf("compact id must not contain separators: %q", id)
	}
	if id == Compact() {
		t.Error("UUIDs should be unique")
	}
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("compact id must parse as a UUID: %v", err)
	}
	if u.Version() != 4 {
		t.Errorf("expected a version 4 UUID, got %d", u.Version())
	}
	if got := strings.ReplaceAll(u.String(), "-", ""); got != id {
		t.Errorf("round trip mismatch: %q != %q", got, id)
	}
}
