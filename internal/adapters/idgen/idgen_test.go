package idgen

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewIDIsUUIDv4(t *testing.T) {
	id := Generator{}.NewID()
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Version() != 4 {
		t.Fatalf("expected v4, got %d", parsed.Version())
	}
	if id == (Generator{}).NewID() {
		t.Fatalf("expected unique ids")
	}
}
