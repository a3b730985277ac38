// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	if _, err := goUUID.Parse(id1); err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if _, err := goUUID.Parse(id2); err != nil {
		t.Fatalf("id2 not valid UUID: %v", err)
	}
}

// TestValid checks parsing of well-formed and malformed IDs.
func TestValid(t *testing.T) {
	t.Parallel()

	id, err := New().NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if !Valid(id) {
		t.Fatalf("expected %s to be valid", id)
	}
	if Valid("not-a-uuid") {
		t.Fatal("expected malformed id to be invalid")
	}
}
