package roomstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCreateAndLookup(t *testing.T) {
	m := NewMemory(24 * time.Hour)
	ctx := context.Background()

	if err := m.Create(ctx, "ABC123", "hash"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Create(ctx, "ABC123", "other"); !errors.Is(err, ErrCodeTaken) {
		t.Errorf("duplicate create: got %v, want ErrCodeTaken", err)
	}

	r, err := m.Lookup(ctx, "ABC123")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if r.PasswordHash != "hash" {
		t.Errorf("hash = %q", r.PasswordHash)
	}

	if _, err := m.Lookup(ctx, "NOPE99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing lookup: got %v, want ErrNotFound", err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory(24 * time.Hour)
	ctx := context.Background()

	now := time.Now()
	m.SetClock(func() time.Time { return now })
	if err := m.Create(ctx, "ABC123", "hash"); err != nil {
		t.Fatal(err)
	}

	// Just inside the TTL.
	m.SetClock(func() time.Time { return now.Add(23 * time.Hour) })
	if _, err := m.Lookup(ctx, "ABC123"); err != nil {
		t.Errorf("lookup inside TTL: %v", err)
	}

	// Past the TTL the record is gone and the code is reusable.
	m.SetClock(func() time.Time { return now.Add(25 * time.Hour) })
	if _, err := m.Lookup(ctx, "ABC123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup past TTL: got %v, want ErrNotFound", err)
	}
	if err := m.Create(ctx, "ABC123", "fresh"); err != nil {
		t.Errorf("recreate after expiry: %v", err)
	}
}

func TestMemoryLookupCopies(t *testing.T) {
	m := NewMemory(time.Hour)
	ctx := context.Background()
	m.Create(ctx, "ABC123", "hash")
	r, _ := m.Lookup(ctx, "ABC123")
	r.PasswordHash = "mutated"
	again, _ := m.Lookup(ctx, "ABC123")
	if again.PasswordHash != "hash" {
		t.Error("Lookup returned shared memory")
	}
}
