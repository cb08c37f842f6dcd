package devotp

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	until := time.Now().Add(time.Minute)
	s.Put(ctx, "9999999999", "123456", until)

	code, expiresAt, ok := s.Get(ctx, "9999999999")
	if !ok || code != "123456" {
		t.Fatalf("Get = %q, %v; want 123456, true", code, ok)
	}
	if !expiresAt.Equal(until) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, until)
	}
}

func TestMemoryStore_NormalizesKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Put(ctx, " 9999999999 ", "123456", time.Now().Add(time.Minute))

	if code, _, ok := s.Get(ctx, "9999999999"); !ok || code != "123456" {
		t.Fatalf("Get with trimmed key = %q, %v; want 123456, true", code, ok)
	}
}

func TestMemoryStore_Missing(t *testing.T) {
	s := NewMemoryStore()
	if _, _, ok := s.Get(context.Background(), "0000000000"); ok {
		t.Fatal("Get should miss for unknown phone")
	}
}

func TestMemoryStore_Expired(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Put(ctx, "9999999999", "123456", time.Now().Add(time.Minute))
	s.nowF = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, _, ok := s.Get(ctx, "9999999999"); ok {
		t.Fatal("Get should miss after expiry")
	}
	// Expired entry is dropped.
	s.nowF = func() time.Time { return time.Now().UTC() }
	if _, _, ok := s.Get(ctx, "9999999999"); ok {
		t.Fatal("expired entry should have been deleted")
	}
}
