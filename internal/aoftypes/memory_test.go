package aoftypes

import (
	"testing"
	"time"
)

func TestMemoryEntryNoTTLNeverExpires(t *testing.T) {
	e := &MemoryEntry{CreatedAt: time.Now().Add(-24 * time.Hour)}
	if e.Expired(time.Now()) {
		t.Fatal("entry with no TTL should never expire")
	}
	if !e.Expiry().IsZero() {
		t.Fatalf("Expiry() = %v, want zero time", e.Expiry())
	}
}

func TestMemoryEntryExpiresAfterTTL(t *testing.T) {
	ttl := time.Minute
	created := time.Now().Add(-2 * time.Minute)
	e := &MemoryEntry{CreatedAt: created, TTL: &ttl}

	if !e.Expired(time.Now()) {
		t.Fatal("entry past its TTL should be expired")
	}
	if e.Expired(created) {
		t.Fatal("entry should not be expired at creation time")
	}
	if got := e.Expiry(); !got.Equal(created.Add(ttl)) {
		t.Fatalf("Expiry() = %v, want %v", got, created.Add(ttl))
	}
}
