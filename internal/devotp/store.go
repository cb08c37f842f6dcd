// Package devotp holds plain OTP codes in memory so local clients can log in
// without a real SMS provider (GET /dev/otp). Config refuses to enable it in
// production; nothing here is part of the production flow.
package devotp

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store keeps the latest code issued per phone number.
type Store interface {
	// Put records the code for phoneNumber until expiresAt, replacing any
	// earlier code for the same number.
	Put(ctx context.Context, phoneNumber, code string, expiresAt time.Time)
	// Get returns the current code and its expiry for phoneNumber.
	// ok is false when no code is held or the held code has expired.
	Get(ctx context.Context, phoneNumber string) (code string, expiresAt time.Time, ok bool)
}

type issued struct {
	code  string
	until time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu      sync.Mutex
	byPhone map[string]issued
	nowF    func() time.Time
}

// NewMemoryStore returns a new in-memory dev OTP store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPhone: make(map[string]issued),
		nowF:    func() time.Time { return time.Now().UTC() },
	}
}

// Put records the code for phoneNumber until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, phoneNumber, code string, expiresAt time.Time) {
	key := phoneKey(phoneNumber)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPhone[key] = issued{code: code, until: expiresAt}
}

// Get returns the current code and expiry for phoneNumber. Expired entries are
// dropped on read.
func (s *MemoryStore) Get(ctx context.Context, phoneNumber string) (string, time.Time, bool) {
	key := phoneKey(phoneNumber)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byPhone[key]
	if !ok {
		return "", time.Time{}, false
	}
	if s.nowF().After(e.until) {
		delete(s.byPhone, key)
		return "", time.Time{}, false
	}
	return e.code, e.until, true
}

// phoneKey normalizes the lookup key so a request with stray whitespace still
// finds the code stored at issuance.
func phoneKey(phoneNumber string) string {
	return strings.TrimSpace(phoneNumber)
}
