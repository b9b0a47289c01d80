package auth

import (
	"context"
	"sync"
	"time"
)

// Registry stores issued API keys until they expire
type Registry interface {
	Store(ctx context.Context, key string, expiresAt time.Time) error
	Lookup(ctx context.Context, key string) (bool, error)
}

// MemoryRegistry is a process-local Registry. Expired keys are evicted when
// they are looked up or when Sweep runs.
type MemoryRegistry struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Store records key with its expiry, replacing any previous entry
func (r *MemoryRegistry) Store(_ context.Context, key string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.keys[key] = expiresAt
	return nil
}

// Lookup reports whether key is registered and unexpired
func (r *MemoryRegistry) Lookup(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.keys[key]
	if !ok {
		return false, nil
	}

	if !r.now().Before(expiresAt) {
		delete(r.keys, key)
		return false, nil
	}

	return true, nil
}

// Sweep removes every expired key and returns how many were removed
func (r *MemoryRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for key, expiresAt := range r.keys {
		if !now.Before(expiresAt) {
			delete(r.keys, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored keys, expired or not
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.keys)
}

// RunJanitor sweeps expired keys every interval until ctx is cancelled
func (r *MemoryRegistry) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
