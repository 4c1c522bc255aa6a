package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultWindow     = time.Hour
	defaultMaxEntries = 100000
)

// MemoryStore is an in-process seen-set with per-entry TTL eviction and a hard
// capacity bound. Entries older than the window are treated as new again, which
// is acceptable because downstream handlers upsert by response id.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	window     time.Duration
	maxEntries int
	logger     zerolog.Logger
	now        func() time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithWindow overrides the dedup window.
func WithWindow(window time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithMaxEntries overrides the capacity bound.
func WithMaxEntries(max int) MemoryOption {
	return func(s *MemoryStore) {
		if max > 0 {
			s.maxEntries = max
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs the in-memory store.
func NewMemoryStore(logger zerolog.Logger, opts ...MemoryOption) *MemoryStore {
	store := &MemoryStore{
		entries:    make(map[string]time.Time),
		window:     defaultWindow,
		maxEntries: defaultMaxEntries,
		logger:     logger.With().Str("component", "idempotency_memory").Logger(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Seen implements Store.
func (s *MemoryStore) Seen(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if expires, ok := s.entries[eventID]; ok && now.Before(expires) {
		return true, nil
	}

	if len(s.entries) >= s.maxEntries {
		// Full clear bounds memory; redeliveries older than this moment become
		// new events, which the upsert-by-key handlers absorb.
		s.logger.Warn().Int("entries", len(s.entries)).Msg("seen-set capacity reached, clearing")
		s.entries = make(map[string]time.Time)
	}

	s.entries[eventID] = now.Add(s.window)
	return false, nil
}

// StartJanitor launches a background sweep that drops expired entries on a fixed
// period until the context is cancelled.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultWindow
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, expires := range s.entries {
		if !now.Before(expires) {
			delete(s.entries, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Int("remaining", len(s.entries)).Msg("swept expired event ids")
	}
}

// Len reports the current entry count.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
