package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps windows in process. It is atomic per process only and
// serves single-instance deployments and tests; clustered gateways use
// RedisStore.
type MemoryStore struct {
	mu    sync.Mutex
	items *gocache.Cache
	now   func() time.Time
}

type MemoryOption func(*MemoryStore)

func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		items: gocache.New(gocache.NoExpiration, time.Minute),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Record(_ context.Context, key string, limit int, window time.Duration) (Usage, error) {
	now := s.now()
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	var markers []time.Time
	if v, ok := s.items.Get(key); ok {
		markers = v.([]time.Time)
	}

	first := sort.Search(len(markers), func(i int) bool { return markers[i].After(cutoff) })
	kept := make([]time.Time, 0, len(markers)-first+1)
	kept = append(kept, markers[first:]...)

	pos := sort.Search(len(kept), func(i int) bool { return kept[i].After(now) })
	kept = append(kept, time.Time{})
	copy(kept[pos+1:], kept[pos:])
	kept[pos] = now

	s.items.Set(key, kept, window)

	usage := Usage{Count: int64(len(kept))}
	if len(kept) > limit {
		usage.RetryAfter = kept[len(kept)-limit].Add(window).Sub(now)
	}
	return usage, nil
}

// Len reports how many keys are currently held.
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}
