package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shrinkix/quotagate/domain/ratelimit"
	"github.com/shrinkix/quotagate/ports"
)

// rateLimitShard is a single shard of the rate limit store.
type rateLimitShard struct {
	mu    sync.RWMutex
	state map[string]ratelimit.WindowState
}

// RateLimitStore is a sharded in-memory store of annotation windows.
// Sharding reduces lock contention for high throughput.
type RateLimitStore struct {
	shards    []*rateLimitShard
	numShards int
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// RateLimitConfig configures the rate limit store.
type RateLimitConfig struct {
	NumShards       int           // Number of shards (default: 32)
	CleanupInterval time.Duration // How often to clean expired windows (default: 5m)
}

// NewRateLimitStore creates a new sharded in-memory rate limit store.
func NewRateLimitStore(cfg RateLimitConfig) *RateLimitStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	s := &RateLimitStore{
		shards:    make([]*rateLimitShard, cfg.NumShards),
		numShards: cfg.NumShards,
		done:      make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &rateLimitShard{
			state: make(map[string]ratelimit.WindowState),
		}
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

// getShard returns the shard for a given key using consistent hashing.
func (s *RateLimitStore) getShard(key string) *rateLimitShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Get retrieves current window state for a key.
func (s *RateLimitStore) Get(ctx context.Context, key string) (ratelimit.WindowState, error) {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return shard.state[key], nil
}

// Set updates window state for a key.
func (s *RateLimitStore) Set(ctx context.Context, key string, state ratelimit.WindowState) error {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.state[key] = state
	return nil
}

// Annotate atomically counts a request and returns the annotation.
// Preferred over separate Get + Annotate + Set under load.
func (s *RateLimitStore) Annotate(ctx context.Context, key string, budget float64, window time.Duration, now time.Time) (ratelimit.Annotation, error) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	a, next := ratelimit.Annotate(shard.state[key], budget, window, now)
	shard.state[key] = next
	return a, nil
}

func (s *RateLimitStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.sweep(time.Now())
		case <-s.done:
			return
		}
	}
}

// sweep removes windows that ended more than a minute before now.
func (s *RateLimitStore) sweep(now time.Time) {
	cutoff := now.Add(-time.Minute)
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, state := range shard.state {
			if state.WindowEnd.Before(cutoff) {
				delete(shard.state, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (s *RateLimitStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Len returns the total number of entries across all shards (for testing).
func (s *RateLimitStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.state)
		shard.mu.RUnlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.RateLimitStore = (*RateLimitStore)(nil)
