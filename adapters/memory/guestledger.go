package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shrinkix/quotagate/domain/guest"
	"github.com/shrinkix/quotagate/ports"
)

// guestShard is a single shard of the guest ledger.
type guestShard struct {
	mu      sync.Mutex
	records map[string]guest.Record
}

// GuestLedger is a sharded, process-local ledger of anonymous usage keyed by
// client identity. Records are lost on restart and are not shared between
// instances.
type GuestLedger struct {
	shards    []*guestShard
	numShards int
	clock     ports.Clock
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// GuestLedgerConfig configures the guest ledger.
type GuestLedgerConfig struct {
	NumShards       int           // Number of shards (default: 16)
	CleanupInterval time.Duration // How often to drop past days (default: 10m)
	Clock           ports.Clock   // Used by cleanup; required
}

// NewGuestLedger creates a new guest ledger and starts its cleanup loop.
func NewGuestLedger(cfg GuestLedgerConfig) *GuestLedger {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 16
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}

	l := &GuestLedger{
		shards:    make([]*guestShard, cfg.NumShards),
		numShards: cfg.NumShards,
		clock:     cfg.Clock,
		done:      make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &guestShard{records: make(map[string]guest.Record)}
	}

	l.cleanup = time.NewTicker(cfg.CleanupInterval)
	go l.cleanupLoop()

	return l
}

func (l *GuestLedger) getShard(clientID string) *guestShard {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return l.shards[h.Sum32()%uint32(l.numShards)]
}

// Admit counts one request for clientID if it is under limit today.
func (l *GuestLedger) Admit(ctx context.Context, clientID string, limit int, now time.Time) (guest.Result, error) {
	shard := l.getShard(clientID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	res, rec := guest.Admit(shard.records[clientID], limit, now)
	shard.records[clientID] = rec
	return res, nil
}

// Release gives back one request admitted in the given day bucket.
func (l *GuestLedger) Release(ctx context.Context, clientID string, day string) error {
	shard := l.getShard(clientID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[clientID]
	if !ok {
		return nil
	}
	shard.records[clientID] = guest.Release(rec, day)
	return nil
}

func (l *GuestLedger) cleanupLoop() {
	for {
		select {
		case <-l.cleanup.C:
			l.Sweep()
		case <-l.done:
			return
		}
	}
}

// Sweep drops records from earlier days.
func (l *GuestLedger) Sweep() {
	today := guest.DayBucket(l.clock.Now())
	for _, shard := range l.shards {
		shard.mu.Lock()
		for id, rec := range shard.records {
			if rec.Day != today {
				delete(shard.records, id)
			}
		}
		shard.mu.Unlock()
	}
}

// Len returns the total number of tracked clients (for testing).
func (l *GuestLedger) Len() int {
	total := 0
	for _, shard := range l.shards {
		shard.mu.Lock()
		total += len(shard.records)
		shard.mu.Unlock()
	}
	return total
}

// Close stops the cleanup goroutine.
func (l *GuestLedger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.cleanup.Stop()
	})
	return nil
}

// Ensure interface compliance.
var _ ports.GuestLedger = (*GuestLedger)(nil)
