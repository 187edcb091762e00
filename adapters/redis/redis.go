// Package redis provides Redis-backed guest and rate-limit stores.
//
// Counters live in plain keys with absolute expiries and are updated by
// atomic Lua scripts, which makes them safe for multi-instance deployments.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/shrinkix/quotagate/domain/guest"
	"github.com/shrinkix/quotagate/domain/ratelimit"
	"github.com/shrinkix/quotagate/ports"
)

// Option configures the stores.
type Option func(*options)

type options struct {
	keyPrefix string
}

// WithKeyPrefix sets the Redis key prefix (default "quotagate:").
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

func buildOptions(opts []Option) options {
	o := options{keyPrefix: "quotagate:"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient connects to Redis and verifies connectivity.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("quotagate/redis: ping %s: %w", addr, err)
	}
	return client, nil
}

// GuestLedger is a Redis-backed ports.GuestLedger. One counter key exists
// per client per UTC day and expires at the following midnight.
type GuestLedger struct {
	client    goredis.Cmdable
	keyPrefix string
}

var (
	_ ports.GuestLedger    = (*GuestLedger)(nil)
	_ ports.RateLimitStore = (*RateLimitStore)(nil)
)

// NewGuestLedger creates a new Redis-backed guest ledger.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func NewGuestLedger(client goredis.Cmdable, opts ...Option) *GuestLedger {
	o := buildOptions(opts)
	return &GuestLedger{client: client, keyPrefix: o.keyPrefix + "guest:"}
}

func (l *GuestLedger) dayKey(clientID, day string) string {
	return l.keyPrefix + day + ":" + clientID
}

// admitScript is a Lua script for atomic guest admission.
// KEYS[1] = day counter key
// ARGV[1] = limit
// ARGV[2] = expire_at (unix seconds)
//
// Returns {allowed, count}:
//
//	allowed = 1 when counted, 0 when the limit was already reached
var admitScript = goredis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local expire_at = tonumber(ARGV[2])

local count = tonumber(redis.call("GET", key) or "0")
if count >= limit then
    return {0, count}
end

count = redis.call("INCR", key)
if count == 1 then
    redis.call("EXPIREAT", key, expire_at)
end
return {1, count}
`)

// Admit counts one request for clientID if it is under limit today.
func (l *GuestLedger) Admit(ctx context.Context, clientID string, limit int, now time.Time) (guest.Result, error) {
	resetAt := guest.NextDay(now)

	vals, err := admitScript.Run(ctx, l.client,
		[]string{l.dayKey(clientID, guest.DayBucket(now))},
		limit, resetAt.Unix(),
	).Int64Slice()
	if err != nil {
		return guest.Result{}, fmt.Errorf("quotagate/redis: admit: %w", err)
	}
	if len(vals) != 2 {
		return guest.Result{}, fmt.Errorf("quotagate/redis: unexpected admit result: %v", vals)
	}

	res := guest.Result{
		Allowed: vals[0] == 1,
		Count:   int(vals[1]),
		Limit:   limit,
		Day:     guest.DayBucket(now),
		ResetAt: resetAt,
	}
	if res.Allowed {
		res.Remaining = limit - res.Count
	}
	return res, nil
}

// releaseScript decrements a day counter without going below zero.
// KEYS[1] = day counter key
var releaseScript = goredis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count > 0 then
    return redis.call("DECR", KEYS[1])
end
return 0
`)

// Release gives back one request admitted in the given day bucket.
func (l *GuestLedger) Release(ctx context.Context, clientID string, day string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.dayKey(clientID, day)}).Err(); err != nil {
		return fmt.Errorf("quotagate/redis: release: %w", err)
	}
	return nil
}

// RateLimitStore is a Redis-backed ports.RateLimitStore. Window state is
// kept in a hash that expires shortly after the window ends.
type RateLimitStore struct {
	client    goredis.Cmdable
	keyPrefix string
}

// NewRateLimitStore creates a new Redis-backed rate limit store.
func NewRateLimitStore(client goredis.Cmdable, opts ...Option) *RateLimitStore {
	o := buildOptions(opts)
	return &RateLimitStore{client: client, keyPrefix: o.keyPrefix + "rl:"}
}

func (s *RateLimitStore) key(k string) string {
	return s.keyPrefix + k
}

// Get retrieves current window state for a key.
func (s *RateLimitStore) Get(ctx context.Context, key string) (ratelimit.WindowState, error) {
	vals, err := s.client.HMGet(ctx, s.key(key), "count", "window_end").Result()
	if err != nil {
		return ratelimit.WindowState{}, fmt.Errorf("quotagate/redis: get window: %w", err)
	}
	if vals[0] == nil || vals[1] == nil {
		return ratelimit.WindowState{}, nil
	}

	count, _ := strconv.Atoi(vals[0].(string))
	end, _ := strconv.ParseInt(vals[1].(string), 10, 64)
	return ratelimit.WindowState{Count: count, WindowEnd: time.UnixMilli(end).UTC()}, nil
}

// Set updates window state for a key.
func (s *RateLimitStore) Set(ctx context.Context, key string, state ratelimit.WindowState) error {
	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, k, "count", state.Count, "window_end", state.WindowEnd.UnixMilli())
		p.PExpireAt(ctx, k, state.WindowEnd.Add(time.Minute))
		return nil
	})
	if err != nil {
		return fmt.Errorf("quotagate/redis: set window: %w", err)
	}
	return nil
}

// annotateScript is a Lua script for atomic window counting.
// KEYS[1] = window hash key
// ARGV[1] = now (unix millis)
// ARGV[2] = new window end if the current one is over (unix millis)
//
// Returns {count, window_end}.
var annotateScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local next_end = tonumber(ARGV[2])

local window_end = tonumber(redis.call("HGET", key, "window_end") or "0")
if window_end == 0 or now >= window_end then
    redis.call("HSET", key, "count", "0", "window_end", tostring(next_end))
    redis.call("PEXPIREAT", key, next_end + 60000)
    window_end = next_end
end

local count = redis.call("HINCRBY", key, "count", 1)
return {count, window_end}
`)

// Annotate atomically counts a request and returns the annotation.
func (s *RateLimitStore) Annotate(ctx context.Context, key string, budget float64, window time.Duration, now time.Time) (ratelimit.Annotation, error) {
	if window <= 0 {
		window = ratelimit.DefaultWindow
	}
	nextEnd := now.Truncate(window).Add(window)

	vals, err := annotateScript.Run(ctx, s.client,
		[]string{s.key(key)},
		now.UnixMilli(), nextEnd.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return ratelimit.Annotation{}, fmt.Errorf("quotagate/redis: annotate: %w", err)
	}
	if len(vals) != 2 {
		return ratelimit.Annotation{}, errors.New("quotagate/redis: unexpected annotate result")
	}

	// Derive the annotation from the stored state with the pure function so
	// both backends publish identical headers.
	prev := ratelimit.WindowState{Count: int(vals[0]) - 1, WindowEnd: time.UnixMilli(vals[1]).UTC()}
	a, _ := ratelimit.Annotate(prev, budget, window, now)
	return a, nil
}
