package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/domain/ratelimit"
	"github.com/shrinkix/quotagate/ports"
)

// windowAnnotator is implemented by stores that update a window in one step.
type windowAnnotator interface {
	Annotate(ctx context.Context, key string, budget float64, window time.Duration, now time.Time) (ratelimit.Annotation, error)
}

// RateLimitAnnotator attaches advisory X-RateLimit-* metadata to responses.
// It never blocks a request.
type RateLimitAnnotator struct {
	store  ports.RateLimitStore
	clock  ports.Clock
	logger zerolog.Logger
	window time.Duration
}

// NewRateLimitAnnotator creates a new annotator over a one-second window.
func NewRateLimitAnnotator(store ports.RateLimitStore, clock ports.Clock, logger zerolog.Logger) *RateLimitAnnotator {
	return &RateLimitAnnotator{
		store:  store,
		clock:  clock,
		logger: logger,
		window: ratelimit.DefaultWindow,
	}
}

// Annotate counts one request for key and returns the metadata to publish.
// ok is false when the store failed; the caller then omits the headers.
func (a *RateLimitAnnotator) Annotate(ctx context.Context, key string, budget float64) (ratelimit.Annotation, bool) {
	now := a.clock.Now()

	if w, ok := a.store.(windowAnnotator); ok {
		ann, err := w.Annotate(ctx, key, budget, a.window, now)
		if err != nil {
			a.logger.Warn().Err(err).Str("key", key).Msg("rate limit annotation failed")
			return ratelimit.Annotation{}, false
		}
		return ann, true
	}

	state, err := a.store.Get(ctx, key)
	if err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("rate limit state unavailable")
		return ratelimit.Annotation{}, false
	}
	ann, next := ratelimit.Annotate(state, budget, a.window, now)
	if err := a.store.Set(ctx, key, next); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("rate limit state not saved")
	}
	return ann, true
}
