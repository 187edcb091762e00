package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/ports"
)

// CycleSweeper resets every account whose cycle has ended. It converges on
// the same state as the lazy reset in the request path, so either may run
// first.
type CycleSweeper struct {
	accounts  ports.AccountStore
	ledger    *CreditLedger
	catalogs  *CatalogHolder
	clock     ports.Clock
	logger    zerolog.Logger
	batchSize int

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// SweeperDeps contains dependencies for CycleSweeper.
type SweeperDeps struct {
	Accounts ports.AccountStore
	Ledger   *CreditLedger
	Catalogs *CatalogHolder
	Clock    ports.Clock
	Logger   zerolog.Logger
}

// NewCycleSweeper creates a new sweeper. batchSize bounds how many due
// accounts are read per pass (default 500).
func NewCycleSweeper(deps SweeperDeps, batchSize int) *CycleSweeper {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &CycleSweeper{
		accounts:  deps.Accounts,
		ledger:    deps.Ledger,
		catalogs:  deps.Catalogs,
		clock:     deps.Clock,
		logger:    deps.Logger,
		batchSize: batchSize,
	}
}

// Sweep resets all due accounts and returns how many were examined.
// Failures on one account are logged and do not stop the sweep.
func (s *CycleSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	seen := make(map[string]struct{})
	total := 0

	for {
		due, err := s.accounts.ListDue(ctx, now, s.batchSize)
		if err != nil {
			return total, persistence("list due accounts", err)
		}

		progressed := false
		for _, acct := range due {
			if _, done := seen[acct.ID]; done {
				continue
			}
			seen[acct.ID] = struct{}{}
			progressed = true
			total++

			p := resolvePlan(s.catalogs.Plans(), acct, s.logger)
			if _, err := s.ledger.reset(ctx, acct, p, ResetSourceSweep); err != nil {
				s.logger.Error().Err(err).Str("account_id", acct.ID).Msg("sweep reset failed")
			}
		}

		if len(due) < s.batchSize || !progressed {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	if total > 0 {
		s.logger.Info().Int("accounts", total).Msg("cycle sweep complete")
	}
	return total, nil
}

// Start runs Sweep every interval until Stop is called.
func (s *CycleSweeper) Start(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.Sweep(context.Background()); err != nil {
					s.logger.Error().Err(err).Msg("cycle sweep failed")
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the background sweep and waits for a running pass to finish.
func (s *CycleSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()
	<-done
}
