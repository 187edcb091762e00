//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shrinkix/quotagate/adapters/postgres"
	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/ports"
)

var t0 = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/quotagate_test?sslmode=disable"
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, "TRUNCATE credit_purchases, credentials, accounts")
		pool.Close()
	})
	return pool
}

func TestRecordUsageCascade(t *testing.T) {
	pool := newTestPool(t)
	store := postgres.NewAccountStore(pool)
	ctx := context.Background()

	err := store.Create(ctx, account.Account{
		ID: "acct1", PlanID: "starter", MonthlyUsage: 999, AddonCredits: 1, LegacyCredits: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	d := account.Debit{Counter: account.CounterMonthly, Allotment: 1000, Addons: true, At: t0}
	want := []account.Pool{account.PoolBase, account.PoolAddon, account.PoolLegacy, account.PoolOverflow}
	for i, w := range want {
		_, got, err := store.RecordUsage(ctx, "acct1", d)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("call %d: expected pool %s, got %s", i, w, got)
		}
	}

	a, err := store.Get(ctx, "acct1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.MonthlyUsage != 1001 || a.AddonCredits != 0 || a.LegacyCredits != 0 {
		t.Fatalf("unexpected state: %+v", a)
	}
}

func TestRecordUsageUnmetered(t *testing.T) {
	pool := newTestPool(t)
	store := postgres.NewAccountStore(pool)
	ctx := context.Background()

	store.Create(ctx, account.Account{ID: "acct1", PlanID: "business", AddonCredits: 5})

	_, p, err := store.RecordUsage(ctx, "acct1", account.Debit{Counter: account.CounterMonthly, Allotment: -1, Addons: true, At: t0})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if p != account.PoolUnmetered {
		t.Fatalf("expected unmetered, got %s", p)
	}
	a, _ := store.Get(ctx, "acct1")
	if a.AddonCredits != 5 {
		t.Fatalf("add-on credits should be untouched, got %d", a.AddonCredits)
	}
}

func TestConcurrentRecordUsage(t *testing.T) {
	pool := newTestPool(t)
	store := postgres.NewAccountStore(pool)
	ctx := context.Background()

	store.Create(ctx, account.Account{ID: "acct1", PlanID: "free"})
	d := account.Debit{Counter: account.CounterDaily, Allotment: 20, At: t0}

	var base atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, p, err := store.RecordUsage(ctx, "acct1", d)
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if p == account.PoolBase {
				base.Add(1)
			}
		}()
	}
	wg.Wait()

	if base.Load() != 20 {
		t.Fatalf("expected exactly 20 base debits, got %d", base.Load())
	}
	a, _ := store.Get(ctx, "acct1")
	if a.DailyUsage != 30 {
		t.Fatalf("expected daily usage 30, got %d", a.DailyUsage)
	}
}

func TestResetCycleOnce(t *testing.T) {
	pool := newTestPool(t)
	store := postgres.NewAccountStore(pool)
	ctx := context.Background()

	store.Create(ctx, account.Account{ID: "acct1", PlanID: "free", DailyUsage: 20})

	next := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	r := account.CycleReset{
		Cadence:    plan.CadenceDaily,
		CycleStart: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		ResetAt:    next,
		ZeroDaily:  true,
	}

	var applied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ResetCycle(ctx, "acct1", "", time.Time{}, r)
			if err != nil {
				t.Errorf("reset: %v", err)
				return
			}
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	if applied.Load() != 1 {
		t.Fatalf("expected exactly one reset, got %d", applied.Load())
	}
	a, _ := store.Get(ctx, "acct1")
	if a.DailyUsage != 0 || !a.ResetAt.Equal(next) || a.CycleCadence != plan.CadenceDaily {
		t.Fatalf("unexpected state: %+v", a)
	}

	if _, err := store.ResetCycle(ctx, "missing", "", time.Time{}, r); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddCreditsCapAndReplay(t *testing.T) {
	pool := newTestPool(t)
	store := postgres.NewAccountStore(pool)
	ctx := context.Background()

	store.Create(ctx, account.Account{ID: "acct1", PlanID: "pro"})

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AddCredits(ctx, credit.Purchase{
				ID: fmt.Sprintf("pur_%d", i), AccountID: "acct1", Addon: "scale-boost",
				Credits: 10000, PriceCents: 8500, PaymentRef: fmt.Sprintf("pay_%d", i), PurchasedAt: t0,
			}, credit.DefaultCap)
			if err == nil {
				granted.Add(1)
				return
			}
			var capErr *credit.CapError
			if !errors.As(err, &capErr) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if granted.Load() != 5 {
		t.Fatalf("expected 5 grants, got %d", granted.Load())
	}

	_, err := store.AddCredits(ctx, credit.Purchase{ID: "pur_x", AccountID: "acct1", Credits: 1, PaymentRef: "pay_0", PurchasedAt: t0}, credit.DefaultCap*2)
	if !errors.Is(err, ports.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	history, err := store.History(ctx, "acct1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("expected 5 purchases, got %d", len(history))
	}
}

func TestCredentials(t *testing.T) {
	pool := newTestPool(t)
	accounts := postgres.NewAccountStore(pool)
	store := postgres.NewCredentialStore(pool)
	ctx := context.Background()

	accounts.Create(ctx, account.Account{ID: "acct1", PlanID: "pro"})
	store.Create(ctx, credential.Credential{ID: "c1", AccountID: "acct1", Fingerprint: "tr_abcdefghi", Hash: []byte("h1"), CreatedAt: t0})
	store.Create(ctx, credential.Credential{ID: "c2", AccountID: "acct1", Fingerprint: "tr_abcdefghi", Hash: []byte("h2"), CreatedAt: t0.Add(time.Second)})

	found, err := store.FindByFingerprint(ctx, "tr_abcdefghi")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(found))
	}

	if err := store.Revoke(ctx, "c1", t0); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	found, _ = store.FindByFingerprint(ctx, "tr_abcdefghi")
	if len(found) != 1 || found[0].ID != "c2" {
		t.Fatalf("expected [c2], got %+v", found)
	}

	if err := store.Create(ctx, credential.Credential{ID: "c1", AccountID: "acct1", CreatedAt: t0}); !errors.Is(err, ports.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}
