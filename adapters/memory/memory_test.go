package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shrinkix/quotagate/adapters/clock"
	"github.com/shrinkix/quotagate/adapters/memory"
	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/domain/ratelimit"
	"github.com/shrinkix/quotagate/ports"
)

var t0 = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// AccountStore tests

func TestAccountStore_CreateGet(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()

	a := account.Account{ID: "acct_1", Email: "ada@example.com", PlanID: "free"}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "acct_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Email != "ada@example.com" {
		t.Errorf("Email = %s, want ada@example.com", got.Email)
	}

	byEmail, err := store.GetByEmail(ctx, "ADA@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if byEmail.ID != "acct_1" {
		t.Errorf("ID = %s, want acct_1", byEmail.ID)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAccountStore_CreateDuplicate(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()

	store.Create(ctx, account.Account{ID: "a1", Email: "x@example.com"})

	if err := store.Create(ctx, account.Account{ID: "a1"}); !errors.Is(err, ports.ErrDuplicate) {
		t.Errorf("duplicate ID error = %v, want ErrDuplicate", err)
	}
	if err := store.Create(ctx, account.Account{ID: "a2", Email: "X@example.com"}); !errors.Is(err, ports.ErrDuplicate) {
		t.Errorf("duplicate email error = %v, want ErrDuplicate", err)
	}
}

func TestAccountStore_Session(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()

	exp := t0.Add(time.Hour)
	store.Create(ctx, account.Account{ID: "a1", SessionToken: "sess-1", SessionExpiresAt: &exp})

	got, err := store.GetBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetBySession failed: %v", err)
	}
	if got.ID != "a1" {
		t.Errorf("ID = %s, want a1", got.ID)
	}

	if _, err := store.GetBySession(ctx, ""); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("empty token error = %v, want ErrNotFound", err)
	}

	if err := store.ClearSession(ctx, "a1"); err != nil {
		t.Fatalf("ClearSession failed: %v", err)
	}
	if _, err := store.GetBySession(ctx, "sess-1"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("cleared session error = %v, want ErrNotFound", err)
	}
}

func TestAccountStore_SetPlan(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()

	store.Create(ctx, account.Account{ID: "a1", PlanID: "free"})
	if err := store.SetPlan(ctx, "a1", "api-pro", t0); err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}

	got, _ := store.Get(ctx, "a1")
	if got.PlanID != "api-pro" {
		t.Errorf("PlanID = %s, want api-pro", got.PlanID)
	}
	if !got.PlanUpdatedAt.Equal(t0) {
		t.Errorf("PlanUpdatedAt = %v, want %v", got.PlanUpdatedAt, t0)
	}

	if err := store.SetPlan(ctx, "missing", "free", t0); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("SetPlan(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAccountStore_RecordUsage(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()

	store.Create(ctx, account.Account{ID: "a1", DailyUsage: 19, AddonCredits: 1})
	d := account.Debit{Counter: account.CounterDaily, Allotment: 20, Addons: true, At: t0}

	tests := []struct {
		wantPool  account.Pool
		wantDaily int64
		wantAddon int64
	}{
		{account.PoolBase, 20, 1},
		{account.PoolAddon, 20, 0},
		{account.PoolOverflow, 21, 0},
	}

	for i, tt := range tests {
		got, pool, err := store.RecordUsage(ctx, "a1", d)
		if err != nil {
			t.Fatalf("call %d: RecordUsage failed: %v", i, err)
		}
		if pool != tt.wantPool {
			t.Errorf("call %d: pool = %s, want %s", i, pool, tt.wantPool)
		}
		if got.DailyUsage != tt.wantDaily {
			t.Errorf("call %d: DailyUsage = %d, want %d", i, got.DailyUsage, tt.wantDaily)
		}
		if got.AddonCredits != tt.wantAddon {
			t.Errorf("call %d: AddonCredits = %d, want %d", i, got.AddonCredits, tt.wantAddon)
		}
	}
}

func TestAccountStore_RecordUsage_Concurrent(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()
	store.Create(ctx, account.Account{ID: "a1", AddonCredits: 50})

	d := account.Debit{Counter: account.CounterMonthly, Allotment: 100, Addons: true, At: t0}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.RecordUsage(ctx, "a1", d)
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, "a1")
	if got.MonthlyUsage != 150 {
		t.Errorf("MonthlyUsage = %d, want 150", got.MonthlyUsage)
	}
	if got.AddonCredits != 0 {
		t.Errorf("AddonCredits = %d, want 0", got.AddonCredits)
	}
}

func TestAccountStore_ResetCycle(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()

	resetAt := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	store.Create(ctx, account.Account{
		ID:           "a1",
		DailyUsage:   20,
		CycleCadence: plan.CadenceDaily,
		ResetAt:      resetAt,
	})

	r := account.CycleReset{
		Cadence:    plan.CadenceDaily,
		CycleStart: resetAt,
		ResetAt:    resetAt.AddDate(0, 0, 1),
		ZeroDaily:  true,
	}

	ok, err := store.ResetCycle(ctx, "a1", plan.CadenceDaily, resetAt, r)
	if err != nil {
		t.Fatalf("ResetCycle failed: %v", err)
	}
	if !ok {
		t.Fatal("first ResetCycle should apply")
	}

	// Second caller holds the stale expectation.
	ok, err = store.ResetCycle(ctx, "a1", plan.CadenceDaily, resetAt, r)
	if err != nil {
		t.Fatalf("ResetCycle failed: %v", err)
	}
	if ok {
		t.Error("stale ResetCycle should not apply")
	}

	got, _ := store.Get(ctx, "a1")
	if got.DailyUsage != 0 {
		t.Errorf("DailyUsage = %d, want 0", got.DailyUsage)
	}
	if !got.ResetAt.Equal(resetAt.AddDate(0, 0, 1)) {
		t.Errorf("ResetAt = %v, want %v", got.ResetAt, resetAt.AddDate(0, 0, 1))
	}
}

func TestAccountStore_ResetCycle_CadenceMismatch(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()

	store.Create(ctx, account.Account{ID: "a1", CycleCadence: plan.CadenceMonthly})

	ok, err := store.ResetCycle(ctx, "a1", plan.CadenceDaily, time.Time{}, account.CycleReset{Cadence: plan.CadenceDaily})
	if err != nil {
		t.Fatalf("ResetCycle failed: %v", err)
	}
	if ok {
		t.Error("ResetCycle with mismatched cadence should not apply")
	}
}

func TestAccountStore_ListDue(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()

	store.Create(ctx, account.Account{ID: "a1", Email: "1@x", ResetAt: t0.Add(-time.Hour)})
	store.Create(ctx, account.Account{ID: "a2", Email: "2@x", ResetAt: t0})
	store.Create(ctx, account.Account{ID: "a3", Email: "3@x", ResetAt: t0.Add(time.Hour)})
	store.Create(ctx, account.Account{ID: "a4", Email: "4@x"})

	due, err := store.ListDue(ctx, t0, 0)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due accounts, got %d", len(due))
	}
	if due[0].ID != "a1" || due[1].ID != "a2" {
		t.Errorf("due = [%s %s], want [a1 a2]", due[0].ID, due[1].ID)
	}

	limited, _ := store.ListDue(ctx, t0, 1)
	if len(limited) != 1 {
		t.Errorf("expected 1 account with limit, got %d", len(limited))
	}
}

// CreditStore tests

func TestAccountStore_AddCredits(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()
	store.Create(ctx, account.Account{ID: "a1", AddonCredits: 500})

	p := credit.Purchase{ID: "pur_1", AccountID: "a1", Addon: "small-boost", Credits: 1000, PaymentRef: "pay_1", PurchasedAt: t0}
	balance, err := store.AddCredits(ctx, p, credit.DefaultCap)
	if err != nil {
		t.Fatalf("AddCredits failed: %v", err)
	}
	if balance != 1500 {
		t.Errorf("balance = %d, want 1500", balance)
	}

	if _, err := store.AddCredits(ctx, p, credit.DefaultCap); !errors.Is(err, ports.ErrDuplicate) {
		t.Errorf("replayed payment error = %v, want ErrDuplicate", err)
	}

	history, _ := store.History(ctx, "a1")
	if len(history) != 1 {
		t.Errorf("expected 1 purchase, got %d", len(history))
	}
}

func TestAccountStore_AddCredits_Cap(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()
	store.Create(ctx, account.Account{ID: "a1", AddonCredits: 45000})

	p := credit.Purchase{ID: "pur_1", AccountID: "a1", Credits: 10000, PaymentRef: "pay_1"}
	_, err := store.AddCredits(ctx, p, credit.DefaultCap)

	var capErr *credit.CapError
	if !errors.As(err, &capErr) {
		t.Fatalf("error = %v, want CapError", err)
	}
	if capErr.Balance != 45000 {
		t.Errorf("CapError.Balance = %d, want 45000", capErr.Balance)
	}

	got, _ := store.Get(ctx, "a1")
	if got.AddonCredits != 45000 {
		t.Errorf("AddonCredits = %d, want unchanged 45000", got.AddonCredits)
	}
	history, _ := store.History(ctx, "a1")
	if len(history) != 0 {
		t.Errorf("rejected purchase should not be recorded, got %d", len(history))
	}
}

func TestAccountStore_AddCredits_ConcurrentCap(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()
	store.Create(ctx, account.Account{ID: "a1"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.AddCredits(ctx, credit.Purchase{
				ID:         fmt.Sprintf("pur_%d", i),
				AccountID:  "a1",
				Credits:    10000,
				PaymentRef: fmt.Sprintf("pay_%d", i),
			}, credit.DefaultCap)
		}(i)
	}
	wg.Wait()

	got, _ := store.Get(ctx, "a1")
	if got.AddonCredits != credit.DefaultCap {
		t.Errorf("AddonCredits = %d, want %d", got.AddonCredits, credit.DefaultCap)
	}
	history, _ := store.History(ctx, "a1")
	if len(history) != 5 {
		t.Errorf("expected 5 purchases, got %d", len(history))
	}
}

func TestAccountStore_History_NewestFirst(t *testing.T) {
	store := memory.NewAccountStore()
	ctx := context.Background()
	store.Create(ctx, account.Account{ID: "a1"})

	store.AddCredits(ctx, credit.Purchase{ID: "p1", AccountID: "a1", Credits: 1, PaymentRef: "r1"}, 100)
	store.AddCredits(ctx, credit.Purchase{ID: "p2", AccountID: "a1", Credits: 1, PaymentRef: "r2"}, 100)

	history, _ := store.History(ctx, "a1")
	if len(history) != 2 || history[0].ID != "p2" {
		t.Errorf("history not newest first: %+v", history)
	}
}

// CredentialStore tests

func TestCredentialStore_FindByFingerprint(t *testing.T) {
	store := memory.NewCredentialStore()
	ctx := context.Background()

	store.Create(ctx, credential.Credential{ID: "c1", AccountID: "a1", Fingerprint: "tr_abc"})
	store.Create(ctx, credential.Credential{ID: "c2", AccountID: "a2", Fingerprint: "tr_abc"})
	store.Create(ctx, credential.Credential{ID: "c3", AccountID: "a1", Fingerprint: "tr_def"})

	creds, err := store.FindByFingerprint(ctx, "tr_abc")
	if err != nil {
		t.Fatalf("FindByFingerprint failed: %v", err)
	}
	if len(creds) != 2 {
		t.Errorf("expected 2 credentials, got %d", len(creds))
	}

	store.Revoke(ctx, "c1", t0)
	creds, _ = store.FindByFingerprint(ctx, "tr_abc")
	if len(creds) != 1 {
		t.Errorf("revoked credential should be excluded, got %d", len(creds))
	}
}

func TestCredentialStore_Revoke_NotFound(t *testing.T) {
	store := memory.NewCredentialStore()

	if err := store.Revoke(context.Background(), "missing", t0); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCredentialStore_ListByAccount(t *testing.T) {
	store := memory.NewCredentialStore()
	ctx := context.Background()

	store.Create(ctx, credential.Credential{ID: "c2", AccountID: "a1", CreatedAt: t0.Add(time.Hour)})
	store.Create(ctx, credential.Credential{ID: "c1", AccountID: "a1", CreatedAt: t0})
	store.Create(ctx, credential.Credential{ID: "c3", AccountID: "a2", CreatedAt: t0})

	creds, _ := store.ListByAccount(ctx, "a1")
	if len(creds) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(creds))
	}
	if creds[0].ID != "c1" {
		t.Errorf("first credential = %s, want c1", creds[0].ID)
	}
}

func TestCredentialStore_Touch(t *testing.T) {
	store := memory.NewCredentialStore()
	ctx := context.Background()

	store.Create(ctx, credential.Credential{ID: "c1", AccountID: "a1"})
	store.Touch(ctx, "c1", t0)

	creds, _ := store.ListByAccount(ctx, "a1")
	if creds[0].LastUsedAt == nil || !creds[0].LastUsedAt.Equal(t0) {
		t.Errorf("LastUsedAt = %v, want %v", creds[0].LastUsedAt, t0)
	}
}

// GuestLedger tests

func TestGuestLedger_Admit(t *testing.T) {
	clk := clock.NewFake(t0)
	ledger := memory.NewGuestLedger(memory.GuestLedgerConfig{Clock: clk})
	defer ledger.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := ledger.Admit(ctx, "203.0.113.7", 3, clk.Now())
		if err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if res.Remaining != 3-i {
			t.Errorf("request %d: Remaining = %d, want %d", i, res.Remaining, 3-i)
		}
	}

	res, _ := ledger.Admit(ctx, "203.0.113.7", 3, clk.Now())
	if res.Allowed {
		t.Error("fourth request should be denied")
	}

	// Other clients are independent.
	res, _ = ledger.Admit(ctx, "198.51.100.1", 3, clk.Now())
	if !res.Allowed {
		t.Error("other client should be allowed")
	}

	clk.NextDay(time.Hour)
	res, _ = ledger.Admit(ctx, "203.0.113.7", 3, clk.Now())
	if !res.Allowed || res.Count != 1 {
		t.Errorf("next day: Allowed = %v, Count = %d, want true, 1", res.Allowed, res.Count)
	}
}

func TestGuestLedger_Release(t *testing.T) {
	clk := clock.NewFake(t0)
	ledger := memory.NewGuestLedger(memory.GuestLedgerConfig{Clock: clk})
	defer ledger.Close()
	ctx := context.Background()

	res, _ := ledger.Admit(ctx, "203.0.113.7", 1, clk.Now())
	if !res.Allowed {
		t.Fatal("first request should be allowed")
	}
	if err := ledger.Release(ctx, "203.0.113.7", res.Day); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	res, _ = ledger.Admit(ctx, "203.0.113.7", 1, clk.Now())
	if !res.Allowed || res.Count != 1 {
		t.Errorf("after release: Allowed = %v, Count = %d, want true, 1", res.Allowed, res.Count)
	}

	// Unknown clients and stale days are no-ops.
	if err := ledger.Release(ctx, "198.51.100.1", res.Day); err != nil {
		t.Fatalf("Release unknown failed: %v", err)
	}
	ledger.Release(ctx, "203.0.113.7", "2000-01-01")
	if res, _ := ledger.Admit(ctx, "203.0.113.7", 1, clk.Now()); res.Allowed {
		t.Error("stale-day release must not free today's slot")
	}
}

func TestGuestLedger_Sweep(t *testing.T) {
	clk := clock.NewFake(t0)
	ledger := memory.NewGuestLedger(memory.GuestLedgerConfig{Clock: clk, NumShards: 4})
	defer ledger.Close()
	ctx := context.Background()

	ledger.Admit(ctx, "a", 25, clk.Now())
	ledger.Admit(ctx, "b", 25, clk.Now())
	if ledger.Len() != 2 {
		t.Fatalf("Len = %d, want 2", ledger.Len())
	}

	ledger.Sweep()
	if ledger.Len() != 2 {
		t.Errorf("same-day sweep removed records, Len = %d", ledger.Len())
	}

	clk.NextDay(0)
	ledger.Sweep()
	if ledger.Len() != 0 {
		t.Errorf("Len after next-day sweep = %d, want 0", ledger.Len())
	}
}

func TestGuestLedger_CloseTwice(t *testing.T) {
	ledger := memory.NewGuestLedger(memory.GuestLedgerConfig{Clock: clock.NewFake(t0)})
	ledger.Close()
	ledger.Close()
}

// RateLimitStore tests

func TestRateLimitStore_GetSet(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()
	ctx := context.Background()

	got, err := store.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Count != 0 || !got.WindowEnd.IsZero() {
		t.Errorf("missing key should return zero state, got %+v", got)
	}

	store.Set(ctx, "k", ratelimit.WindowState{Count: 4, WindowEnd: t0})
	got, _ = store.Get(ctx, "k")
	if got.Count != 4 {
		t.Errorf("Count = %d, want 4", got.Count)
	}
}

func TestRateLimitStore_Annotate(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{NumShards: 8, CleanupInterval: time.Minute})
	defer store.Close()
	ctx := context.Background()

	a, err := store.Annotate(ctx, "acct_1", 3, time.Second, t0)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if a.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2", a.Remaining)
	}

	store.Annotate(ctx, "acct_1", 3, time.Second, t0)
	store.Annotate(ctx, "acct_1", 3, time.Second, t0)
	a, _ = store.Annotate(ctx, "acct_1", 3, time.Second, t0)
	if a.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0 (never negative)", a.Remaining)
	}

	// A new window starts fresh.
	a, _ = store.Annotate(ctx, "acct_1", 3, time.Second, t0.Add(time.Second))
	if a.Remaining != 2 {
		t.Errorf("new window Remaining = %d, want 2", a.Remaining)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestRateLimitStore_Concurrent(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Annotate(ctx, "shared", 1000, time.Minute, t0)
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, "shared")
	if got.Count != 100 {
		t.Errorf("Count = %d, want 100", got.Count)
	}
}
