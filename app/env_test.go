package app_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/adapters/clock"
	"github.com/shrinkix/quotagate/adapters/engine"
	"github.com/shrinkix/quotagate/adapters/hasher"
	"github.com/shrinkix/quotagate/adapters/idgen"
	"github.com/shrinkix/quotagate/adapters/memory"
	"github.com/shrinkix/quotagate/adapters/random"
	"github.com/shrinkix/quotagate/app"
	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/domain/quota"
	"github.com/shrinkix/quotagate/ports"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// testEnv wires every service over in-memory stores and a fake clock.
type testEnv struct {
	clock       *clock.Fake
	accounts    *memory.AccountStore
	credentials *memory.CredentialStore
	guests      *memory.GuestLedger
	rateLimits  *memory.RateLimitStore
	catalogs    *app.CatalogHolder

	resolver  *app.CredentialResolver
	ledger    *app.CreditLedger
	enforcer  *app.QuotaEnforcer
	recorder  *app.UsageRecorder
	accountsv *app.AccountService
	sweeper   *app.CycleSweeper
	compress  *app.CompressService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, engine.NewLocal(nil))
}

func newTestEnvWith(t *testing.T, processor ports.Processor) *testEnv {
	t.Helper()

	logger := zerolog.Nop()
	env := &testEnv{
		clock:       clock.NewFake(baseTime),
		accounts:    memory.NewAccountStore(),
		credentials: memory.NewCredentialStore(),
		rateLimits:  memory.NewRateLimitStore(memory.RateLimitConfig{}),
		catalogs:    app.DefaultCatalogHolder(),
	}
	env.guests = memory.NewGuestLedger(memory.GuestLedgerConfig{Clock: env.clock})
	t.Cleanup(func() {
		env.guests.Close()
		env.rateLimits.Close()
	})

	env.resolver = app.NewCredentialResolver(app.ResolverDeps{
		Accounts:    env.accounts,
		Credentials: env.credentials,
		Hasher:      hasher.Fake{},
		Clock:       env.clock,
		Logger:      logger,
	})
	env.ledger = app.NewCreditLedger(app.LedgerDeps{
		Accounts: env.accounts,
		Credits:  env.accounts,
		Catalogs: env.catalogs,
		Clock:    env.clock,
		IDGen:    idgen.NewSequential(idgen.PrefixPurchase),
		Logger:   logger,
	})
	env.enforcer = app.NewQuotaEnforcer(app.EnforcerDeps{
		Accounts: env.accounts,
		Ledger:   env.ledger,
		Catalogs: env.catalogs,
		Clock:    env.clock,
		Logger:   logger,
	})
	env.recorder = app.NewUsageRecorder(app.RecorderDeps{
		Accounts: env.accounts,
		Ledger:   env.ledger,
		Catalogs: env.catalogs,
		Clock:    env.clock,
		Logger:   logger,
	})
	env.accountsv = app.NewAccountService(app.AccountDeps{
		Accounts:    env.accounts,
		Credentials: env.credentials,
		Ledger:      env.ledger,
		Catalogs:    env.catalogs,
		Hasher:      hasher.Fake{},
		Random:      random.NewFake(),
		Clock:       env.clock,
		AccountIDs:  idgen.NewSequential(idgen.PrefixAccount),
		KeyIDs:      idgen.NewSequential(idgen.PrefixCredential),
		Logger:      logger,
	}, app.AccountConfig{})
	env.sweeper = app.NewCycleSweeper(app.SweeperDeps{
		Accounts: env.accounts,
		Ledger:   env.ledger,
		Catalogs: env.catalogs,
		Clock:    env.clock,
		Logger:   logger,
	}, 2)
	env.compress = app.NewCompressService(app.CompressDeps{
		Resolver:  env.resolver,
		Enforcer:  env.enforcer,
		Recorder:  env.recorder,
		Guests:    app.NewGuestQuota(env.guests, env.clock, nil, 3),
		Annotator: app.NewRateLimitAnnotator(env.rateLimits, env.clock, logger),
		Catalogs:  env.catalogs,
		Prober:    engine.HeaderProber{},
		Processor: processor,
		Clock:     env.clock,
		Logger:    logger,
	})
	return env
}

// seedAccount stores an account whose cycle is current at baseTime.
func (e *testEnv) seedAccount(t *testing.T, a account.Account) account.Account {
	t.Helper()
	p, ok := e.catalogs.Plans().Get(a.PlanID)
	if !ok {
		t.Fatalf("unknown plan %s", a.PlanID)
	}
	if a.ResetAt.IsZero() {
		a.CycleCadence = p.Cadence
		a.CycleStart = quota.CycleStart(p.Cadence, e.clock.Now())
		a.ResetAt = quota.NextReset(p.Cadence, e.clock.Now())
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = e.clock.Now().Add(-24 * time.Hour)
	}
	if err := e.accounts.Create(context.Background(), a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

// seedKey stores a hashed credential (hasher.Fake stores the raw key).
func (e *testEnv) seedKey(t *testing.T, id, accountID, rawKey string) {
	t.Helper()
	err := e.credentials.Create(context.Background(), credential.Credential{
		ID:          id,
		AccountID:   accountID,
		Fingerprint: credential.Fingerprint(rawKey),
		Hash:        []byte(rawKey),
		CreatedAt:   e.clock.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seed key: %v", err)
	}
}

func (e *testEnv) account(t *testing.T, id string) account.Account {
	t.Helper()
	a, err := e.accounts.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get account %s: %v", id, err)
	}
	return a
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
