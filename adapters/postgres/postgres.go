// Package postgres provides PostgreSQL implementations of the account,
// credit and credential stores.
//
// Every conditional write is a single UPDATE guarded by its WHERE clause,
// or a short transaction holding the account row lock. This makes the
// stores safe for multi-instance deployments.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/ports"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies pending schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("quotagate/postgres: migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("quotagate/postgres: migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("quotagate/postgres: migrate: %w", err)
	}
	return nil
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("quotagate/postgres: pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("quotagate/postgres: ping: %w", err)
	}
	return pool, nil
}

const accountColumns = `id, email, plan_id, created_at, plan_updated_at, expires_at,
	monthly_usage, daily_usage, addon_credits, legacy_credits,
	cycle_cadence, cycle_start, reset_at, last_used_at, session_token, session_expires_at`

// AccountStore implements ports.AccountStore and ports.CreditStore.
type AccountStore struct {
	pool *pgxpool.Pool
}

var (
	_ ports.AccountStore    = (*AccountStore)(nil)
	_ ports.CreditStore     = (*AccountStore)(nil)
	_ ports.CredentialStore = (*CredentialStore)(nil)
)

// NewAccountStore creates a new PostgreSQL-backed account store.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(ctx context.Context, id string) (account.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// GetByEmail retrieves an account by email (case-insensitive).
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email))
}

// GetBySession retrieves the account holding a session token.
func (s *AccountStore) GetBySession(ctx context.Context, token string) (account.Account, error) {
	if token == "" {
		return account.Account{}, ports.ErrNotFound
	}
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE session_token = $1`, token))
}

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, a account.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.PlanUpdatedAt.IsZero() {
		a.PlanUpdatedAt = a.CreatedAt
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, a.ID, nullString(a.Email), a.PlanID, a.CreatedAt, a.PlanUpdatedAt, a.ExpiresAt,
		a.MonthlyUsage, a.DailyUsage, a.AddonCredits, a.LegacyCredits,
		string(a.CycleCadence), nullTime(a.CycleStart), nullTime(a.ResetAt),
		a.LastUsedAt, nullString(a.SessionToken), a.SessionExpiresAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("account %s: %w", a.ID, ports.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("quotagate/postgres: create account: %w", err)
	}
	return nil
}

// SetPlan overwrites the plan.
func (s *AccountStore) SetPlan(ctx context.Context, id, planID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET plan_id = $1, plan_updated_at = $2 WHERE id = $3`, planID, at, id)
	if err != nil {
		return fmt.Errorf("quotagate/postgres: set plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// ClearSession removes the session token and expiry.
func (s *AccountStore) ClearSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET session_token = NULL, session_expires_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("quotagate/postgres: clear session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// ResetCycle applies r when the stored cycle still matches the expectation.
func (s *AccountStore) ResetCycle(ctx context.Context, id string, expectCadence plan.Cadence, expectResetAt time.Time, r account.CycleReset) (bool, error) {
	var applied bool
	err := s.pool.QueryRow(ctx, `
		UPDATE accounts SET
			cycle_cadence = $1,
			cycle_start = $2,
			reset_at = $3,
			daily_usage = CASE WHEN $4 THEN 0 ELSE daily_usage END,
			monthly_usage = CASE WHEN $5 THEN 0 ELSE monthly_usage END,
			addon_credits = CASE WHEN $6 THEN 0 ELSE addon_credits END
		WHERE id = $7 AND cycle_cadence = $8 AND reset_at IS NOT DISTINCT FROM $9::timestamptz
		RETURNING true
	`, string(r.Cadence), nullTime(r.CycleStart), nullTime(r.ResetAt),
		r.ZeroDaily, r.ZeroMonthly, r.ZeroAddons,
		id, string(expectCadence), nullTime(expectResetAt),
	).Scan(&applied)

	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race, or the account does not exist.
		var exists bool
		err = s.pool.QueryRow(ctx, `SELECT true FROM accounts WHERE id = $1`, id).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ports.ErrNotFound
		}
		if err != nil {
			return false, fmt.Errorf("quotagate/postgres: check exists: %w", err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("quotagate/postgres: reset cycle: %w", err)
	}
	return applied, nil
}

// RecordUsage charges one request. Each pool is tried with a guarded
// UPDATE while the row lock is held, so the cascade order is preserved
// under concurrency.
func (s *AccountStore) RecordUsage(ctx context.Context, id string, d account.Debit) (account.Account, account.Pool, error) {
	counter := "monthly_usage"
	if d.Counter == account.CounterDaily {
		counter = "daily_usage"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return account.Account{}, "", fmt.Errorf("quotagate/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked bool
	err = tx.QueryRow(ctx, `SELECT true FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return account.Account{}, "", ports.ErrNotFound
	}
	if err != nil {
		return account.Account{}, "", fmt.Errorf("quotagate/postgres: lock account: %w", err)
	}

	steps := []struct {
		pool account.Pool
		sql  string
		args []any
		skip bool
	}{
		{
			pool: account.PoolUnmetered,
			sql:  fmt.Sprintf(`UPDATE accounts SET %[1]s = %[1]s + 1, last_used_at = $2 WHERE id = $1`, counter),
			args: []any{id, d.At},
			skip: d.Allotment >= 0,
		},
		{
			pool: account.PoolBase,
			sql:  fmt.Sprintf(`UPDATE accounts SET %[1]s = %[1]s + 1, last_used_at = $2 WHERE id = $1 AND %[1]s < $3`, counter),
			args: []any{id, d.At, d.Allotment},
			skip: d.Allotment < 0,
		},
		{
			pool: account.PoolAddon,
			sql:  `UPDATE accounts SET addon_credits = addon_credits - 1, last_used_at = $2 WHERE id = $1 AND addon_credits > 0`,
			args: []any{id, d.At},
			skip: d.Allotment < 0 || !d.Addons,
		},
		{
			pool: account.PoolLegacy,
			sql:  `UPDATE accounts SET legacy_credits = legacy_credits - 1, last_used_at = $2 WHERE id = $1 AND legacy_credits > 0`,
			args: []any{id, d.At},
			skip: d.Allotment < 0,
		},
		{
			pool: account.PoolOverflow,
			sql:  fmt.Sprintf(`UPDATE accounts SET %[1]s = %[1]s + 1, last_used_at = $2 WHERE id = $1`, counter),
			args: []any{id, d.At},
			skip: d.Allotment < 0,
		},
	}

	for _, step := range steps {
		if step.skip {
			continue
		}
		a, err := scanAccount(tx.QueryRow(ctx, step.sql+` RETURNING `+accountColumns, step.args...))
		if errors.Is(err, ports.ErrNotFound) {
			continue
		}
		if err != nil {
			return account.Account{}, "", fmt.Errorf("quotagate/postgres: debit %s: %w", step.pool, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return account.Account{}, "", fmt.Errorf("quotagate/postgres: commit: %w", err)
		}
		return a, step.pool, nil
	}
	return account.Account{}, "", fmt.Errorf("quotagate/postgres: no debit applied to %s", id)
}

// ListDue returns accounts whose cycle ended at or before now.
func (s *AccountStore) ListDue(ctx context.Context, now time.Time, limit int) ([]account.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE reset_at IS NOT NULL AND reset_at <= $1 ORDER BY id`
	args := []any{now}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("quotagate/postgres: list due: %w", err)
	}
	defer rows.Close()

	var accounts []account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// AddCredits records the purchase and raises the balance in one transaction.
func (s *AccountStore) AddCredits(ctx context.Context, p credit.Purchase, ceiling int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("quotagate/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Lock the account row.
	var current int64
	err = tx.QueryRow(ctx, `SELECT addon_credits FROM accounts WHERE id = $1 FOR UPDATE`, p.AccountID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ports.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("quotagate/postgres: lock account: %w", err)
	}

	// 2. Idempotency on the payment reference.
	var inserted bool
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_purchases (id, account_id, addon, credits, price_cents, payment_ref, purchased_at, cycle_start)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_ref) DO NOTHING
		RETURNING true
	`, p.ID, p.AccountID, p.Addon, p.Credits, p.PriceCents, p.PaymentRef, p.PurchasedAt, nullTime(p.CycleStart)).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("payment %s: %w", p.PaymentRef, ports.ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("quotagate/postgres: insert purchase: %w", err)
	}

	// 3. Atomic grant: update only while under the cap.
	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET addon_credits = addon_credits + $1
		WHERE id = $2 AND addon_credits + $1 <= $3
		RETURNING addon_credits
	`, p.Credits, p.AccountID, ceiling).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &credit.CapError{Balance: current, Requested: p.Credits, Cap: ceiling}
	}
	if err != nil {
		return 0, fmt.Errorf("quotagate/postgres: grant credits: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("quotagate/postgres: commit: %w", err)
	}
	return balance, nil
}

// History returns purchases for an account, newest first.
func (s *AccountStore) History(ctx context.Context, accountID string) ([]credit.Purchase, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, addon, credits, price_cents, payment_ref, purchased_at, cycle_start
		FROM credit_purchases
		WHERE account_id = $1
		ORDER BY purchased_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("quotagate/postgres: history: %w", err)
	}
	defer rows.Close()

	purchases := []credit.Purchase{}
	for rows.Next() {
		var p credit.Purchase
		var cycleStart *time.Time
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Addon, &p.Credits, &p.PriceCents,
			&p.PaymentRef, &p.PurchasedAt, &cycleStart); err != nil {
			return nil, err
		}
		p.PurchasedAt = p.PurchasedAt.UTC()
		p.CycleStart = valueOrZero(cycleStart)
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// CredentialStore implements ports.CredentialStore.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a new PostgreSQL-backed credential store.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// FindByFingerprint returns unrevoked credentials sharing a fingerprint.
func (s *CredentialStore) FindByFingerprint(ctx context.Context, fingerprint string) ([]credential.Credential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, fingerprint, hash, legacy_plaintext, name, created_at, revoked_at, last_used_at
		FROM credentials
		WHERE fingerprint = $1 AND revoked_at IS NULL
	`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("quotagate/postgres: find credential: %w", err)
	}
	return scanCredentials(rows)
}

// Create stores a new credential.
func (s *CredentialStore) Create(ctx context.Context, c credential.Credential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (id, account_id, fingerprint, hash, legacy_plaintext, name, created_at, revoked_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.AccountID, c.Fingerprint, c.Hash, c.LegacyPlaintext, c.Name, c.CreatedAt, c.RevokedAt, c.LastUsedAt)
	if isUniqueViolation(err) {
		return ports.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("quotagate/postgres: create credential: %w", err)
	}
	return nil
}

// Revoke marks a credential as revoked.
func (s *CredentialStore) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE credentials SET revoked_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("quotagate/postgres: revoke: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// ListByAccount returns all credentials of an account, oldest first.
func (s *CredentialStore) ListByAccount(ctx context.Context, accountID string) ([]credential.Credential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, fingerprint, hash, legacy_plaintext, name, created_at, revoked_at, last_used_at
		FROM credentials
		WHERE account_id = $1
		ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("quotagate/postgres: list credentials: %w", err)
	}
	return scanCredentials(rows)
}

// Touch updates the last used timestamp.
func (s *CredentialStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE credentials SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("quotagate/postgres: touch: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (account.Account, error) {
	var a account.Account
	var email, session *string
	var cadence string
	var cycleStart, resetAt *time.Time

	err := row.Scan(
		&a.ID, &email, &a.PlanID, &a.CreatedAt, &a.PlanUpdatedAt, &a.ExpiresAt,
		&a.MonthlyUsage, &a.DailyUsage, &a.AddonCredits, &a.LegacyCredits,
		&cadence, &cycleStart, &resetAt, &a.LastUsedAt, &session, &a.SessionExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return account.Account{}, ports.ErrNotFound
	}
	if err != nil {
		return account.Account{}, err
	}

	if email != nil {
		a.Email = *email
	}
	if session != nil {
		a.SessionToken = *session
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.PlanUpdatedAt = a.PlanUpdatedAt.UTC()
	a.CycleCadence = plan.Cadence(cadence)
	a.CycleStart = valueOrZero(cycleStart)
	a.ResetAt = valueOrZero(resetAt)
	a.ExpiresAt = utcPtr(a.ExpiresAt)
	a.LastUsedAt = utcPtr(a.LastUsedAt)
	a.SessionExpiresAt = utcPtr(a.SessionExpiresAt)
	return a, nil
}

func scanCredentials(rows pgx.Rows) ([]credential.Credential, error) {
	defer rows.Close()

	var creds []credential.Credential
	for rows.Next() {
		var c credential.Credential
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Fingerprint, &c.Hash, &c.LegacyPlaintext,
			&c.Name, &c.CreatedAt, &c.RevokedAt, &c.LastUsedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.RevokedAt = utcPtr(c.RevokedAt)
		c.LastUsedAt = utcPtr(c.LastUsedAt)
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func valueOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
