package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/ports"
)

const accountColumns = `id, email, plan_id, created_at, plan_updated_at, expires_at,
	monthly_usage, daily_usage, addon_credits, legacy_credits,
	cycle_cadence, cycle_start, reset_at, last_used_at, session_token, session_expires_at`

// AccountStore implements ports.AccountStore and ports.CreditStore using SQLite.
type AccountStore struct {
	db *DB
}

// NewAccountStore creates a new SQLite account store.
func NewAccountStore(db *DB) *AccountStore {
	return &AccountStore{db: db}
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(ctx context.Context, id string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetByEmail retrieves an account by email.
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	return scanAccount(row)
}

// GetBySession retrieves the account holding a session token.
func (s *AccountStore) GetBySession(ctx context.Context, token string) (account.Account, error) {
	if token == "" {
		return account.Account{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE session_token = ?`, token)
	return scanAccount(row)
}

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, a account.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.PlanUpdatedAt.IsZero() {
		a.PlanUpdatedAt = a.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, nullString(a.Email), a.PlanID, a.CreatedAt.UTC(), a.PlanUpdatedAt.UTC(), nullTime(a.ExpiresAt),
		a.MonthlyUsage, a.DailyUsage, a.AddonCredits, a.LegacyCredits,
		string(a.CycleCadence), unixOrZero(a.CycleStart), unixOrZero(a.ResetAt),
		nullTime(a.LastUsedAt), nullString(a.SessionToken), nullTime(a.SessionExpiresAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("account %s: %w", a.ID, ErrDuplicate)
	}
	return err
}

// SetPlan overwrites the plan.
func (s *AccountStore) SetPlan(ctx context.Context, id, planID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET plan_id = ?, plan_updated_at = ? WHERE id = ?
	`, planID, at.UTC(), id)
	return expectOne(result, err)
}

// ClearSession removes the session token and expiry.
func (s *AccountStore) ClearSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET session_token = NULL, session_expires_at = NULL WHERE id = ?
	`, id)
	return expectOne(result, err)
}

// ResetCycle applies r when the stored cycle still matches the expectation.
// The WHERE clause is the compare-and-swap: a concurrent reset that won
// first moves reset_at, so this one affects no rows.
func (s *AccountStore) ResetCycle(ctx context.Context, id string, expectCadence plan.Cadence, expectResetAt time.Time, r account.CycleReset) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET
			cycle_cadence = ?,
			cycle_start = ?,
			reset_at = ?,
			daily_usage = CASE WHEN ? THEN 0 ELSE daily_usage END,
			monthly_usage = CASE WHEN ? THEN 0 ELSE monthly_usage END,
			addon_credits = CASE WHEN ? THEN 0 ELSE addon_credits END
		WHERE id = ? AND cycle_cadence = ? AND reset_at = ?
	`, string(r.Cadence), unixOrZero(r.CycleStart), unixOrZero(r.ResetAt),
		r.ZeroDaily, r.ZeroMonthly, r.ZeroAddons,
		id, string(expectCadence), unixOrZero(expectResetAt))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing account.
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// RecordUsage charges one request inside a write transaction.
func (s *AccountStore) RecordUsage(ctx context.Context, id string, d account.Debit) (account.Account, account.Pool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return account.Account{}, "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		return account.Account{}, "", err
	}

	a, pool := account.ApplyDebit(a, d)
	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET
			monthly_usage = ?, daily_usage = ?, addon_credits = ?, legacy_credits = ?, last_used_at = ?
		WHERE id = ?
	`, a.MonthlyUsage, a.DailyUsage, a.AddonCredits, a.LegacyCredits, nullTime(a.LastUsedAt), id)
	if err != nil {
		return account.Account{}, "", fmt.Errorf("update usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return account.Account{}, "", fmt.Errorf("commit usage: %w", err)
	}
	return a, pool, nil
}

// ListDue returns accounts whose cycle ended at or before now.
func (s *AccountStore) ListDue(ctx context.Context, now time.Time, limit int) ([]account.Account, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE reset_at > 0 AND reset_at <= ?
		ORDER BY id
		LIMIT ?
	`, now.Unix(), limit)
	if err != nil {
		return nil, err
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
// The payment reference is unique, so a replayed confirmation fails.
func (s *AccountStore) AddCredits(ctx context.Context, p credit.Purchase, ceiling int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, `SELECT addon_credits FROM accounts WHERE id = ?`, p.AccountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_purchases (id, account_id, addon, credits, price_cents, payment_ref, purchased_at, cycle_start)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.AccountID, p.Addon, p.Credits, p.PriceCents, p.PaymentRef, p.PurchasedAt.UTC(), unixOrZero(p.CycleStart))
	if isUniqueConstraintError(err) {
		return 0, fmt.Errorf("payment %s: %w", p.PaymentRef, ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("insert purchase: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts SET addon_credits = addon_credits + ?
		WHERE id = ? AND addon_credits + ? <= ?
	`, p.Credits, p.AccountID, p.Credits, ceiling)
	if err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, &credit.CapError{Balance: balance, Requested: p.Credits, Cap: ceiling}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purchase: %w", err)
	}
	return balance + p.Credits, nil
}

// History returns purchases for an account, newest first.
func (s *AccountStore) History(ctx context.Context, accountID string) ([]credit.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, addon, credits, price_cents, payment_ref, purchased_at, cycle_start
		FROM credit_purchases
		WHERE account_id = ?
		ORDER BY purchased_at DESC, rowid DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := []credit.Purchase{}
	for rows.Next() {
		var p credit.Purchase
		var cycleStart int64
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Addon, &p.Credits, &p.PriceCents,
			&p.PaymentRef, &p.PurchasedAt, &cycleStart); err != nil {
			return nil, err
		}
		p.PurchasedAt = p.PurchasedAt.UTC()
		p.CycleStart = timeOrZero(cycleStart)
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (account.Account, error) {
	var a account.Account
	var email, session sql.NullString
	var cadence string
	var cycleStart, resetAt int64
	var expiresAt, lastUsed, sessionExpires sql.NullTime

	err := row.Scan(
		&a.ID, &email, &a.PlanID, &a.CreatedAt, &a.PlanUpdatedAt, &expiresAt,
		&a.MonthlyUsage, &a.DailyUsage, &a.AddonCredits, &a.LegacyCredits,
		&cadence, &cycleStart, &resetAt, &lastUsed, &session, &sessionExpires,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, ErrNotFound
	}
	if err != nil {
		return account.Account{}, err
	}

	a.Email = email.String
	a.SessionToken = session.String
	a.CreatedAt = a.CreatedAt.UTC()
	a.PlanUpdatedAt = a.PlanUpdatedAt.UTC()
	a.CycleCadence = plan.Cadence(cadence)
	a.CycleStart = timeOrZero(cycleStart)
	a.ResetAt = timeOrZero(resetAt)
	a.ExpiresAt = timePtr(expiresAt)
	a.LastUsedAt = timePtr(lastUsed)
	a.SessionExpiresAt = timePtr(sessionExpires)
	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func expectOne(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ensure interface compliance.
var (
	_ ports.AccountStore = (*AccountStore)(nil)
	_ ports.CreditStore  = (*AccountStore)(nil)
)
