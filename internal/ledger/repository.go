package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes the following tables exist:
// - balances (projection, one row per user)
// - ledger_transactions (immutable append-only)
//
// It also assumes the idempotency constraint:
// UNIQUE (transaction_key)
//
// Guarded updates are single conditional statements, not read-then-write
// pairs: the row-level atomicity of the store is the mutex.

// DebitIfSufficient debits amount from a user's balance only if the balance
// covers it. The predicate is part of the UPDATE, so concurrent debits can
// never drive the balance negative. Returns ok=false when no row matched
// (insufficient funds, or no balance row at all).
func DebitIfSufficient(ctx context.Context, tx *sql.Tx, userID string, amount int64, now time.Time) (Balance, bool, error) {
	const q = `
UPDATE balances
SET balance = balance - $2,
    total_spent = total_spent + $2,
    updated_at = $3
WHERE user_id = $1 AND balance >= $2
RETURNING user_id, balance, total_spent, total_earned, updated_at
`
	var b Balance
	err := tx.QueryRowContext(ctx, q, userID, amount, now).Scan(
		&b.UserID,
		&b.BalanceMinor,
		&b.TotalSpentMinor,
		&b.TotalEarnedMinor,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, false, nil
		}
		return Balance{}, false, err
	}
	return b, true, nil
}

// Credit credits amount to an existing balance row. Returns ok=false when the
// row is missing; callers decide whether that is fatal (a settlement payee
// must exist) or calls for an upsert (top-ups use CreditUpsert).
func Credit(ctx context.Context, tx *sql.Tx, userID string, amount int64, now time.Time) (Balance, bool, error) {
	const q = `
UPDATE balances
SET balance = balance + $2,
    total_earned = total_earned + $2,
    updated_at = $3
WHERE user_id = $1
RETURNING user_id, balance, total_spent, total_earned, updated_at
`
	var b Balance
	err := tx.QueryRowContext(ctx, q, userID, amount, now).Scan(
		&b.UserID,
		&b.BalanceMinor,
		&b.TotalSpentMinor,
		&b.TotalEarnedMinor,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, false, nil
		}
		return Balance{}, false, err
	}
	return b, true, nil
}

// CreditUpsert credits amount, creating the balance row if needed.
func CreditUpsert(ctx context.Context, tx *sql.Tx, userID string, amount int64, now time.Time) (Balance, error) {
	const q = `
INSERT INTO balances (user_id, balance, total_spent, total_earned, updated_at)
VALUES ($1, $2, 0, $2, $3)
ON CONFLICT (user_id)
DO UPDATE SET balance = balances.balance + EXCLUDED.balance,
              total_earned = balances.total_earned + EXCLUDED.balance,
              updated_at = EXCLUDED.updated_at
RETURNING user_id, balance, total_spent, total_earned, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID, amount, now).Scan(
		&b.UserID,
		&b.BalanceMinor,
		&b.TotalSpentMinor,
		&b.TotalEarnedMinor,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}

// InsertTransaction appends a ledger entry. A transaction_key conflict means
// an earlier attempt already recorded this entry; it returns inserted=false
// and no error so callers can treat it as already settled.
func InsertTransaction(ctx context.Context, tx *sql.Tx, t Transaction) (bool, error) {
	const q = `
INSERT INTO ledger_transactions (
  id, transaction_key, user_id, direction, amount, balance_before, balance_after,
  group_id, call_id, minute_number, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (transaction_key) DO NOTHING
`
	res, err := tx.ExecContext(ctx, q,
		t.ID,
		t.TransactionKey,
		t.UserID,
		t.Direction,
		t.AmountMinor,
		t.BalanceBeforeMinor,
		t.BalanceAfterMinor,
		t.GroupID,
		t.CallID,
		t.MinuteNumber,
		t.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetBalance reads a user's balance outside a transaction.
func GetBalance(ctx context.Context, db *sql.DB, userID string) (Balance, error) {
	const q = `
SELECT user_id, balance, total_spent, total_earned, updated_at
FROM balances
WHERE user_id = $1
`
	var b Balance
	if err := db.QueryRowContext(ctx, q, userID).Scan(
		&b.UserID,
		&b.BalanceMinor,
		&b.TotalSpentMinor,
		&b.TotalEarnedMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

// GetBalanceTx reads a user's balance inside a transaction (plain read, no
// lock; used for reporting the current balance after a failed guarded debit).
func GetBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	const q = `
SELECT user_id, balance, total_spent, total_earned, updated_at
FROM balances
WHERE user_id = $1
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID).Scan(
		&b.UserID,
		&b.BalanceMinor,
		&b.TotalSpentMinor,
		&b.TotalEarnedMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func findTransactionByKey(ctx context.Context, tx *sql.Tx, key string) (Transaction, bool, error) {
	const q = `
SELECT id, transaction_key, user_id, direction, amount, balance_before, balance_after,
       group_id, call_id, minute_number, created_at
FROM ledger_transactions
WHERE transaction_key = $1
LIMIT 1
`
	var t Transaction
	err := tx.QueryRowContext(ctx, q, key).Scan(
		&t.ID,
		&t.TransactionKey,
		&t.UserID,
		&t.Direction,
		&t.AmountMinor,
		&t.BalanceBeforeMinor,
		&t.BalanceAfterMinor,
		&t.GroupID,
		&t.CallID,
		&t.MinuteNumber,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return t, true, nil
}

// ListTransactionsByUser returns a user's most recent ledger entries.
func ListTransactionsByUser(ctx context.Context, db *sql.DB, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
SELECT id, transaction_key, user_id, direction, amount, balance_before, balance_after,
       group_id, call_id, minute_number, created_at
FROM ledger_transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID,
			&t.TransactionKey,
			&t.UserID,
			&t.Direction,
			&t.AmountMinor,
			&t.BalanceBeforeMinor,
			&t.BalanceAfterMinor,
			&t.GroupID,
			&t.CallID,
			&t.MinuteNumber,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
