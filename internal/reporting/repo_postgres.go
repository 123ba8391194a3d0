package reporting

import (
	"context"
	"database/sql"
	"time"

	"call-billing/internal/call"
	"call-billing/internal/ledger"
)

// PostgresRepo reads reporting data straight from the billing tables.
// Aggregation happens in the service; these queries only filter.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListCalls(ctx context.Context, from, to time.Time, channel string) ([]call.Call, error) {
	q := `
SELECT id, consumer_id, provider_id, rate_per_minute, channel, started_at,
       last_billed_minute, status, end_reason, duration_seconds
FROM calls
WHERE started_at >= $1 AND started_at < $2
`
	args := []any{from, to}
	if channel != "" {
		q += ` AND channel = $3`
		args = append(args, channel)
	}
	q += ` ORDER BY started_at`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []call.Call
	for rows.Next() {
		var c call.Call
		var reason sql.NullString
		if err := rows.Scan(
			&c.ID,
			&c.ConsumerID,
			&c.ProviderID,
			&c.RatePerMinute,
			&c.Channel,
			&c.StartedAt,
			&c.LastBilledMinute,
			&c.Status,
			&reason,
			&c.DurationSeconds,
		); err != nil {
			return nil, err
		}
		if reason.Valid {
			c.EndReason = call.EndReason(reason.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListLedger(ctx context.Context, from, to time.Time, userID string) ([]ledger.Transaction, error) {
	q := `
SELECT id, transaction_key, user_id, direction, amount, call_id, minute_number, created_at
FROM ledger_transactions
WHERE created_at >= $1 AND created_at < $2
`
	args := []any{from, to}
	if userID != "" {
		q += ` AND user_id = $3`
		args = append(args, userID)
	}
	q += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var callID sql.NullString
		var minute sql.NullInt64
		if err := rows.Scan(
			&t.ID,
			&t.TransactionKey,
			&t.UserID,
			&t.Direction,
			&t.AmountMinor,
			&callID,
			&minute,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		if callID.Valid {
			t.CallID = callID.String
		}
		if minute.Valid {
			t.MinuteNumber = int(minute.Int64)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
