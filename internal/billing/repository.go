package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"call-billing/internal/call"
)

// NOTE: This repository assumes a `calls` table shaped like call.Call.
// last_billed_minute is the single point of concurrency control: every
// mutation of it goes through the conditional UPDATE in claimMinute.

type claimStatus int

const (
	claimClaimed claimStatus = iota
	claimAlreadyBilled
	claimAlreadyEnded
	claimNotFound
	claimNotDue
)

// claimedCall carries the billing fields of a successfully claimed call.
type claimedCall struct {
	ID            string
	ConsumerID    string
	ProviderID    string
	RatePerMinute int64
	Channel       string
	StartedAt     time.Time
}

// claimMinute executes the minute claim as ONE conditional update: advance
// last_billed_minute to minuteNumber only if it currently equals
// minuteNumber-1 and the call is still active. The store's row-level
// atomicity is the mutex; of any number of concurrent claimers for the same
// (call, minute), at most one gets claimClaimed.
func claimMinute(ctx context.Context, tx *sql.Tx, callID string, minuteNumber int, now time.Time) (claimedCall, claimStatus, error) {
	const q = `
UPDATE calls
SET last_billed_minute = $2, updated_at = $3
WHERE id = $1 AND last_billed_minute = $2 - 1 AND status = 'active'
RETURNING id, consumer_id, provider_id, rate_per_minute, channel, started_at
`
	var cc claimedCall
	err := tx.QueryRowContext(ctx, q, callID, minuteNumber, now).Scan(
		&cc.ID,
		&cc.ConsumerID,
		&cc.ProviderID,
		&cc.RatePerMinute,
		&cc.Channel,
		&cc.StartedAt,
	)
	if err == nil {
		return cc, claimClaimed, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return claimedCall{}, claimNotFound, err
	}

	// The CAS matched nothing; read the row to say why.
	const probe = `
SELECT status, last_billed_minute
FROM calls
WHERE id = $1
`
	var status string
	var last int
	err = tx.QueryRowContext(ctx, probe, callID).Scan(&status, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return claimedCall{}, claimNotFound, nil
	}
	if err != nil {
		return claimedCall{}, claimNotFound, err
	}
	if call.Status(status) != call.StatusActive {
		return claimedCall{}, claimAlreadyEnded, nil
	}
	if last >= minuteNumber {
		return claimedCall{}, claimAlreadyBilled, nil
	}
	return claimedCall{}, claimNotDue, nil
}

func getCall(ctx context.Context, db *sql.DB, callID string) (call.Call, error) {
	const q = `
SELECT id, consumer_id, provider_id, rate_per_minute, channel, started_at,
       last_billed_minute, last_heartbeat_at, status, end_reason, ended_at,
       duration_seconds, created_at, updated_at
FROM calls
WHERE id = $1
`
	var c call.Call
	var hb, endedAt sql.NullTime
	var reason sql.NullString
	err := db.QueryRowContext(ctx, q, callID).Scan(
		&c.ID,
		&c.ConsumerID,
		&c.ProviderID,
		&c.RatePerMinute,
		&c.Channel,
		&c.StartedAt,
		&c.LastBilledMinute,
		&hb,
		&c.Status,
		&reason,
		&endedAt,
		&c.DurationSeconds,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return call.Call{}, ErrCallNotFound
		}
		return call.Call{}, err
	}
	if hb.Valid {
		t := hb.Time
		c.LastHeartbeatAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	if reason.Valid {
		c.EndReason = call.EndReason(reason.String)
	}
	return c, nil
}

func listActiveCalls(ctx context.Context, db *sql.DB) ([]call.Call, error) {
	const q = `
SELECT id, consumer_id, provider_id, rate_per_minute, channel, started_at,
       last_billed_minute, last_heartbeat_at
FROM calls
WHERE status = 'active'
ORDER BY started_at
`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []call.Call
	for rows.Next() {
		var c call.Call
		var hb sql.NullTime
		if err := rows.Scan(
			&c.ID,
			&c.ConsumerID,
			&c.ProviderID,
			&c.RatePerMinute,
			&c.Channel,
			&c.StartedAt,
			&c.LastBilledMinute,
			&hb,
		); err != nil {
			return nil, err
		}
		if hb.Valid {
			t := hb.Time
			c.LastHeartbeatAt = &t
		}
		c.Status = call.StatusActive
		out = append(out, c)
	}
	return out, rows.Err()
}

// endCallRow performs the terminal transition. Predicated on status='active'
// so re-detecting an already ended call is a no-op and end_reason is set
// exactly once.
func endCallRow(ctx context.Context, db *sql.DB, callID string, reason call.EndReason, now time.Time, durationSeconds int) (bool, error) {
	const q = `
UPDATE calls
SET status = 'ended', end_reason = $2, ended_at = $3, duration_seconds = $4, updated_at = $3
WHERE id = $1 AND status = 'active'
`
	res, err := db.ExecContext(ctx, q, callID, reason, now, durationSeconds)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func touchHeartbeat(ctx context.Context, db *sql.DB, callID string, now time.Time) (bool, error) {
	const q = `
UPDATE calls
SET last_heartbeat_at = $2, updated_at = $2
WHERE id = $1 AND status = 'active'
`
	res, err := db.ExecContext(ctx, q, callID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func insertCall(ctx context.Context, db *sql.DB, c call.Call) error {
	const q = `
INSERT INTO calls (
  id, consumer_id, provider_id, rate_per_minute, channel, started_at,
  last_billed_minute, status, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := db.ExecContext(ctx, q,
		c.ID,
		c.ConsumerID,
		c.ProviderID,
		c.RatePerMinute,
		c.Channel,
		c.StartedAt,
		c.LastBilledMinute,
		c.Status,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}
