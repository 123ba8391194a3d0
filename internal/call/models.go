package call

import "time"

// Call represents a metered live session between a consumer (payer) and a
// provider (payee).
//
// Money invariant reminder: per-minute charging must reference call_id and
// minute_number in the ledger (deterministic transaction keys), never mutate
// money fields here.
//
// Concurrency invariant: LastBilledMinute is the single point of concurrency
// control. While Status is active it only ever increases by exactly 1 per
// successful claim, and every increase is paired with exactly one settlement
// attempt inside the same transaction.

type Call struct {
	ID         string `json:"id" db:"id"`
	ConsumerID string `json:"consumer_id" db:"consumer_id"`
	ProviderID string `json:"provider_id" db:"provider_id"`

	// RatePerMinute is the amount charged per elapsed minute, in minor units.
	// Immutable once the session starts.
	RatePerMinute int64 `json:"rate_per_minute" db:"rate_per_minute"`

	// Channel is an opaque routing token for notification delivery.
	Channel string `json:"channel" db:"channel"`

	StartedAt time.Time `json:"started_at" db:"started_at"`

	// LastBilledMinute is the highest minute index successfully settled.
	// Monotonically non-decreasing, starts at 0.
	LastBilledMinute int `json:"last_billed_minute" db:"last_billed_minute"`

	// LastHeartbeatAt is written by the external liveness reporter and read
	// here only for staleness detection. Nil means no heartbeat was ever
	// received.
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty" db:"last_heartbeat_at"`

	Status Status `json:"status" db:"status"`

	// EndReason is set exactly once, when Status transitions to ended.
	EndReason EndReason `json:"end_reason,omitempty" db:"end_reason"`

	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration_seconds" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

type EndReason string

const (
	EndReasonNone              EndReason = ""
	EndReasonNormal            EndReason = "normal"
	EndReasonInsufficientFunds EndReason = "insufficient_funds"
	EndReasonTimeout           EndReason = "timeout"
)
