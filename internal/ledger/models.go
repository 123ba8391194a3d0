package ledger

import (
	"fmt"
	"time"
)

// Balance is the per-user account projection.
//
// Hard invariant: BalanceMinor is never negative. The guarded debit enforces
// this inside the UPDATE predicate itself; no code path may decrement a
// balance any other way.
type Balance struct {
	UserID string `json:"user_id" db:"user_id"`

	// BalanceMinor is the available balance in minor units.
	BalanceMinor     int64 `json:"balance_minor" db:"balance"`
	TotalSpentMinor  int64 `json:"total_spent_minor" db:"total_spent"`
	TotalEarnedMinor int64 `json:"total_earned_minor" db:"total_earned"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable append-only ledger entry.
//
// Money invariant: any balance change MUST have a corresponding transaction
// row. Entries are never updated or deleted.
//
// Idempotency: TransactionKey is derived from stable business identifiers
// (call id, minute number, role), never from wall-clock time, so a retried
// settlement cannot double-insert. The table carries UNIQUE(transaction_key).
type Transaction struct {
	ID             string `json:"id" db:"id"`
	TransactionKey string `json:"transaction_key" db:"transaction_key"`
	UserID         string `json:"user_id" db:"user_id"`

	Direction Direction `json:"direction" db:"direction"`

	// AmountMinor is always positive; Direction carries the sign.
	AmountMinor        int64 `json:"amount_minor" db:"amount"`
	BalanceBeforeMinor int64 `json:"balance_before_minor" db:"balance_before"`
	BalanceAfterMinor  int64 `json:"balance_after_minor" db:"balance_after"`

	// GroupID links the payer/payee halves of one settled minute.
	GroupID string `json:"group_id" db:"group_id"`

	// CallID and MinuteNumber are empty/zero for non-settlement entries
	// (e.g. admin credits).
	CallID       string `json:"call_id,omitempty" db:"call_id"`
	MinuteNumber int    `json:"minute_number,omitempty" db:"minute_number"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Direction string

const (
	DirectionSpend Direction = "spend"
	DirectionEarn  Direction = "earn"
)

// Role distinguishes the two halves of a settled minute.
type Role string

const (
	RolePayer Role = "payer"
	RolePayee Role = "payee"
)

// SettlementKey builds the deterministic idempotency key for one half of a
// settled minute.
func SettlementKey(callID string, minuteNumber int, role Role) string {
	return fmt.Sprintf("call:%s:minute:%d:%s", callID, minuteNumber, role)
}

// AdminCreditKey namespaces caller-supplied idempotency keys for manual
// credits so they can never collide with settlement keys.
func AdminCreditKey(idempotencyKey string) string {
	return "admin:" + idempotencyKey
}
