package billing

import (
	"context"
	"errors"
	"fmt"
)

// Outcome classifies the result of a minute billing attempt. These are
// business outcomes, not failures: callers branch on them and must never
// retry them.
type Outcome string

const (
	OutcomeSettled           Outcome = "settled"
	OutcomeAlreadyBilled     Outcome = "already_billed"
	OutcomeAlreadyEnded      Outcome = "already_ended"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeNoBillingNeeded   Outcome = "no_billing_needed"
)

// MinuteResult reports one minute billing attempt.
type MinuteResult struct {
	CallID       string  `json:"call_id"`
	MinuteNumber int     `json:"minute_number"`
	Outcome      Outcome `json:"outcome"`

	// AmountMinor is the amount charged (or required, for insufficient funds).
	AmountMinor       int64 `json:"amount_minor,omitempty"`
	PayerBalanceMinor int64 `json:"payer_balance_minor,omitempty"`
	PayeeBalanceMinor int64 `json:"payee_balance_minor,omitempty"`

	// ShortfallMinor is amount required minus current balance, set on
	// insufficient funds.
	ShortfallMinor int64 `json:"shortfall_minor,omitempty"`

	// CallEnded reports whether this attempt performed the terminal
	// transition (insufficient funds ends the session).
	CallEnded bool `json:"call_ended,omitempty"`
}

// SweepSummary aggregates one billing sweep cycle.
type SweepSummary struct {
	Processed    int          `json:"processed"`
	Billed       int          `json:"billed"`
	Insufficient int          `json:"insufficient"`
	TimedOut     int          `json:"timed_out"`
	Errors       []SweepError `json:"errors,omitempty"`
}

// SweepError records a per-call failure without halting the batch.
type SweepError struct {
	CallID string `json:"call_id"`
	Err    string `json:"error"`
}

// Faults (as opposed to business outcomes). ErrPayeeMissing is a
// data-integrity condition: the debit succeeded but the provider has no
// balance row; the whole transaction rolls back and the fault is logged
// loudly.
var (
	ErrInvalidArgument  = errors.New("billing: invalid argument")
	ErrCallNotFound     = errors.New("billing: call not found")
	ErrPayeeMissing     = errors.New("billing: payee balance row missing")
	ErrMinuteOutOfOrder = errors.New("billing: minute is not the next unbilled minute")
)

// insufficientFundsError forces the claim+settlement transaction to roll
// back while carrying the context needed for the follow-up end transition
// and notification.
type insufficientFundsError struct {
	claimed claimedCall
	minute  int
	balance int64
}

func (e *insufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: call %s minute %d needs %d, has %d",
		e.claimed.ID, e.minute, e.claimed.RatePerMinute, e.balance)
}

// Notifier is the outward notification collaborator. Publishing is
// fire-and-forget: implementations must never block a financial commit and
// must swallow (log) their own failures.
type Notifier interface {
	Publish(ctx context.Context, channel, event string, payload any)
}

// Auditor records terminal call transitions, best-effort.
type Auditor interface {
	LogCallEnded(ctx context.Context, callID, reason string, durationSeconds int)
}

// Notification event names.
const (
	EventMinuteBilled      = "minute_billed"
	EventInsufficientFunds = "insufficient_funds"
	EventCallTimeout       = "call_timeout"
	EventCallEnded         = "call_ended"
)
