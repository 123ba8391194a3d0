package billing

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"call-billing/internal/call"
	"call-billing/internal/ledger"
	"call-billing/pkg/utils"

	"github.com/google/uuid"
)

// Engine executes the metering/settlement protocol: claim a minute, debit the
// consumer, credit the provider, all inside one transaction against the
// store.
//
// Correctness does not rely on in-process locks. Mutual exclusion comes
// entirely from conditional row updates (the claim CAS on calls, the guarded
// debit on balances) plus the unique transaction keys on the ledger. Any
// number of engine instances may run concurrently against the same database.
type Engine struct {
	db       *sql.DB
	notifier Notifier
	auditor  Auditor

	heartbeatTimeout time.Duration

	// clock is injectable for deterministic tests.
	clock func() time.Time
	log   *slog.Logger
}

// Config carries the engine's tunables.
type Config struct {
	// HeartbeatTimeout is the liveness window: an active call whose last
	// heartbeat (or start, if it never heartbeated) is older than this is
	// finalized and ended with reason timeout.
	HeartbeatTimeout time.Duration
}

const defaultHeartbeatTimeout = 120 * time.Second

func NewEngine(db *sql.DB, notifier Notifier, cfg Config, log *slog.Logger) *Engine {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		db:               db,
		notifier:         notifier,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		clock:            time.Now,
		log:              log,
	}
}

// SetAuditor attaches an optional audit trail for terminal transitions.
func (e *Engine) SetAuditor(a Auditor) { e.auditor = a }

// SetClock overrides the engine's time source for deterministic minute
// arithmetic in tests.
func (e *Engine) SetClock(fn func() time.Time) {
	if fn != nil {
		e.clock = fn
	}
}

// BillCallMinute claims and settles exactly one minute.
//
// The claim and both balance updates commit or roll back together. On
// insufficient funds the transaction rolls back (the claim is undone), the
// call is ended with reason insufficient_funds in a separate follow-up
// transaction, and the result reports the shortfall.
func (e *Engine) BillCallMinute(ctx context.Context, callID string, minuteNumber int) (MinuteResult, error) {
	if callID == "" || minuteNumber < 1 {
		return MinuteResult{}, ErrInvalidArgument
	}

	res := MinuteResult{CallID: callID, MinuteNumber: minuteNumber}
	now := e.clock().UTC()
	var claimed claimedCall

	err := utils.WithTx(ctx, e.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		cc, st, err := claimMinute(ctx, tx, callID, minuteNumber, now)
		if err != nil {
			return err
		}
		switch st {
		case claimNotFound:
			res.Outcome = OutcomeNotFound
			return nil
		case claimAlreadyEnded:
			res.Outcome = OutcomeAlreadyEnded
			return nil
		case claimAlreadyBilled:
			res.Outcome = OutcomeAlreadyBilled
			return nil
		case claimNotDue:
			return ErrMinuteOutOfOrder
		}
		claimed = cc
		amount := cc.RatePerMinute

		// Step A: guarded debit. The balance >= amount predicate is inside
		// the UPDATE, so the non-negative invariant holds under any
		// concurrency.
		payerBal, ok, err := ledger.DebitIfSufficient(ctx, tx, cc.ConsumerID, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			balance := int64(0)
			if b, berr := ledger.GetBalanceTx(ctx, tx, cc.ConsumerID); berr == nil {
				balance = b.BalanceMinor
			} else if !errors.Is(berr, ledger.ErrNotFound) {
				return berr
			}
			return &insufficientFundsError{claimed: cc, minute: minuteNumber, balance: balance}
		}

		// Step B: unconditional credit. A provider balance has no upper
		// bound; a missing row is a data-integrity fault, not an outcome.
		payeeBal, ok, err := ledger.Credit(ctx, tx, cc.ProviderID, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPayeeMissing
		}

		// Step C: append both ledger halves under deterministic keys. A key
		// conflict means an earlier attempt already settled this minute;
		// ignore it rather than retrying.
		groupID := uuid.NewString()
		inserted, err := ledger.InsertTransaction(ctx, tx, ledger.Transaction{
			ID:                 uuid.NewString(),
			TransactionKey:     ledger.SettlementKey(callID, minuteNumber, ledger.RolePayer),
			UserID:             cc.ConsumerID,
			Direction:          ledger.DirectionSpend,
			AmountMinor:        amount,
			BalanceBeforeMinor: payerBal.BalanceMinor + amount,
			BalanceAfterMinor:  payerBal.BalanceMinor,
			GroupID:            groupID,
			CallID:             callID,
			MinuteNumber:       minuteNumber,
			CreatedAt:          now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			e.log.Warn("settlement replayed an already-recorded minute",
				"call_id", callID, "minute", minuteNumber)
		}
		if _, err := ledger.InsertTransaction(ctx, tx, ledger.Transaction{
			ID:                 uuid.NewString(),
			TransactionKey:     ledger.SettlementKey(callID, minuteNumber, ledger.RolePayee),
			UserID:             cc.ProviderID,
			Direction:          ledger.DirectionEarn,
			AmountMinor:        amount,
			BalanceBeforeMinor: payeeBal.BalanceMinor - amount,
			BalanceAfterMinor:  payeeBal.BalanceMinor,
			GroupID:            groupID,
			CallID:             callID,
			MinuteNumber:       minuteNumber,
			CreatedAt:          now,
		}); err != nil {
			return err
		}

		res.Outcome = OutcomeSettled
		res.AmountMinor = amount
		res.PayerBalanceMinor = payerBal.BalanceMinor
		res.PayeeBalanceMinor = payeeBal.BalanceMinor
		return nil
	})

	if err != nil {
		var insuff *insufficientFundsError
		if errors.As(err, &insuff) {
			return e.handleInsufficientFunds(ctx, res, insuff)
		}
		return MinuteResult{}, err
	}

	if res.Outcome == OutcomeSettled {
		e.publish(ctx, claimed.Channel, EventMinuteBilled, map[string]any{
			"call_id":       callID,
			"minute":        minuteNumber,
			"amount_minor":  res.AmountMinor,
			"payer_balance": res.PayerBalanceMinor,
		})
	}
	return res, nil
}

// handleInsufficientFunds runs after the settlement transaction rolled back:
// end the call in its own transaction, then notify. If the end transition
// itself fails, the call stays active and the next sweep cycle retries the
// whole sequence; nothing is lost.
func (e *Engine) handleInsufficientFunds(ctx context.Context, res MinuteResult, insuff *insufficientFundsError) (MinuteResult, error) {
	res.Outcome = OutcomeInsufficientFunds
	res.AmountMinor = insuff.claimed.RatePerMinute
	res.PayerBalanceMinor = insuff.balance
	res.ShortfallMinor = insuff.claimed.RatePerMinute - insuff.balance

	_, ended, err := e.EndCall(ctx, res.CallID, call.EndReasonInsufficientFunds)
	if err != nil {
		e.log.Error("failed to end call after insufficient funds",
			"call_id", res.CallID, "err", err)
		return res, nil
	}
	res.CallEnded = ended

	e.publish(ctx, insuff.claimed.Channel, EventInsufficientFunds, map[string]any{
		"call_id":         res.CallID,
		"minute":          res.MinuteNumber,
		"balance_minor":   res.PayerBalanceMinor,
		"required_minor":  res.AmountMinor,
		"shortfall_minor": res.ShortfallMinor,
	})
	return res, nil
}

// FinalizePartialMinute bills the final partial minute of a session, at most
// one minute beyond the last billed. A session kept current by the sweep
// needs nothing more than this at normal end.
func (e *Engine) FinalizePartialMinute(ctx context.Context, callID string) (MinuteResult, error) {
	if callID == "" {
		return MinuteResult{}, ErrInvalidArgument
	}

	c, err := getCall(ctx, e.db, callID)
	if err != nil {
		if errors.Is(err, ErrCallNotFound) {
			return MinuteResult{CallID: callID, Outcome: OutcomeNotFound}, nil
		}
		return MinuteResult{}, err
	}

	endAt := e.clock().UTC()
	if c.EndedAt != nil {
		endAt = *c.EndedAt
	}
	total := call.TotalMinutes(c.StartedAt, endAt)
	if total <= c.LastBilledMinute {
		return MinuteResult{CallID: callID, Outcome: OutcomeNoBillingNeeded}, nil
	}
	return e.BillCallMinute(ctx, callID, c.LastBilledMinute+1)
}

// EndCall transitions an active call to ended with the given reason,
// recording duration. Idempotent: a call that already ended is returned as
// is with ended=false, and end_reason is never overwritten.
func (e *Engine) EndCall(ctx context.Context, callID string, reason call.EndReason) (call.Call, bool, error) {
	c, err := getCall(ctx, e.db, callID)
	if err != nil {
		return call.Call{}, false, err
	}
	if c.Status == call.StatusEnded {
		return c, false, nil
	}

	now := e.clock().UTC()
	duration := call.ElapsedSeconds(c.StartedAt, now)
	ended, err := endCallRow(ctx, e.db, callID, reason, now, duration)
	if err != nil {
		return call.Call{}, false, err
	}
	if !ended {
		// Lost the race to another ender; report the persisted state.
		c, err = getCall(ctx, e.db, callID)
		return c, false, err
	}

	c.Status = call.StatusEnded
	c.EndReason = reason
	c.EndedAt = &now
	c.DurationSeconds = duration
	if e.auditor != nil {
		e.auditor.LogCallEnded(ctx, callID, string(reason), duration)
	}
	return c, true, nil
}

// GetCall reads a call by id.
func (e *Engine) GetCall(ctx context.Context, callID string) (call.Call, error) {
	if callID == "" {
		return call.Call{}, ErrInvalidArgument
	}
	return getCall(ctx, e.db, callID)
}

// CreateCall persists a new active session row. Validation belongs to the
// session lifecycle; this only enforces the party invariant.
func (e *Engine) CreateCall(ctx context.Context, c call.Call) error {
	if c.ID == "" || c.ConsumerID == "" || c.ProviderID == "" || c.ConsumerID == c.ProviderID {
		return ErrInvalidArgument
	}
	if c.RatePerMinute <= 0 {
		return ErrInvalidArgument
	}
	return insertCall(ctx, e.db, c)
}

// RecordHeartbeat updates the liveness timestamp for an active call.
// Returns false when the call is missing or already ended.
func (e *Engine) RecordHeartbeat(ctx context.Context, callID string) (bool, error) {
	if callID == "" {
		return false, ErrInvalidArgument
	}
	return touchHeartbeat(ctx, e.db, callID, e.clock().UTC())
}

func (e *Engine) publish(ctx context.Context, channel, event string, payload any) {
	if e.notifier == nil || channel == "" {
		return
	}
	e.notifier.Publish(ctx, channel, event, payload)
}
