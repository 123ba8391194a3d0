package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"call-billing/internal/billing"
	"call-billing/internal/call"
	"call-billing/internal/ledger"

	"github.com/google/uuid"
)

// Service owns session lifecycle around the billing engine: starting a
// metered call and ending it normally. Minute metering itself belongs to the
// engine; this layer only adds the start-time guard and the normal-end
// composition (finalize the partial minute, then transition).
type Service struct {
	db       *sql.DB
	engine   *billing.Engine
	notifier billing.Notifier
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB, engine *billing.Engine, notifier billing.Notifier) *Service {
	return &Service{db: db, engine: engine, notifier: notifier, clock: time.Now}
}

var (
	ErrInvalidArgument     = errors.New("session: invalid argument")
	ErrNotFound            = errors.New("session: call not found")
	ErrInsufficientBalance = errors.New("session: balance cannot cover the first minute")
)

type StartRequest struct {
	ConsumerID    string `json:"consumer_id"`
	ProviderID    string `json:"provider_id"`
	RatePerMinute int64  `json:"rate_per_minute"`
	Channel       string `json:"channel"`
}

// Start creates an active call. The payer must be able to cover at least the
// first minute; this is a courtesy precheck only — settlement re-enforces
// funds on every minute, so a race here costs nothing.
func (s *Service) Start(ctx context.Context, req StartRequest) (call.Call, error) {
	if req.ConsumerID == "" || req.ProviderID == "" || req.Channel == "" {
		return call.Call{}, ErrInvalidArgument
	}
	if req.ConsumerID == req.ProviderID {
		return call.Call{}, ErrInvalidArgument
	}
	if req.RatePerMinute <= 0 {
		return call.Call{}, ErrInvalidArgument
	}

	bal, err := ledger.GetBalance(ctx, s.db, req.ConsumerID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return call.Call{}, err
	}
	if bal.BalanceMinor < req.RatePerMinute {
		return call.Call{}, ErrInsufficientBalance
	}

	now := s.clock().UTC()
	c := call.Call{
		ID:            uuid.NewString(),
		ConsumerID:    req.ConsumerID,
		ProviderID:    req.ProviderID,
		RatePerMinute: req.RatePerMinute,
		Channel:       req.Channel,
		StartedAt:     now,
		Status:        call.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.engine.CreateCall(ctx, c); err != nil {
		return call.Call{}, err
	}
	return c, nil
}

type EndResult struct {
	Call call.Call `json:"call"`

	// Final reports the final partial-minute billing attempt.
	Final billing.MinuteResult `json:"final"`

	// Ended is false when the call had already reached a terminal state
	// (timeout or insufficient funds beat us to it).
	Ended bool `json:"ended"`
}

// End finishes a session normally: bill the final partial minute exactly
// once, then transition to ended/normal. Idempotent — ending an ended call
// reports the terminal state without side effects.
func (s *Service) End(ctx context.Context, callID string) (EndResult, error) {
	if callID == "" {
		return EndResult{}, ErrInvalidArgument
	}

	final, err := s.engine.FinalizePartialMinute(ctx, callID)
	if err != nil {
		return EndResult{}, err
	}
	if final.Outcome == billing.OutcomeNotFound {
		return EndResult{}, ErrNotFound
	}

	c, ended, err := s.engine.EndCall(ctx, callID, call.EndReasonNormal)
	if err != nil {
		return EndResult{}, err
	}
	if ended && s.notifier != nil {
		s.notifier.Publish(ctx, c.Channel, billing.EventCallEnded, map[string]any{
			"call_id":          c.ID,
			"duration_seconds": c.DurationSeconds,
			"end_reason":       string(c.EndReason),
		})
	}
	return EndResult{Call: c, Final: final, Ended: ended}, nil
}
