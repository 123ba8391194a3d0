package billing

import (
	"context"
	"time"

	"call-billing/internal/call"
)

// ProcessActiveCalls is the billing sweep: for every active call, end it on
// heartbeat timeout or bill every elapsed-but-unclaimed minute. Safe to run
// from any number of uncoordinated workers at any cadence — the minute claim
// is keyed by minute number, so a late or overlapping sweep only bills in
// larger batches, never twice.
//
// Per-call failures are isolated and aggregated; one bad call never halts
// the batch.
func (e *Engine) ProcessActiveCalls(ctx context.Context) (SweepSummary, error) {
	now := e.clock().UTC()
	active, err := listActiveCalls(ctx, e.db)
	if err != nil {
		return SweepSummary{}, err
	}

	var s SweepSummary
	for _, c := range active {
		s.Processed++
		if err := e.sweepOne(ctx, c, now, &s); err != nil {
			e.log.Error("sweep: call failed", "call_id", c.ID, "err", err)
			s.Errors = append(s.Errors, SweepError{CallID: c.ID, Err: err.Error()})
		}
	}
	return s, nil
}

func (e *Engine) sweepOne(ctx context.Context, c call.Call, now time.Time, s *SweepSummary) error {
	if e.heartbeatStale(c, now) {
		return e.expireCall(ctx, c, now, s)
	}
	_, err := e.catchUp(ctx, c, call.CurrentMinute(c.StartedAt, now), s)
	return err
}

// heartbeatStale reports whether the liveness window has lapsed. A call that
// never received a heartbeat measures from its start instead.
func (e *Engine) heartbeatStale(c call.Call, now time.Time) bool {
	last := c.StartedAt
	if c.LastHeartbeatAt != nil {
		last = *c.LastHeartbeatAt
	}
	return now.Sub(last) > e.heartbeatTimeout
}

// catchUp bills minutes lastBilled+1..targetMinute in order, stopping on any
// terminal outcome. AlreadyBilled means a concurrent sweeper settled that
// minute; the loop moves on. Returns the number of minutes settled by this
// invocation.
func (e *Engine) catchUp(ctx context.Context, c call.Call, targetMinute int, s *SweepSummary) (int, error) {
	billed := 0
	for m := c.LastBilledMinute + 1; m <= targetMinute; m++ {
		res, err := e.BillCallMinute(ctx, c.ID, m)
		if err != nil {
			return billed, err
		}
		switch res.Outcome {
		case OutcomeSettled:
			billed++
			s.Billed++
		case OutcomeAlreadyBilled:
			// covered by a concurrent worker
		case OutcomeInsufficientFunds:
			s.Insufficient++
			return billed, nil
		case OutcomeAlreadyEnded, OutcomeNotFound:
			return billed, nil
		}
	}
	return billed, nil
}

// expireCall finalizes a call whose client went silent: bill the whole
// minutes that elapsed while it was live, then end it with reason timeout.
// The minute currently in progress is not billed — the client is gone.
func (e *Engine) expireCall(ctx context.Context, c call.Call, now time.Time, s *SweepSummary) error {
	elapsedWhole := call.ElapsedSeconds(c.StartedAt, now) / 60
	billed, err := e.catchUp(ctx, c, elapsedWhole, s)
	if err != nil {
		return err
	}

	// Insufficient funds during catch-up already ended the call; end_reason
	// is set exactly once, so this transition is a no-op in that case.
	ended, wasEnded, err := e.EndCall(ctx, c.ID, call.EndReasonTimeout)
	if err != nil {
		return err
	}
	if wasEnded {
		s.TimedOut++
		e.publish(ctx, c.Channel, EventCallTimeout, map[string]any{
			"call_id":          c.ID,
			"minutes_billed":   billed,
			"duration_seconds": ended.DurationSeconds,
		})
	}
	return nil
}
