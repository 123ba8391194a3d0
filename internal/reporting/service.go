package reporting

import (
	"context"
	"errors"
	"strings"
	"time"

	"call-billing/internal/call"
	"call-billing/internal/ledger"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations should query immutable sources when possible (ledger
// transactions, ended call records).

type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time, channel string) ([]call.Call, error)
	ListLedger(ctx context.Context, from, to time.Time, userID string) ([]ledger.Transaction, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.Range.From, req.Range.To, req.Channel)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Channel: req.Channel}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		out.TotalMinutesBilled += c.LastBilledMinute

		if c.Status == call.StatusActive {
			out.ActiveCalls++
			continue
		}
		switch c.EndReason {
		case call.EndReasonNormal:
			out.EndedNormally++
		case call.EndReasonInsufficientFunds:
			out.EndedInsufficient++
		case call.EndReasonTimeout:
			out.EndedTimeout++
		}
	}
	if ended := out.TotalCalls - out.ActiveCalls; ended > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / ended
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	entries, err := s.repo.ListLedger(ctx, req.Range.From, req.Range.To, req.UserID)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{UserID: req.UserID}
	for _, e := range entries {
		switch e.Direction {
		case ledger.DirectionSpend:
			out.TotalSpendMinor += e.AmountMinor
		case ledger.DirectionEarn:
			out.TotalEarnMinor += e.AmountMinor
		}

		if e.CallID != "" {
			if e.Direction == ledger.DirectionSpend {
				out.CallSpendMinor += e.AmountMinor
				out.MinutesSettled++
			}
		} else if strings.HasPrefix(e.TransactionKey, "admin:") {
			out.AdminCreditMinor += e.AmountMinor
		}
	}
	out.NetDeltaMinor = out.TotalEarnMinor - out.TotalSpendMinor
	return out, nil
}
