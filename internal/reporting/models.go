package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.

type CallsSummaryRequest struct {
	Range   TimeRange `json:"range"`
	Channel string    `json:"channel,omitempty"`
}

type CallsSummary struct {
	Channel string `json:"channel,omitempty"`

	TotalCalls        int `json:"total_calls"`
	ActiveCalls       int `json:"active_calls"`
	EndedNormally     int `json:"ended_normally"`
	EndedInsufficient int `json:"ended_insufficient_funds"`
	EndedTimeout      int `json:"ended_timeout"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
	TotalMinutesBilled     int `json:"total_minutes_billed"`
}

// SpendSummaryRequest requests aggregated spend/earn metrics.
// Figures are derived from immutable ledger entries.

type SpendSummaryRequest struct {
	Range  TimeRange `json:"range"`
	UserID string    `json:"user_id,omitempty"`
}

type SpendSummary struct {
	UserID string `json:"user_id,omitempty"`

	TotalSpendMinor int64 `json:"total_spend_minor"`
	TotalEarnMinor  int64 `json:"total_earn_minor"`
	NetDeltaMinor   int64 `json:"net_delta_minor"`

	CallSpendMinor   int64 `json:"call_spend_minor"`
	AdminCreditMinor int64 `json:"admin_credit_minor"`

	MinutesSettled int `json:"minutes_settled"`
}
